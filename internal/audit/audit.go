// Package audit implements the append-only calculation trail. Every engine
// invocation appends exactly one record carrying digests of its inputs and
// result plus the regulatory reference the calculation was performed under.
// The engines never read the trail; retention and export belong to the
// consumers of the sink.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Record is a single immutable audit entry.
type Record struct {
	gorm.Model   `json:"-"`
	RecordID     string    `gorm:"uniqueIndex" json:"record_id"`
	Timestamp    time.Time `json:"timestamp"`
	Operation    string    `json:"operation"`
	InputDigest  string    `json:"input_digest"`
	ResultDigest string    `json:"result_digest"`
	Reference    string    `json:"reference"`
}

// Sink accepts audit records. Implementations must be safe for concurrent
// append: portfolio aggregation fans out across goroutines and each item
// appends independently.
type Sink interface {
	Append(Record) error
}

// NewRecord stamps a record with an identifier and the current time.
func NewRecord(operation, reference string, input, result any) Record {
	return Record{
		RecordID:     "AUD_" + uuid.New().String(),
		Timestamp:    time.Now(),
		Operation:    operation,
		InputDigest:  Digest(input),
		ResultDigest: Digest(result),
		Reference:    reference,
	}
}

// Digest produces a SHA-256 hex digest of the canonical JSON encoding of v.
// encoding/json emits struct fields in declaration order and map keys
// sorted, so the digest is a pure function of the value: identical inputs
// always yield identical digests.
func Digest(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// MemorySink collects records in memory. Used by tests and by callers that
// export the trail themselves after a run.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

// Records returns a copy of the appended records in append order.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// GormSink persists records through the shared database connection.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (s *GormSink) Append(r Record) error {
	return s.db.Create(&r).Error
}

// Recent returns the newest records up to limit, for the read-only trail
// endpoint.
func (s *GormSink) Recent(limit int) ([]Record, error) {
	var records []Record
	if err := s.db.Order("id desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
