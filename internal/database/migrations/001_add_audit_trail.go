package migrations

import (
	"github.com/ksred/regcalc-api/internal/audit"
	"gorm.io/gorm"
)

func AddAuditTrail(db *gorm.DB) error {
	if err := db.AutoMigrate(&audit.Record{}); err != nil {
		return err
	}

	// The trail is queried by operation and time when exported for review.
	migrator := db.Migrator()
	if !migrator.HasIndex(&audit.Record{}, "idx_records_operation") {
		if err := db.Exec("CREATE INDEX idx_records_operation ON records(operation, timestamp)").Error; err != nil {
			return err
		}
	}

	return nil
}
