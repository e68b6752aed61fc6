package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/regcalc-api/internal/audit"
	"github.com/ksred/regcalc-api/internal/auth"
	"github.com/ksred/regcalc-api/internal/config"
	"github.com/ksred/regcalc-api/internal/creditrisk"
	"github.com/ksred/regcalc-api/internal/database"
	"github.com/ksred/regcalc-api/internal/guarantyfund"
	"github.com/ksred/regcalc-api/internal/liability"
	"github.com/ksred/regcalc-api/internal/solvency"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	minExposures  = 15
	maxExposures  = 150
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var (
	collateralTypes = []string{"unsecured", "secured_real_estate", "secured_vehicles", "secured_deposits", "sovereign"}
	scenarios       = []string{"weighted", "base", "adverse", "severe"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the calculation API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"ecl":       {name: "Calculate ECL"},
			"portfolio": {name: "Portfolio ECL"},
			"liability": {name: "Measure Liability"},
			"solvency":  {name: "Assess Solvency"},
			"stress":    {name: "Stress Solvency"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Token, nil
}

// post sends an authenticated JSON request and decodes the envelope data
func (sc *simulationClient) post(path, statKey string, payload any, out any) error {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(
		"POST",
		fmt.Sprintf("%s%s", sc.baseURL, path),
		bytes.NewBuffer(body),
	)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Str("path", path).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[statKey].failures++
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return json.Unmarshal(envelope.Data, out)
}

// randomExposure generates a plausible credit exposure for the simulation
func randomExposure(workerID, seq int) creditrisk.Exposure {
	gca := decimal.NewFromInt(int64(rand.Intn(900_000_000) + 100_000_000))
	pdOrig := decimal.NewFromFloat(0.01 + rand.Float64()*0.05)
	// Some exposures deteriorate, some improve
	pdCurrent := pdOrig.Mul(decimal.NewFromFloat(0.5 + rand.Float64()*3.0))

	collateral := collateralTypes[rand.Intn(len(collateralTypes))]
	collateralValue := decimal.Zero
	if collateral != "unsecured" {
		collateralValue = gca.Mul(decimal.NewFromFloat(rand.Float64() * 0.8))
	}

	dpd := 0
	if rand.Float64() < 0.25 {
		dpd = rand.Intn(120)
	}

	return creditrisk.Exposure{
		ExposureID:      fmt.Sprintf("EXP_%d_%d", workerID, seq),
		Name:            fmt.Sprintf("Counterparty %d-%d", workerID, seq),
		GrossCarrying:   gca,
		PDCurrent:       pdCurrent,
		PDOrigination:   pdOrig,
		LGD:             decimal.Zero, // engine resolves from collateral
		EIR:             decimal.NewFromFloat(0.12 + rand.Float64()*0.10),
		RemainingTerm:   rand.Intn(10) + 1,
		DaysPastDue:     dpd,
		CollateralType:  config.CollateralType(collateral),
		CollateralValue: collateralValue,
	}
}

// randomSchedule generates an annuity-style cash flow schedule
func randomSchedule() liability.CashFlowSchedule {
	years := rand.Intn(8) + 3
	premium := decimal.NewFromInt(int64(rand.Intn(50_000_000) + 50_000_000))
	flows := make([]liability.CashFlow, 0, years)
	for year := 1; year <= years; year++ {
		cf := liability.CashFlow{
			Period:   year,
			Claims:   premium.Mul(decimal.NewFromFloat(0.5 + rand.Float64()*0.4)),
			Expenses: premium.Mul(decimal.NewFromFloat(0.05)),
		}
		if year == 1 {
			cf.Premiums = premium
			cf.AcquisitionCosts = premium.Mul(decimal.NewFromFloat(0.1))
		}
		flows = append(flows, cf)
	}
	return liability.CashFlowSchedule{Flows: flows}
}

// main runs the regulatory calculation simulation
// It starts a local API server and drives the three engines through their
// HTTP endpoints with randomized inputs
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Generate random number of exposures to process
	targetExposures := rand.Intn(maxExposures-minExposures) + minExposures
	log.Info().Int("target_exposures", targetExposures).Msg("Starting simulation")

	// Generate exposures across workers and calculate single-exposure ECLs
	exposuresChan := make(chan creditrisk.Exposure, targetExposures)
	var wg sync.WaitGroup

	stats := struct {
		TotalExposures int
		CalculatedECLs int
		FailedECLs     int
		MeasuredGroups int
		FailedGroups   int
		TotalECL       decimal.Decimal
		TotalGCA       decimal.Decimal
		StageCounts    map[int]int
		ScenarioCounts map[string]int
		StartTime      time.Time
		mu             sync.Mutex
	}{
		StartTime:      time.Now(),
		StageCounts:    make(map[int]int),
		ScenarioCounts: make(map[string]int),
	}

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for seq := 0; seq < targetExposures/numWorkers; seq++ {
				exposure := randomExposure(workerID, seq)
				scenario := scenarios[rand.Intn(len(scenarios))]

				var result creditrisk.ECLResult
				err := simClient.post("/api/v1/calculations/ecl", "ecl", creditrisk.ECLRequest{
					Exposure: exposure,
					Scenario: scenario,
				}, &result)

				stats.mu.Lock()
				stats.TotalExposures++
				if err != nil {
					stats.FailedECLs++
					stats.mu.Unlock()
					log.Error().Err(err).Str("exposure_id", exposure.ExposureID).Msg("Failed to calculate ECL")
					continue
				}
				stats.CalculatedECLs++
				stats.StageCounts[result.Stage]++
				stats.ScenarioCounts[scenario]++
				stats.mu.Unlock()

				exposuresChan <- exposure
				log.Info().
					Str("exposure_id", exposure.ExposureID).
					Int("stage", result.Stage).
					Str("ecl", result.ECLAmount.String()).
					Str("scenario", scenario).
					Msg("ECL calculated")

				// Random sleep between calls
				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(exposuresChan)

	var exposures []creditrisk.Exposure
	for exposure := range exposuresChan {
		exposures = append(exposures, exposure)
	}

	// Aggregate the whole book in one portfolio call
	var portfolio creditrisk.PortfolioResult
	if len(exposures) > 0 {
		if err := simClient.post("/api/v1/calculations/ecl/portfolio", "portfolio", creditrisk.PortfolioRequest{
			Exposures: exposures,
		}, &portfolio); err != nil {
			log.Error().Err(err).Msg("Failed to aggregate portfolio")
		} else {
			stats.TotalECL = portfolio.TotalECL
			stats.TotalGCA = portfolio.TotalGCA
			log.Info().
				Str("total_ecl", portfolio.TotalECL.String()).
				Str("coverage", portfolio.CoverageRatio.String()).
				Int("items", len(portfolio.Items)).
				Msg("Portfolio aggregated")
		}
	}

	// Measure a handful of contract groups under rotating models and methods
	models := []string{"gmm", "vfa", "paa"}
	methods := []string{"var", "tvar", "coc", "cte"}
	totalCSM := decimal.Zero
	for i := 0; i < 10; i++ {
		var measurement liability.Measurement
		err := simClient.post("/api/v1/calculations/liability", "liability", liability.MeasureRequest{
			Schedule:         randomSchedule(),
			AcquisitionCosts: decimal.NewFromInt(int64(rand.Intn(5_000_000) + 1_000_000)),
			RAMethod:         methods[i%len(methods)],
			Model:            models[i%len(models)],
		}, &measurement)
		if err != nil {
			stats.FailedGroups++
			log.Error().Err(err).Msg("Failed to measure liability")
			continue
		}
		stats.MeasuredGroups++
		totalCSM = totalCSM.Add(measurement.CSM)
		log.Info().
			Str("model", measurement.Model).
			Str("bel", measurement.BEL.String()).
			Str("ra", measurement.RA.String()).
			Str("csm", measurement.CSM.String()).
			Bool("onerous", measurement.Onerous).
			Msg("Liability measured")
	}

	// Feed the aggregated ECL and CSM into a solvency assessment
	var position solvency.Position
	assessErr := simClient.post("/api/v1/calculations/solvency", "solvency", solvency.AssessRequest{
		MMP: solvency.MMPInputs{
			GrossPremiums:  stats.TotalGCA.Mul(decimal.NewFromFloat(0.3)),
			IncurredClaims: stats.TotalGCA.Mul(decimal.NewFromFloat(0.15)),
		},
		FMP: solvency.FMPInputs{
			EquityCapital: stats.TotalGCA.Mul(decimal.NewFromFloat(0.2)),
			ECLAdjustment: stats.TotalECL,
			CSMAdjustment: totalCSM,
		},
	}, &position)
	if assessErr != nil {
		log.Error().Err(assessErr).Msg("Failed to assess solvency")
	} else {
		log.Info().
			Str("ratio", position.Ratio.String()).
			Bool("compliant", position.Compliant).
			Str("status", position.Status).
			Msg("Solvency assessed")

		// Stress the assessed position
		var stress solvency.StressResult
		if err := simClient.post("/api/v1/calculations/solvency/stress", "stress", solvency.StressRequest{
			FMP: position.FMP.Amount,
			MMP: position.MMP.Amount,
		}, &stress); err != nil {
			log.Error().Err(err).Msg("Failed to stress solvency")
		} else {
			log.Info().
				Str("base_ratio", stress.BaseRatio.String()).
				Str("tail_ratio", stress.TailRatio.String()).
				Int("simulations", stress.Simulations).
				Msg("Solvency stressed")
		}
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("CALCULATION SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Exposure Statistics
-------------------
Total Exposures:  %d
Calculated ECLs:  %d
Failed ECLs:      %d
Measured Groups:  %d
Failed Groups:    %d
Total GCA:        %s
Total ECL:        %s
Duration:         %v

Stage Distribution
------------------
`, stats.TotalExposures, stats.CalculatedECLs, stats.FailedECLs,
		stats.MeasuredGroups, stats.FailedGroups,
		stats.TotalGCA.StringFixed(2), stats.TotalECL.StringFixed(2),
		duration.Round(time.Millisecond))

	// Print stage distribution with simple ASCII bar chart
	maxStageCount := 0
	for _, count := range stats.StageCounts {
		if count > maxStageCount {
			maxStageCount = count
		}
	}
	for stage := 1; stage <= 3; stage++ {
		count := stats.StageCounts[stage]
		barLength := 0
		if maxStageCount > 0 {
			barLength = int(float64(count) / float64(maxStageCount) * 20)
		}
		bar := strings.Repeat("#", barLength)
		fmt.Printf("Stage %d: %s (%d)\n", stage, bar, count)
	}

	fmt.Println("\nScenario Distribution")
	fmt.Println("---------------------")
	for scenario, count := range stats.ScenarioCounts {
		barLength := int(float64(count) / float64(stats.TotalExposures) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-8s: %s (%d)\n", scenario, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	// Success rate calculation
	successRate := float64(stats.CalculatedECLs) / float64(stats.TotalExposures) * 100
	log.Info().
		Float64("success_rate", successRate).
		Int("total_exposures", stats.TotalExposures).
		Str("total_ecl", stats.TotalECL.String()).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// startServer initializes and starts the calculation API server
// Sets up all required services, handlers and routes
func startServer() error {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid regulatory configuration: %w", err)
	}

	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	sink := audit.NewGormSink(db)

	// Initialize services
	authService := auth.NewService("regcalc-secret-key")
	creditService := creditrisk.NewService(&cfg.CreditRisk, sink)
	liabilityService := liability.NewService(&cfg.Liability, sink)
	solvencyService := solvency.NewService(&cfg.Solvency, sink)
	fundService := guarantyfund.NewService(&cfg.GuarantyFund, sink)

	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret, auth.AllPermissions()...)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	creditHandlers := creditrisk.NewGinHandlers(creditService)
	liabilityHandlers := liability.NewGinHandlers(liabilityService)
	solvencyHandlers := solvency.NewGinHandlers(solvencyService)
	fundHandlers := guarantyfund.NewGinHandlers(fundService)

	// Setup routes
	setupRoutes(router, authHandlers, creditHandlers, liabilityHandlers, solvencyHandlers, fundHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	creditHandlers *creditrisk.GinHandlers,
	liabilityHandlers *liability.GinHandlers,
	solvencyHandlers *solvency.GinHandlers,
	fundHandlers *guarantyfund.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Calculation routes
		calculations := v1.Group("/calculations")
		{
			calculations.POST("/ecl", creditHandlers.CalculateECLHandler())
			calculations.POST("/ecl/portfolio", creditHandlers.CalculatePortfolioHandler())
			calculations.POST("/ecl/stress", creditHandlers.StressECLHandler())
			calculations.POST("/ecl/classify-asset", creditHandlers.ClassifyAssetHandler())

			calculations.POST("/liability", liabilityHandlers.MeasureLiabilityHandler())
			calculations.POST("/liability/diversify", liabilityHandlers.DiversifyRAHandler())
			calculations.POST("/liability/vfa-eligibility", liabilityHandlers.CheckVFAEligibilityHandler())

			calculations.POST("/solvency", solvencyHandlers.AssessSolvencyHandler())
			calculations.POST("/solvency/stress", solvencyHandlers.StressTestHandler())
			calculations.POST("/solvency/scr", solvencyHandlers.CalculateSCRHandler())

			calculations.POST("/guaranty-fund", fundHandlers.AssessFundHandler())
			calculations.POST("/guaranty-fund/early-warning", fundHandlers.EarlyWarningHandler())
		}
	}
}
