package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/regcalc-api/internal/audit"
	"github.com/ksred/regcalc-api/internal/auth"
	"github.com/ksred/regcalc-api/internal/config"
	"github.com/ksred/regcalc-api/internal/creditrisk"
	"github.com/ksred/regcalc-api/internal/database"
	"github.com/ksred/regcalc-api/internal/guarantyfund"
	"github.com/ksred/regcalc-api/internal/liability"
	"github.com/ksred/regcalc-api/internal/solvency"
	"github.com/ksred/regcalc-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the calculation API server with graceful
// shutdown support. It validates the regulatory configuration, opens the
// audit trail store and wires the calculation engines to their routes.
func main() {
	// Validate the regulatory configuration before anything computes with it
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		zlog.Fatal().Err(err).Msg("Invalid regulatory configuration")
	}

	// Initialize database
	db, err := database.NewDatabase()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Every engine invocation appends to the shared audit trail
	sink := audit.NewGormSink(db)

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService("regcalc-secret-key")
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials with access to every engine
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret, auth.AllPermissions()...)

	creditService := creditrisk.NewService(&cfg.CreditRisk, sink)
	creditHandlers := creditrisk.NewGinHandlers(creditService)

	liabilityService := liability.NewService(&cfg.Liability, sink)
	liabilityHandlers := liability.NewGinHandlers(liabilityService)

	solvencyService := solvency.NewService(&cfg.Solvency, sink)
	solvencyHandlers := solvency.NewGinHandlers(solvencyService)

	fundService := guarantyfund.NewService(&cfg.GuarantyFund, sink)
	fundHandlers := guarantyfund.NewGinHandlers(fundService)

	auditHandlers := audit.NewGinHandlers(sink)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, creditHandlers, liabilityHandlers, solvencyHandlers, fundHandlers, auditHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
//   - Auth routes: Public endpoints for authentication
//   - Calculation routes: Protected by JWT authentication, then gated per
//     engine on the token's permissions claim
//   - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	creditHandlers *creditrisk.GinHandlers,
	liabilityHandlers *liability.GinHandlers,
	solvencyHandlers *solvency.GinHandlers,
	fundHandlers *guarantyfund.GinHandlers,
	auditHandlers *audit.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Calculation routes
		calculations := v1.Group("/calculations")
		calculations.Use(middleware.JWTAuth())
		{
			ecl := calculations.Group("/ecl", middleware.RequirePermission(auth.PermissionCreditRisk))
			{
				ecl.POST("", creditHandlers.CalculateECLHandler())
				ecl.POST("/portfolio", creditHandlers.CalculatePortfolioHandler())
				ecl.POST("/stress", creditHandlers.StressECLHandler())
				ecl.POST("/classify-asset", creditHandlers.ClassifyAssetHandler())
			}

			liabilityGroup := calculations.Group("/liability", middleware.RequirePermission(auth.PermissionLiability))
			{
				liabilityGroup.POST("", liabilityHandlers.MeasureLiabilityHandler())
				liabilityGroup.POST("/diversify", liabilityHandlers.DiversifyRAHandler())
				liabilityGroup.POST("/vfa-eligibility", liabilityHandlers.CheckVFAEligibilityHandler())
			}

			solvencyGroup := calculations.Group("/solvency", middleware.RequirePermission(auth.PermissionSolvency))
			{
				solvencyGroup.POST("", solvencyHandlers.AssessSolvencyHandler())
				solvencyGroup.POST("/stress", solvencyHandlers.StressTestHandler())
				solvencyGroup.POST("/scr", solvencyHandlers.CalculateSCRHandler())
			}

			fund := calculations.Group("/guaranty-fund", middleware.RequirePermission(auth.PermissionGuarantyFund))
			{
				fund.POST("", fundHandlers.AssessFundHandler())
				fund.POST("/early-warning", fundHandlers.EarlyWarningHandler())
			}
		}

		// Audit trail export (should additionally be protected by internal network)
		auditTrail := v1.Group("/audit")
		auditTrail.Use(middleware.InternalAuth())
		{
			auditTrail.GET("", auditHandlers.TrailHandler())
		}
	}
}
