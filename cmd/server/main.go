// Package main provides the API server entry point for the ad network service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-ad-network/internal/api"
	"github.com/common-ad-network/internal/config"
	"github.com/common-ad-network/internal/fraud"
	"github.com/common-ad-network/internal/geo"
	"github.com/common-ad-network/internal/logging"
	"github.com/common-ad-network/internal/service"
	"github.com/common-ad-network/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	// Connect to Postgres
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	// Connect to Redis
	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	// ClickHouse is an optional analytics sink; the service runs without it
	var clickhouse *storage.ClickHouseDB
	if cfg.Database.ClickHouse.Enabled {
		clickhouse, err = storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()
	} else {
		logger.Info("ClickHouse disabled, click events will not be streamed")
	}

	logger.Info("Database connections established")

	// Initialize repositories
	userRepo := storage.NewUserRepository(postgres)
	adRepo := storage.NewAdRepository(postgres)
	clickRepo := storage.NewClickRepository(postgres)

	// Initialize services
	logger.Info("Initializing services...")

	geoClient := geo.NewClient(&cfg.Geo)

	fraudConfig := fraud.DefaultConfig()
	fraudConfig.MaxClicksPerHour = cfg.Fraud.MaxClicksPerHour
	fraudConfig.MaxClicksPer5Min = cfg.Fraud.MaxClicksPer5Min
	fraudConfig.MinTrustScore = cfg.Fraud.MinTrustScore
	fraudConfig.HighRiskCountries = cfg.Fraud.HighRiskCountries
	detector := fraud.NewDetector(fraudConfig, clickRepo)

	karmaEngine := service.NewKarmaEngine(cfg.Karma)

	adSelector := service.NewAdSelector(adRepo, userRepo, cfg.Server.PublicBaseURL)

	var eventSink service.EventSink
	if clickhouse != nil {
		eventSink = clickhouse
	}
	clickService := service.NewClickService(
		adRepo,
		clickRepo,
		userRepo,
		redis,
		geoClient,
		detector,
		karmaEngine,
		eventSink,
		cfg.Server.PublicBaseURL,
		cfg.Server.FallbackRedirectURL,
	)

	var countryStats service.CountryStatsReader
	if clickhouse != nil {
		countryStats = clickhouse
	}
	analyticsService := service.NewAnalyticsService(adRepo, clickRepo, userRepo, countryStats)

	logger.Info("Services initialized")

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:                cfg.Server.Host,
		Port:                cfg.Server.Port,
		ReadTimeout:         15 * time.Second,
		WriteTimeout:        15 * time.Second,
		IdleTimeout:         60 * time.Second,
		ShutdownTimeout:     10 * time.Second,
		EmbedRPS:            cfg.RateLimit.EmbedRPS,
		EmbedBurst:          cfg.RateLimit.EmbedBurst,
		FallbackRedirectURL: cfg.Server.FallbackRedirectURL,
		SignupBonus:         cfg.Karma.SignupBonus,
	}

	server := api.NewServer(serverConfig, adSelector, clickService, analyticsService, adRepo, userRepo)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
