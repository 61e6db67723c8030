package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/audit"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/consent"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/contracts"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/directory"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/eventlog"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/httpapi"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/permissions"
	"github.com/blockchainconsent/owner-mediated-records-sub000/internal/records"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/config"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/database"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/logger"
	"github.com/blockchainconsent/owner-mediated-records-sub000/pkg/monitoring"
)

const serviceVersion = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting Sharing Service", "version", serviceVersion)

	// Initialize monitoring
	metrics := monitoring.NewMetricsCollector("sharing-service")
	health := monitoring.NewHealthManager("sharing-service", serviceVersion)

	var tracing *monitoring.TracingManager
	if cfg.Monitoring.TracingEnabled {
		tracing, err = monitoring.NewTracingManager(&monitoring.TracingConfig{
			ServiceName:    "sharing-service",
			ServiceVersion: serviceVersion,
			JaegerEndpoint: cfg.Monitoring.JaegerEndpoint,
			Environment:    "production",
			SamplingRate:   1.0,
		})
		if err != nil {
			log.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
	}

	// Event log with metrics and optional Postgres archive sinks
	events := eventlog.New(log)
	events.AddSink(eventlog.NewMetricsSink(metrics))

	var db *database.DB
	if cfg.Database.Host != "" {
		db, err = database.Open(&cfg.Database, log)
		if err != nil {
			log.Warn("Audit archive unavailable, running without it", "error", err)
		} else {
			defer db.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := db.CreateSchema(ctx); err != nil {
				cancel()
				log.Error("Failed to create audit archive schema", "error", err)
				os.Exit(1)
			}
			cancel()

			events.AddSink(eventlog.NewPostgresArchive(db.DB, log))
			health.RegisterChecker("database", monitoring.NewDatabaseHealthChecker(db.DB))
		}
	}

	// Directory and permission registry resolve each other's lookups,
	// so the authorizer is attached after both exist.
	dir := directory.New(events, log)
	registry := permissions.NewRegistry(dir, events, log)
	dir.SetAuthorizer(registry)

	if bootstrapAdmin := os.Getenv("BOOTSTRAP_SYS_ADMIN"); bootstrapAdmin != "" {
		registry.Bootstrap(bootstrapAdmin)
		log.Info("Bootstrapped system administrator", "user_id", bootstrapAdmin)
	}

	// Consent and data sharing components
	consentStore := consent.NewStore(registry, dir, events, log)
	tokenIssuer := consent.NewTokenIssuer(time.Duration(cfg.Token.TTL)*time.Second, log)
	accessValidator := consent.NewAccessValidator(consentStore, tokenIssuer, registry, log)
	pipeline := consent.NewPipeline(dir, consentStore)

	contractEngine := contracts.NewEngine(registry, dir, events, log)
	recordStore := records.NewStore(tokenIssuer, events, log)
	auditService := audit.NewQueryService(events, registry, log)

	// HTTP service
	validator := httpapi.NewTokenValidator(
		cfg.JWT.SecretKey,
		cfg.JWT.Issuer,
		time.Duration(cfg.JWT.AccessTokenTTL)*time.Second,
	)

	apiService := httpapi.NewService(httpapi.Dependencies{
		Logger:    log,
		Validator: validator,
		Metrics:   metrics,
		Health:    health,
		Tracing:   tracing,
		Directory: dir,
		Registry:  registry,
		Consents:  consentStore,
		Access:    accessValidator,
		Pipeline:  pipeline,
		Contracts: contractEngine,
		Records:   recordStore,
		Audit:     auditService,
	})

	// Setup HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiService.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to start HTTP server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Sharing Service...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	if tracing != nil {
		if err := tracing.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown tracing", "error", err)
		}
	}

	log.Info("Sharing Service stopped")
}
