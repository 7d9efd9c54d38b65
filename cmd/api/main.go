package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/adapters/providers/labeling"
	"github.com/zatekoja/dermascan/internal/api/handlers"
	"github.com/zatekoja/dermascan/internal/api/routes"
	"github.com/zatekoja/dermascan/internal/app"
	"github.com/zatekoja/dermascan/internal/application/services"
	"github.com/zatekoja/dermascan/internal/infrastructure/observability"
	"github.com/zatekoja/dermascan/pkg/config"
	"github.com/zatekoja/dermascan/pkg/secrets"
)

func main() {
	// Load configuration
	if res, err := secrets.Apply(context.Background(), secrets.LoadVaultConfigFromEnv()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets from Vault path %q: %v\n", res.Path, err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.App.ServiceName, cfg.App.Env)

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry := app.Telemetry(ctx, cfg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			log.Error().Err(err).Msg("Error shutting down OpenTelemetry")
		}
	}()

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics")
	}

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open record store")
	}
	defer stores.Close()

	redisClient, err := app.OpenRedis(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	blobs, err := app.OpenBlobStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize blob store")
	}
	identityProvider, err := app.IdentityProvider(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize identity provider")
	}

	liveBus := app.OpenLiveBus(cfg, redisClient)
	defer liveBus.Close()
	transitions := app.OpenTransitionLog(cfg, redisClient)
	defer transitions.Close()

	// Initialize services
	directory := services.NewPatientDirectory(stores.Identities)
	if err := directory.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load patient directory")
	}
	identities := services.NewIdentityService(stores.Identities, identityProvider, directory)
	sessions := services.NewSessionStore(stores.Identities)
	inbox := services.NewInboxService(stores.Notifications, stores.Devices)

	scans := services.NewScanService(stores.Scans, stores.Identities, blobs, liveBus, transitions, metrics, services.ScanConfig{
		RequireSignoff: cfg.Review.RequireSignoff,
		StoragePrefix:  cfg.Storage.Prefix,
		MaxUploadBytes: cfg.Storage.MaxUpload,
	})

	pipeline := services.NewAnalysisPipeline(services.AnalysisConfig{
		Workers: cfg.Labeling.Workers,
		Queue:   cfg.Labeling.Queue,
		Timeout: cfg.Labeling.Timeout,
	}, scans, stores.Scans, blobs, app.Classifier(cfg), labeling.Interpret, metrics)
	pipeline.Start(ctx)
	if cfg.Labeling.RecoverOnStart {
		if _, err := pipeline.Recover(ctx, cfg.Labeling.RecoverAge); err != nil {
			log.Warn().Err(err).Msg("Failed to recover pending analyses")
		}
	}

	hub := services.NewLiveHub(liveBus, 64, metrics)
	sessions.OnChange(hub.CloseSession)
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Live hub stopped")
		}
	}()

	if cfg.Notification.InProcess {
		dispatcher := app.Dispatcher(cfg, stores, hub, app.Cache(redisClient), metrics)
		go func() {
			if err := dispatcher.Run(ctx, transitions); err != nil {
				log.Error().Err(err).Msg("Notification dispatcher stopped")
			}
		}()
		log.Info().Msg("Notification dispatcher running in-process")
	}

	// Initialize handlers
	router := routes.NewRouter(
		handlers.NewIdentityHandler(identities),
		handlers.NewSessionHandler(sessions, directory, identities),
		handlers.NewScanHandler(scans, sessions, cfg.Storage.MaxUpload),
		handlers.NewNotificationHandler(inbox),
		handlers.NewStreamHandler(hub, scans, sessions, directory, 30*time.Second),
		identities,
		cfg.Server.AllowedOrigins,
		metrics,
	)

	// WriteTimeout stays zero so event streams are not cut off.
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Server shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during server shutdown")
	}

	cancel()
	pipeline.Wait()
	log.Info().Msg("Server stopped")
}
