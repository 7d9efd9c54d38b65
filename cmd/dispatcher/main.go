// Command dispatcher consumes the transition log and delivers notifications
// outside the API process. In-app deliveries are stored in the inbox and
// marked undelivered since no live sessions are served here.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/app"
	"github.com/zatekoja/dermascan/internal/infrastructure/observability"
	"github.com/zatekoja/dermascan/pkg/config"
	"github.com/zatekoja/dermascan/pkg/secrets"
)

func main() {
	if res, err := secrets.Apply(context.Background(), secrets.LoadVaultConfigFromEnv()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets from Vault path %q: %v\n", res.Path, err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.App.ServiceName+"-dispatcher", cfg.App.Env)

	if cfg.Events.LogDriver == "memory" {
		log.Fatal().Msg("EVENT_LOG_DRIVER=memory cannot be shared across processes; use redis or kafka")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	transitions := app.OpenTransitionLog(cfg, redisClient)
	defer transitions.Close()

	dispatcher := app.Dispatcher(cfg, stores, nil, app.Cache(redisClient), metrics)
	log.Info().Str("log_driver", cfg.Events.LogDriver).Msg("Notification dispatcher started")
	if err := dispatcher.Run(ctx, transitions); err != nil {
		log.Error().Err(err).Msg("Notification dispatcher stopped")
		return
	}
	log.Info().Msg("Notification dispatcher stopped")
}
