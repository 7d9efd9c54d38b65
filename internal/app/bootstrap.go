// Package app builds the driver-selected adapters shared by the API and
// dispatcher binaries.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/dermascan/internal/adapters/cache"
	"github.com/zatekoja/dermascan/internal/adapters/database"
	"github.com/zatekoja/dermascan/internal/adapters/events"
	"github.com/zatekoja/dermascan/internal/adapters/memory"
	"github.com/zatekoja/dermascan/internal/adapters/providers/identity"
	"github.com/zatekoja/dermascan/internal/adapters/providers/labeling"
	"github.com/zatekoja/dermascan/internal/adapters/storage"
	"github.com/zatekoja/dermascan/internal/application/services"
	"github.com/zatekoja/dermascan/internal/domain/providers"
	"github.com/zatekoja/dermascan/internal/domain/repositories"
	"github.com/zatekoja/dermascan/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/dermascan/internal/infrastructure/clients/redis"
	"github.com/zatekoja/dermascan/internal/infrastructure/notifications"
	"github.com/zatekoja/dermascan/internal/infrastructure/observability"
	"github.com/zatekoja/dermascan/pkg/config"
)

// Stores groups the repositories selected by STORE_DRIVER
type Stores struct {
	Scans         repositories.ScanRepository
	Identities    repositories.IdentityRepository
	Devices       repositories.DeviceTokenRepository
	Notifications repositories.NotificationRepository

	pg *postgres.Client
}

// Close releases the database connection, if any
func (s *Stores) Close() error {
	if s.pg != nil {
		return s.pg.Close()
	}
	return nil
}

// Truncate empties every table of the PostgreSQL store
func (s *Stores) Truncate(ctx context.Context) error {
	if s.pg == nil {
		return nil
	}
	_, err := s.pg.DB().ExecContext(ctx, `
		TRUNCATE TABLE
			notification_records,
			device_tokens,
			scan_records,
			identities
		CASCADE
	`)
	return err
}

// OpenStores connects the configured record store
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	if cfg.App.StoreDriver == "postgres" {
		pg, err := postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
		}
		log.Info().Str("host", cfg.Database.Host).Msg("PostgreSQL store initialized")
		return &Stores{
			Scans:         database.NewScanAdapter(pg),
			Identities:    database.NewIdentityAdapter(pg),
			Devices:       database.NewDeviceTokenAdapter(pg),
			Notifications: database.NewNotificationAdapter(pg),
			pg:            pg,
		}, nil
	}
	log.Warn().Msg("Using in-memory store; records are lost on restart")
	return &Stores{
		Scans:         memory.NewScanRepository(),
		Identities:    memory.NewIdentityRepository(),
		Devices:       memory.NewDeviceTokenRepository(),
		Notifications: memory.NewNotificationRepository(),
	}, nil
}

// OpenRedis returns nil when Redis is disabled
func OpenRedis(cfg *config.Config) (*redis.Client, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	client, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis client: %w", err)
	}
	log.Info().Str("host", cfg.Redis.Host).Msg("Redis client initialized")
	return client, nil
}

// Cache returns the Redis cache, or an in-process one without Redis
func Cache(client *redis.Client) providers.CacheProvider {
	if client != nil {
		return cache.NewRedisAdapter(client)
	}
	return memory.NewCache()
}

// OpenTransitionLog selects the durable transition log
func OpenTransitionLog(cfg *config.Config, client *redis.Client) providers.TransitionLog {
	switch cfg.Events.LogDriver {
	case "redis":
		log.Info().Str("stream", cfg.Events.Stream).Msg("Transition log on Redis Streams")
		return events.NewRedisStreamLog(client, events.RedisStreamConfig{
			Stream:   cfg.Events.Stream,
			Group:    cfg.Events.ConsumerGroup,
			Consumer: cfg.Events.ConsumerName,
			Block:    cfg.Events.ReadBlock,
		})
	case "kafka":
		log.Info().Strs("brokers", cfg.Events.KafkaBrokers).Str("topic", cfg.Events.KafkaTopic).Msg("Transition log on Kafka")
		return events.NewKafkaTransitionLog(events.KafkaConfig{
			Brokers: cfg.Events.KafkaBrokers,
			Topic:   cfg.Events.KafkaTopic,
			GroupID: cfg.Events.KafkaGroupID,
		})
	default:
		return events.NewMemoryTransitionLog(cfg.Notification.RetryDelay)
	}
}

// OpenLiveBus selects the live fan-out bus
func OpenLiveBus(cfg *config.Config, client *redis.Client) providers.LiveBus {
	if cfg.Events.LiveDriver == "redis" {
		log.Info().Str("channel", cfg.Events.LiveChannel).Msg("Live bus on Redis pub/sub")
		return events.NewRedisLiveBus(client, cfg.Events.LiveChannel, 256)
	}
	return events.NewMemoryLiveBus(256)
}

// OpenBlobStore selects the image store
func OpenBlobStore(ctx context.Context, cfg *config.Config) (providers.BlobStore, error) {
	if cfg.Storage.Driver == "s3" {
		return storage.NewS3BlobStore(ctx, cfg.Storage)
	}
	return storage.NewMemoryBlobStore(), nil
}

// Classifier selects the image-labeling collaborator
func Classifier(cfg *config.Config) providers.Classifier {
	if cfg.Labeling.Provider == "http" {
		return labeling.NewHTTPClassifier(cfg.Labeling.URL, cfg.Labeling.APIKey, cfg.Labeling.Timeout)
	}
	return labeling.NewStaticClassifier()
}

// IdentityProvider selects the session token provider
func IdentityProvider(cfg *config.Config, client *redis.Client) (providers.IdentityProvider, error) {
	if cfg.Identity.Provider == "redis" {
		return identity.NewRedisSessionProvider(client, cfg.Identity.SessionPrefix, 0), nil
	}
	return identity.NewStaticProvider(cfg.Identity.StaticTokens)
}

// Dispatcher builds the notification dispatcher. inApp may be nil when no
// live sessions are served by this process.
func Dispatcher(cfg *config.Config, stores *Stores, inApp providers.InAppPublisher, cache providers.CacheProvider, metrics *observability.Metrics) *services.NotificationDispatcher {
	var push providers.PushSender
	if cfg.Notification.ExpoURL != "" {
		push = notifications.NewExpoPushSender(cfg.Notification.ExpoURL, cfg.Notification.ExpoAccessToken)
	}
	return services.NewNotificationDispatcher(
		stores.Notifications,
		stores.Devices,
		push,
		inApp,
		services.StaticRoster(cfg.Notification.OnCallClinicianIDs),
		cache,
		metrics,
		services.DispatcherConfig{
			AttemptTimeout: cfg.Notification.AttemptTimeout,
			RetryDelay:     cfg.Notification.RetryDelay,
			DedupTTL:       cfg.Notification.DedupTTL,
		},
	)
}

// Telemetry sets up OpenTelemetry when enabled and returns its shutdown func
func Telemetry(ctx context.Context, cfg *config.Config) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint == "" {
		return noop
	}
	shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		return noop
	}
	log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
	return shutdown
}
