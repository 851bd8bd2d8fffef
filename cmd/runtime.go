package cmd

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/shortage/config"
	"example.com/backstage/services/shortage/internal/cache"
	"example.com/backstage/services/shortage/internal/clock"
	"example.com/backstage/services/shortage/internal/database"
	"example.com/backstage/services/shortage/internal/images"
	"example.com/backstage/services/shortage/internal/messaging"
	"example.com/backstage/services/shortage/internal/repositories"
	"example.com/backstage/services/shortage/internal/search"
	"example.com/backstage/services/shortage/internal/services"
	"example.com/backstage/services/shortage/internal/telemetry"
	"example.com/backstage/services/shortage/internal/tracing"
)

// runtime holds the connections shared by the long-running commands
type runtime struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
	cache      *cache.RedisCache
	images     *images.GCSImageStore
	bus        *messaging.Client
	tracer     tracing.Tracer
	metrics    *telemetry.Collector
	service    *services.ShortageService
}

// newRuntime connects every configured collaborator. Only the database is mandatory; the
// cache, search index, image bucket, tracer and service bus degrade to disabled.
func newRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	rt := &runtime{metrics: telemetry.GetCollector()}

	db, readOnlyDB, err := database.Connect(cfg.DB, debug)
	if err != nil {
		return nil, err
	}
	rt.db, rt.readOnlyDB = db, readOnlyDB
	if err := database.Migrate(db); err != nil {
		rt.Close()
		return nil, err
	}

	deps := services.Dependencies{
		Store:   repositories.NewCaseRepository(db, readOnlyDB, clock.System{}),
		Catalog: repositories.NewMaterialRepository(db, readOnlyDB),
		Clock:   clock.System{},
		Metrics: rt.metrics,
	}

	rt.cache, err = cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		rt.cache = cache.NewRedisCacheWithClient(nil)
	}
	deps.Cache = rt.cache

	rt.tracer, err = tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		rt.tracer = &tracing.NewRelicTracer{}
	}
	deps.Tracer = rt.tracer

	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, searching the catalog database instead")
	} else {
		deps.Index = elasticClient
	}

	rt.images, err = images.NewGCSImageStore(ctx, cfg.Storage)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize part image bucket, continuing without images")
	} else {
		deps.Images = rt.images
	}

	if cfg.Azure.ConnectionString != "" {
		rt.bus, err = messaging.NewClient(cfg.Azure, newOrigin())
		if err != nil {
			rt.Close()
			return nil, err
		}
		deps.Notifier = rt.bus
	} else {
		log.Warn().Msg("Azure Service Bus connection string not set, case changes stay local")
	}

	rt.service = services.NewShortageService(deps, cfg.Engine)
	return rt, nil
}

// Close releases every connection
func (rt *runtime) Close() {
	if rt.bus != nil {
		if err := rt.bus.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing service bus client")
		}
	}
	if rt.images != nil {
		if err := rt.images.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing storage client")
		}
	}
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Redis client")
		}
	}
	if rt.tracer != nil {
		rt.tracer.Close()
	}
	if rt.readOnlyDB != nil && rt.readOnlyDB != rt.db {
		if err := database.Close(rt.readOnlyDB); err != nil {
			log.Error().Err(err).Msg("Error closing read-only database")
		}
	}
	if rt.db != nil {
		if err := database.Close(rt.db); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}
}

// consumeChanges refreshes the local snapshot when another process announces a write. Each
// process reads the changes topic through its own subscription.
func (rt *runtime) consumeChanges(ctx context.Context) error {
	if rt.bus == nil {
		<-ctx.Done()
		return nil
	}
	return rt.bus.ConsumeChanges(ctx, messaging.NewProcessor(rt.service, rt.bus.Origin()))
}

// newOrigin identifies this process on change notifications
func newOrigin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "shortage"
	}
	return host + "-" + uuid.NewString()[:8]
}
