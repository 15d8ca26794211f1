package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"event-pipeline/internal/bucketing"
	"event-pipeline/internal/client"
	"event-pipeline/internal/config"
	"event-pipeline/internal/enrichment"
	"event-pipeline/internal/handler"
	"event-pipeline/internal/model"
	"event-pipeline/internal/pipeline"
	"event-pipeline/internal/repository/postgres"
	redisrepo "event-pipeline/internal/repository/redis"
	"event-pipeline/internal/repository/scylla"
	"event-pipeline/internal/taxonomy"
	"event-pipeline/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient
	postgresClient   *client.PostgresClient

	// Managers
	bucketingManager *bucketing.Manager

	// Pipeline wiring, built lazily
	eventRepository *scylla.EventRepository
	identityCache   *redisrepo.IdentityCache
	readModelCache  *redisrepo.ReadModelCache
	associationRepo *postgres.AssociationRepository
	resolver        *enrichment.Resolver
	processor       *pipeline.Processor
	consumer        *pipeline.Consumer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.bucketingManager = bucketing.NewManager(cfg.Bucketing.EventBuckets)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Int("event_buckets", cfg.Bucketing.EventBuckets),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Postgres
	if pgClient, err := client.NewPostgresClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("postgres: %w", err))
	} else {
		f.postgresClient = pgClient
		if err := f.postgresClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("postgres health check: %w", err))
		} else {
			util.Info("Postgres client initialized and healthy")
		}
	}

	// Kafka
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = esClient
		if err := f.esClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) EventRepository() *scylla.EventRepository {
	if f.eventRepository == nil {
		f.eventRepository = scylla.NewEventRepository(f.scyllaClient, f.bucketingManager)
	}
	return f.eventRepository
}

func (f *Factory) IdentityCache() *redisrepo.IdentityCache {
	if f.identityCache == nil {
		f.identityCache = redisrepo.NewIdentityCache(f.redisClient, f.config.Redis.IdentityTTL)
	}
	return f.identityCache
}

func (f *Factory) ReadModelCache() *redisrepo.ReadModelCache {
	if f.readModelCache == nil {
		f.readModelCache = redisrepo.NewReadModelCache(f.redisClient, f.config.Redis.ProjectionTTL)
	}
	return f.readModelCache
}

func (f *Factory) AssociationRepository() *postgres.AssociationRepository {
	if f.associationRepo == nil {
		f.associationRepo = postgres.NewAssociationRepository(f.postgresClient)
	}
	return f.associationRepo
}

// ==============================
// Pipeline Wiring
// ==============================

func (f *Factory) Resolver() *enrichment.Resolver {
	if f.resolver == nil {
		f.resolver = enrichment.NewResolver(
			f.IdentityCache(),
			f.AssociationRepository(),
			f.config.Pipeline.LookupTimeout,
		)
	}
	return f.resolver
}

// Dispatcher builds the per-tool sink routing. Every tool fans out to the
// same destination set; routing is per-tool so destinations can be narrowed
// per source later without touching the dispatch path.
func (f *Factory) Dispatcher() *pipeline.Dispatcher {
	cfg := f.config

	sinks := []pipeline.Sink{
		pipeline.NewBrokerSink(f.kafkaProducer, cfg.Kafka.UnifiedEventsTopic, cfg.Pipeline.PublishTimeout),
		pipeline.NewAuditStoreSink(f.EventRepository(), cfg.Pipeline.SinkTimeout),
		pipeline.NewAnalyticsSink(f.clickhouseClient, cfg.Pipeline.SinkTimeout),
		pipeline.NewSearchSink(f.esClient, cfg.Elasticsearch.Index, cfg.Pipeline.SinkTimeout),
	}

	return pipeline.NewDispatcher(map[model.ToolType][]pipeline.Sink{
		model.ToolConsole: sinks,
		model.ToolRMM:     sinks,
		model.ToolMDM:     sinks,
	})
}

func (f *Factory) ReadModelSync() *pipeline.ReadModelSync {
	return pipeline.NewReadModelSync(
		f.ReadModelCache(),
		f.AssociationRepository(),
		f.kafkaProducer,
		f.config.Kafka.AnalyticsTopic,
		f.config.Pipeline.PublishTimeout,
	)
}

func (f *Factory) Processor() *pipeline.Processor {
	if f.processor == nil {
		f.processor = pipeline.NewProcessor(
			taxonomy.NewRegistry(),
			f.Resolver(),
			f.Dispatcher(),
			f.ReadModelSync(),
		)
	}
	return f.processor
}

func (f *Factory) Consumer() *pipeline.Consumer {
	if f.consumer == nil {
		f.consumer = pipeline.NewConsumer(f.config, f.Processor())
	}
	return f.consumer
}

// ==============================
// Health Checks
// ==============================

type healthFunc func(ctx context.Context) error

func (fn healthFunc) HealthCheck(ctx context.Context) error { return fn(ctx) }

// HealthCheckers exposes every dependency to the readiness endpoint.
func (f *Factory) HealthCheckers() map[string]handler.HealthChecker {
	return map[string]handler.HealthChecker{
		"redis":    f.redisClient,
		"postgres": f.postgresClient,
		"scylla": healthFunc(func(context.Context) error {
			return f.scyllaClient.HealthCheck()
		}),
		"kafka":         f.kafkaProducer,
		"clickhouse":    f.clickhouseClient,
		"elasticsearch": f.esClient,
	}
}

// ==============================
// Lifecycle
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.postgresClient != nil {
			f.postgresClient.Close()
			util.Info("Postgres client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}
