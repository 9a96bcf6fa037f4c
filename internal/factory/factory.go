package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"verification-service/internal/audit"
	"verification-service/internal/bucketing"
	"verification-service/internal/client"
	"verification-service/internal/config"
	"verification-service/internal/encryption"
	"verification-service/internal/events"
	"verification-service/internal/hashing"
	"verification-service/internal/provider"
	"verification-service/internal/risk"
	"verification-service/internal/service"
	"verification-service/internal/store"
	"verification-service/internal/store/clickhousestore"
	"verification-service/internal/store/memory"
	"verification-service/internal/store/redisstore"
	"verification-service/internal/store/scyllastore"
	"verification-service/internal/tls"
	"verification-service/internal/util"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Factory manages the lifecycle of all application dependencies. Each
// backend is optional: when disabled or unreachable in development, the
// process-local store takes its place so the service still runs end to end.
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scyllastore.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager

	// Wiring
	attemptStore store.AttemptStore
	indexer      *audit.Indexer
	publisher    *events.Publisher
	orchestrator *service.Orchestrator
	reaper       *service.Reaper

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.Load()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeManagers()
	factory.initializeService()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
		util.Bool("redis_enabled", cfg.Redis.Enabled),
		util.Bool("scylla_enabled", cfg.Scylla.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all enabled external service clients with
// health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if f.config.Redis.Enabled {
		if c, err := client.NewRedisClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
		} else {
			f.redisClient = c
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
			} else {
				util.Info("Redis client initialized and healthy")
			}
		}
	}

	// ScyllaDB
	if f.config.Scylla.Enabled {
		if c, err := scyllastore.NewScyllaClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
		} else {
			f.scyllaClient = c
			if err := f.scyllaClient.HealthCheck(); err != nil {
				initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
			} else {
				util.Info("ScyllaDB client initialized and healthy")
			}
		}
	}

	// Kafka is advisory: the event stream never blocks a verification.
	if f.config.Kafka.Enabled {
		if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
			util.Info("Kafka producer initialized")
		}
	}

	// Elasticsearch
	if f.config.Elasticsearch.Enabled {
		if c, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
		} else {
			f.esClient = c
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if f.config.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
		} else {
			f.clickhouseClient = c
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
			} else {
				util.Info("ClickHouse client initialized and healthy")
			}
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

// initializeManagers initializes hashing, encryption, and bucketing managers
func (f *Factory) initializeManagers() {
	f.hasher = hashing.NewHasher(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("Failed to load AWS config, KMS disabled for this run", util.ErrorField(err))
			f.config.KMS.Enabled = false
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewManager(f.config)

	if f.config.IsProduction() {
		f.hasher.StartPepperRotation()
	}

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)
}

// initializeService assembles the stores, risk gate, providers, audit
// recorder, and orchestrator from whatever backends came up.
func (f *Factory) initializeService() {
	// Attempt storage
	if f.scyllaClient != nil {
		f.attemptStore = scyllastore.NewAttemptStore(f.scyllaClient, f.bucketingManager)
	} else {
		f.attemptStore = memory.NewAttemptStore()
		util.Info("Using in-memory attempt store")
	}

	// Rate limiting, fraud signals, and the resend cooldown
	var rateLimits store.RateLimitStore
	var fraud store.FraudStore
	var resendLock service.ResendLocker
	if f.redisClient != nil {
		rateLimits = redisstore.NewRateLimitStore(f.redisClient)
		fraud = redisstore.NewFraudStore(f.redisClient)
		resendLock = redisstore.NewResendLock(f.redisClient)
	} else {
		rateLimits = memory.NewRateLimitStore()
		fraud = memory.NewFraudStore()
		resendLock = memory.NewResendLock()
		util.Info("Using in-memory risk stores")
	}

	// Audit ledger and search index
	var ledger store.AuditStore
	if f.clickhouseClient != nil {
		ledger = clickhousestore.NewAuditStore(f.clickhouseClient, f.encryptionManager, f.bucketingManager)
	} else {
		ledger = memory.NewAuditStore()
		util.Info("Using in-memory audit store")
	}
	if f.esClient != nil {
		f.indexer = audit.NewIndexer(f.esClient, f.config)
	}
	recorder := audit.NewRecorder(ledger, f.indexer)

	// Lifecycle events
	if f.kafkaProducer != nil {
		f.publisher = events.NewPublisher(f.kafkaProducer, f.config, f.bucketingManager)
	}

	gate := risk.NewGate(f.config, rateLimits, fraud)
	dispatcher := provider.NewDispatcher(
		provider.NewTelnyxProvider(f.config),
		provider.NewMockProvider(),
		f.config.Telnyx.FallbackEnabled,
	)

	f.orchestrator = service.NewOrchestrator(
		f.config,
		f.attemptStore,
		gate,
		dispatcher,
		recorder,
		f.publisher,
		f.hasher,
		resendLock,
	)
	f.reaper = service.NewReaper(f.config, f.attemptStore)
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.config.Redis.Enabled {
		if f.redisClient != nil {
			if err := f.redisClient.HealthCheck(ctx); err != nil {
				healthErrors["redis"] = err
			}
		} else {
			healthErrors["redis"] = fmt.Errorf("redis client not initialized")
		}
	}

	if f.config.Scylla.Enabled {
		if f.scyllaClient != nil {
			if err := f.scyllaClient.HealthCheck(); err != nil {
				healthErrors["scylla"] = err
			}
		} else {
			healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
		}
	}

	if f.config.Elasticsearch.Enabled {
		if f.esClient != nil {
			if err := f.esClient.HealthCheck(); err != nil {
				healthErrors["elasticsearch"] = err
			}
		} else {
			healthErrors["elasticsearch"] = fmt.Errorf("elasticsearch client not initialized")
		}
	}

	if f.config.Clickhouse.Enabled {
		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
				healthErrors["clickhouse"] = err
			}
		} else {
			healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	if f.orchestrator == nil {
		healthErrors["orchestrator"] = fmt.Errorf("orchestrator not initialized")
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Orchestrator() *service.Orchestrator {
	return f.orchestrator
}

func (f *Factory) Reaper() *service.Reaper {
	return f.reaper
}

// AuditIndexer returns the search index, or nil when Elasticsearch is
// disabled.
func (f *Factory) AuditIndexer() *audit.Indexer {
	return f.indexer
}
