package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type BrokerKind string

const (
	BrokerAMQP   BrokerKind = "amqp"
	BrokerPubsub BrokerKind = "pubsub"
)

type StoreKind string

const (
	StoreFirestore StoreKind = "firestore"
	StoreSQLite    StoreKind = "sqlite"
	StoreRedis     StoreKind = "redis"
)

const (
	defaultListenAddr     = ":8080"
	defaultQueue          = "notification.fcm"
	defaultExchange       = "notification.done"
	defaultPrefetch       = 1
	defaultReconnectDelay = 5 * time.Second
	defaultMessageTimeout = 30 * time.Second
	defaultSQLitePath     = "relay.db"
)

// BrokerConfig describes the inbound queue and the completion destination. For Pub/Sub,
// Exchange is the completion topic id.
type BrokerConfig struct {
	Kind           BrokerKind
	URL            string
	Queue          string
	Exchange       string
	Prefetch       int
	ReconnectDelay time.Duration
}

type PubsubConfig struct {
	RequestTopicID string
	SubscriptionID string
}

// FCMConfig holds the push gateway target. An empty or mock ProjectID means mock mode.
type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
	Title           string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type StoreConfig struct {
	Kind       StoreKind
	Collection string
	SQLitePath string
	Redis      RedisConfig
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID      string
	ListenAddr     string
	MessageTimeout time.Duration

	Broker BrokerConfig
	Pubsub PubsubConfig
	FCM    FCMConfig
	Store  StoreConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string)) {
		if val := os.Getenv(key); val != "" {
			logger.Debug("Overriding config value", "key", key, "source", "env")
			apply(val)
		}
	}

	// 1. Apply Environment Overrides
	override("PROJECT_ID", func(v string) { cfg.ProjectID = v })
	override("PORT", func(v string) { cfg.ListenAddr = ":" + v })

	override("BROKER_KIND", func(v string) { cfg.Broker.Kind = BrokerKind(v) })
	override("RABBITMQ_URL", func(v string) { cfg.Broker.URL = v })
	override("SUBSCRIPTION_ID", func(v string) { cfg.Pubsub.SubscriptionID = v })
	override("REQUEST_TOPIC_ID", func(v string) { cfg.Pubsub.RequestTopicID = v })
	override("COMPLETION_TOPIC_ID", func(v string) { cfg.Broker.Exchange = v })

	override("FCM_PROJECT_ID", func(v string) { cfg.FCM.ProjectID = v })
	override("GOOGLE_APPLICATION_CREDENTIALS", func(v string) { cfg.FCM.CredentialsFile = v })

	override("RECORD_STORE", func(v string) { cfg.Store.Kind = StoreKind(v) })
	override("SQLITE_PATH", func(v string) { cfg.Store.SQLitePath = v })
	override("REDIS_ADDR", func(v string) { cfg.Store.Redis.Addr = v })
	override("REDIS_PASSWORD", func(v string) { cfg.Store.Redis.Password = v })
	if val := os.Getenv("REDIS_DB"); val != "" {
		db, err := strconv.Atoi(val)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB %q: must be an integer", val)
		}
		cfg.Store.Redis.DB = db
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = defaultMessageTimeout
	}
	if cfg.Broker.Kind == "" {
		cfg.Broker.Kind = BrokerAMQP
	}
	if cfg.Broker.Queue == "" {
		cfg.Broker.Queue = defaultQueue
	}
	if cfg.Broker.Exchange == "" {
		cfg.Broker.Exchange = defaultExchange
	}
	if cfg.Broker.Prefetch <= 0 {
		cfg.Broker.Prefetch = defaultPrefetch
	}
	if cfg.Broker.ReconnectDelay <= 0 {
		cfg.Broker.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Store.Kind == "" {
		cfg.Store.Kind = StoreSQLite
	}
	if cfg.Store.Kind == StoreSQLite && cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaultSQLitePath
	}

	// 3. Final Validation
	switch cfg.Broker.Kind {
	case BrokerAMQP:
		if cfg.Broker.URL == "" {
			return nil, fmt.Errorf("broker.url is required for amqp (set via YAML or RABBITMQ_URL env var)")
		}
	case BrokerPubsub:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for pubsub (set via YAML or PROJECT_ID env var)")
		}
		if cfg.Pubsub.SubscriptionID == "" {
			return nil, fmt.Errorf("pubsub.subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
		}
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}

	switch cfg.Store.Kind {
	case StoreFirestore:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("project_id is required for the firestore store (set via YAML or PROJECT_ID env var)")
		}
	case StoreRedis:
		if cfg.Store.Redis.Addr == "" {
			return nil, fmt.Errorf("store.redis.addr is required (set via YAML or REDIS_ADDR env var)")
		}
	case StoreSQLite:
	default:
		return nil, fmt.Errorf("unknown record store kind %q", cfg.Store.Kind)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
