package config

import (
	"log/slog"
	"time"
)

type YamlBrokerConfig struct {
	Kind           string `yaml:"kind"`
	URL            string `yaml:"url"`
	Queue          string `yaml:"queue"`
	Exchange       string `yaml:"exchange"`
	Prefetch       int    `yaml:"prefetch"`
	ReconnectDelay string `yaml:"reconnect_delay"`
}

type YamlPubsubConfig struct {
	RequestTopicID string `yaml:"request_topic_id"`
	SubscriptionID string `yaml:"subscription_id"`
}

type YamlFCMConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	Title           string `yaml:"title"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

type YamlStoreConfig struct {
	Kind       string          `yaml:"kind"`
	Collection string          `yaml:"collection"`
	SQLitePath string          `yaml:"sqlite_path"`
	Redis      YamlRedisConfig `yaml:"redis"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID      string           `yaml:"project_id"`
	ListenAddr     string           `yaml:"listen_addr"`
	MessageTimeout string           `yaml:"message_timeout"`
	Broker         YamlBrokerConfig `yaml:"broker"`
	Pubsub         YamlPubsubConfig `yaml:"pubsub"`
	FCM            YamlFCMConfig    `yaml:"fcm"`
	Store          YamlStoreConfig  `yaml:"store"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
// Unparseable durations are logged and left at zero so defaults apply later.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		MessageTimeout: parseDuration(baseCfg.MessageTimeout, "message_timeout", logger),
		Broker: BrokerConfig{
			Kind:           BrokerKind(baseCfg.Broker.Kind),
			URL:            baseCfg.Broker.URL,
			Queue:          baseCfg.Broker.Queue,
			Exchange:       baseCfg.Broker.Exchange,
			Prefetch:       baseCfg.Broker.Prefetch,
			ReconnectDelay: parseDuration(baseCfg.Broker.ReconnectDelay, "broker.reconnect_delay", logger),
		},
		Pubsub: PubsubConfig{
			RequestTopicID: baseCfg.Pubsub.RequestTopicID,
			SubscriptionID: baseCfg.Pubsub.SubscriptionID,
		},
		FCM: FCMConfig{
			ProjectID:       baseCfg.FCM.ProjectID,
			CredentialsFile: baseCfg.FCM.CredentialsFile,
			Title:           baseCfg.FCM.Title,
		},
		Store: StoreConfig{
			Kind:       StoreKind(baseCfg.Store.Kind),
			Collection: baseCfg.Store.Collection,
			SQLitePath: baseCfg.Store.SQLitePath,
			Redis: RedisConfig{
				Addr:     baseCfg.Store.Redis.Addr,
				Password: baseCfg.Store.Redis.Password,
				DB:       baseCfg.Store.Redis.DB,
				Stream:   baseCfg.Store.Redis.Stream,
			},
		},
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"broker", cfg.Broker.Kind,
		"store", cfg.Store.Kind,
	)

	return cfg, nil
}

func parseDuration(raw, key string, logger *slog.Logger) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("Ignoring invalid duration", "key", key, "value", raw, "err", err)
		return 0
	}
	return d
}
