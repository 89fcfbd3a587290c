package main

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-notification-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-notification-relay/internal/platform/gcppubsub"
	"github.com/tinywideclouds/go-notification-relay/internal/platform/rabbitmq"
	fsStore "github.com/tinywideclouds/go-notification-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-notification-relay/internal/storage/redisstream"
	"github.com/tinywideclouds/go-notification-relay/internal/storage/sqlite"
	"github.com/tinywideclouds/go-notification-relay/notificationrelay"
	"github.com/tinywideclouds/go-notification-relay/notificationrelay/config"
	"github.com/tinywideclouds/go-notification-relay/pkg/relay"
)

//go:embed local.yaml
var configFile []byte

// broker is what both transports offer the relay.
type broker interface {
	relay.Consumer
	relay.EventTransport
	io.Closer
}

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-notification-relay")
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		return fmt.Errorf("failed to unmarshal embedded yaml config: %w", err)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		return fmt.Errorf("yaml config: %w", err)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		return fmt.Errorf("config failed: %w", err)
	}

	// --- Broker ---
	b, err := newBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	// --- Record Store ---
	store, closeStore, err := newRecordStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Dispatcher ---
	dispatcher, err := newDispatcher(ctx, cfg, logger)
	if err != nil {
		return err
	}

	service := notificationrelay.New(cfg, b, b, dispatcher, store, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.MessageTimeout+5*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...", "broker", cfg.Broker.Kind, "store", cfg.Store.Kind)
	return service.Start(ctx)
}

func newBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (broker, error) {
	switch cfg.Broker.Kind {
	case config.BrokerPubsub:
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client failed: %w", err)
		}
		err = gcppubsub.EnsureResources(ctx, psClient, gcppubsub.Resources{
			ProjectID:      cfg.ProjectID,
			RequestTopicID: cfg.Pubsub.RequestTopicID,
			SubscriptionID: cfg.Pubsub.SubscriptionID,
			CompletionID:   cfg.Broker.Exchange,
		}, logger)
		if err != nil {
			_ = psClient.Close()
			return nil, err
		}
		return &pubsubBroker{Broker: gcppubsub.NewBroker(psClient, cfg.Pubsub.SubscriptionID, logger), client: psClient}, nil

	default:
		rb := rabbitmq.NewBroker(rabbitmq.Config{
			URL:            cfg.Broker.URL,
			Queue:          cfg.Broker.Queue,
			Exchange:       cfg.Broker.Exchange,
			Prefetch:       cfg.Broker.Prefetch,
			ReconnectDelay: cfg.Broker.ReconnectDelay,
		}, rabbitmq.Dial, logger)
		if err := rb.Connect(ctx); err != nil {
			return nil, fmt.Errorf("rabbitmq connect failed: %w", err)
		}
		return rb, nil
	}
}

// pubsubBroker closes the client it was built on.
type pubsubBroker struct {
	*gcppubsub.Broker
	client *pubsub.Client
}

func (p *pubsubBroker) Close() error {
	_ = p.Broker.Close()
	return p.client.Close()
}

func newRecordStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (relay.RecordStore, func(), error) {
	switch cfg.Store.Kind {
	case config.StoreFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client failed: %w", err)
		}
		logger.Info("RecordStore initialized", "type", "firestore", "collection", cfg.Store.Collection)
		return fsStore.NewRecordStore(fsClient, cfg.Store.Collection), func() { _ = fsClient.Close() }, nil

	case config.StoreRedis:
		redisClient, err := redisstream.NewRedisClient(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("RecordStore initialized", "type", "redis", "stream", cfg.Store.Redis.Stream)
		return redisstream.NewRecordStore(redisClient, cfg.Store.Redis.Stream), func() { _ = redisClient.Close() }, nil

	default:
		store, err := sqlite.Open(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		logger.Info("RecordStore initialized", "type", "sqlite", "path", cfg.Store.SQLitePath)
		return store, func() { _ = store.Close() }, nil
	}
}

func newDispatcher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*fcm.Dispatcher, error) {
	if fcm.IsMockProject(cfg.FCM.ProjectID) {
		logger.Warn("FCM running in mock mode, pushes are logged only", "fcm_project_id", cfg.FCM.ProjectID)
		return fcm.NewDispatcher(nil, cfg.FCM.Title, logger), nil
	}

	var opts []option.ClientOption
	if cfg.FCM.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FCM.CredentialsFile))
	}
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.FCM.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create fcm messaging client: %w", err)
	}
	return fcm.NewDispatcher(fcmMessaging, cfg.FCM.Title, logger), nil
}
