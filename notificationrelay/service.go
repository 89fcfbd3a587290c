// Package notificationrelay assembles the relay: broker consumer, push dispatcher, record
// store and completion publisher behind a health-checked base server.
package notificationrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"

	"github.com/tinywideclouds/go-notification-relay/internal/completion"
	"github.com/tinywideclouds/go-notification-relay/internal/pipeline"
	"github.com/tinywideclouds/go-notification-relay/notificationrelay/config"
	"github.com/tinywideclouds/go-notification-relay/pkg/relay"
)

type Wrapper struct {
	*microservice.BaseServer
	relay  *pipeline.Relay
	logger *slog.Logger
}

// New assembles the service. The broker supplies both the consumer and the event transport.
func New(
	cfg *config.Config,
	consumer relay.Consumer,
	transport relay.EventTransport,
	dispatcher relay.Dispatcher,
	store relay.RecordStore,
	logger *slog.Logger,
	opts ...pipeline.Option,
) *Wrapper {
	// 1. Base Server (health + readiness)
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Completion Publisher
	publisher := completion.NewPublisher(transport, cfg.Broker.Exchange, logger)

	// 3. Relay Controller
	opts = append([]pipeline.Option{pipeline.WithMessageTimeout(cfg.MessageTimeout)}, opts...)
	relayController := pipeline.NewRelay(consumer, dispatcher, store, publisher, logger, opts...)

	return &Wrapper{
		BaseServer: baseServer,
		relay:      relayController,
		logger:     logger,
	}
}

// Start serves health checks and blocks consuming until ctx is cancelled, the consumer
// fails permanently, or the health server cannot serve.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core relay starting...")
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	relayErr := make(chan error, 1)
	go func() { relayErr <- w.relay.Run(runCtx) }()

	serverErr := make(chan error, 1)
	go func() { serverErr <- w.BaseServer.Start() }()

	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	defer w.SetReady(false)

	for {
		select {
		case err := <-relayErr:
			return err
		case err := <-serverErr:
			if err == nil || errors.Is(err, http.ErrServerClosed) {
				// Shut down deliberately; keep consuming until ctx ends.
				serverErr = nil
				continue
			}
			w.logger.Error("HTTP server stopped with error", "err", err)
			cancel()
			<-relayErr
			return fmt.Errorf("health server failed: %w", err)
		}
	}
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
