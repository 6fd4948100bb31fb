package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/courier/internal/application/usecases/conversation"
	"github.com/hilthontt/courier/internal/application/usecases/message"
	"github.com/hilthontt/courier/internal/infrastructure/auth"
	"github.com/hilthontt/courier/internal/infrastructure/configs"
	"github.com/hilthontt/courier/internal/infrastructure/contracts"
	"github.com/hilthontt/courier/internal/infrastructure/events"
	"github.com/hilthontt/courier/internal/infrastructure/logging"
	"github.com/hilthontt/courier/internal/infrastructure/messaging"
	"github.com/hilthontt/courier/internal/infrastructure/metrics"
	"github.com/hilthontt/courier/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/courier/internal/infrastructure/tracing"
	"github.com/hilthontt/courier/internal/infrastructure/workpool"
	"github.com/hilthontt/courier/internal/infrastructure/ws"
	"github.com/hilthontt/courier/internal/persistence"
	"github.com/hilthontt/courier/internal/persistence/db"
	"github.com/hilthontt/courier/internal/presentation/api"
	"github.com/hilthontt/courier/internal/presentation/handler/conversations"
	"github.com/hilthontt/courier/internal/presentation/handler/health"
	"github.com/hilthontt/courier/internal/presentation/handler/realtime"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	serviceName     = "courier"
	shutdownTimeout = 15 * time.Second
)

func main() {
	_ = godotenv.Load()

	logger, err := logging.NewLogger(logging.NewDefaultConfig())
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal(logging.General, logging.Startup, "courier exited", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}

func run(logger logging.Logger) error {
	cfg, err := configs.Load(configs.DetermineConfigPath())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize the tracer: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	metrics.RegisterRuntime(promRegistry)
	m := metrics.New(promRegistry)

	store, err := persistence.Open(ctx, cfg.Store.Driver, &db.MongoConfig{
		URI:               cfg.Mongo.URI,
		Database:          cfg.Mongo.Database,
		ConnectionTimeout: cfg.Mongo.ConnectionTimeout,
		MaxPoolSize:       cfg.Mongo.MaxPoolSize,
	}, cfg.Store.MessageCapacity, logger)
	if err != nil {
		return err
	}

	broker := messaging.NewConnection(cfg.RabbitMQ.URL,
		messaging.WithReconnectDelay(cfg.RabbitMQ.ReconnectDelay),
		messaging.WithLogger(logger),
	)
	if err := broker.DeclareExchange(ctx, cfg.RabbitMQ.Exchange, contracts.ExchangeKind, true); err != nil {
		_ = broker.Close()
		_ = store.Close(context.Background())
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	registry := ws.NewRegistry(logger, m)
	publisher := events.NewPublisher(broker, cfg.RabbitMQ.Exchange, logger, m)
	bridge := events.NewBridge(store.Participants, registry, workpool.New(cfg.Bridge.Workers), logger, m)
	consumer := events.NewConsumer(broker, events.ConsumerConfig{
		Exchange:    cfg.RabbitMQ.Exchange,
		QueuePrefix: cfg.RabbitMQ.QueuePrefix,
		Prefetch:    cfg.RabbitMQ.Prefetch,
		RetryDelay:  cfg.RabbitMQ.ReconnectDelay,
	}, logger, m)

	verifier := auth.NewJWTVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	conversationUC := conversation.NewConversationUseCase(store.Users, store.Conversations, logger)
	messageUC := message.NewMessageUseCase(store.Participants, store.Messages, publisher, logger)

	requestLimiter := ratelimiter.NewFixedWindowRateLimiter(cfg.RateLimiter.RequestsPerTimeFrame, cfg.RateLimiter.TimeFrame)
	defer requestLimiter.Close()
	frameLimiter := ratelimiter.NewFixedWindowRateLimiter(cfg.RateLimiter.FramesPerTimeFrame, cfg.RateLimiter.TimeFrame)
	defer frameLimiter.Close()

	handlers := api.Handlers{
		Health: health.NewHandler(health.Check{
			Name:  "store",
			Check: store.Ping,
		}, health.Check{
			Name: "rabbitmq",
			Check: func(context.Context) error {
				if state := broker.State(); state != messaging.StateConnected {
					return fmt.Errorf("broker is %s", state)
				}
				return nil
			},
		}),
		Conversations: conversations.NewHandler(conversationUC, messageUC, logger),
		Realtime: realtime.NewHandler(
			verifier, conversationUC, messageUC, registry,
			cfg.HTTP.AllowedOrigins, frameLimiter, cfg.RabbitMQ.PublishTimeout, m, logger,
		),
		Metrics: metrics.Handler(promRegistry),
	}
	app := api.NewApplication(*cfg, handlers, verifier, conversationUC, requestLimiter, m, logger)

	logger.Info(logging.General, logging.Startup, "starting courier", map[logging.ExtraKey]any{
		logging.Queue: consumer.Queue(),
		"store":       cfg.Store.Driver,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Stopped explicitly once HTTP is down, not by the signal.
		return consumer.Start(context.WithoutCancel(gctx), bridge.Handle)
	})
	g.Go(func() error {
		runErr := app.Run(gctx, app.Mount())

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(runErr, consumer.Stop(stopCtx))
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	registry.CloseAll(websocket.CloseGoingAway, "server shutting down")

	err = errors.Join(
		runErr,
		publisher.Close(),
		broker.Close(),
		store.Close(shutdownCtx),
		shutdownTracer(shutdownCtx),
	)

	logger.Info(logging.General, logging.Shutdown, "courier stopped", nil)
	return err
}
