package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hilthontt/courier/internal/application/usecases/conversation"
	"github.com/hilthontt/courier/internal/infrastructure/auth"
	"github.com/hilthontt/courier/internal/infrastructure/configs"
	"github.com/hilthontt/courier/internal/infrastructure/logging"
	"github.com/hilthontt/courier/internal/infrastructure/metrics"
	"github.com/hilthontt/courier/internal/infrastructure/ratelimiter"
	conversationsHandler "github.com/hilthontt/courier/internal/presentation/handler/conversations"
	healthHandler "github.com/hilthontt/courier/internal/presentation/handler/health"
	realtimeHandler "github.com/hilthontt/courier/internal/presentation/handler/realtime"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const shutdownTimeout = 10 * time.Second

type Handlers struct {
	Health        *healthHandler.Handler
	Conversations *conversationsHandler.Handler
	Realtime      *realtimeHandler.Handler
	// Metrics serves /metrics; nil leaves the route out.
	Metrics http.Handler
}

type Application struct {
	config      configs.Config
	handlers    Handlers
	verifier    auth.Verifier
	users       conversation.ConversationUseCase
	ratelimiter ratelimiter.Limiter
	metrics     *metrics.Metrics
	logger      logging.Logger
}

func NewApplication(
	config configs.Config,
	handlers Handlers,
	verifier auth.Verifier,
	users conversation.ConversationUseCase,
	ratelimiter ratelimiter.Limiter,
	m *metrics.Metrics,
	logger logging.Logger,
) *Application {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Application{
		config:      config,
		handlers:    handlers,
		verifier:    verifier,
		users:       users,
		ratelimiter: ratelimiter,
		metrics:     m,
		logger:      logger,
	}
}

func (app *Application) Mount() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.observeMiddleware)
	r.Use(middleware.Recoverer)

	r.Use(app.rateLimiterMiddleware)
	r.Use(app.enableCors)

	// Upgraded connections outlive any request timeout.
	r.Get("/ws", app.handlers.Realtime.ServeWS)

	if app.handlers.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", app.handlers.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", app.handlers.Health.GetHealth)
		r.Get("/healthz", app.handlers.Health.GetHealth)
		r.Get("/ready", app.handlers.Health.GetReady)
		r.Get("/live", app.handlers.Health.GetHealth)

		r.Group(func(r chi.Router) {
			r.Use(app.authMiddleware)

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", app.handlers.Conversations.ListConversationsHandler)
				r.Post("/", app.handlers.Conversations.CreateConversationHandler)
				r.Post("/create", app.handlers.Conversations.CreateConversationHandler)

				r.Get("/{conversationId}/messages", app.handlers.Conversations.GetMessagesHandler)
				r.Post("/{conversationId}/messages/{messageId}/delivered", app.handlers.Conversations.MarkDeliveredHandler)
				r.Post("/{conversationId}/messages/{messageId}/seen", app.handlers.Conversations.MarkSeenHandler)
			})

			r.Route("/groups", func(r chi.Router) {
				r.Post("/", app.handlers.Conversations.CreateGroupHandler)
				r.Post("/create", app.handlers.Conversations.CreateGroupHandler)
			})
		})
	})

	return otelhttp.NewHandler(r, "courier.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (app *Application) Run(ctx context.Context, mux http.Handler) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", app.config.HTTP.Host, app.config.HTTP.Port),
		Handler:      mux,
		WriteTimeout: app.config.HTTP.WriteTimeout,
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error, 1)

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		app.logger.Info(logging.General, logging.Shutdown, "shutting down http server", map[logging.ExtraKey]any{
			"addr": srv.Addr,
		})

		shutdown <- srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(logging.General, logging.Startup, "server has started", map[logging.ExtraKey]any{
		"addr": srv.Addr,
	})

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdown; err != nil {
		return err
	}

	app.logger.Info(logging.General, logging.Shutdown, "server has stopped", map[logging.ExtraKey]any{
		"addr": srv.Addr,
	})
	return nil
}
