package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stablefactory/native/factory"
	"stablefactory/observability"
	"stablefactory/services/factoryd/audit"
)

// AuditLog serves persisted events.
type AuditLog interface {
	Recent(ctx context.Context, q audit.Query) ([]audit.Record, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	ListenAddress   string
	Auth            AuthConfig
	RateLimit       RateLimit
	Audit           AuditLog
	Idempotency     ResponseCache
	Hub             *Hub
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

// Server exposes the conversion engine over HTTP.
type Server struct {
	engine  *factory.Engine
	cfg     Config
	auth    *Authenticator
	limiter *RateLimiter
	hub     *Hub
	audit   AuditLog
	idem    ResponseCache
	idemMu  sync.Mutex
	logger  *slog.Logger
	router  http.Handler
}

// New constructs a configured HTTP router.
func New(engine *factory.Engine, cfg Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("server: engine required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	logger := cfg.Logger.With("component", "server")
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(0, logger)
	}
	srv := &Server{
		engine:  engine,
		cfg:     cfg,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		hub:     hub,
		audit:   cfg.Audit,
		idem:    cfg.Idempotency,
		logger:  logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(observeRoutes)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(s.auth.Middleware)
		api.Use(s.limiter.Middleware("v1"))

		api.Get("/app-config", s.handleGetAppConfig)
		api.Post("/app-config", s.handleCreateAppConfig)
		api.Put("/app-config", s.handleSetAppConfig)

		api.Route("/mint-channels", func(mc chi.Router) {
			mc.Get("/", s.handleListMintChannels)
			mc.Post("/", s.handleCreateMintChannel)
			mc.Get("/{id}", s.handleGetMintChannel)
			mc.Put("/{id}", s.handleSetMintChannel)
			mc.Post("/{id}/quote", s.handleQuoteMint)
			mc.With(s.idempotent).Post("/{id}/mint", s.handleMint)
		})
		api.Route("/burn-channels", func(bc chi.Router) {
			bc.Get("/", s.handleListBurnChannels)
			bc.Post("/", s.handleCreateBurnChannel)
			bc.Get("/{id}", s.handleGetBurnChannel)
			bc.Put("/{id}", s.handleSetBurnChannel)
			bc.Post("/{id}/quote", s.handleQuoteBurn)
			bc.With(s.idempotent).Post("/{id}/burn", s.handleBurn)
		})

		api.With(s.idempotent).Post("/fees/withdraw", s.handleWithdrawFee)
		api.Post("/assets", s.handleCreateAsset)
		api.Post("/assets/{id}/release", s.handleReleaseCustody)
		api.Get("/feeds", s.handleListFeeds)
		api.Post("/feeds", s.handleCreateFeed)
		api.Post("/feeds/{id}/rounds", s.handleSubmitRound)
		api.Get("/accounts", s.handleListAccounts)
		api.Post("/accounts", s.handleOpenAccount)
		api.Get("/accounts/{id}", s.handleGetAccount)
		api.Get("/audit", s.handleAudit)
		api.Get("/events/stream", s.handleStream)
	})

	return otelhttp.NewHandler(r, "factoryd")
}

// observeRoutes records request outcomes against the matched route pattern.
func observeRoutes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		observability.ModuleMetrics().Observe(route, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack passes the websocket upgrade through to the underlying writer.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return hj.Hijack()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"subscribers": s.hub.Subscribers(),
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		s.hub.Close()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}
