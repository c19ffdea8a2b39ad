package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/feedmodel/internal/api/http"
	"github.com/GriffinCanCode/feedmodel/internal/api/middleware"
	"github.com/GriffinCanCode/feedmodel/internal/api/ws"
	"github.com/GriffinCanCode/feedmodel/internal/concurrent"
	"github.com/GriffinCanCode/feedmodel/internal/domain/session"
	"github.com/GriffinCanCode/feedmodel/internal/fixture"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/config"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/feedmodel/internal/store"
	"github.com/GriffinCanCode/feedmodel/internal/store/redis"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	http       *http.Server
	sessions   *session.Manager
	store      store.ContentStore
	tracer     *tracing.Tracer
	mainThread *concurrent.Serial
	taskQueue  *concurrent.Serial
	limiter    *middleware.RateLimiter
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
	stop       chan struct{}
}

// New creates a new server instance
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	logger.Info("initializing feed server",
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.Int64("initial_page_size", cfg.Feed.InitialPageSize),
		zap.Int64("page_size", cfg.Feed.PageSize),
	)

	contentStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Fixtures != "" {
		fixtures, err := fixture.Load(cfg.Store.Fixtures)
		if err != nil {
			closeStore(contentStore)
			return nil, fmt.Errorf("load fixtures: %w", err)
		}
		if err := fixture.Apply(ctx, contentStore, fixtures...); err != nil {
			closeStore(contentStore)
			return nil, fmt.Errorf("apply fixtures: %w", err)
		}
		logger.Info("fixtures loaded", zap.Int("files", len(fixtures)))
	}

	metrics := monitoring.NewMetrics()
	tracer := tracing.New(logger.Component("tracing"))
	mainThread := concurrent.NewSerial("main", 0, logger.Component("main"))
	taskQueue := concurrent.NewSerial("tasks", 0, logger.Component("tasks"))

	sessions := session.NewManager(session.Options{
		Store:      contentStore,
		Config:     cfg.Feed,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
		TaskQueue:  concurrent.TaskQueueFunc(taskQueue.ExecuteTask),
		MainThread: mainThread,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		})
		router.Use(limiter.Middleware())
	}

	apihttp.NewHandlers(sessions, metrics).Register(router)
	ws.NewHandler(sessions, metrics, logger.Component("ws")).Register(router)

	s := &Server{
		router:     router,
		sessions:   sessions,
		store:      contentStore,
		tracer:     tracer,
		mainThread: mainThread,
		taskQueue:  taskQueue,
		limiter:    limiter,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
		stop:       make(chan struct{}),
	}
	s.http = &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if limiter != nil {
		go s.evictIdleClients(time.Minute)
	}

	logger.Info("server initialized")
	return s, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.ContentStore, error) {
	switch cfg.Backend {
	case "redis":
		s, err := redis.New(ctx, cfg.RedisURL, cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	default:
		return store.NewMemory(), nil
	}
}

func closeStore(s store.ContentStore) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Server) evictIdleClients(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.limiter.Evict(); n > 0 {
				s.logger.Debug("evicted idle rate limit clients", zap.Int("count", n))
			}
		case <-s.stop:
			return
		}
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("shutting down server")
	close(s.stop)

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	s.sessions.Shutdown(ctx)
	s.taskQueue.Close()
	s.mainThread.Close()
	s.tracer.Close()
	if err := closeStore(s.store); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	_ = s.logger.Sync()
	return errors.Join(errs...)
}
