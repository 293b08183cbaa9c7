package application

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/psds-microservice/contact-service/internal/cache"
	"github.com/psds-microservice/contact-service/internal/clock"
	"github.com/psds-microservice/contact-service/internal/config"
	"github.com/psds-microservice/contact-service/internal/database"
	"github.com/psds-microservice/contact-service/internal/handler"
	"github.com/psds-microservice/contact-service/internal/kafka"
	"github.com/psds-microservice/contact-service/internal/lifecycle"
	"github.com/psds-microservice/contact-service/internal/router"
	"github.com/psds-microservice/contact-service/internal/searchindex"
	"github.com/psds-microservice/contact-service/internal/service"
)

const ServiceName = "contact-service"

// Services is the wired dependency graph shared by the API and the CLI
// commands.
type Services struct {
	Config   *config.Config
	Log      *zap.Logger
	DB       *gorm.DB
	Contacts *service.ContactService
	Search   *searchindex.Client
	Events   *kafka.Producer

	closers []func() error
}

// Bootstrap opens the database and the optional side channels. On Postgres
// pending migrations are applied first.
func Bootstrap(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Services, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.IsPostgres() {
		if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	clk := clock.Real()
	db, err := database.Open(cfg, clk, log)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	s := &Services{Config: cfg, Log: log, DB: db}
	if sqlDB, err := db.DB(); err == nil {
		s.closers = append(s.closers, sqlDB.Close)
	}

	s.Events = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopicContact, log)
	s.closers = append(s.closers, s.Events.Close)
	s.Search = searchindex.NewClient(cfg.SearchServiceURL, log)

	s.Contacts = service.NewContactService(service.Deps{
		DB:        db,
		Lifecycle: lifecycle.New(clk),
		Clock:     clk,
		Cache:     cache.NewVersioned(s.statsStore(ctx, clk), "contacts", cfg.StatsCacheTTL),
		Events:    s.Events,
		Log:       log,
	})
	return s, nil
}

// statsStore prefers Redis when configured and reachable.
func (s *Services) statsStore(ctx context.Context, clk clock.Clock) cache.Store {
	if s.Config.Redis.Addr == "" {
		return cache.NewMemory(clk)
	}
	rdb := cache.NewRedis(cache.NewRedisClient(s.Config.Redis.Addr, s.Config.Redis.Password, s.Config.Redis.DB))
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx); err != nil {
		s.Log.Warn("redis unreachable, stats cache falls back to memory", zap.String("addr", s.Config.Redis.Addr), zap.Error(err))
		_ = rdb.Close()
		return cache.NewMemory(clk)
	}
	s.closers = append(s.closers, rdb.Close)
	return rdb
}

func (s *Services) Close() {
	if s.Contacts != nil {
		s.Contacts.Drain()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Log.Warn("close", zap.Error(err))
		}
	}
}

// API is the HTTP server (api mode).
type API struct {
	services *Services
	httpSrv  *http.Server
}

func NewAPI(ctx context.Context, cfg *config.Config, log *zap.Logger) (*API, error) {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s, err := Bootstrap(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	contactHandler := handler.NewContactHandler(s.Contacts, s.Search, log)
	healthHandler := handler.NewHealthHandler(func(ctx context.Context) error {
		return database.Ping(ctx, s.DB)
	}, log)

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.New(contactHandler, healthHandler, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &API{services: s, httpSrv: httpSrv}, nil
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (a *API) Run(ctx context.Context) error {
	log := a.services.Log
	cfg := a.services.Config
	defer a.services.Close()

	host := cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + cfg.HTTPPort
	log.Info("HTTP server listening",
		zap.String("addr", a.httpSrv.Addr),
		zap.String("swagger", base+"/swagger"),
		zap.String("health", base+"/health"),
		zap.String("metrics", base+"/metrics"),
		zap.String("api", base+"/api/v1/"),
		zap.String("db_driver", cfg.DB.Driver),
		zap.Bool("kafka", a.services.Events.Enabled()),
		zap.Bool("search_index", a.services.Search.Enabled()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
