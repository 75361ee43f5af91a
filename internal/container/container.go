package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/freekieb7/usermanager/internal/api"
	"github.com/freekieb7/usermanager/internal/cache"
	"github.com/freekieb7/usermanager/internal/config"
	"github.com/freekieb7/usermanager/internal/database"
	apperrors "github.com/freekieb7/usermanager/internal/errors"
	"github.com/freekieb7/usermanager/internal/health"
	"github.com/freekieb7/usermanager/internal/observability"
	"github.com/freekieb7/usermanager/internal/session"
	"github.com/freekieb7/usermanager/internal/web/handler"
	"github.com/freekieb7/usermanager/internal/web/middleware"
)

const (
	slowRequestThreshold = time.Second
	sessionPurgeInterval = 15 * time.Minute
)

// Container holds the process wide values. The API client and the session store
// are built once here and shared by every handler.
type Container struct {
	Config      config.Config
	Version     string
	Logger      *slog.Logger
	Prom        *observability.Prom
	Cache       *cache.Service
	Database    *database.Database
	Sessions    session.Store
	API         *api.Client
	RateLimiter middleware.RateLimiter
	Health      *health.Checker
	HttpServer  *http.Server

	shutdownTracer func(context.Context) error
}

func New(ctx context.Context, cfg config.Config, version string) (*Container, error) {
	logger := observability.NewLogger(cfg.Telemetry, cfg.Server.Environment)

	c := &Container{
		Config:  cfg,
		Version: version,
		Logger:  logger,
		Prom:    observability.NewProm(),
	}

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	c.shutdownTracer = shutdownTracer

	c.Cache, err = cache.NewService(ctx, cache.ConfigFrom(cfg.Cache), logger)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("init cache: %w", err)
	}

	if err := c.initSessions(ctx); err != nil {
		c.Close(ctx)
		return nil, err
	}

	c.API, err = api.New(cfg.API, logger, session.ContextTokens{}, api.WithMetrics(c.Prom))
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("init users backend client: %w", err)
	}

	if c.Cache.Distributed() {
		c.RateLimiter = middleware.NewCacheRateLimiter(c.Cache)
	} else {
		c.RateLimiter = middleware.NewInMemoryRateLimiter()
	}

	c.Health = health.NewChecker(c.Sessions, c.API, logger, version, string(cfg.Server.Environment))

	httpHandler, err := c.routes()
	if err != nil {
		c.Close(ctx)
		return nil, err
	}

	c.HttpServer = &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        httpHandler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	return c, nil
}

func (c *Container) initSessions(ctx context.Context) error {
	cfg := c.Config

	switch cfg.Session.Driver {
	case config.SessionDriverRedis:
		if !c.Cache.Distributed() {
			return apperrors.ConfigError(fmt.Sprintf("session driver %q needs the Redis cache enabled", cfg.Session.Driver), nil)
		}
		c.Sessions = session.NewCacheStore(c.Cache, c.Logger, cfg.Session.TTL)

	case config.SessionDriverPostgres:
		db := database.NewDatabase()
		if err := db.Connect(ctx, cfg.Database); err != nil {
			return fmt.Errorf("connect session database: %w", err)
		}
		c.Database = &db

		if err := db.Migrate(ctx); err != nil {
			return err
		}
		c.Sessions = session.NewPostgresStore(c.Database, cfg.Session.TTL)

	default:
		local := cache.NewLocalService(cfg.Cache.Prefix, c.Logger)
		c.Sessions = session.NewCacheStore(local, c.Logger, cfg.Session.TTL)
	}

	c.Logger.InfoContext(ctx, "Session store ready", "driver", cfg.Session.Driver)
	return nil
}

// routes builds the server handler. The timeout wraps the metrics middleware so the
// mux records the route pattern on the request the metrics middleware observes.
func (c *Container) routes() (http.Handler, error) {
	uiHandler, err := handler.NewUIHandler(&c.Config, c.Logger, c.Sessions, c.API, c.RateLimiter)
	if err != nil {
		return nil, err
	}
	healthHandler := handler.NewHealthHandler(c.Health)

	mux := http.NewServeMux()
	uiHandler.RegisterRoutes(mux)
	healthHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", c.Prom.Handler())

	return middleware.Chain(
		middleware.Recover(c.Logger),
		middleware.RequestID(),
		middleware.RequestLogging(c.Logger, slowRequestThreshold),
		middleware.TimeoutMiddleware(middleware.TimeoutConfig{
			Timeout: c.Config.Server.RequestTimeout,
			Message: "The request took too long. Please try again.",
			Logger:  c.Logger,
		}),
		middleware.MetricsMiddleware(c.Prom),
	)(mux), nil
}

// PurgeExpiredSessions removes expired rows of the postgres session driver until ctx
// is done. The cache drivers expire entries themselves, so it returns at once for them.
func (c *Container) PurgeExpiredSessions(ctx context.Context) {
	if c.Database == nil {
		return
	}

	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Database.PurgeExpiredSessions(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.Logger.ErrorContext(ctx, "Failed to purge expired sessions", "error", err)
				}
				continue
			}
			if n > 0 {
				c.Logger.InfoContext(ctx, "Purged expired sessions", "count", n)
			}
		}
	}
}

// Close releases everything New acquired. It is safe on a partially built container.
func (c *Container) Close(ctx context.Context) error {
	var errs []error

	if closer, ok := c.RateLimiter.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if c.Cache != nil {
		errs = append(errs, c.Cache.Close())
	}
	if c.Database != nil {
		c.Database.Close()
	}
	if c.shutdownTracer != nil {
		errs = append(errs, c.shutdownTracer(ctx))
	}

	return errors.Join(errs...)
}
