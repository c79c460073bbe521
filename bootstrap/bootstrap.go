// Package bootstrap wires all dependencies and starts the gateway.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/credix/creditgate/adapters/clock"
	gatehttp "github.com/credix/creditgate/adapters/http"
	"github.com/credix/creditgate/adapters/idgen"
	"github.com/credix/creditgate/adapters/memory"
	"github.com/credix/creditgate/adapters/metrics"
	"github.com/credix/creditgate/adapters/redis"
	"github.com/credix/creditgate/adapters/sqlite"
	"github.com/credix/creditgate/app"
	"github.com/credix/creditgate/config"
	"github.com/credix/creditgate/ports"
	"github.com/credix/creditgate/web"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	Admission  *app.AdmissionService
	Settlement *app.SettlementService
	Plans      *app.PlanService

	holder   *config.Holder // nil when configured from env only
	sessions ports.SessionStore
	redis    *redis.SessionStore // kept for Close
}

// New creates and initializes the application. When path names an
// existing config file it is watched for hot reload; otherwise the
// CREDITGATE_* environment provides everything and reload is off.
func New(path string) (*App, error) {
	var (
		cfg    *config.Config
		holder *config.Holder
	)

	bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			h, err := config.NewHolder(path, bootLogger)
			if err != nil {
				return nil, err
			}
			holder = h
			cfg = h.Get()
		}
	}
	if cfg == nil {
		c, err := config.LoadWithFallback(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().Msg("initializing creditgate")

	a := &App{
		Logger: logger,
		Config: cfg,
		holder: holder,
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	a.DB = db

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewSessionStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		a.sessions = a.redis
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("recharge sessions from redis")
	} else {
		a.sessions = memory.NewSessionStore()
		logger.Warn().Msg("no redis configured, recharge sessions are in-memory")
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	upstream, err := gatehttp.NewUpstreamClient(gatehttp.UpstreamConfig{
		BaseURL:         cfg.Upstream.URL,
		Timeout:         cfg.Upstream.Timeout,
		MaxIdleConns:    cfg.Upstream.MaxIdleConns,
		IdleConnTimeout: cfg.Upstream.IdleConnTimeout,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("upstream client: %w", err)
	}

	clk := clock.Real{}
	ids := idgen.UUID{}
	planStore := sqlite.NewPlanStore(db)
	journal := sqlite.NewSettlementStore(db)

	a.Admission = app.NewAdmissionService(app.AdmissionDeps{
		Plans:   planStore,
		Clock:   clk,
		Logger:  logger,
		Metrics: a.Metrics,
	}, app.DynamicConfig{
		Table:        cfg.Metering.CostTable(),
		ExemptOrigin: cfg.Metering.ExemptOrigin,
	})

	a.Settlement = app.NewSettlementService(app.SettlementDeps{
		Plans:   planStore,
		Journal: journal,
		Clock:   clk,
		IDGen:   ids,
		Logger:  logger,
		Metrics: a.Metrics,
	}, cfg.Metering.ExemptOrigin)

	a.Plans = app.NewPlanService(app.PlanDeps{
		Plans:    planStore,
		Sessions: a.sessions,
		Journal:  journal,
		Clock:    clk,
		IDGen:    ids,
		Logger:   logger,
		Metrics:  a.Metrics,
	})

	handler := web.NewHandler(web.Deps{
		Admission:  a.Admission,
		Settlement: a.Settlement,
		Plans:      a.Plans,
		Upstream:   upstream,
		Logger:     logger,
		Metrics:    a.Metrics,

		JWTSecret:     cfg.Auth.JWTSecret,
		AdminKeyHash:  cfg.Auth.AdminKeyHash,
		ServiceHeader: cfg.Auth.ServiceHeader,

		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = handler.Server(addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

	if holder != nil {
		holder.OnChange(a.applyConfig)
	}

	return a, nil
}

// applyConfig pushes reloadable settings into the running services.
func (a *App) applyConfig(cfg *config.Config) {
	a.Admission.UpdateConfig(app.DynamicConfig{
		Table:        cfg.Metering.CostTable(),
		ExemptOrigin: cfg.Metering.ExemptOrigin,
	})
	a.Settlement.SetExemptOrigin(cfg.Metering.ExemptOrigin)

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	a.Logger.Info().Msg("runtime configuration applied")
}

// Run starts the HTTP server and blocks until interrupted.
func (a *App) Run() error {
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Str("upstream", a.Config.Upstream.URL).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
