package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"courtbook/internal/api"
	"courtbook/internal/clock"
	"courtbook/internal/config"
	"courtbook/internal/db"
	"courtbook/internal/events"
	"courtbook/internal/metrics"
	"courtbook/internal/notify"
	"courtbook/internal/propagation"
	"courtbook/internal/ratelimit"
	"courtbook/internal/report"
	"courtbook/internal/scheduler"
	"courtbook/internal/service"
	"courtbook/internal/store"
)

// storage is what both the engine and the export read from.
type storage interface {
	service.Store
	report.Source
}

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("COURTBOOK_CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
		boot.Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg.Logging)
	loc := clock.Zone(cfg.Business.UTCOffsetHours)
	clk := clock.NewSystem(loc)

	var (
		st       storage
		database *db.DB
	)
	switch cfg.Database.Driver {
	case "memory":
		st = store.NewMemory()
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
	default:
		database, err = db.NewDB(cfg.Database.Path, loc, &logger)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("open db error")
		}
		defer database.Close()
		st = database
	}

	var (
		rdb     *redis.Client
		limiter ratelimit.Limiter
	)
	if cfg.RateLimit.Enabled {
		local := ratelimit.NewLocalLimiter(cfg.RateLimit.Requests, cfg.RateLimitWindow())
		limiter = local
		if cfg.Redis.Address != "" {
			rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer rdb.Close()
			primary := ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimitWindow())
			limiter = ratelimit.NewFailoverLimiter(primary, local, &logger)
		}
	}

	bus := events.NewEventBus(&logger)
	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.ChatIDs) > 0 {
		botAPI, err := notify.NewBotAPI(cfg.Telegram.BotToken, cfg.Telegram.Debug)
		if err != nil {
			logger.Error().Err(err).Msg("telegram notifications disabled")
		} else {
			notify.New(botAPI, cfg.Telegram.ChatIDs, notify.DefaultRetryConfig(), &logger).Subscribe(bus)
		}
	}

	svc := service.New(st, clk, service.OptionsFromConfig(cfg), bus, &logger)

	keys := api.NewKeyValidator(cfg.Admin.APIKeys)
	server := api.NewHTTPServer(cfg.Server, svc, report.NewExporter(st), keys, limiter, &logger)

	var backup scheduler.Backuper
	if database != nil && cfg.Backup.Enabled {
		backup = db.NewBackupService(database, cfg.Backup, &logger)
	}
	sched, err := scheduler.New(scheduler.Config{
		Propagation: cfg.Schedule.Propagation,
		Sweep:       cfg.Schedule.Sweep,
		Backup:      cfg.Backup.Schedule,
	}, loc, svc, backup, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler setup error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Fill the window once at boot so reads right after a restart see it.
	res, err := svc.RunPropagation(ctx, propagation.Options{Trigger: "startup"})
	if err != nil {
		logger.Error().Err(err).Msg("startup propagation failed")
	} else {
		logger.Info().Int("created", res.BookingsCreated).Int("errors", len(res.Errors)).Msg("startup propagation done")
	}

	if err := config.Watch(ctx, configPath, 30*time.Second, func(next *config.Config) {
		keys.SetKeys(next.Admin.APIKeys)
		logger.Info().Msg("config reloaded")
	}, func(err error) {
		logger.Error().Err(err).Msg("config reload failed")
	}); err != nil {
		logger.Warn().Err(err).Msg("config watch disabled")
	}

	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, svc, rdb, &logger)
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	sched.Start()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logger.Info().
		Int("courts", cfg.Business.Courts).
		Int("horizon_days", cfg.Business.HorizonDays).
		Str("driver", cfg.Database.Driver).
		Msg("courtbook started")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
	sched.Stop(shutdownCtx)
	logger.Info().Msg("courtbook stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func startHealthServer(ctx context.Context, port int, svc *service.Service, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := svc.Ping(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}, "metrics", logger)
}

func serve(ctx context.Context, srv *http.Server, name string, logger *zerolog.Logger) {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}
