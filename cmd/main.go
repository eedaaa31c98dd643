package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/ascend/internal/adapters/http/api"
	"github.com/okian/ascend/internal/adapters/http/swagger"
	"github.com/okian/ascend/internal/adapters/repository"
	app "github.com/okian/ascend/internal/app"
	"github.com/okian/ascend/internal/config"
	"github.com/okian/ascend/pkg/logger"
	"github.com/okian/ascend/pkg/metrics"
)

// HTTP server timeout constants.
const (
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// logger isn't configured yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitWithOptions(logger.WithFormat(cfg.LogFormat), logger.WithLevel(cfg.LogLevel)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "ascend exited with error", logger.Error(err))
		os.Exit(1)
	}
}

// run serves the API until ctx is canceled.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	svc, store, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	// runs after svc.Stop has drained the workers
	defer func() {
		if err := store.Close(); err != nil {
			log.Error(ctx, "error closing store", logger.Error(err))
		}
	}()
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(cfg, svc),
		ReadTimeout:       config.Duration(cfg.ReadTimeoutMS),
		WriteTimeout:      config.Duration(cfg.WriteTimeoutMS),
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), config.Duration(cfg.ShutdownTimeoutMS))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// newService builds the service over the configured store. The caller
// owns the returned store and closes it once the service has stopped.
func newService(ctx context.Context, cfg *config.Config) (*app.Service, repository.Store, error) {
	rules, err := cfg.Rules()
	if err != nil {
		return nil, nil, fmt.Errorf("build rules: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	svc := app.New(
		app.WithLogger(logger.Get().Named("service")),
		app.WithStore(store),
		app.WithRules(rules),
		app.WithRewardRates(cfg.XPMultiplier, cfg.CoinRate),
		app.WithMaxAttempts(cfg.MaxAttempts),
		app.WithRetryBackoff(config.Duration(cfg.RetryInitialMS), config.Duration(cfg.RetryMaxMS)),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithWindowSize(cfg.WindowSize),
		app.WithWorkerTimeout(config.Duration(cfg.WorkerTimeoutMS)),
	)
	return svc, store, nil
}

// openStore connects the backend named by cfg.Store.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pc := repository.DefaultPostgresConfig(cfg.PostgresDSN)
		if cfg.PostgresMaxConns > 0 {
			pc.MaxConns = int32(cfg.PostgresMaxConns) //nolint:gosec // bounded by config validation
		}
		pc.Migrate = cfg.PostgresMigrate
		store, err := repository.NewPostgresStore(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.StoreRedis:
		rc := repository.DefaultRedisConfig(cfg.RedisAddr)
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		rc.WindowSize = cfg.WindowSize
		if cfg.RedisKeyPrefix != "" {
			rc.KeyPrefix = cfg.RedisKeyPrefix
		}
		store, err := repository.NewRedisStore(ctx, rc)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return store, nil
	default:
		return repository.NewMemoryStore(context.WithoutCancel(ctx),
			repository.WithShardCount(cfg.ShardCount),
			repository.WithWindowSize(cfg.WindowSize),
		), nil
	}
}

// newMux registers the API and docs routes.
func newMux(cfg *config.Config, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(mux)
	api.NewServer(svc, svc, api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)).Register(mux)
	return mux
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// GetStats publishes queue, worker and progression gauges
			_ = svc.GetStats()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
