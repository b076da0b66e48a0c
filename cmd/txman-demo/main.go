// Command txman-demo runs a small transactional workload against the
// configured connections and serves the resulting metrics. It is the
// reference wiring for txman: connection registry with hot reload,
// slog logging, and an OpenTelemetry meter exporting to Prometheus.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/altuslabsxyz/txman"
	"github.com/altuslabsxyz/txman/conn"
	"github.com/altuslabsxyz/txman/observability"
	"github.com/altuslabsxyz/txman/orm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("txman-demo: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := createLogger(envOr("LOG_LEVEL", "debug"), envOr("LOG_FORMAT", "text"))
	txLog := txman.NewSlogLogger(logger)

	cfg, watcher, err := loadConnections(txLog)
	if err != nil {
		return err
	}

	redacted, err := cfg.Redacted()
	if err != nil {
		return err
	}
	logger.Info("connections configured", "config", redacted)

	registry, err := conn.NewRegistry(cfg, txLog)
	if err != nil {
		return err
	}
	defer registry.Close()

	if watcher != nil {
		watcher.registry = registry
		watcher.start(cfg, txLog)
	}

	promRegistry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(promRegistry))
	if err != nil {
		return fmt.Errorf("creating prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	defer provider.Shutdown(context.Background())

	metrics, err := observability.NewMetrics(provider.Meter("txman-demo"))
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	manager := txman.NewManager(registry, txLog, metrics)

	if err := prepareSchema(ctx, registry); err != nil {
		return err
	}
	accounts, err := accountRepo(ctx, registry)
	if err != nil {
		return err
	}

	if err := runWorkload(ctx, logger, manager, accounts); err != nil {
		return err
	}

	return serveMetrics(ctx, logger, promRegistry)
}

// pendingWatcher defers watcher start until the registry exists.
type pendingWatcher struct {
	viper      *viper.Viper
	configPath string
	registry   *conn.Registry
}

func (w *pendingWatcher) start(cfg *conn.Config, txLog txman.Logger) {
	cm := conn.NewConfigManager(cfg, w.configPath, w.registry, txLog)
	conn.NewWatcher(w.viper, cm, txLog).Start()
}

func loadConnections(txLog txman.Logger) (*conn.Config, *pendingWatcher, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		return conn.DefaultConfig(), nil, nil
	}

	cfg, err := conn.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading connections config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("initializing viper: %w", err)
	}
	return cfg, &pendingWatcher{viper: v, configPath: configPath}, nil
}

// Account is the demo entity.
type Account struct {
	ID      string
	Owner   string
	Balance int64
}

func prepareSchema(ctx context.Context, registry *conn.Registry) error {
	db, err := registry.DB(ctx, "")
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			balance INTEGER NOT NULL,
			deleted_at TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func accountRepo(ctx context.Context, registry *conn.Registry) (*orm.Repo[Account], error) {
	db, err := registry.DB(ctx, "")
	if err != nil {
		return nil, err
	}
	return orm.NewRepo(db, orm.Mapping[Account]{
		Table:      "accounts",
		PK:         "id",
		Columns:    []string{"id", "owner", "balance"},
		SoftDelete: true,
		Values: func(a Account) []any {
			return []any{a.ID, a.Owner, a.Balance}
		},
		Scan: func(rows *sql.Rows) (Account, error) {
			var a Account
			err := rows.Scan(&a.ID, &a.Owner, &a.Balance)
			return a, err
		},
	}), nil
}

func runWorkload(ctx context.Context, logger *slog.Logger, manager *txman.Manager, accounts *orm.Repo[Account]) error {
	debug := &txman.Options{Debug: true}

	// Seed inside one transaction.
	err := manager.Run(ctx, func(ctx context.Context) error {
		return accounts.CreateMany(ctx, []Account{
			{ID: "acc-1", Owner: "ada", Balance: 100},
			{ID: "acc-2", Owner: "grace", Balance: 50},
		})
	}, debug)
	if err != nil {
		return fmt.Errorf("seeding accounts: %w", err)
	}

	// Transfer with a nested call reusing the outer transaction.
	err = manager.Run(ctx, func(ctx context.Context) error {
		if stats, ok := txman.StatsFromContext(ctx); ok {
			logger.Info("transfer running", "txn_id", stats.ID)
		}
		return manager.Run(ctx, func(ctx context.Context) error {
			return transfer(ctx, accounts, "acc-1", "acc-2", 30)
		}, debug)
	}, debug)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	// A flaky unit of work healed by retry; every attempt opens a fresh
	// transaction.
	failures := 2
	err = manager.Run(ctx, func(ctx context.Context) error {
		if failures > 0 {
			failures--
			return errors.New("simulated transient failure")
		}
		return transfer(ctx, accounts, "acc-2", "acc-1", 10)
	}, &txman.Options{Debug: true, Retry: &txman.Retry{Attempts: 3, Delay: 200 * time.Millisecond}})
	if err != nil {
		return fmt.Errorf("retried transfer: %w", err)
	}

	// Parallel reads sharing one transaction.
	owners, err := txman.Parallel(ctx, manager, []func(context.Context) (string, error){
		func(ctx context.Context) (string, error) {
			a, err := accounts.FindOrFail(ctx, "acc-1")
			return a.Owner, err
		},
		func(ctx context.Context) (string, error) {
			a, err := accounts.FindOrFail(ctx, "acc-2")
			return a.Owner, err
		},
	}, debug)
	if err != nil {
		return fmt.Errorf("parallel reads: %w", err)
	}
	logger.Info("parallel reads done", "owners", owners)

	// Conditional that skips: no transaction is opened.
	_, executed, err := txman.Conditional(ctx, manager,
		func(context.Context) (bool, error) { return false, nil },
		func(ctx context.Context) (int64, error) {
			a, err := accounts.FindOrFail(ctx, "acc-1")
			return a.Balance, err
		}, debug)
	if err != nil {
		return fmt.Errorf("conditional: %w", err)
	}
	logger.Info("conditional done", "executed", executed)

	return nil
}

func transfer(ctx context.Context, accounts *orm.Repo[Account], from, to string, amount int64) error {
	src, err := accounts.FindOrFail(ctx, from)
	if err != nil {
		return err
	}
	dst, err := accounts.FindOrFail(ctx, to)
	if err != nil {
		return err
	}
	if src.Balance < amount {
		return fmt.Errorf("insufficient funds on %s", from)
	}
	src.Balance -= amount
	dst.Balance += amount
	if err := accounts.Save(ctx, src); err != nil {
		return err
	}
	return accounts.Save(ctx, dst)
}

func serveMetrics(ctx context.Context, logger *slog.Logger, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:    envOr("METRICS_ADDR", ":9464"),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("txman-demo stopped")
	return nil
}

func createLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
