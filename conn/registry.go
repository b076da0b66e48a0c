package conn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/altuslabsxyz/txman"
)

// Registry holds the named *sql.DB handles. Handles open lazily on
// first use, are pinged once, and stay open until Close. Registry
// implements txman.Beginner.
type Registry struct {
	mu  sync.Mutex
	cfg *Config
	dbs map[string]*sql.DB
	log txman.Logger
}

// NewRegistry creates a registry over cfg. logger may be nil.
func NewRegistry(cfg *Config, logger txman.Logger) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = txman.NopLogger
	}
	return &Registry{
		cfg: cfg,
		dbs: make(map[string]*sql.DB),
		log: logger,
	}, nil
}

// DB returns the handle for the named connection, opening it on first
// use. An empty name selects the configured default.
func (r *Registry) DB(ctx context.Context, name string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		name = r.cfg.Default
	}
	if db, ok := r.dbs[name]; ok {
		return db, nil
	}

	cc, ok := r.cfg.Connections[name]
	if !ok {
		return nil, fmt.Errorf("connection %q is not configured", name)
	}

	db, err := open(cc)
	if err != nil {
		return nil, fmt.Errorf("opening connection %q: %w", name, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging connection %q: %w", name, err)
	}

	r.dbs[name] = db
	r.log.Info("database connection opened",
		"connection", name,
		"driver", cc.Driver,
	)
	return db, nil
}

// BeginTx implements txman.Beginner.
func (r *Registry) BeginTx(ctx context.Context, connection string, opts *sql.TxOptions) (txman.Tx, error) {
	db, err := r.DB(ctx, connection)
	if err != nil {
		return nil, err
	}
	return db.BeginTx(ctx, opts)
}

// ApplyPoolSettings re-applies the pool settings from cfg to the open
// handles. Used by hot reload; driver and DSN changes are rejected
// before this point.
func (r *Registry) ApplyPoolSettings(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg = cfg
	for name, db := range r.dbs {
		if cc, ok := cfg.Connections[name]; ok {
			applyPool(db, cc)
		}
	}
}

// Close closes every open handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, db := range r.dbs {
		cc := r.cfg.Connections[name]
		if cc.Driver == "sqlite" && cc.DSN != ":memory:" {
			// Checkpoint the WAL before close so the main file is
			// complete on disk.
			_, _ = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing connection %q: %w", name, err)
		}
		delete(r.dbs, name)
	}
	return firstErr
}

func open(cc ConnectionConfig) (*sql.DB, error) {
	dsn := cc.DSN
	if cc.Driver == "sqlite" {
		dsn = sqliteDSN(dsn)
	}
	db, err := sql.Open(cc.Driver, dsn)
	if err != nil {
		return nil, err
	}
	applyPool(db, cc)
	return db, nil
}

func applyPool(db *sql.DB, cc ConnectionConfig) {
	if cc.Driver == "sqlite" {
		// SQLite works best with a single connection for writes.
		db.SetMaxOpenConns(1)
	} else if cc.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cc.MaxOpenConns)
	}
	if cc.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cc.MaxIdleConns)
	}
	if cc.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cc.ConnMaxLifetime)
	}
}

// sqliteDSN builds a file DSN with the pragmas the engine needs.
func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared&_pragma=foreign_keys(ON)"
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)", path)
}
