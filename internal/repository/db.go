package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/docqueue/internal/common"
)

type Config struct {
	Driver           string // sqlite or postgres
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	BusyTimeout      time.Duration
}

// ConfigFrom adapts the application store config.
func ConfigFrom(c common.StoreConfig) Config {
	return Config{
		Driver:           c.Driver,
		DSN:              c.DSN,
		MaxConns:         c.MaxConns,
		MinConns:         c.MinConns,
		MaxConnLifetime:  c.MaxConnLifetime,
		MaxConnIdleTime:  c.MaxConnIdleTime,
		DialTimeout:      c.DialTimeout,
		StatementTimeout: c.StatementTimeout,
		BusyTimeout:      c.BusyTimeout,
	}
}

// DB bundles the ent SQL driver with the pool that backs it.
type DB struct {
	drv     *entsql.Driver
	pool    *pgxpool.Pool // nil for sqlite
	dialect string
	logger  *slog.Logger
}

// Open connects to the configured SQL engine, wraps it for ent and applies the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		out *DB
		err error
	)
	switch cfg.Driver {
	case common.DriverPostgres:
		out, err = openPostgres(ctx, cfg, logger)
	case common.DriverSQLite, "":
		out, err = openSQLite(cfg, logger)
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("unsupported sql driver %q", cfg.Driver), common.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}

	if err := out.migrate(ctx); err != nil {
		out.Close()
		return nil, err
	}
	logger.Info("successfully connected to job store", "driver", out.dialect)
	return out, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "driver", "postgres")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, common.NewAppError("DB_ERROR", "parse postgres dsn", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "docqueue"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, common.NewAppError("DB_ERROR", "connect postgres", err)
	}

	// Wrap pool as *sql.DB for ent
	db := stdlib.OpenDBFromPool(pool)
	return &DB{
		drv:     entsql.OpenDB(dialect.Postgres, db),
		pool:    pool,
		dialect: dialect.Postgres,
		logger:  logger,
	}, nil
}

func openSQLite(cfg Config, logger *slog.Logger) (*DB, error) {
	dsn := sqliteDSN(cfg.DSN, cfg.BusyTimeout)
	logger.Info("connecting to database", "driver", "sqlite", "dsn", dsn)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, common.NewAppError("DB_ERROR", "open sqlite", err)
	}
	// A single connection serializes writers inside the process; busy_timeout covers other processes.
	db.SetMaxOpenConns(1)
	return &DB{
		drv:     entsql.OpenDB(dialect.SQLite, db),
		dialect: dialect.SQLite,
		logger:  logger,
	}, nil
}

// sqliteDSN turns a bare path into a modernc DSN with WAL and busy_timeout pragmas.
func sqliteDSN(path string, busy time.Duration) string {
	if path == "" {
		path = "./jobs.db"
	}
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path
	}
	if busy <= 0 {
		busy = 5 * time.Second
	}
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", busy.Milliseconds()),
	}
	if path != ":memory:" {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id        TEXT PRIMARY KEY,
		target        TEXT NOT NULL,
		status        TEXT NOT NULL,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		max_retries   INTEGER NOT NULL,
		error_message TEXT,
		result        TEXT,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at)`,
}

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if err := d.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			d.logger.Error("schema migration failed", "error", err)
			return common.NewAppError("DB_ERROR", "apply schema", err)
		}
	}
	return nil
}

// Driver exposes the ent SQL driver.
func (d *DB) Driver() *entsql.Driver { return d.drv }

// Dialect returns the ent dialect name.
func (d *DB) Dialect() string { return d.dialect }

// Close closes the database connections gracefully
func (d *DB) Close() error {
	d.logger.Info("closing database connections")
	var err error
	if d.drv != nil {
		err = d.drv.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
	d.logger.Info("database connections closed")
	return err
}

// HealthCheck pings the database to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	d.logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if d.pool != nil {
		if err := d.pool.Ping(ctx); err != nil {
			return err
		}
	} else if err := d.drv.DB().PingContext(ctx); err != nil {
		return err
	}
	d.logger.Debug("database ping successful")
	return nil
}
