package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Config struct {
	// URL selects the backend: postgres://… / postgresql://… or sqlite://<path> (sqlite::memory: for tests).
	URL              string
	Schema           string // Postgres schema holding the table; ignored by SQLite
	Table            string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DB is an open document store.
type DB struct {
	SQL     *sql.DB
	pool    *pgxpool.Pool
	dialect dialect
	table   string
	logger  *slog.Logger
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Open connects to the backend named by cfg.URL and creates the table if needed.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Table == "" {
		cfg.Table = "file_details"
	}
	if !identRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}
	if cfg.Schema != "" && !identRe.MatchString(cfg.Schema) {
		return nil, fmt.Errorf("invalid schema name %q", cfg.Schema)
	}

	var (
		db  *DB
		err error
	)
	switch scheme := urlScheme(cfg.URL); scheme {
	case "postgres", "postgresql":
		db, err = openPostgres(ctx, cfg, logger)
	case "sqlite", "file":
		db, err = openSQLite(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported document store scheme %q", scheme)
	}
	if err != nil {
		return nil, err
	}

	if err := db.migrate(ctx, cfg.Schema); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("successfully connected to document store", "backend", db.dialect.name, "table", db.table)
	return db, nil
}

func urlScheme(raw string) string {
	if i := strings.Index(raw, ":"); i > 0 {
		return strings.ToLower(raw[:i])
	}
	return ""
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "dsn", redact(cfg.URL))
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "permit-intake"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	dialCtx, cancel := ctx, context.CancelFunc(func() {})
	if cfg.DialTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
	}
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		logger.Error("failed to ping database", "error", err)
		return nil, err
	}

	table := cfg.Table
	if cfg.Schema != "" {
		table = cfg.Schema + "." + cfg.Table
	}
	return &DB{
		SQL:     stdlib.OpenDBFromPool(pool),
		pool:    pool,
		dialect: postgresDialect,
		table:   table,
		logger:  logger,
	}, nil
}

func openSQLite(cfg Config, logger *slog.Logger) (*DB, error) {
	path := strings.TrimPrefix(strings.TrimPrefix(cfg.URL, "sqlite://"), "sqlite:")
	if path == "" {
		return nil, fmt.Errorf("sqlite url %q has no path", cfg.URL)
	}
	logger.Info("opening sqlite document store", "path", path)
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; an in-memory database also lives only as long as its single connection
	sqldb.SetMaxOpenConns(1)
	return &DB{SQL: sqldb, dialect: sqliteDialect, table: cfg.Table, logger: logger}, nil
}

func (db *DB) migrate(ctx context.Context, schemaName string) error {
	if db.dialect.name == postgresDialect.name && schemaName != "" {
		if _, err := db.SQL.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+schemaName); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	for _, stmt := range db.dialect.ddl(db.table) {
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", db.table, err)
		}
	}
	return nil
}

// Close closes the database connections gracefully
func (db *DB) Close() {
	db.logger.Info("closing database connections")
	if db.SQL != nil {
		if err := db.SQL.Close(); err != nil {
			db.logger.Error("failed to close database", "error", err)
		}
	}
	if db.pool != nil {
		db.pool.Close()
	}
	db.logger.Info("database connections closed")
}

// HealthCheck pings the store.
func (db *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	db.logger.Debug("pinging database")
	return db.SQL.PingContext(ctx)
}

func redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
