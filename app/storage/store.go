package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"nuclight.org/batch-share-bot/app/storage/migrations"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrActiveBatchExists = errors.New("user already has an open batch")
	ErrBatchIDTaken      = errors.New("batch id already taken")
	ErrBatchFull         = errors.New("batch is full")
)

// Store keeps batches, their manifests and file records in a relational
// database. Every statement is written with ? placeholders and rebound for
// the driver in use.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database using driver (sqlite3 or pgx) and applies
// pending migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		return NewSQLite(ctx, dsn)
	case DriverPostgres:
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

func NewSQLite(ctx context.Context, filePath string) (*Store, error) {
	db, err := sqlx.Open(DriverSQLite, sqliteDSN(filePath))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 database: %w", err)
	}

	return newStore(ctx, db, "sqlite3", "sqlite")
}

func NewPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres database: %w", err)
	}

	return newStore(ctx, db, "pgx", "postgres")
}

func newStore(ctx context.Context, db *sqlx.DB, dialect, dir string) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := migrate(ctx, db.DB, dialect, dir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// sqliteDSN enables foreign keys, waits on locked database instead of failing
// and starts write transactions immediately so concurrent appends serialize.
func sqliteDSN(filePath string) string {
	sep := "?"
	if strings.Contains(filePath, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(filePath, "file:") {
		filePath = "file:" + filePath
	}
	return filePath + sep + "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
}

// goose keeps its dialect and base fs in package globals
var migrateMu sync.Mutex

func migrate(ctx context.Context, db *sql.DB, dialect, dir string) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{})

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, dir)
}

type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...any) { panic(fmt.Sprintf(format, v...)) }
func (gooseLogger) Printf(string, ...any)          {}

// withTx runs fn in a transaction, commits on success and rolls back on
// error or panic. Panics are rethrown.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(tx)
}
