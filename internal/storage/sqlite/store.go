// Package sqlite implements the relational store for torrents, media
// records, transcriptions, and playback sessions on an embedded SQLite
// database: WAL journal, serialized writers, schema migration, search, and
// file-level maintenance.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no cgo

	"github.com/vodscribe/corekit/internal/domain"
)

// Typed failures callers can branch on; each wraps into a StorageErrorKind
// via Kind.
var (
	ErrNotFound           = errors.New("storage: data not found")
	ErrAlreadyExists      = errors.New("storage: already exists")
	ErrInvalidInput       = errors.New("storage: invalid input")
	ErrConstraintViolated = errors.New("storage: constraint violation")
)

// Kind maps a storage error onto its enumerated kind.
func Kind(err error) domain.StorageErrorKind {
	switch {
	case err == nil:
		return domain.StorageErrNone
	case errors.Is(err, ErrNotFound):
		return domain.StorageErrDataNotFound
	case errors.Is(err, ErrAlreadyExists):
		return domain.StorageErrAlreadyExists
	case errors.Is(err, ErrInvalidInput):
		return domain.StorageErrInvalidInput
	case errors.Is(err, ErrConstraintViolated):
		return domain.StorageErrConstraintViolation
	default:
		return domain.StorageErrConnectionFailed
	}
}

// Store is the single-writer/many-reader store. All writes serialize on
// writeMu; reads run concurrently under WAL.
type Store struct {
	db      *sql.DB
	path    string
	logger  *slog.Logger
	writeMu sync.Mutex
}

// Open opens (or creates) the database at path, applies the mandatory
// pragmas on every pooled connection, and migrates the schema to the
// current version.
func Open(path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open failed: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping failed: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

type txKey struct{}

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// exec returns the transaction bound to ctx, or the pool for auto-commit
// operations.
func (s *Store) exec(ctx context.Context) executor {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// inTx reports whether ctx already carries a transaction.
func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

// WithTx runs fn inside a single transaction. Every store call made with
// the ctx fn receives joins that transaction; fn returning an error rolls
// everything back. Nested calls reuse the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin failed: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit failed: %w", err)
	}
	return nil
}

// write serializes a single auto-commit write; writes already inside WithTx
// hold writeMu via the transaction path.
func (s *Store) write(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn(ctx)
}

func validateInfoHash(hash string) error {
	if !domain.InfoHashPattern.MatchString(hash) {
		return fmt.Errorf("%w: info hash %q is not 40 hex characters", ErrInvalidInput, hash)
	}
	return nil
}
