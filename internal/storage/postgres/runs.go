// Package postgres stores the run history in a PostgreSQL database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ubuntu/decorate"

	"github.com/yegors/aemet-connector/internal/storage"
	"github.com/yegors/aemet-connector/pkg/logger"
)

const (
	connectTimeout = 10 * time.Second
	queryTimeout   = 10 * time.Second
	closeTimeout   = 10 * time.Second
)

// DBPool is the subset of pgxpool.Pool used by RunStorage.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

type options struct {
	newPool func(ctx context.Context, dsn string) (DBPool, error)
}

// Option overrides RunStorage defaults.
type Option func(*options)

// WithNewPool replaces the pgxpool constructor.
func WithNewPool(f func(ctx context.Context, dsn string) (DBPool, error)) Option {
	return func(o *options) {
		o.newPool = f
	}
}

// RunStorage is a PostgreSQL-based run history
type RunStorage struct {
	pool   DBPool
	logger *logger.Logger
}

// NewRunStorage connects to dsn, pings the server and creates the runs table if needed
func NewRunStorage(ctx context.Context, dsn string, log *logger.Logger, args ...Option) (s *RunStorage, err error) {
	defer decorate.OnError(&err, "failed to open postgres run storage")

	opts := options{
		newPool: func(ctx context.Context, dsn string) (DBPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}
	for _, opt := range args {
		opt(&opts)
	}

	if log == nil {
		log = logger.NewNop()
	}
	storageLogger := log.Named("postgres")
	storageLogger.Info("Initializing PostgreSQL storage")

	pool, err := opts.newPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s = &RunStorage{pool: pool, logger: storageLogger}
	if err := s.initDB(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *RunStorage) initDB(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			dataset TEXT NOT NULL,
			municipality TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			error_class TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			row_count INTEGER NOT NULL DEFAULT 0,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}
	return nil
}

// RecordRun stores a run and returns it with its id and timestamp filled in
func (s *RunStorage) RecordRun(ctx context.Context, record storage.RunRecord) (_ storage.RunRecord, err error) {
	defer decorate.OnError(&err, "failed to record run")

	if s.pool == nil {
		return record, errors.New("database not initialized")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs
		(id, dataset, municipality, source, status, error_class, error_message, row_count, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.ID,           // id
		record.Dataset,      // dataset
		record.Municipality, // municipality
		record.Source,       // source
		record.Status,       // status
		record.ErrorClass,   // error_class
		record.ErrorMessage, // error_message
		record.RowCount,     // row_count
		record.DurationMs,   // duration_ms
		record.CreatedAt,    // created_at
	)
	if err != nil {
		return record, err
	}

	s.logger.Debug("Run recorded",
		logger.String("id", record.ID),
		logger.String("dataset", record.Dataset),
		logger.String("status", record.Status))

	return record, nil
}

// RecentRuns returns the latest runs, newest first
func (s *RunStorage) RecentRuns(ctx context.Context, limit int) (records []storage.RunRecord, err error) {
	defer decorate.OnError(&err, "failed to list runs")

	if s.pool == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = storage.DefaultRecentLimit
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx,
		`SELECT id, dataset, municipality, source, status, error_class, error_message, row_count, duration_ms, created_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records = []storage.RunRecord{}
	for rows.Next() {
		var r storage.RunRecord
		if err := rows.Scan(&r.ID, &r.Dataset, &r.Municipality, &r.Source, &r.Status, &r.ErrorClass, &r.ErrorMessage, &r.RowCount, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Close closes the connection pool.
// It returns an error if the pool does not close within 10 seconds.
func (s *RunStorage) Close() error {
	if s.pool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.pool.Close()
	}()

	select {
	case <-done:
		s.pool = nil
		return nil
	case <-time.After(closeTimeout):
		return errors.New("timeout while closing database, connection may still be open")
	}
}

var _ storage.RunStore = (*RunStorage)(nil)
