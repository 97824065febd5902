package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/yegors/aemet-connector/internal/storage"
	"github.com/yegors/aemet-connector/pkg/logger"
)

// timeLayout sorts lexically in chronological order
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// RunStorage is a SQLite-based run history
type RunStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewRunStorage opens (or creates) the database at dbPath
func NewRunStorage(dbPath string, log *logger.Logger) (*RunStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &RunStorage{db: db, logger: storageLogger}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *RunStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initDB initializes the database tables
func (s *RunStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			dataset TEXT NOT NULL,
			municipality TEXT,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			error_class TEXT,
			error_message TEXT,
			row_count INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	return nil
}

// RecordRun stores a run and returns it with its id and timestamp filled in
func (s *RunStorage) RecordRun(ctx context.Context, record storage.RunRecord) (storage.RunRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs
		(id, dataset, municipality, source, status, error_class, error_message, row_count, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Dataset,
		record.Municipality,
		record.Source,
		record.Status,
		record.ErrorClass,
		record.ErrorMessage,
		record.RowCount,
		record.DurationMs,
		record.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return record, fmt.Errorf("failed to insert run: %w", err)
	}

	s.logger.Debug("Run recorded",
		logger.String("id", record.ID),
		logger.String("dataset", record.Dataset),
		logger.String("status", record.Status))

	return record, nil
}

// RecentRuns returns the latest runs, newest first
func (s *RunStorage) RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if limit <= 0 {
		limit = storage.DefaultRecentLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dataset, municipality, source, status, error_class, error_message, row_count, duration_ms, created_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	records := []storage.RunRecord{}
	for rows.Next() {
		var (
			r            storage.RunRecord
			municipality sql.NullString
			errorClass   sql.NullString
			errorMessage sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&r.ID, &r.Dataset, &municipality, &r.Source, &r.Status, &errorClass, &errorMessage, &r.RowCount, &r.DurationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Municipality = municipality.String
		r.ErrorClass = errorClass.String
		r.ErrorMessage = errorMessage.String

		r.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse run timestamp: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return records, nil
}

var _ storage.RunStore = (*RunStorage)(nil)
