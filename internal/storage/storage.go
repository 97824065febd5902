// Package storage holds the run history types shared by the SQLite and
// PostgreSQL backends.
package storage

import (
	"context"
	"time"
)

// Run status values
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// DefaultRecentLimit is used by RecentRuns when no positive limit is given
const DefaultRecentLimit = 50

// RunRecord represents one pipeline run in the history
type RunRecord struct {
	ID           string    `json:"id"`
	Dataset      string    `json:"dataset"`
	Municipality string    `json:"municipality,omitempty"`
	Source       string    `json:"source"` // "api", "refresh" or "cli"
	Status       string    `json:"status"`
	ErrorClass   string    `json:"error_class,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RowCount     int       `json:"row_count"`
	DurationMs   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// RunStore is implemented by every run history backend
type RunStore interface {
	RecordRun(ctx context.Context, record RunRecord) (RunRecord, error)
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}
