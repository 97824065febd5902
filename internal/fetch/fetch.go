// Package fetch runs pipeline requests through the result cache and records
// every run in the history.
package fetch

import (
	"context"
	"time"

	"github.com/yegors/aemet-connector/internal/aemet"
	"github.com/yegors/aemet-connector/internal/cache"
	"github.com/yegors/aemet-connector/internal/storage"
	"github.com/yegors/aemet-connector/pkg/logger"
)

// Run sources
const (
	SourceAPI     = "api"
	SourceRefresh = "refresh"
	SourceCLI     = "cli"
)

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, req aemet.DatasetRequest) (*aemet.Result, error)
}

// RunRecorder persists run outcomes
type RunRecorder interface {
	RecordRun(ctx context.Context, record storage.RunRecord) (storage.RunRecord, error)
}

// Observer receives run and cache events
type Observer interface {
	ObserveRun(dataset, status, errorClass string, elapsed time.Duration, rows int)
	ObserveCacheHit(dataset string)
}

// Outcome is the result of Fetch
type Outcome struct {
	Result *aemet.Result
	Cached bool
	RunID  string
}

// Service fronts the pipeline with the cache and run history
type Service struct {
	runner   Runner
	cache    *cache.Cache
	runs     RunRecorder
	observer Observer
	logger   *logger.Logger
}

// NewService creates a new fetch service. cache and runs may be nil.
func NewService(runner Runner, c *cache.Cache, runs RunRecorder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		runner: runner,
		cache:  c,
		runs:   runs,
		logger: log.Named("fetch"),
	}
}

// SetObserver sets the receiver of run and cache events
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// Fetch serves req from the cache when fresh, otherwise runs the pipeline
func (s *Service) Fetch(ctx context.Context, req aemet.DatasetRequest, source string) (Outcome, error) {
	if s.cache != nil {
		if res, ok := s.cache.Get(req); ok {
			s.logger.Debug("Serving cached result",
				logger.String("dataset", string(req.Kind)),
				logger.String("source", source))
			if s.observer != nil {
				s.observer.ObserveCacheHit(string(req.Kind))
			}
			return Outcome{Result: res, Cached: true}, nil
		}
	}
	return s.Refresh(ctx, req, source)
}

// Refresh always runs the pipeline, caching and recording the outcome
func (s *Service) Refresh(ctx context.Context, req aemet.DatasetRequest, source string) (Outcome, error) {
	start := time.Now()
	res, err := s.runner.Run(ctx, req)
	elapsed := time.Since(start)

	runID := s.record(ctx, req, source, res, err, elapsed)
	s.observe(req, res, err, elapsed)
	if err != nil {
		s.logger.Warn("Pipeline run failed",
			logger.String("dataset", string(req.Kind)),
			logger.String("source", source),
			logger.String("error_class", aemet.ErrorClass(err)),
			logger.Error(err))
		return Outcome{RunID: runID}, err
	}

	if s.cache != nil {
		s.cache.Set(res)
	}
	return Outcome{Result: res, RunID: runID}, nil
}

// CacheStats returns the cache statistics, or nil without a cache
func (s *Service) CacheStats() *cache.Stats {
	if s.cache == nil {
		return nil
	}
	stats := s.cache.Stats()
	return &stats
}

func (s *Service) observe(req aemet.DatasetRequest, res *aemet.Result, runErr error, elapsed time.Duration) {
	if s.observer == nil {
		return
	}
	if runErr != nil {
		s.observer.ObserveRun(string(req.Kind), storage.StatusFailed, aemet.ErrorClass(runErr), elapsed, 0)
		return
	}
	s.observer.ObserveRun(string(req.Kind), storage.StatusSuccess, "", elapsed, len(res.Rows))
}

func (s *Service) record(ctx context.Context, req aemet.DatasetRequest, source string, res *aemet.Result, runErr error, elapsed time.Duration) string {
	if s.runs == nil {
		return ""
	}

	record := storage.RunRecord{
		Dataset:      string(req.Kind),
		Municipality: req.MunicipalityCode,
		Source:       source,
		Status:       storage.StatusSuccess,
		DurationMs:   elapsed.Milliseconds(),
	}
	if runErr != nil {
		record.Status = storage.StatusFailed
		record.ErrorClass = aemet.ErrorClass(runErr)
		record.ErrorMessage = runErr.Error()
	} else {
		record.RowCount = len(res.Rows)
	}

	// The run is recorded even when the caller has gone away
	saved, err := s.runs.RecordRun(context.WithoutCancel(ctx), record)
	if err != nil {
		s.logger.Error("Failed to record run", logger.Error(err))
		return ""
	}
	return saved.ID
}
