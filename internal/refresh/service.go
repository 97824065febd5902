// Package refresh keeps configured datasets warm in the cache and announces
// every refresh over the websocket feed.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/yegors/aemet-connector/internal/aemet"
	"github.com/yegors/aemet-connector/internal/connector"
	"github.com/yegors/aemet-connector/internal/fetch"
	"github.com/yegors/aemet-connector/internal/websocket"
	"github.com/yegors/aemet-connector/pkg/logger"
)

// Broadcaster publishes refresh events
type Broadcaster interface {
	Broadcast(message *websocket.Message)
}

// Config contains refresh service settings
type Config struct {
	Interval time.Duration
	Requests []aemet.DatasetRequest
}

// Service manages periodic dataset refreshes
type Service struct {
	config      Config
	fetcher     *fetch.Service
	broadcaster Broadcaster
	logger      *logger.Logger

	// Service lifecycle
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

// NewService creates a new refresh service. broadcaster may be nil.
func NewService(config Config, fetcher *fetch.Service, broadcaster Broadcaster, log *logger.Logger) *Service {
	return &Service{
		config:      config,
		fetcher:     fetcher,
		broadcaster: broadcaster,
		logger:      log.Named("refresh-service"),
	}
}

// Requests builds the refresh requests for the given datasets.
// Forecasts are expanded once per municipality.
func Requests(apiKey string, datasets, municipalities []string) ([]aemet.DatasetRequest, error) {
	var reqs []aemet.DatasetRequest
	for _, d := range datasets {
		kind, err := aemet.ParseDatasetKind(d)
		if err != nil {
			return nil, err
		}

		codes := []string{""}
		if kind == aemet.KindForecast && len(municipalities) > 0 {
			codes = municipalities
		}
		for _, code := range codes {
			req, err := aemet.NewDatasetRequest(kind, apiKey, code)
			if err != nil {
				return nil, err
			}
			reqs = append(reqs, req)
		}
	}
	return reqs, nil
}

// Start begins the background refresh loop. An immediate refresh runs first.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("Starting refresh service",
		logger.Int("datasets", len(s.config.Requests)),
		logger.Duration("interval", s.config.Interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()

	s.started = true
}

// Stop cancels in-flight refreshes and waits for the loop to exit
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info("Stopping refresh service")
	s.cancel()
	s.wg.Wait()

	s.started = false
	s.logger.Info("Refresh service stopped")
}

func (s *Service) loop(ctx context.Context) {
	s.RefreshAll(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshAll(ctx)
		}
	}
}

// RefreshAll refreshes every configured request sequentially and returns the
// number of failures
func (s *Service) RefreshAll(ctx context.Context) int {
	failures := 0
	for _, req := range s.config.Requests {
		if ctx.Err() != nil {
			return failures
		}
		if !s.refreshOne(ctx, req) {
			failures++
		}
	}
	return failures
}

func (s *Service) refreshOne(ctx context.Context, req aemet.DatasetRequest) bool {
	out, err := s.fetcher.Refresh(ctx, req, fetch.SourceRefresh)

	data := map[string]any{
		"dataset":      string(req.Kind),
		"data_type":    req.Kind.WireName(),
		"municipality": req.MunicipalityCode,
		"run_id":       out.RunID,
	}

	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		data["error_class"] = aemet.ErrorClass(err)
		data["error"] = connector.Describe(err)
		s.publish(websocket.MessageTypeDatasetFailed, data)
		return false
	}

	data["table_id"] = out.Result.Schema.ID
	data["rows"] = len(out.Result.Rows)
	data["fetched_at"] = out.Result.FetchedAt
	s.publish(websocket.MessageTypeDatasetRefreshed, data)

	s.logger.Info("Dataset refreshed",
		logger.String("dataset", string(req.Kind)),
		logger.String("municipality", req.MunicipalityCode),
		logger.Int("rows", len(out.Result.Rows)))
	return true
}

func (s *Service) publish(messageType string, data map[string]any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.Broadcast(&websocket.Message{Type: messageType, Data: data})
}
