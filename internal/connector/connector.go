// Package connector adapts the AEMET pipeline to a host runtime that first
// asks for table schemas and later for the rows of those tables.
package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yegors/aemet-connector/internal/aemet"
	"github.com/yegors/aemet-connector/pkg/logger"
)

// Host is the runtime the connector reports fatal errors to
type Host interface {
	AbortWithError(message string)
}

// TableSink receives the flattened rows of a table
type TableSink interface {
	AppendRows(rows []aemet.Row)
}

// Runner executes one pipeline run. *aemet.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, req aemet.DatasetRequest) (*aemet.Result, error)
}

// Connector opens sessions bound to a single dataset request
type Connector struct {
	runner Runner
	host   Host
	logger *logger.Logger
}

// New creates a new connector
func New(runner Runner, host Host, log *logger.Logger) *Connector {
	if log == nil {
		log = logger.NewNop()
	}
	return &Connector{
		runner: runner,
		host:   host,
		logger: log.Named("connector"),
	}
}

// Open starts a session for req. Nothing is fetched until GetData.
func (c *Connector) Open(req aemet.DatasetRequest) *Session {
	return &Session{connector: c, request: req}
}

// Session memoises the pipeline result of one request so the schema and data
// phases observe the same fetch. A run abandoned by its caller's context is
// not memoised and runs again on the next GetData.
type Session struct {
	connector *Connector
	request   aemet.DatasetRequest

	mu      sync.Mutex
	settled bool
	result  *aemet.Result
	err     error
}

// Request returns the request the session was opened with
func (s *Session) Request() aemet.DatasetRequest {
	return s.request
}

// GetSchema hands the table schema to callback. No network I/O happens.
func (s *Session) GetSchema(callback func([]aemet.TableSchema)) {
	schema, err := aemet.ResolveSchema(s.request.Kind)
	if err != nil {
		s.abort(err)
		return
	}
	callback([]aemet.TableSchema{schema})
}

// GetData runs the pipeline once, appends every row in a single call and
// then calls done. On failure the host is aborted and the sink is untouched.
func (s *Session) GetData(ctx context.Context, sink TableSink, done func()) {
	res, err := s.fetch(ctx)
	if err != nil {
		s.abort(err)
		return
	}

	sink.AppendRows(res.Rows)
	s.connector.logger.Info("Rows delivered to host",
		logger.String("table", res.Schema.ID),
		logger.Int("rows", len(res.Rows)))
	if done != nil {
		done()
	}
}

func (s *Session) fetch(ctx context.Context) (*aemet.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled {
		return s.result, s.err
	}
	res, err := s.connector.runner.Run(ctx, s.request)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	s.settled = true
	s.result, s.err = res, err
	return res, err
}

func (s *Session) abort(err error) {
	s.connector.logger.Error("Connector aborted",
		logger.String("dataset", string(s.request.Kind)),
		logger.String("error_class", aemet.ErrorClass(err)),
		logger.Error(err))
	s.connector.host.AbortWithError(Describe(err))
}

// Describe builds the message shown to a user for err
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, aemet.ErrMissingAPIKey):
		return "An AEMET API key is required. Request one at https://opendata.aemet.es/centrodedescargas/altaUsuario"
	case errors.Is(err, aemet.ErrUnknownDatasetKind):
		return "Unknown data type. Choose one of: estaciones, prediccion, observacion"
	case errors.Is(err, aemet.ErrUpstreamAuthRejected):
		return "AEMET rejected the API key. Check that it is valid and has not expired"
	case errors.Is(err, context.Canceled):
		return "The request was cancelled"
	case errors.Is(err, aemet.ErrUpstreamUnavailable):
		return fmt.Sprintf("AEMET is not reachable right now, try again later (%v)", err)
	case errors.Is(err, aemet.ErrInvalidEnvelope):
		return fmt.Sprintf("AEMET did not return a data link: %v", err)
	case errors.Is(err, aemet.ErrMalformedPayload):
		return fmt.Sprintf("AEMET returned data in an unexpected format: %v", err)
	case errors.Is(err, aemet.ErrUpstreamOther):
		return fmt.Sprintf("AEMET request failed: %v", err)
	}
	return fmt.Sprintf("Error loading AEMET data: %v", err)
}
