package aemet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yegors/aemet-connector/pkg/logger"
)

// Result is the memoised outcome of one pipeline run
type Result struct {
	Request   DatasetRequest
	Schema    TableSchema
	Rows      []Row
	FetchedAt time.Time
}

// Pipeline runs the two-hop fetch and flattens the payload.
// It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	client *Client
	retry  RetryPolicy
	logger *logger.Logger
}

// NewPipeline creates a new pipeline
func NewPipeline(client *Client, retry RetryPolicy, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{
		client: client,
		retry:  retry,
		logger: log.Named("aemet-pipeline"),
	}
}

// Run resolves the schema, performs both hops and flattens the payload.
// The first failing stage aborts the run; no partial result is returned.
func (p *Pipeline) Run(ctx context.Context, req DatasetRequest) (*Result, error) {
	start := time.Now()

	schema, err := ResolveSchema(req.Kind)
	if err != nil {
		return nil, err
	}

	firstURL, err := IndirectionURL(p.client.BaseURL(), req.Kind, req.MunicipalityCode)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("Requesting AEMET dataset",
		logger.String("dataset", string(req.Kind)),
		logger.String("municipality", req.MunicipalityCode))

	env, err := withRetry(ctx, p.retry, p.logger, StageFirstHop, func(ctx context.Context) (IndirectionEnvelope, error) {
		return p.client.FirstHop(ctx, firstURL, req.APIKey)
	})
	if err != nil {
		return nil, err
	}

	dataURL, err := ValidateEnvelope(env)
	if err != nil {
		return nil, err
	}

	payload, err := withRetry(ctx, p.retry, p.logger, StageSecondHop, func(ctx context.Context) (json.RawMessage, error) {
		return p.client.SecondHop(ctx, dataURL, req.APIKey)
	})
	if err != nil {
		return nil, err
	}

	rows, err := Flatten(req.Kind, payload)
	if err != nil {
		return nil, err
	}

	p.logger.Info("AEMET dataset fetched",
		logger.String("dataset", string(req.Kind)),
		logger.Int("rows", len(rows)),
		logger.Duration("elapsed", time.Since(start)))

	return &Result{
		Request:   req,
		Schema:    schema,
		Rows:      rows,
		FetchedAt: time.Now().UTC(),
	}, nil
}
