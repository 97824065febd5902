package aemet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yegors/aemet-connector/pkg/logger"
)

const (
	// DefaultFirstHopTimeout bounds the small indirection call
	DefaultFirstHopTimeout = 10 * time.Second
	// DefaultSecondHopTimeout bounds the payload download, which can be several MB
	DefaultSecondHopTimeout = 60 * time.Second
	// DefaultMaxPayloadBytes caps the second hop body
	DefaultMaxPayloadBytes = 64 << 20

	apiKeyHeader  = "api_key"
	maxErrorBytes = 64 << 10
)

var tracer = otel.Tracer("github.com/yegors/aemet-connector/internal/aemet")

// ClientConfig holds the AEMET client settings
type ClientConfig struct {
	BaseURL          string
	FirstHopTimeout  time.Duration
	SecondHopTimeout time.Duration
	MaxPayloadBytes  int64
}

// Client performs the two authenticated hops against AEMET
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a new AEMET client. A nil transport uses http.DefaultTransport.
func NewClient(config ClientConfig, transport http.RoundTripper, log *logger.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.FirstHopTimeout <= 0 {
		config.FirstHopTimeout = DefaultFirstHopTimeout
	}
	if config.SecondHopTimeout <= 0 {
		config.SecondHopTimeout = DefaultSecondHopTimeout
	}
	if config.MaxPayloadBytes <= 0 {
		config.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Transport: transport},
		logger:     log.Named("aemet-client"),
	}
}

// BaseURL returns the configured API base
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// FirstHop requests the indirection envelope from url
func (c *Client) FirstHop(ctx context.Context, url, apiKey string) (IndirectionEnvelope, error) {
	var env IndirectionEnvelope

	body, err := c.get(ctx, StageFirstHop, url, apiKey, c.config.FirstHopTimeout, maxErrorBytes)
	if err != nil {
		return env, err
	}

	if err := json.Unmarshal(body, &env); err != nil {
		return env, &PipelineError{Stage: StageFirstHop, Kind: ErrInvalidEnvelope, Description: "undecodable envelope", Err: err}
	}
	return env, nil
}

// SecondHop downloads the payload at dataURL
func (c *Client) SecondHop(ctx context.Context, dataURL, apiKey string) (json.RawMessage, error) {
	body, err := c.get(ctx, StageSecondHop, dataURL, apiKey, c.config.SecondHopTimeout, c.config.MaxPayloadBytes)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// get performs one authenticated GET and returns the body transcoded to UTF-8
func (c *Client) get(ctx context.Context, stage Stage, url, apiKey string, timeout time.Duration, limit int64) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "aemet."+string(stage), trace.WithAttributes(
		attribute.String("aemet.stage", string(stage)),
		attribute.Int64("aemet.timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	fail := func(err error) ([]byte, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(&PipelineError{Stage: stage, Kind: ErrUpstreamOther, Description: "failed to build request", Err: err})
	}
	req.Header.Set(apiKeyHeader, apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(&PipelineError{Stage: stage, Kind: ErrUpstreamUnavailable, Err: err})
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		desc := errorDescription(resp.Body)
		c.logger.Warn("AEMET returned non-success status",
			logger.String("stage", string(stage)),
			logger.Int("status", resp.StatusCode),
			logger.String("description", desc))
		return fail(&PipelineError{Stage: stage, Kind: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode, Description: desc})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return fail(&PipelineError{Stage: stage, Kind: ErrUpstreamUnavailable, Description: "failed to read response body", Err: err})
	}
	if int64(len(body)) > limit {
		return fail(&PipelineError{Stage: stage, Kind: ErrMalformedPayload, Description: fmt.Sprintf("response exceeds %d bytes", limit)})
	}

	body, err = toUTF8(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return fail(&PipelineError{Stage: stage, Kind: ErrMalformedPayload, Err: err})
	}

	c.logger.Debug("AEMET hop completed",
		logger.String("stage", string(stage)),
		logger.Int("bytes", len(body)),
		logger.Duration("elapsed", time.Since(start)))

	return body, nil
}

// errorDescription extracts the descripcion AEMET puts in error bodies, if any
func errorDescription(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBytes))
	if err != nil || len(body) == 0 {
		return ""
	}
	var env IndirectionEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Description != "" {
		return env.Description
	}
	if len(body) <= 256 {
		return strings.TrimSpace(string(body))
	}
	return ""
}
