package aemet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnknownDatasetKind is returned for a dataset selector outside the supported kinds.
	ErrUnknownDatasetKind = errors.New("unknown dataset kind")
	// ErrMissingAPIKey is returned when a request carries no AEMET API key.
	ErrMissingAPIKey = errors.New("missing AEMET API key")
	// ErrUpstreamAuthRejected is returned when AEMET rejects the API key (401/403).
	ErrUpstreamAuthRejected = errors.New("upstream rejected credentials")
	// ErrInvalidEnvelope is returned when the first hop answers outside its contract.
	ErrInvalidEnvelope = errors.New("invalid indirection envelope")
	// ErrUpstreamUnavailable is returned on transport errors, timeouts and unavailable services.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamOther is returned for any other non-success upstream status.
	ErrUpstreamOther = errors.New("upstream error")
	// ErrMalformedPayload is returned when the second hop body cannot be flattened.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Stage names the pipeline step an error originated from
type Stage string

const (
	StageSchema    Stage = "schema"
	StageURL       Stage = "url"
	StageFirstHop  Stage = "first_hop"
	StageEnvelope  Stage = "envelope"
	StageSecondHop Stage = "second_hop"
	StageFlatten   Stage = "flatten"
)

// PipelineError carries the classified failure of one pipeline stage
type PipelineError struct {
	Stage       Stage
	Kind        error // one of the Err* sentinels
	StatusCode  int
	Description string
	Err         error
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is/As
func (e *PipelineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsRetryable reports whether err is worth another attempt.
// Only unavailability is retried; caller cancellation never is.
func IsRetryable(err error) bool {
	if !errors.Is(err, ErrUpstreamUnavailable) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// ErrorClass returns a short stable name for the sentinel behind err
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownDatasetKind):
		return "unknown_dataset_kind"
	case errors.Is(err, ErrMissingAPIKey):
		return "missing_api_key"
	case errors.Is(err, ErrUpstreamAuthRejected):
		return "upstream_auth_rejected"
	case errors.Is(err, ErrInvalidEnvelope):
		return "invalid_envelope"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case errors.Is(err, ErrUpstreamOther):
		return "upstream_other"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	}
	return "internal"
}

// classifyStatus maps a non-200 HTTP status to a sentinel
func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUpstreamAuthRejected
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrUpstreamUnavailable
	}
	return ErrUpstreamOther
}
