package aemet

import (
	"fmt"
	"net/http"
	"net/url"
)

// IndirectionEnvelope is the first-hop answer: a pointer to the real payload
type IndirectionEnvelope struct {
	Status      int    `json:"estado"`
	DataURL     string `json:"datos,omitempty"`
	MetadataURL string `json:"metadatos,omitempty"`
	Description string `json:"descripcion,omitempty"`
}

// ValidateEnvelope returns the payload URL of a successful envelope.
// AEMET may answer HTTP 200 with an error estado in the body, so both the
// status and the presence of a usable datos URL are checked.
func ValidateEnvelope(env IndirectionEnvelope) (string, error) {
	if env.Status != http.StatusOK {
		return "", &PipelineError{
			Stage:       StageEnvelope,
			Kind:        envelopeStatusKind(env.Status),
			StatusCode:  env.Status,
			Description: env.Description,
		}
	}
	if env.DataURL == "" {
		return "", &PipelineError{Stage: StageEnvelope, Kind: ErrInvalidEnvelope, Description: "missing datos URL"}
	}

	u, err := url.Parse(env.DataURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &PipelineError{Stage: StageEnvelope, Kind: ErrInvalidEnvelope, Description: fmt.Sprintf("unusable datos URL %q", env.DataURL)}
	}
	return env.DataURL, nil
}

// envelopeStatusKind classifies an error estado reported inside an HTTP 200 body.
// Only credential problems get their own class; everything else is a contract breach.
func envelopeStatusKind(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUpstreamAuthRejected
	}
	return ErrInvalidEnvelope
}
