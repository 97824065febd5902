// Package aemet implements the two-hop fetch-and-flatten pipeline for the
// AEMET open-data API: an authenticated call returns an indirection envelope
// pointing at the real payload, which is then fetched and reshaped into a
// fixed tabular schema.
package aemet

import (
	"fmt"
	"strings"
)

// DatasetKind selects one of the supported AEMET query categories
type DatasetKind string

const (
	KindStations    DatasetKind = "stations"
	KindForecast    DatasetKind = "forecast"
	KindObservation DatasetKind = "observation"
)

// DefaultMunicipalityCode is the INE code used when a forecast request omits one (Madrid)
const DefaultMunicipalityCode = "28079"

// Kinds lists the supported dataset kinds in a stable order
func Kinds() []DatasetKind {
	return []DatasetKind{KindStations, KindForecast, KindObservation}
}

var kindAliases = map[string]DatasetKind{
	"stations":    KindStations,
	"estaciones":  KindStations,
	"forecast":    KindForecast,
	"prediccion":  KindForecast,
	"predicción":  KindForecast,
	"observation": KindObservation,
	"observacion": KindObservation,
	"observación": KindObservation,
}

// ParseDatasetKind accepts both the English names and the Spanish wire names
// used by the connector form (estaciones, prediccion, observacion).
func ParseDatasetKind(s string) (DatasetKind, error) {
	kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", &PipelineError{Stage: StageSchema, Kind: ErrUnknownDatasetKind, Description: fmt.Sprintf("%q", s)}
	}
	return kind, nil
}

// Valid reports whether k is one of the supported kinds
func (k DatasetKind) Valid() bool {
	switch k {
	case KindStations, KindForecast, KindObservation:
		return true
	}
	return false
}

// WireName returns the Spanish name used in dataType parameters
func (k DatasetKind) WireName() string {
	switch k {
	case KindStations:
		return "estaciones"
	case KindForecast:
		return "prediccion"
	case KindObservation:
		return "observacion"
	}
	return string(k)
}

// DatasetRequest is an immutable description of one connector invocation
type DatasetRequest struct {
	Kind             DatasetKind
	APIKey           string
	MunicipalityCode string
}

// NewDatasetRequest validates its inputs and applies the municipality default.
// The municipality code is only kept for forecast requests.
func NewDatasetRequest(kind DatasetKind, apiKey, municipalityCode string) (DatasetRequest, error) {
	if !kind.Valid() {
		return DatasetRequest{}, &PipelineError{Stage: StageSchema, Kind: ErrUnknownDatasetKind, Description: fmt.Sprintf("%q", kind)}
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return DatasetRequest{}, ErrMissingAPIKey
	}

	municipalityCode = strings.TrimSpace(municipalityCode)
	if kind == KindForecast {
		if municipalityCode == "" {
			municipalityCode = DefaultMunicipalityCode
		}
	} else {
		municipalityCode = ""
	}

	return DatasetRequest{Kind: kind, APIKey: apiKey, MunicipalityCode: municipalityCode}, nil
}
