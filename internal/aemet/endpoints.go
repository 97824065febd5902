package aemet

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultBaseURL is the AEMET open-data API root
const DefaultBaseURL = "https://opendata.aemet.es/opendata/api"

const (
	stationsPath    = "/valores/climatologicos/inventarioestaciones/todasestaciones"
	forecastPath    = "/prediccion/especifica/municipio/diaria/"
	observationPath = "/observacion/convencional/todas"
)

// IndirectionURL builds the first-hop URL for kind. No network I/O happens here.
func IndirectionURL(baseURL string, kind DatasetKind, municipalityCode string) (string, error) {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	switch kind {
	case KindStations:
		return base + stationsPath, nil
	case KindForecast:
		code := strings.TrimSpace(municipalityCode)
		if code == "" {
			code = DefaultMunicipalityCode
		}
		return base + forecastPath + url.PathEscape(code), nil
	case KindObservation:
		return base + observationPath, nil
	}
	return "", &PipelineError{Stage: StageURL, Kind: ErrUnknownDatasetKind, Description: fmt.Sprintf("%q", kind)}
}
