package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/aemet-connector/internal/aemet"
	"github.com/yegors/aemet-connector/internal/cache"
	"github.com/yegors/aemet-connector/internal/config"
	"github.com/yegors/aemet-connector/internal/connector"
	"github.com/yegors/aemet-connector/internal/fetch"
	"github.com/yegors/aemet-connector/internal/storage"
	"github.com/yegors/aemet-connector/pkg/logger"
)

const (
	defaultDataType = "estaciones"
	maxRunsLimit    = 500

	msgMissingAPIKey   = "Se requiere una clave API"
	msgInvalidDataType = "Tipo de datos no válido"
)

// Fetcher runs dataset requests, serving them from the cache when possible
type Fetcher interface {
	Fetch(ctx context.Context, req aemet.DatasetRequest, source string) (fetch.Outcome, error)
	CacheStats() *cache.Stats
}

// RunLister lists the run history
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
}

// FeedServer serves the websocket refresh feed
type FeedServer interface {
	HandleConnection(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

// Handler contains the API handlers
type Handler struct {
	fetcher   Fetcher
	runs      RunLister
	feed      FeedServer
	config    *config.Config
	startedAt time.Time
	logger    *logger.Logger
}

// NewHandler creates a new API handler. runs and feed may be nil.
func NewHandler(fetcher Fetcher, runs RunLister, feed FeedServer, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		fetcher:   fetcher,
		runs:      runs,
		feed:      feed,
		config:    cfg,
		startedAt: time.Now(),
		logger:    log.Named("api-handler"),
	}
}

type schemaResponse struct {
	TableID    string         `json:"tableId"`
	TableAlias string         `json:"tableAlias"`
	Columns    []aemet.Column `json:"columns"`
}

type datasetResponse struct {
	schemaResponse
	Rows []aemet.Row `json:"rows"`
}

func newSchemaResponse(schema aemet.TableSchema) schemaResponse {
	return schemaResponse{
		TableID:    schema.ID,
		TableAlias: schema.Alias,
		Columns:    schema.Columns,
	}
}

type errorResponse struct {
	Error          string `json:"error"`
	Class          string `json:"class,omitempty"`
	UpstreamStatus int    `json:"status,omitempty"`
}

// GetDataset runs the pipeline for one dataset and returns the flattened table.
// Query parameters: apiKey, dataType (default estaciones) and codigoMunicipio.
func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	dataType := query.Get("dataType")
	if dataType == "" {
		dataType = defaultDataType
	}
	kind, err := aemet.ParseDatasetKind(dataType)
	if err != nil {
		h.writeError(w, err)
		return
	}

	municipality := query.Get("codigoMunicipio")
	if municipality == "" {
		municipality = h.config.AEMET.DefaultMunicipality
	}

	req, err := aemet.NewDatasetRequest(kind, h.apiKey(r), municipality)
	if err != nil {
		h.writeError(w, err)
		return
	}

	outcome, err := h.fetcher.Fetch(r.Context(), req, fetch.SourceAPI)
	if err != nil {
		if outcome.RunID != "" {
			w.Header().Set("X-Run-ID", outcome.RunID)
		}
		h.writeError(w, err)
		return
	}

	res := outcome.Result
	if outcome.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	if outcome.RunID != "" {
		w.Header().Set("X-Run-ID", outcome.RunID)
	}

	rows := res.Rows
	if rows == nil {
		rows = []aemet.Row{}
	}
	WriteJSON(w, http.StatusOK, datasetResponse{
		schemaResponse: newSchemaResponse(res.Schema),
		Rows:           rows,
	})
}

// GetSchema returns the table schema of one dataset without calling AEMET
func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request) {
	kind, err := aemet.ParseDatasetKind(chi.URLParam(r, "dataType"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	schema, err := aemet.ResolveSchema(kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newSchemaResponse(schema))
}

// GetSchemas returns the schemas of every dataset, keyed by wire name
func (h *Handler) GetSchemas(w http.ResponseWriter, r *http.Request) {
	schemas := make(map[string]schemaResponse)
	for _, kind := range aemet.Kinds() {
		schema, err := aemet.ResolveSchema(kind)
		if err != nil {
			h.writeError(w, err)
			return
		}
		schemas[kind.WireName()] = newSchemaResponse(schema)
	}
	WriteJSON(w, http.StatusOK, schemas)
}

// GetRuns returns the most recent pipeline runs
func (h *Handler) GetRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		WriteJSON(w, http.StatusNotFound, errorResponse{Error: "Run history is disabled"})
		return
	}

	limit := storage.DefaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.runs.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", logger.Error(err))
		WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to list runs"})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetHealth reports service status and cache statistics
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"datasets":       wireNames(),
		"api_key_set":    h.config.AEMET.APIKey != "",
		"run_history":    h.runs != nil,
	}
	if stats := h.fetcher.CacheStats(); stats != nil {
		resp["cache"] = stats
	}
	if h.feed != nil {
		resp["websocket_clients"] = h.feed.ClientCount()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// HandleWebSocket upgrades the connection to the refresh feed
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		http.NotFound(w, r)
		return
	}
	h.feed.HandleConnection(w, r)
}

// apiKey resolves the key from the apiKey parameter, then the api_key
// header, then the configured default
func (h *Handler) apiKey(r *http.Request) string {
	if key := strings.TrimSpace(r.URL.Query().Get("apiKey")); key != "" {
		return key
	}
	if key := strings.TrimSpace(r.Header.Get("api_key")); key != "" {
		return key
	}
	return h.config.AEMET.APIKey
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := errorResponse{
		Error: connector.Describe(err),
		Class: aemet.ErrorClass(err),
	}

	switch {
	case errors.Is(err, aemet.ErrMissingAPIKey):
		resp.Error = msgMissingAPIKey
	case errors.Is(err, aemet.ErrUnknownDatasetKind):
		resp.Error = msgInvalidDataType
	}

	var pe *aemet.PipelineError
	if errors.As(err, &pe) {
		resp.UpstreamStatus = pe.StatusCode
	}

	if status >= http.StatusInternalServerError {
		h.logger.Warn("AEMET request failed",
			logger.Int("status", status),
			logger.String("error_class", resp.Class),
			logger.Error(err))
	}
	WriteJSON(w, status, resp)
}

// statusFor maps a pipeline error to the HTTP status returned to the client
func statusFor(err error) int {
	switch {
	case errors.Is(err, aemet.ErrMissingAPIKey), errors.Is(err, aemet.ErrUnknownDatasetKind):
		return http.StatusBadRequest
	case errors.Is(err, aemet.ErrUpstreamAuthRejected):
		return http.StatusUnauthorized
	case errors.Is(err, aemet.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, aemet.ErrInvalidEnvelope),
		errors.Is(err, aemet.ErrMalformedPayload),
		errors.Is(err, aemet.ErrUpstreamOther):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func wireNames() []string {
	kinds := aemet.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.WireName()
	}
	return names
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
