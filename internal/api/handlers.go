package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"playbook-engine/internal/analysis"
	"playbook-engine/internal/models"
	"playbook-engine/internal/playbook"
	"playbook-engine/internal/service"
	"playbook-engine/internal/state"
)

const (
	MaxFileSize       = 100 * 1024 * 1024 // 100MB
	defaultTableLimit = 1000
)

type Handler struct {
	Engine      *analysis.Engine
	State       *state.AppState
	Ollama      models.OllamaConfig
	MaxFileSize int64
	// NewDataSource opens database connections for /api/db/connect
	NewDataSource func() service.DataSource
	Logger        *zap.Logger
}

func NewHandler(engine *analysis.Engine, st *state.AppState, ollama models.OllamaConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:      engine,
		State:       st,
		Ollama:      ollama,
		MaxFileSize: MaxFileSize,
		NewDataSource: func() service.DataSource {
			return service.NewPostgresDataSource(nil)
		},
		Logger: logger,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HealthCheck)

	// Playbooks
	r.Get("/api/playbooks", h.ListPlaybooks)
	r.Get("/api/playbooks/{id}", h.GetPlaybook)
	r.Post("/api/playbooks/reload", h.ReloadPlaybooks)

	// Analysis
	r.Post("/api/schema/validate", h.ValidateSchema)
	r.Post("/api/analyze", h.Analyze)
	r.Post("/api/narrative/check", h.CheckNarrative)

	// Uploaded datasets
	r.Post("/api/datasets", h.UploadDataset)
	r.Get("/api/datasets/{id}", h.GetDataset)
	r.Post("/api/datasets/{id}/analyze", h.AnalyzeDataset)

	// DB Routes
	r.Post("/api/db/connect", h.ConnectDB)
	r.Get("/api/db/tables", h.ListTables)
	r.Post("/api/db/analyze", h.AnalyzeTable)

	r.Get("/api/config/ollama", h.GetOllamaConfig)
}

// ============================================================================
// Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine errors to status codes.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playbook.ErrNotFound), errors.Is(err, state.ErrDatasetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, analysis.ErrNoRows), errors.Is(err, service.ErrUnknownTable), errors.Is(err, context.Canceled):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

// ============================================================================
// Health
// ============================================================================

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

// ============================================================================
// Playbooks
// ============================================================================

// ListPlaybooks lists playbook summaries, optionally filtered by domain and/or a
// free-text query.
func (h *Handler) ListPlaybooks(w http.ResponseWriter, r *http.Request) {
	reg := h.Engine.Registry()
	domain := strings.TrimSpace(r.URL.Query().Get("domain"))
	q := strings.TrimSpace(r.URL.Query().Get("q"))

	var (
		list []*playbook.Playbook
		err  error
	)
	switch {
	case q != "":
		list, err = reg.Search(r.Context(), q)
	case domain != "":
		list, err = reg.ByDomain(r.Context(), domain)
	default:
		var cat *playbook.Catalog
		if cat, err = reg.Catalog(r.Context()); err == nil {
			list = cat.All()
		}
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	out := make([]*models.PlaybookSummary, 0, len(list))
	for _, p := range list {
		if q != "" && domain != "" && !strings.EqualFold(p.Domain, domain) {
			continue
		}
		out = append(out, p.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"playbooks": out})
}

func (h *Handler) GetPlaybook(w http.ResponseWriter, r *http.Request) {
	p, err := h.Engine.Registry().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ReloadPlaybooks reloads the playbook catalogue and drops the synonym dictionary.
func (h *Handler) ReloadPlaybooks(w http.ResponseWriter, r *http.Request) {
	cat, err := h.Engine.Registry().Reload(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.Engine.Dictionary().Invalidate()
	h.Logger.Info("playbooks reloaded", zap.Int("count", len(cat.All())))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "reloaded",
		"count":    len(cat.All()),
		"warnings": cat.Warnings(),
	})
}

// ============================================================================
// Analysis
// ============================================================================

type datasetRequest struct {
	Rows   []models.Row    `json:"rows"`
	Schema []models.Column `json:"schema"`
}

type analyzeRequest struct {
	datasetRequest
	Question   string `json:"question"`
	PlaybookID string `json:"playbook_id"`
}

func (h *Handler) ValidateSchema(w http.ResponseWriter, r *http.Request) {
	var req datasetRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Rows) == 0 && len(req.Schema) == 0 {
		writeError(w, http.StatusBadRequest, "rows or schema required")
		return
	}
	res, err := h.Engine.ValidateSchema(r.Context(), req.Schema, req.Rows)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !decode(w, r, &req) {
		return
	}
	h.analyze(w, r, analysis.Request{
		Columns:    req.Schema,
		Rows:       req.Rows,
		Question:   req.Question,
		PlaybookID: req.PlaybookID,
	})
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request, req analysis.Request) {
	resp, err := h.Engine.Analyze(r.Context(), req)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type narrativeCheckRequest struct {
	Text           string          `json:"text"`
	Schema         []models.Column `json:"schema"`
	Rows           []models.Row    `json:"rows"`
	ForbiddenTerms []string        `json:"forbidden_terms"`
	PlaybookID     string          `json:"playbook_id"`
}

// CheckNarrative runs the hallucination detector over caller-supplied text.
func (h *Handler) CheckNarrative(w http.ResponseWriter, r *http.Request) {
	var req narrativeCheckRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text required")
		return
	}
	schema, err := h.Engine.EnrichSchema(r.Context(), req.Schema, req.Rows)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	report, err := h.Engine.CheckNarrative(r.Context(), req.Text, schema, len(req.Rows), req.ForbiddenTerms, req.PlaybookID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ============================================================================
// Datasets
// ============================================================================

// UploadDataset parses a multipart CSV upload and keeps it in memory.
func (h *Handler) UploadDataset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxFileSize)
	if err := r.ParseMultipartForm(h.MaxFileSize); err != nil {
		writeError(w, http.StatusBadRequest, "File too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		writeError(w, http.StatusBadRequest, "Only CSV files are allowed")
		return
	}

	ds, err := analysis.ParseCSV(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse CSV: %v", err))
		return
	}
	if len(ds.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "CSV has no data rows")
		return
	}
	schema, err := h.Engine.EnrichSchema(r.Context(), ds.Columns, ds.Rows)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	name := filepath.Base(header.Filename)
	id := h.State.AddDataset(&state.Dataset{
		FileName: name,
		Columns:  ds.Columns,
		Rows:     ds.Rows,
		Schema:   schema,
	})
	h.Logger.Info("dataset uploaded",
		zap.String("dataset_id", id), zap.String("file", name), zap.Int("rows", len(ds.Rows)))

	writeJSON(w, http.StatusCreated, models.UploadResponse{
		DatasetID:   id,
		Message:     fmt.Sprintf("File '%s' uploaded successfully", name),
		Rows:        len(ds.Rows),
		Columns:     len(ds.Columns),
		ColumnNames: ds.ColumnNames(),
	})
}

func (h *Handler) GetDataset(w http.ResponseWriter, r *http.Request) {
	d, err := h.State.GetDataset(chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Status())
}

func (h *Handler) AnalyzeDataset(w http.ResponseWriter, r *http.Request) {
	d, err := h.State.GetDataset(chi.URLParam(r, "id"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	var req struct {
		Question   string `json:"question"`
		PlaybookID string `json:"playbook_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	h.analyze(w, r, analysis.Request{
		Columns:    d.Columns,
		Rows:       d.Rows,
		Question:   req.Question,
		PlaybookID: req.PlaybookID,
	})
}

// ============================================================================
// Database
// ============================================================================

// ConnectDB establishes a database connection
func (h *Handler) ConnectDB(w http.ResponseWriter, r *http.Request) {
	var config service.DataSourceConfig
	if !decode(w, r, &config) {
		return
	}

	ds := h.NewDataSource()
	if err := ds.Connect(r.Context(), config); err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("Failed to connect: %v", err))
		return
	}
	if err := h.State.SetDataSource(ds); err != nil {
		h.Logger.Warn("closing previous database connection", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

// ListTables returns tables from connected DB
func (h *Handler) ListTables(w http.ResponseWriter, r *http.Request) {
	ds := h.State.DataSource()
	if ds == nil {
		writeError(w, http.StatusBadRequest, "No database connection")
		return
	}
	tables, err := ds.ListTables(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error listing tables: %v", err))
		return
	}
	if tables == nil {
		tables = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tables": tables})
}

// AnalyzeTable runs an analysis over a table preview.
func (h *Handler) AnalyzeTable(w http.ResponseWriter, r *http.Request) {
	ds := h.State.DataSource()
	if ds == nil {
		writeError(w, http.StatusBadRequest, "No database connection")
		return
	}
	var req struct {
		TableName  string `json:"table_name"`
		Question   string `json:"question"`
		PlaybookID string `json:"playbook_id"`
		Limit      int    `json:"limit"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultTableLimit
	}

	rows, columns, err := ds.PreviewData(r.Context(), req.TableName, req.Limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusBadRequest, "Table is empty")
		return
	}
	h.analyze(w, r, analysis.Request{
		Columns:    columns,
		Rows:       rows,
		Question:   req.Question,
		PlaybookID: req.PlaybookID,
	})
}

func (h *Handler) GetOllamaConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Ollama)
}
