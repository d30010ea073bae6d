package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"playbook-engine/internal/analysis"
	"playbook-engine/internal/models"
	"playbook-engine/internal/service"
	"playbook-engine/internal/state"
)

type fakeDataSource struct {
	connectErr error
	rows       []models.Row
	columns    []models.Column
	closed     bool
}

func (f *fakeDataSource) Connect(context.Context, service.DataSourceConfig) error {
	return f.connectErr
}
func (f *fakeDataSource) Close() error { f.closed = true; return nil }
func (f *fakeDataSource) ListTables(context.Context) ([]string, error) {
	return []string{"vendas"}, nil
}
func (f *fakeDataSource) PreviewData(_ context.Context, table string, _ int) ([]models.Row, []models.Column, error) {
	if table != "vendas" {
		return nil, nil, fmt.Errorf("%w: %s", service.ErrUnknownTable, table)
	}
	return f.rows, f.columns, nil
}

func salesRows(n int) []models.Row {
	cats := []string{"eletronicos", "moda", "casa"}
	rows := make([]models.Row, n)
	for i := range rows {
		rows[i] = models.Row{
			"valor":     10.5 + float64(i)*20,
			"data":      fmt.Sprintf("2024-%02d-%02d", i%6+1, i%28+1),
			"categoria": cats[i%3],
		}
	}
	return rows
}

func salesCSV(n int) string {
	var b strings.Builder
	b.WriteString("valor;data;categoria\n")
	for _, r := range salesRows(n) {
		fmt.Fprintf(&b, "%s;%s;%s\n", strings.ReplaceAll(fmt.Sprintf("%.2f", r["valor"]), ".", ","), r["data"], r["categoria"])
	}
	return b.String()
}

func newTestServer(t *testing.T) (*httptest.Server, *Handler) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	engine, err := analysis.NewEngine(analysis.Options{Logger: logger})
	require.NoError(t, err)
	h := NewHandler(engine, state.NewAppState(0), models.OllamaConfig{BaseURL: "http://ollama:11434", Model: "m"}, logger)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, h
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListAndGetPlaybooks(t *testing.T) {
	srv, _ := newTestServer(t)

	var list struct {
		Playbooks []models.PlaybookSummary `json:"playbooks"`
	}
	decodeBody(t, get(t, srv.URL+"/api/playbooks"), &list)
	assert.Len(t, list.Playbooks, 3)

	decodeBody(t, get(t, srv.URL+"/api/playbooks?domain=Vendas"), &list)
	require.Len(t, list.Playbooks, 1)
	assert.Equal(t, "vendas_desempenho", list.Playbooks[0].ID)

	decodeBody(t, get(t, srv.URL+"/api/playbooks?q=estoque"), &list)
	require.NotEmpty(t, list.Playbooks)
	assert.Equal(t, "estoque_giro", list.Playbooks[0].ID)

	resp := get(t, srv.URL+"/api/playbooks/vendas_desempenho")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var p map[string]interface{}
	decodeBody(t, resp, &p)
	assert.Equal(t, "vendas", p["domain"])

	resp = get(t, srv.URL+"/api/playbooks/nada")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var e map[string]string
	decodeBody(t, resp, &e)
	assert.Contains(t, e["error"], "not found")
}

func TestReloadPlaybooks(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/playbooks/reload", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]interface{}
	decodeBody(t, resp, &out)
	assert.Equal(t, float64(3), out["count"])
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/analyze", map[string]interface{}{
		"rows":     salesRows(50),
		"question": "vendas por categoria",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out models.AnalysisResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, models.StatusOK, out.Status)
	assert.Equal(t, "vendas_desempenho", out.Playbook.ID)
	require.NotNil(t, out.Narrative)
	assert.NotEmpty(t, out.Narrative.Limitations)
}

func TestAnalyzeEndpointErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/analyze", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2 := postJSON(t, srv.URL+"/api/analyze", map[string]interface{}{"rows": []models.Row{}})
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	resp3 := postJSON(t, srv.URL+"/api/analyze", map[string]interface{}{"rows": salesRows(5), "playbook_id": "nada"})
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestValidateSchemaEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/schema/validate", map[string]interface{}{"rows": salesRows(30)})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out models.SchemaValidationResponse
	decodeBody(t, resp, &out)
	assert.Len(t, out.Schema, 3)
	require.NotEmpty(t, out.Compatibility)
	assert.Equal(t, "vendas_desempenho", out.Compatibility[0].PlaybookID)
}

func TestNarrativeCheckEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/narrative/check", map[string]interface{}{
		"text":            "A margem subiu desde 1970-01-01.",
		"schema":          []models.Column{{Name: "valor"}},
		"forbidden_terms": []string{"margem"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report models.HallucinationReport
	decodeBody(t, resp, &report)
	assert.True(t, report.ShouldBlock)
	assert.Equal(t, 2, report.TotalViolations)
}

func uploadCSV(t *testing.T, url, name, content string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDatasetUploadAndAnalyze(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := uploadCSV(t, srv.URL+"/api/datasets", "vendas.csv", salesCSV(50))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var up models.UploadResponse
	decodeBody(t, resp, &up)
	assert.Equal(t, 50, up.Rows)
	assert.Equal(t, []string{"valor", "data", "categoria"}, up.ColumnNames)

	var status models.DatasetStatus
	decodeBody(t, get(t, srv.URL+"/api/datasets/"+up.DatasetID), &status)
	assert.Equal(t, "vendas.csv", status.FileName)
	require.Len(t, status.Schema, 3)
	assert.Equal(t, models.TypeNumeric, status.Schema[0].InferredType)
	assert.Equal(t, models.SeparatorComma, status.Schema[0].DecimalSeparator)

	resp = postJSON(t, srv.URL+"/api/datasets/"+up.DatasetID+"/analyze", map[string]string{"question": "vendas"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out models.AnalysisResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, models.StatusOK, out.Status)

	assert.Equal(t, http.StatusNotFound, get(t, srv.URL+"/api/datasets/desconhecido").StatusCode)
	assert.Equal(t, http.StatusBadRequest, uploadCSV(t, srv.URL+"/api/datasets", "dados.txt", "a,b\n1,2\n").StatusCode)
}

func TestDatabaseRoutes(t *testing.T) {
	srv, h := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/api/db/tables").StatusCode)

	fake := &fakeDataSource{rows: salesRows(50)}
	h.NewDataSource = func() service.DataSource { return fake }

	resp := postJSON(t, srv.URL+"/api/db/connect", service.DataSourceConfig{Host: "db"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tables struct {
		Tables []string `json:"tables"`
	}
	decodeBody(t, get(t, srv.URL+"/api/db/tables"), &tables)
	assert.Equal(t, []string{"vendas"}, tables.Tables)

	resp = postJSON(t, srv.URL+"/api/db/analyze", map[string]string{"table_name": "vendas"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out models.AnalysisResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, models.StatusOK, out.Status)

	resp = postJSON(t, srv.URL+"/api/db/analyze", map[string]string{"table_name": "pg_user"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	second := &fakeDataSource{}
	h.NewDataSource = func() service.DataSource { return second }
	postJSON(t, srv.URL+"/api/db/connect", service.DataSourceConfig{Host: "db"})
	assert.True(t, fake.closed)

	h.NewDataSource = func() service.DataSource { return &fakeDataSource{connectErr: errors.New("refused")} }
	resp = postJSON(t, srv.URL+"/api/db/connect", service.DataSourceConfig{Host: "db"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestOllamaConfig(t *testing.T) {
	srv, _ := newTestServer(t)
	var cfg models.OllamaConfig
	decodeBody(t, get(t, srv.URL+"/api/config/ollama"), &cfg)
	assert.Equal(t, "m", cfg.Model)
}
