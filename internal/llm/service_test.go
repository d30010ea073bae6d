package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRewriteSendsFactsAndCleansResponse(t *testing.T) {
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(GenerateResponse{Response: "<think>rascunho</think>\n\"Receita total de 1.000.\"\n"})
	}))
	defer srv.Close()

	s := NewService(Config{BaseURL: srv.URL + "/", Model: "teste"}, zaptest.NewLogger(t))
	out, err := s.Rewrite(context.Background(), "Resumo original.", []string{"Receita total: 1.000."})
	require.NoError(t, err)

	assert.Equal(t, "Receita total de 1.000.", out)
	assert.Equal(t, "teste", got.Model)
	assert.False(t, got.Stream)
	assert.Contains(t, got.Prompt, "Resumo original.")
	assert.Contains(t, got.Prompt, "- Receita total: 1.000.")
}

func TestCallOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewService(Config{BaseURL: srv.URL}, nil).Rewrite(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status: 500")
}

func TestCallOllamaHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(GenerateResponse{Response: "ok"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewService(Config{BaseURL: srv.URL}, nil).CallOllama(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewServiceDefaults(t *testing.T) {
	cfg := NewService(Config{}, nil).Config()
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
}

func TestCleanResponse(t *testing.T) {
	assert.Equal(t, "texto", cleanResponse("  <think>a</think><think>b</think> texto "))
	assert.Equal(t, "antes", cleanResponse("antes <think>sem fim"))
	assert.Equal(t, "citado", cleanResponse("“citado”"))
}
