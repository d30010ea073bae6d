package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "qwen3-vl:2b"
	DefaultTimeout = 30 * time.Second
)

type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Service talks to an Ollama server.
type Service struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

func NewService(cfg Config, logger *zap.Logger) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.config }

type GenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type GenerateResponse struct {
	Response string `json:"response"`
}

// CallOllama sends one non-streaming prompt to /api/generate.
func (s *Service) CallOllama(ctx context.Context, prompt string) (string, error) {
	reqBody := GenerateRequest{
		Model:   s.config.Model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama API returned status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	return genResp.Response, nil
}

// Rewrite asks the model to rephrase the executive summary using only the given
// facts. The caller must still scan the result for unsupported claims.
func (s *Service) Rewrite(ctx context.Context, summary string, facts []string) (string, error) {
	var b strings.Builder
	for _, f := range facts {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	prompt := fmt.Sprintf(`
Você é um redator de relatórios analíticos. Reescreva o resumo abaixo em português, em no máximo três frases.

Resumo:
%s

Fatos verificados:
%s
Regras:
- Use apenas os números e nomes que aparecem no resumo ou nos fatos.
- Não cite colunas, métricas, períodos ou tendências que não estejam nos fatos.
- Não use percentuais que não estejam nos fatos.

Responda SOMENTE com o texto reescrito.
`, summary, b.String())

	start := time.Now()
	out, err := s.CallOllama(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("rewrite summary: %w", err)
	}
	out = cleanResponse(out)
	s.logger.Debug("summary rewritten",
		zap.String("model", s.config.Model),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(out)))
	return out, nil
}

// cleanResponse drops reasoning blocks and surrounding quotes some models emit.
func cleanResponse(s string) string {
	for {
		open := strings.Index(s, "<think>")
		if open < 0 {
			break
		}
		end := strings.Index(s[open:], "</think>")
		if end < 0 {
			s = s[:open]
			break
		}
		s = s[:open] + s[open+end+len("</think>"):]
	}
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"“”")
	return strings.TrimSpace(s)
}
