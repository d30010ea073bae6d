package analysis

import (
	"go.uber.org/zap"

	"playbook-engine/internal/config"
	"playbook-engine/internal/llm"
	"playbook-engine/internal/playbook"
	"playbook-engine/internal/service"
)

// FromConfig builds an engine with a TTL-cached registry and dictionary and,
// when enabled, the Ollama summary rewriter.
func FromConfig(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := Options{
		Registry:       playbook.NewRegistry(cfg.Registry.Dir, cfg.Registry.TTL, logger),
		Dictionary:     service.NewDictionaryStore(cfg.Dictionary.Path, cfg.Dictionary.TTL, cfg.Dictionary.MemoSize, logger),
		DefaultMinRows: cfg.Guardrails.DefaultMinRows,
		Logger:         logger,
	}
	if cfg.LLM.Enabled {
		opts.Rewriter = llm.NewService(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		}, logger.Named("llm"))
		logger.Info("narrative rewriter enabled", zap.String("model", cfg.LLM.Model))
	}
	return NewEngine(opts)
}
