package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// MinRegistryTTL and MaxRegistryTTL bound how long a playbook snapshot is served.
	MinRegistryTTL = 5 * time.Minute
	MaxRegistryTTL = 10 * time.Minute
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
}

// RegistryConfig controls where playbooks come from and how long they are cached.
type RegistryConfig struct {
	// Dir is an optional directory of extra playbook files (JSON or YAML).
	Dir string        `yaml:"dir"`
	TTL time.Duration `yaml:"ttl"`
}

// DictionaryConfig controls the synonym dictionary used for canonical names.
type DictionaryConfig struct {
	// Path overrides the embedded dictionary when set.
	Path     string        `yaml:"path"`
	TTL      time.Duration `yaml:"ttl"`
	MemoSize int           `yaml:"memo_size"`
}

// GuardrailsConfig holds engine-wide guardrail defaults.
type GuardrailsConfig struct {
	DefaultMinRows int `yaml:"default_min_rows"`
}

// LLMConfig configures the optional narrative rewriter.
type LLMConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DatabaseConfig configures the optional Postgres row source.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// Config is the full engine/server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Registry   RegistryConfig   `yaml:"registry"`
	Dictionary DictionaryConfig `yaml:"dictionary"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	LLM        LLMConfig        `yaml:"llm"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8001",
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			MaxUploadBytes: 100 * 1024 * 1024,
		},
		Registry: RegistryConfig{
			TTL: MinRegistryTTL,
		},
		Dictionary: DictionaryConfig{
			TTL:      MinRegistryTTL,
			MemoSize: 4096,
		},
		Guardrails: GuardrailsConfig{
			DefaultMinRows: 10,
		},
		LLM: LLMConfig{
			Enabled: false,
			BaseURL: "http://localhost:11434",
			Model:   "qwen3-vl:2b",
			Timeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from the specified file path.
// A missing file yields the defaults; a malformed file is an error.
// Environment variables (and a local .env file) override file values.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.clamp()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		c.Server.Port = strings.TrimPrefix(v, ":")
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS")); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.AllowedOrigins = origins
	}
	if v := strings.TrimSpace(os.Getenv("PLAYBOOK_DIR")); v != "" {
		c.Registry.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("SYNONYMS_PATH")); v != "" {
		c.Dictionary.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_BASE_URL")); v != "" {
		c.LLM.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_MODEL")); v != "" {
		c.LLM.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("NARRATIVE_LLM_ENABLED")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LLM.Enabled = b
		}
	}
}

// clamp keeps cache TTLs inside the supported 5–10 minute window.
func (c *Config) clamp() {
	c.Registry.TTL = clampTTL(c.Registry.TTL)
	c.Dictionary.TTL = clampTTL(c.Dictionary.TTL)
}

func clampTTL(d time.Duration) time.Duration {
	if d < MinRegistryTTL {
		return MinRegistryTTL
	}
	if d > MaxRegistryTTL {
		return MaxRegistryTTL
	}
	return d
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port must not be empty")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server.port must be numeric, got %q", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	if c.Guardrails.DefaultMinRows < 0 {
		return fmt.Errorf("guardrails.default_min_rows must not be negative")
	}
	if c.Dictionary.MemoSize <= 0 {
		return fmt.Errorf("dictionary.memo_size must be positive")
	}
	if c.LLM.Enabled && c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required when llm.enabled is set")
	}
	return nil
}
