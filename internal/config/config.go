package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Model   ModelConfig
	Agent   AgentConfig
	Ollama  OllamaConfig
	Bulk    BulkConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
	// Token, when set, is required as a bearer token on /api routes.
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type ModelConfig struct {
	// ArtifactsPath points at a YAML artifact bundle. Empty selects the
	// bundle compiled into the binary.
	ArtifactsPath string
}

type AgentConfig struct {
	GroqAPIKey       string
	BaseURL          string
	Model            string
	Timeout          string
	HistoryTurns     int
	MaxTokens        int
	Temperature      float64
	MaxContextTokens int
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type BulkConfig struct {
	Concurrency int
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     8000,
			MaxConns: 256,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Agent: AgentConfig{
			BaseURL:          "https://api.groq.com/openai/v1",
			Model:            "llama-3.3-70b-versatile",
			Timeout:          "30s",
			HistoryTurns:     10,
			MaxTokens:        1024,
			Temperature:      0.7,
			MaxContextTokens: 6000,
		},
		Ollama: OllamaConfig{
			Model: "llama3.2",
		},
		Bulk: BulkConfig{
			Concurrency: 4,
		},
	}
}

// Load reads configuration from the JSON file backend, then INSTRA_*
// environment variables, then the secrets file.
//
// The backend is a JSON file at $XDG_CONFIG_HOME/instra/config.json.
// Secrets never come from config.json. The Groq API key is read from
// INSTRA_GROQ_API_KEY, then GROQ_API_KEY, then
// $XDG_DATA_HOME/instra/secrets.json. A missing key is not an error:
// the agent answers from its rule-based responder instead.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), fileSecrets{path: secretsFilePath()})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, ss secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Agent.GroqAPIKey == "" {
		cfg.Agent.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	}
	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := ss.Get("instra", s.account()); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if _, err := cfg.Agent.TimeoutDuration(); err != nil {
		return Config{}, err
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid config: server.port %d out of range", cfg.Server.Port)
	}

	return cfg, nil
}

// TimeoutDuration parses Agent.Timeout.
func (a AgentConfig) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(a.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid config: agent.timeout %q: %w", a.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid config: agent.timeout must be positive, got %s", d)
	}
	return d, nil
}

// HasExternal reports whether any external chat model is configured.
func (c Config) HasExternal() bool {
	return c.Agent.GroqAPIKey != "" || c.Ollama.BaseURL != ""
}
