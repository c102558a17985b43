package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INSTRA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "INSTRA_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "server.token", typ: kString, env: "INSTRA_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INSTRA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "INSTRA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "model.artifacts_path", typ: kString, env: "INSTRA_MODEL_ARTIFACTS_PATH",
		apply:   func(cfg *Config, v any) { cfg.Model.ArtifactsPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.ArtifactsPath },
	},
	{
		key: "agent.groq_api_key", typ: kString, env: "INSTRA_GROQ_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Agent.GroqAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.GroqAPIKey },
	},
	{
		key: "agent.base_url", typ: kString, env: "INSTRA_AGENT_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Agent.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.BaseURL },
	},
	{
		key: "agent.model", typ: kString, env: "INSTRA_AGENT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Agent.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Model },
	},
	{
		key: "agent.timeout", typ: kString, env: "INSTRA_AGENT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Timeout },
	},
	{
		key: "agent.history_turns", typ: kInt, env: "INSTRA_AGENT_HISTORY_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Agent.HistoryTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.HistoryTurns },
	},
	{
		key: "agent.max_tokens", typ: kInt, env: "INSTRA_AGENT_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Agent.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.MaxTokens },
	},
	{
		key: "agent.temperature", typ: kFloat, env: "INSTRA_AGENT_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Agent.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Agent.Temperature },
	},
	{
		key: "agent.max_context_tokens", typ: kInt, env: "INSTRA_AGENT_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Agent.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.MaxContextTokens },
	},
	{
		key: "ollama.base_url", typ: kString, env: "INSTRA_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "INSTRA_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "bulk.concurrency", typ: kInt, env: "INSTRA_BULK_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Bulk.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Bulk.Concurrency },
	},
}

// account is the secrets file entry for a secret key.
func (s keySpec) account() string {
	_, name, _ := strings.Cut(s.key, ".")
	return name
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
