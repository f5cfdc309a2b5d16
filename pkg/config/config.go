package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Agent     AgentConfig     `koanf:"agent"`
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	API       APIConfig       `koanf:"api"`
	MCP       MCPConfig       `koanf:"mcp"`
	Memory    MemoryConfig    `koanf:"memory"`
	Context   ContextConfig   `koanf:"context"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type AgentConfig struct {
	Name string `koanf:"name"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider    string  `koanf:"provider"` // anthropic, openai (or any OpenAI-compatible endpoint)
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      string  `koanf:"api_key"`
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

type APIConfig struct {
	Bind string `koanf:"bind"`
}

type MCPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Bind    string `koanf:"bind"`
}

type MemoryConfig struct {
	BaseDir      string        `koanf:"base_dir"`
	LeaseTimeout time.Duration `koanf:"lease_timeout"`
}

type ContextConfig struct {
	Budget      int `koanf:"budget"`       // approximate token budget of the assembled system prompt
	MaxExcerpts int `koanf:"max_excerpts"` // log excerpts included before trimming
}

type ExecutorConfig struct {
	StepTimeout time.Duration `koanf:"step_timeout"`
	OutputLimit int           `koanf:"output_limit"` // bytes captured per stream
	AuditDB     string        `koanf:"audit_db"`     // path to the SQLite audit store
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // stdout, otlp, none
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	k.Set("agent.name", "kokoro")
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("llm.provider", "anthropic")
	k.Set("llm.model", "claude-sonnet-4-20250514")
	k.Set("llm.max_tokens", 8192)
	k.Set("llm.temperature", 1.0)
	k.Set("api.bind", "127.0.0.1:3000")
	k.Set("mcp.enabled", false)
	k.Set("mcp.bind", "127.0.0.1:3001")
	k.Set("memory.base_dir", DefaultBaseDir())
	k.Set("memory.lease_timeout", "30s")
	k.Set("context.budget", 24576)
	k.Set("context.max_excerpts", 10)
	k.Set("executor.step_timeout", "2m")
	k.Set("executor.output_limit", 16384)
	k.Set("telemetry.exporter", "none")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (KOKORO_LLM_PROVIDER -> llm.provider)
	if err := k.Load(env.Provider("KOKORO_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "KOKORO_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
