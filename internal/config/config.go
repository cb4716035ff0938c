package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server        ServerConfig        `toml:"server"`
	Database      DatabaseConfig      `toml:"database"`
	Provider      ProviderConfig      `toml:"provider"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Guardrails    GuardrailsConfig    `toml:"guardrails"`
	Observability ObservabilityConfig `toml:"observability"`
	Models        []ModelConfig       `toml:"models"`
}

// ModelConfig describes one entry of the static model catalog. Real
// catalog fetching (querying a provider's model-listing endpoint) is an
// external collaborator's concern; this config section lets an operator
// hand the engine the handful of fields chunk sizing and cost telemetry
// actually need without one.
type ModelConfig struct {
	ID                    string  `toml:"id"`
	Name                  string  `toml:"name"`
	ContextLength         int     `toml:"context_length"`
	MaxOutput             int     `toml:"max_output"`
	InputPricePerMillion  float64 `toml:"input_price_per_million"`
	OutputPricePerMillion float64 `toml:"output_price_per_million"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// DatabaseConfig selects and configures one of the two Store backends.
// Backend is "postgres" or "sqlite"; only the matching DSN/Path field is
// read.
type DatabaseConfig struct {
	Backend     string `toml:"backend"`
	PostgresDSN string `toml:"postgres_dsn"`
	SQLitePath  string `toml:"sqlite_path"`
}

// ProviderConfig selects and configures the RemoteClient backend. Name picks
// which OpenAI-compatible provider profile provider/resolve applies (request
// shaping quirks, default BaseURL); BaseURL overrides that default when set.
type ProviderConfig struct {
	Name         string   `toml:"name"`
	BaseURL      string   `toml:"base_url"`
	APIKey       string   `toml:"api_key"`
	DefaultModel string   `toml:"default_model"`
	Temperature  *float64 `toml:"temperature"`
	TopP         *float64 `toml:"top_p"`
}

// SchedulerConfig overrides the scheduler's fixed knobs. The engine's
// invariants fix MaxConcurrency=5 and MaxRetries=3 in code; these fields
// exist so tests (and an operator who has measured a different safe value
// for their own provider) can override them without a code change. Zero
// means "use the compiled-in default".
type SchedulerConfig struct {
	MaxConcurrency int `toml:"max_concurrency"`
	MaxRetries     int `toml:"max_retries"`
	RPM            int `toml:"rpm"`
	TPM            int `toml:"tpm"`
}

// GuardrailsConfig controls the opt-in PreDispatchHook/PostChunkHook guards
// that screen chunk input before it reaches the Remote Client.
type GuardrailsConfig struct {
	InjectionDetection bool     `toml:"injection_detection"`
	InjectionPatterns  []string `toml:"injection_patterns"`
}

type ObservabilityConfig struct {
	OTELEnabled  bool                       `toml:"otel_enabled"`
	OTLPEndpoint string                     `toml:"otlp_endpoint"`
	Pricing      map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	InputPerMillion  float64 `toml:"input_per_million"`
	OutputPerMillion float64 `toml:"output_per_million"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:   ServerConfig{ListenAddr: ":8090"},
		Database: DatabaseConfig{Backend: "sqlite", SQLitePath: "bigcontext.db"},
		Provider: ProviderConfig{Name: "openai", BaseURL: "https://api.openai.com/v1"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "bigcontext.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("BIGCONTEXT_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("BIGCONTEXT_POSTGRES_DSN"); v != "" {
		cfg.Database.Backend = "postgres"
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("BIGCONTEXT_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("BIGCONTEXT_PROVIDER_NAME"); v != "" {
		cfg.Provider.Name = v
	}
	if v := os.Getenv("BIGCONTEXT_PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("BIGCONTEXT_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("BIGCONTEXT_DEFAULT_MODEL"); v != "" {
		cfg.Provider.DefaultModel = v
	}
	if os.Getenv("BIGCONTEXT_OTEL_ENABLED") == "true" || os.Getenv("BIGCONTEXT_OTEL_ENABLED") == "1" {
		cfg.Observability.OTELEnabled = true
	}
	if v := os.Getenv("BIGCONTEXT_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.OTLPEndpoint = v
	}

	return cfg
}
