// Package config loads the engine configuration. Sources are layered as
// defaults, YAML file, ECOMENTOR_ environment variables and finally
// --set overrides from the command line. The result is resolved once at
// startup and passed by reference.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ECOMENTOR_"

type Config struct {
	Log        LogConfig        `koanf:"log"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Server     ServerConfig     `koanf:"server"`
	Generation GenerationConfig `koanf:"generation"`
	Router     RouterConfig     `koanf:"router"`
	Draft      DraftConfig      `koanf:"draft"`
	Evidence   EvidenceConfig   `koanf:"evidence"`
	Synthesis  SynthesisConfig  `koanf:"synthesis"`
	History    HistoryConfig    `koanf:"history"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string        `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string        `koanf:"otlp_endpoint"`
	OTLPInsecure bool          `koanf:"otlp_insecure"`
	OTLPTimeout  time.Duration `koanf:"otlp_timeout"`
}

type ServerConfig struct {
	Addr           string        `koanf:"addr"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	MaxBodyBytes   int64         `koanf:"max_body_bytes"`
	CORSOrigin     string        `koanf:"cors_origin"`
}

// GenerationConfig selects the generation backend. Endpoints maps a purpose
// (macro, firm, household, editor, router) to its own base address; missing
// purposes use BaseURL. RoleModels maps a role to the Ollama model serving
// its adapter.
type GenerationConfig struct {
	Provider        string            `koanf:"provider"` // local, ollama
	BaseURL         string            `koanf:"base_url"`
	Endpoints       map[string]string `koanf:"endpoints"`
	Model           string            `koanf:"model"`
	RoleModels      map[string]string `koanf:"role_models"`
	Timeout         time.Duration     `koanf:"timeout"`
	BreakerFailures int               `koanf:"breaker_failures"`
	BreakerCooldown time.Duration     `koanf:"breaker_cooldown"`
}

type RouterConfig struct {
	Classifier    bool          `koanf:"classifier"`
	Timeout       time.Duration `koanf:"timeout"`
	MinConfidence float64       `koanf:"min_confidence"`
	MaxTokens     int           `koanf:"max_tokens"`
}

type DraftConfig struct {
	Temperatures       []float64 `koanf:"temperatures"`
	ForcedTemperature  float64   `koanf:"forced_temperature"`
	MinLength          int       `koanf:"min_length"`
	FingerprintLen     int       `koanf:"fingerprint_len"`
	MaxTokens          int       `koanf:"max_tokens"`
	Confidence         float64   `koanf:"confidence"`
	DegradedConfidence float64   `koanf:"degraded_confidence"`
}

type EvidenceConfig struct {
	Backend          string        `koanf:"backend"` // http, qdrant, none
	BaseURL          string        `koanf:"base_url"`
	Timeout          time.Duration `koanf:"timeout"`
	RetryAttempts    int           `koanf:"retry_attempts"`
	QdrantAddr       string        `koanf:"qdrant_addr"`
	CollectionPrefix string        `koanf:"collection_prefix"`
	EmbedderBaseURL  string        `koanf:"embedder_base_url"`
	EmbedderModel    string        `koanf:"embedder_model"`
}

type SynthesisConfig struct {
	MaxTokens   int     `koanf:"max_tokens"`
	Temperature float64 `koanf:"temperature"`
}

type HistoryConfig struct {
	Backend string `koanf:"backend"` // memory, sqlite
	Path    string `koanf:"path"`
	Limit   int    `koanf:"limit"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"telemetry.exporter":     "none",
	"telemetry.otlp_timeout": "10s",

	"server.addr":            ":3001",
	"server.request_timeout": "120s",
	"server.max_body_bytes":  int64(1 << 20),
	"server.cors_origin":     "*",

	"generation.provider":         "local",
	"generation.base_url":         "http://localhost:8008",
	"generation.model":            "qwen2.5:7b-instruct",
	"generation.timeout":          "60s",
	"generation.breaker_failures": 5,
	"generation.breaker_cooldown": "30s",

	"router.classifier":     true,
	"router.timeout":        "150ms",
	"router.min_confidence": 0.7,
	"router.max_tokens":     60,

	"draft.temperatures":        []float64{0.3, 0.6},
	"draft.forced_temperature":  0.5,
	"draft.min_length":          80,
	"draft.fingerprint_len":     100,
	"draft.max_tokens":          450,
	"draft.confidence":          0.7,
	"draft.degraded_confidence": 0.55,

	"evidence.backend":           "http",
	"evidence.base_url":          "http://localhost:8010",
	"evidence.timeout":           "5s",
	"evidence.retry_attempts":    2,
	"evidence.qdrant_addr":       "localhost:6334",
	"evidence.collection_prefix": "ecomentor_",
	"evidence.embedder_base_url": "http://localhost:11434",
	"evidence.embedder_model":    "nomic-embed-text",

	"synthesis.max_tokens":  700,
	"synthesis.temperature": 0.2,

	"history.backend": "memory",
	"history.path":    "ecomentor.db",
	"history.limit":   200,
}

// nestedMaps lists keys whose children are map entries, so that
// ECOMENTOR_GENERATION_ENDPOINTS_MACRO maps to generation.endpoints.macro.
var nestedMaps = []string{"generation.endpoints", "generation.role_models"}

// Load reads defaults, the optional YAML file at path and the environment.
func Load(path string) (*Config, error) {
	return load(path, nil)
}

// LoadWithCLI behaves like Load but takes the file path from --config and
// applies --set key=value overrides last.
func LoadWithCLI(args []string) (*Config, error) {
	path, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(path, overrides)
}

func load(path string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("apply --set %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps ECOMENTOR_ROUTER_MIN_CONFIDENCE to router.min_confidence:
// the first segment names the section and the rest is the field.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	key = section + "." + field
	for _, prefix := range nestedMaps {
		if strings.HasPrefix(key, prefix+"_") {
			return prefix + "." + strings.TrimPrefix(key, prefix+"_")
		}
	}
	return key
}

// Validate checks values that would otherwise break request handling.
func (c *Config) Validate() error {
	if len(c.Draft.Temperatures) == 0 {
		return fmt.Errorf("draft.temperatures must not be empty")
	}
	if c.Draft.MinLength < 0 || c.Draft.FingerprintLen <= 0 {
		return fmt.Errorf("draft.min_length and draft.fingerprint_len must be positive")
	}
	if c.Router.MinConfidence < 0 || c.Router.MinConfidence > 1 {
		return fmt.Errorf("router.min_confidence must be within [0,1]")
	}
	switch c.Evidence.Backend {
	case "http", "qdrant", "none":
	default:
		return fmt.Errorf("unknown evidence backend %q", c.Evidence.Backend)
	}
	switch c.Generation.Provider {
	case "local", "ollama":
	default:
		return fmt.Errorf("unknown generation provider %q", c.Generation.Provider)
	}
	switch c.History.Backend {
	case "memory", "sqlite", "none":
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}
	return nil
}

// Endpoint returns the base address for a generation purpose.
func (g GenerationConfig) Endpoint(purpose string) string {
	if url := strings.TrimSpace(g.Endpoints[purpose]); url != "" {
		return strings.TrimRight(url, "/")
	}
	return strings.TrimRight(g.BaseURL, "/")
}
