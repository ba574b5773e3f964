package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultModel               = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens           = 1024
	DefaultTemperature         = 0.8
	DefaultTimeoutSeconds      = 60
	DefaultTimezone            = "America/Los_Angeles"
	DefaultMaxCatchUpDays      = 30
	DefaultContextLimit        = 5
	DefaultMinIntensity        = 0.3
	DefaultSurfaceWindowDays   = 7
	DefaultCooldownHours       = 48
	DefaultDuplicateWindowDays = 7
	DefaultDuplicateThreshold  = 0.6
	DefaultExclusivityScope    = "global"
	DefaultDailyExpr           = "0 0 4 * * *"
	DefaultServiceName         = "lifethreads"
	DefaultBufSize             = 64

	EnvPrefix = "LIFETHREADS_"
)

type Config struct {
	Persona    PersonaConfig    `json:"persona" envPrefix:"PERSONA_"`
	Provider   ProviderConfig   `json:"provider"`
	Generation GenerationConfig `json:"generation" envPrefix:"GENERATION_"`
	Engine     EngineConfig     `json:"engine" envPrefix:"ENGINE_"`
	Storage    StorageConfig    `json:"storage" envPrefix:"STORAGE_"`
	Scheduler  SchedulerConfig  `json:"scheduler" envPrefix:"SCHEDULER_"`
	Telemetry  TelemetryConfig  `json:"telemetry" envPrefix:"OTEL_"`
}

type PersonaConfig struct {
	Name string `json:"name" env:"NAME"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty" env:"PROVIDER_TYPE"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey" env:"API_KEY"`
	BaseURL string `json:"baseUrl,omitempty" env:"BASE_URL"`
}

// GenerationConfig tunes the narrative generation calls. Provider fields left
// empty fall back to the top-level provider.
type GenerationConfig struct {
	Model          string         `json:"model,omitempty" env:"MODEL"`
	MaxTokens      int            `json:"maxTokens,omitempty" env:"MAX_TOKENS"`
	Temperature    float64        `json:"temperature,omitempty" env:"TEMPERATURE"`
	TimeoutSeconds int            `json:"timeoutSeconds,omitempty" env:"TIMEOUT_SECONDS"`
	Provider       ProviderConfig `json:"provider"`
}

type EngineConfig struct {
	Timezone            string  `json:"timezone" env:"TIMEZONE"`
	MaxCatchUpDays      int     `json:"maxCatchUpDays" env:"MAX_CATCH_UP_DAYS"`
	ContextLimit        int     `json:"contextLimit" env:"CONTEXT_LIMIT"`
	MinIntensity        float64 `json:"minIntensity" env:"MIN_INTENSITY"`
	SurfaceWindowDays   int     `json:"surfaceWindowDays" env:"SURFACE_WINDOW_DAYS"`
	CooldownHours       int     `json:"cooldownHours" env:"COOLDOWN_HOURS"`
	DuplicateWindowDays int     `json:"duplicateWindowDays" env:"DUPLICATE_WINDOW_DAYS"`
	DuplicateThreshold  float64 `json:"duplicateThreshold" env:"DUPLICATE_THRESHOLD"`
	ExclusivityScope    string  `json:"exclusivityScope" env:"EXCLUSIVITY_SCOPE"` // "global" or "category"
}

type StorageConfig struct {
	DBPath string `json:"dbPath,omitempty" env:"DB_PATH"`
}

type SchedulerConfig struct {
	Enabled   bool   `json:"enabled" env:"ENABLED"`
	DailyExpr string `json:"dailyExpr,omitempty" env:"DAILY_EXPR"`
}

type TelemetryConfig struct {
	Enabled     bool   `json:"enabled" env:"ENABLED"`
	Endpoint    string `json:"endpoint,omitempty" env:"ENDPOINT"`
	ServiceName string `json:"serviceName,omitempty" env:"SERVICE_NAME"`
}

func DefaultConfig() *Config {
	return &Config{
		Persona: PersonaConfig{Name: "Kayley"},
		Generation: GenerationConfig{
			Model:          DefaultModel,
			MaxTokens:      DefaultMaxTokens,
			Temperature:    DefaultTemperature,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		Engine: EngineConfig{
			Timezone:            DefaultTimezone,
			MaxCatchUpDays:      DefaultMaxCatchUpDays,
			ContextLimit:        DefaultContextLimit,
			MinIntensity:        DefaultMinIntensity,
			SurfaceWindowDays:   DefaultSurfaceWindowDays,
			CooldownHours:       DefaultCooldownHours,
			DuplicateWindowDays: DefaultDuplicateWindowDays,
			DuplicateThreshold:  DefaultDuplicateThreshold,
			ExclusivityScope:    DefaultExclusivityScope,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(ConfigDir(), "data", "storylines.db"),
		},
		Scheduler: SchedulerConfig{
			Enabled:   true,
			DailyExpr: DefaultDailyExpr,
		},
		Telemetry: TelemetryConfig{
			ServiceName: DefaultServiceName,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".lifethreads")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("ANTHROPIC_BASE_URL"); url != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = url
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if strings.TrimSpace(c.Generation.Model) == "" {
		c.Generation.Model = d.Generation.Model
	}
	if c.Generation.MaxTokens <= 0 {
		c.Generation.MaxTokens = d.Generation.MaxTokens
	}
	if c.Generation.Temperature <= 0 {
		c.Generation.Temperature = d.Generation.Temperature
	}
	if c.Generation.TimeoutSeconds <= 0 {
		c.Generation.TimeoutSeconds = d.Generation.TimeoutSeconds
	}
	if strings.TrimSpace(c.Engine.Timezone) == "" {
		c.Engine.Timezone = d.Engine.Timezone
	}
	if c.Engine.MaxCatchUpDays <= 0 {
		c.Engine.MaxCatchUpDays = d.Engine.MaxCatchUpDays
	}
	if c.Engine.ContextLimit <= 0 {
		c.Engine.ContextLimit = d.Engine.ContextLimit
	}
	if c.Engine.MinIntensity < 0 || c.Engine.MinIntensity > 1 {
		c.Engine.MinIntensity = d.Engine.MinIntensity
	}
	if c.Engine.SurfaceWindowDays <= 0 {
		c.Engine.SurfaceWindowDays = d.Engine.SurfaceWindowDays
	}
	if c.Engine.CooldownHours < 0 {
		c.Engine.CooldownHours = d.Engine.CooldownHours
	}
	if c.Engine.DuplicateWindowDays <= 0 {
		c.Engine.DuplicateWindowDays = d.Engine.DuplicateWindowDays
	}
	if c.Engine.DuplicateThreshold <= 0 || c.Engine.DuplicateThreshold > 1 {
		c.Engine.DuplicateThreshold = d.Engine.DuplicateThreshold
	}
	switch strings.ToLower(strings.TrimSpace(c.Engine.ExclusivityScope)) {
	case "category":
		c.Engine.ExclusivityScope = "category"
	default:
		c.Engine.ExclusivityScope = DefaultExclusivityScope
	}
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		c.Storage.DBPath = d.Storage.DBPath
	}
	if strings.TrimSpace(c.Scheduler.DailyExpr) == "" {
		c.Scheduler.DailyExpr = d.Scheduler.DailyExpr
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
}

// GenerationProvider resolves the provider used for generation calls.
func (c *Config) GenerationProvider() ProviderConfig {
	p := c.Generation.Provider
	if p.Type == "" {
		p.Type = c.Provider.Type
	}
	if p.APIKey == "" {
		p.APIKey = c.Provider.APIKey
	}
	if p.BaseURL == "" {
		p.BaseURL = c.Provider.BaseURL
	}
	return p
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
