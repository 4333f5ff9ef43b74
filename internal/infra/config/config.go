// Package config loads and validates the bot configuration from YAML.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kotori-ai/internal/domain"
)

// Config is the root configuration.
type Config struct {
	Bot          BotConfig          `yaml:"bot"`
	LLM          LLMConfig          `yaml:"llm"`
	Conversation ConversationConfig `yaml:"conversation"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Discord      *DiscordConfig     `yaml:"discord,omitempty"`
}

// BotConfig holds identity and prompt settings.
type BotConfig struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"` // may contain {current_date} and {current_time}
	Timezone     string `yaml:"timezone"`      // IANA name, default UTC
}

// LLMConfig holds provider and routing settings.
type LLMConfig struct {
	Model           string                    `yaml:"model"` // default "provider/model"
	AvailableModels []string                  `yaml:"available_models"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
	Failover        FailoverConfig            `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig      `yaml:"circuit_breaker"`
}

// ProviderConfig holds settings for a single LLM provider. Credentials may be
// given either as an api_keys list or as the numbered api_key1..api_keyN keys;
// numbered keys are collected in ascending order after the list.
type ProviderConfig struct {
	Type              string        `yaml:"type"` // "openai", "gemini", "local"
	BaseURL           string        `yaml:"base_url"`
	APIKeys           []string      `yaml:"api_keys"`
	ConnTimeout       time.Duration `yaml:"conn_timeout"`
	RespTimeout       time.Duration `yaml:"resp_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"` // 0 = unlimited
}

// UnmarshalYAML decodes a provider section, folding legacy numbered
// api_key<N> entries into APIKeys ordered by N.
func (p *ProviderConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain ProviderConfig
	if err := value.Decode((*plain)(p)); err != nil {
		return err
	}

	var raw map[string]yaml.Node
	if err := value.Decode(&raw); err != nil {
		return err
	}

	type numbered struct {
		n   int
		key string
	}
	var extra []numbered
	for k, node := range raw {
		if !strings.HasPrefix(k, "api_key") || k == "api_keys" {
			continue
		}
		suffix := strings.TrimPrefix(k, "api_key")
		var secret string
		if err := node.Decode(&secret); err != nil || secret == "" {
			continue
		}
		if suffix == "" {
			// bare "api_key" sorts before api_key1
			extra = append(extra, numbered{n: 0, key: secret})
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		extra = append(extra, numbered{n: n, key: secret})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].n < extra[j].n })
	for _, e := range extra {
		p.APIKeys = append(p.APIKeys, e.key)
	}
	return nil
}

// FailoverConfig tunes the credential rotation loop.
type FailoverConfig struct {
	// MaxAttempts caps retryable attempts per request; 0 means pool size.
	MaxAttempts int `yaml:"max_attempts"`
	// DefaultCooldown applies to rate-limited credentials when the provider
	// did not suggest a retry-after value.
	DefaultCooldown time.Duration `yaml:"default_cooldown"`
	// ShortCooldown applies to server and network failures.
	ShortCooldown time.Duration `yaml:"short_cooldown"`
	// BadCredentialCooldown, when > 0, re-enables a 401/403 credential after
	// the given duration instead of disabling it for the process lifetime.
	BadCredentialCooldown time.Duration `yaml:"bad_credential_cooldown"`
}

// CircuitBreakerConfig holds circuit breaker settings per provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ConversationConfig bounds per-channel history and store persistence.
type ConversationConfig struct {
	MaxTurns     int           `yaml:"max_turns"`
	MaxTokens    int           `yaml:"max_tokens"` // prompt token budget for history
	StaleAfter   time.Duration `yaml:"stale_after"`
	ReapSchedule string        `yaml:"reap_schedule"` // cron expression
	DataDir      string        `yaml:"data_dir"`      // bios and global memory files
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// DiscordConfig holds the Discord transport settings.
type DiscordConfig struct {
	Token       string   `yaml:"token"`
	GuildID     string   `yaml:"guild_id,omitempty"`
	ChannelIDs  []string `yaml:"channel_ids,omitempty"`
	MentionOnly bool     `yaml:"mention_only"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Bot: BotConfig{
			Name:         "kotori",
			SystemPrompt: "You are kotori, a helpful chat assistant. Today is {current_date}, {current_time}.",
			Timezone:     "UTC",
		},
		LLM: LLMConfig{
			Failover: FailoverConfig{
				DefaultCooldown: 30 * time.Second,
				ShortCooldown:   5 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Conversation: ConversationConfig{
			MaxTurns:     40,
			MaxTokens:    6000,
			StaleAfter:   24 * time.Hour,
			ReapSchedule: "@hourly",
			DataDir:      "./data",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads a YAML config file, expands ${ENV_VAR} references, applies it on
// top of Defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConfigLoad, path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes on top of Defaults and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	expanded := os.Expand(string(data), func(name string) string {
		return os.Getenv(name)
	})
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigLoad, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("%w: llm.model is required", domain.ErrConfigLoad)
	}
	if err := validateModelRef(c.LLM.Model, c.LLM.Providers); err != nil {
		return err
	}
	for _, m := range c.LLM.AvailableModels {
		if err := validateModelRef(m, c.LLM.Providers); err != nil {
			return err
		}
	}
	for name, p := range c.LLM.Providers {
		switch p.Type {
		case "openai", "gemini", "local":
		case "":
			return fmt.Errorf("%w: provider %q: type is required", domain.ErrConfigLoad, name)
		default:
			return fmt.Errorf("%w: provider %q: unknown type %q", domain.ErrConfigLoad, name, p.Type)
		}
		if len(p.APIKeys) == 0 && p.Type != "local" {
			return fmt.Errorf("%w: provider %q: at least one api key is required", domain.ErrConfigLoad, name)
		}
	}
	if c.Conversation.MaxTurns <= 0 {
		return fmt.Errorf("%w: conversation.max_turns must be positive", domain.ErrConfigLoad)
	}
	return nil
}

func validateModelRef(model string, providers map[string]ProviderConfig) error {
	name, _, ok := strings.Cut(model, "/")
	if !ok || name == "" {
		return fmt.Errorf("%w: model %q must be \"provider/model\"", domain.ErrConfigLoad, model)
	}
	if _, found := providers[name]; !found {
		return fmt.Errorf("%w: model %q references unknown provider %q", domain.ErrConfigLoad, model, name)
	}
	return nil
}
