// Package config loads arena configuration from YAML with environment
// overrides.
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

// Duration is a time.Duration that unmarshals from YAML strings like
// "90s" or "15m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Gateway GatewayConfig `yaml:"gateway"`
	Debate  DebateConfig  `yaml:"debate"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Storage StorageConfig `yaml:"storage"`
}

type ServerConfig struct {
	Port  int    `yaml:"port"`
	Token string `yaml:"token"` // bearer token for mutating endpoints
	// RateLimit is the per-client request budget per minute.
	RateLimit int `yaml:"rate_limit"`
}

type GatewayConfig struct {
	APIKey         string   `yaml:"api_key"`
	BaseURL        string   `yaml:"base_url"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

type DebateConfig struct {
	// Roster is the fixed speaking order for new debates.
	Roster []string `yaml:"roster"`
	// Categories maps a category name to its topic pool.
	Categories map[string][]string `yaml:"categories"`

	MaxTurns          int      `yaml:"max_turns"`
	FirstTokenTimeout Duration `yaml:"first_token_timeout"`
	PausePoll         Duration `yaml:"pause_poll"`
	PacingDelay       Duration `yaml:"pacing_delay"`
	MaxSkippedTurns   int      `yaml:"max_skipped_turns"`
	StaleThreshold    Duration `yaml:"stale_threshold"`
	TranscriptWindow  int      `yaml:"transcript_window"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      8080,
			RateLimit: 60,
		},
		Gateway: GatewayConfig{
			BaseURL:        "https://openrouter.ai/api/v1",
			RequestTimeout: Duration(60 * time.Second),
		},
		Debate: DebateConfig{
			Roster: []string{
				"openai/gpt-4o-mini",
				"anthropic/claude-3.5-haiku",
				"google/gemini-flash-1.5",
				"meta-llama/llama-3.1-70b-instruct",
			},
			MaxTurns:          40,
			FirstTokenTimeout: Duration(90 * time.Second),
			PausePoll:         Duration(10 * time.Second),
			PacingDelay:       Duration(3 * time.Second),
			MaxSkippedTurns:   3,
			StaleThreshold:    Duration(15 * time.Minute),
			TranscriptWindow:  10,
		},
		Kafka: KafkaConfig{
			Topic: "arena-events",
		},
	}
}

// Load reads configuration from path (optional) layered over defaults,
// then applies .env and environment overrides. A missing config file is
// not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// .env is optional and never overrides a variable already set in
	// the environment.
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENROUTER_KEY"); v != "" {
		c.Gateway.APIKey = v
	}
	if v := os.Getenv("OPENROUTER_BASE_URL"); v != "" {
		c.Gateway.BaseURL = v
	}
	if v := os.Getenv("SERVER_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("ARENA_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
}

// Validate checks invariants that would otherwise fail at runtime.
func (c *Config) Validate() error {
	if len(c.Debate.Roster) == 0 {
		return fmt.Errorf("debate roster must not be empty")
	}
	if c.Debate.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive")
	}
	if c.Debate.MaxTurns < len(c.Debate.Roster) {
		return fmt.Errorf("max_turns (%d) must allow every roster member at least one turn", c.Debate.MaxTurns)
	}
	seen := make(map[string]bool, len(c.Debate.Roster))
	for _, m := range c.Debate.Roster {
		if m == "" {
			return fmt.Errorf("roster contains an empty model id")
		}
		if seen[m] {
			return fmt.Errorf("roster contains duplicate model %q", m)
		}
		seen[m] = true
	}
	return nil
}
