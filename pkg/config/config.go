// Package config loads the application configuration from YAML with
// environment fallbacks for secrets. Agent credentials are deliberately NOT
// part of this file: they follow the {AGENT_NAME}_PRIVATE_KEY environment
// convention and are resolved at client-construction time.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// maxConfigSize bounds the config file to keep a mistyped path (or a binary)
// from being slurped into memory.
const maxConfigSize = 1 << 20

// Config represents the application configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`

	// Agents maps logical agent names to their connection parameters.
	Agents map[string]AgentConfig `yaml:"agents"`

	Speech SpeechConfig `yaml:"speech"`
	Limits LimitsConfig `yaml:"limits"`
}

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// StoreConfig selects and configures the conversation store backend.
type StoreConfig struct {
	// Backend is "redis" or "mongo".
	Backend string `yaml:"backend"`

	Redis RedisConfig `yaml:"redis"`
	Mongo MongoConfig `yaml:"mongo"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	PoolSize int    `yaml:"pool_size"`
}

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// AgentConfig holds configuration for a single agent
type AgentConfig struct {
	Endpoint string `yaml:"endpoint"`
	Kind     string `yaml:"kind"`
	Model    string `yaml:"model"`
}

// SpeechConfig holds ElevenLabs settings. The API key falls back to the
// ELEVENLABS_API_KEY environment variable.
type SpeechConfig struct {
	APIKey   string `yaml:"api_key"`
	VoiceID  string `yaml:"voice_id"`
	TTSModel string `yaml:"tts_model"`
	STTModel string `yaml:"stt_model"`
}

// LimitsConfig tunes history windows, retention, and upstream rate limits.
type LimitsConfig struct {
	// HistoryWindow is how many trailing messages go upstream as context.
	HistoryWindow int `yaml:"history_window"`
	// HistoryRetention is the store-side per-conversation message cap.
	HistoryRetention int `yaml:"history_retention"`
	// AgentRPS caps per-agent upstream calls per second.
	AgentRPS float64 `yaml:"agent_rps"`
	// AgentBurst is the per-agent rate limiter burst size.
	AgentBurst int `yaml:"agent_burst"`
	// SessionCapacity bounds concurrent roleplay sessions.
	SessionCapacity int `yaml:"session_capacity"`
	// SessionTTLMinutes is how long an idle roleplay session survives.
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes", info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "redis"
	}
	if c.Store.Redis.Addr == "" {
		c.Store.Redis.Addr = envOr("REDIS_ADDR", "localhost:6379")
	}
	if c.Store.Mongo.URI == "" {
		c.Store.Mongo.URI = envOr("MONGODB_URI", "mongodb://localhost:27017")
	}
	if c.Speech.APIKey == "" {
		c.Speech.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	}
	if c.Limits.HistoryWindow == 0 {
		c.Limits.HistoryWindow = 50
	}
	if c.Limits.HistoryRetention == 0 {
		c.Limits.HistoryRetention = 200
	}
	if c.Limits.AgentRPS == 0 {
		c.Limits.AgentRPS = 5
	}
	if c.Limits.AgentBurst == 0 {
		c.Limits.AgentBurst = 10
	}
	if c.Limits.SessionCapacity == 0 {
		c.Limits.SessionCapacity = 1000
	}
	if c.Limits.SessionTTLMinutes == 0 {
		c.Limits.SessionTTLMinutes = 30
	}
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "redis", "mongo":
	default:
		return fmt.Errorf("unknown store backend: %q", c.Store.Backend)
	}

	for name, agent := range c.Agents {
		switch agent.Kind {
		case "", "chat":
			if agent.Endpoint == "" {
				return fmt.Errorf("agent %s: endpoint is required for chat agents", name)
			}
		case "freeform":
		default:
			return fmt.Errorf("agent %s: unknown kind %q", name, agent.Kind)
		}
	}

	if c.Limits.HistoryWindow > c.Limits.HistoryRetention {
		return fmt.Errorf("history_window (%d) must not exceed history_retention (%d)",
			c.Limits.HistoryWindow, c.Limits.HistoryRetention)
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
