package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all skillkern configuration
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Skill discovery and lifecycle
	Skills SkillsConfig `json:"skills"`

	// Tool surface shaping
	Tools ToolsConfig `json:"tools"`

	// Command execution settings
	Execution ExecutionConfig `json:"execution"`

	// Optional WebSocket gateway (shares the stdio envelope contract)
	Gateway GatewayConfig `json:"gateway,omitempty"`
}

type ServerConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
}

// SkillsConfig controls discovery and the loaded-skill lifecycle.
type SkillsConfig struct {
	// Dir is the skills root; each subdirectory with a SKILL.md is a skill.
	Dir string `json:"dir"`

	// CoreSkills are pinned: exempt from TTL expiry and forced eviction.
	CoreSkills []string `json:"coreSkills,omitempty"`

	// TTLSeconds is how long an untouched skill stays loaded.
	TTLSeconds int `json:"ttlSeconds"`

	// MaxLoaded caps concurrently loaded skills (0 = unlimited).
	MaxLoaded int `json:"maxLoaded"`

	// SweepIntervalSeconds is the period of the background expiry sweep.
	SweepIntervalSeconds int `json:"sweepIntervalSeconds"`
}

// ToolsConfig shapes the tools/list surface.
type ToolsConfig struct {
	// Exclude lists fully-qualified tool names never exposed.
	Exclude []string `json:"exclude,omitempty"`

	// ListCap truncates tools/list when the unfiltered count exceeds it
	// (0 = no cap). Truncation is logged, not an error.
	ListCap int `json:"listCap"`
}

type ExecutionConfig struct {
	// IsolatedTimeoutSeconds bounds isolated-mode subprocess calls.
	IsolatedTimeoutSeconds int `json:"isolatedTimeoutSeconds"`
}

type GatewayConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host,omitempty"`
	Port    int    `json:"port"`
	// AuthSecret enables JWT bearer auth on gateway connections when set.
	AuthSecret string `json:"authSecret,omitempty"`
}

// TTL returns the skill time-to-live as a duration.
func (s SkillsConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// SweepInterval returns the sweep period as a duration.
func (s SkillsConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// IsolatedTimeout returns the isolated-mode timeout as a duration.
func (e ExecutionConfig) IsolatedTimeout() time.Duration {
	return time.Duration(e.IsolatedTimeoutSeconds) * time.Second
}

// DefaultSkillsDir returns the default ~/.skillkern/skills/ path.
func DefaultSkillsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".skillkern", "skills")
	}
	return filepath.Join(home, ".skillkern", "skills")
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir:  "./data",
			LogLevel: "info",
		},
		Skills: SkillsConfig{
			Dir:                  DefaultSkillsDir(),
			TTLSeconds:           300,
			MaxLoaded:            16,
			SweepIntervalSeconds: 60,
		},
		Execution: ExecutionConfig{
			IsolatedTimeoutSeconds: 60,
		},
		Gateway: GatewayConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8421,
		},
	}
}

// Load reads config from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to a JSON file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}
