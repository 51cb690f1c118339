// Package config loads the YAML/JSON configuration file described in the
// external-interfaces contract: a default model, a map of named model
// profiles, working-memory sizing, and the Gateway/Agent listen addresses.
// ${VAR} placeholders in any string value are resolved against the process
// environment at load time.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelConfig is one entry of the `models` map.
type ModelConfig struct {
	Provider    string  `yaml:"provider" json:"provider"`
	Model       string  `yaml:"model" json:"model"`
	APIKey      string  `yaml:"api_key" json:"api_key"`
	APIBase     string  `yaml:"api_base" json:"api_base"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Timeout     int     `yaml:"timeout" json:"timeout"`
	Name        string  `yaml:"name" json:"name"`
}

// Hidden reports whether this model must be hidden from /api/models (P10):
// its API key did not resolve, or still contains an unresolved "YOUR_"
// placeholder.
func (m ModelConfig) Hidden() bool {
	return m.APIKey == "" || strings.Contains(m.APIKey, "YOUR_") || envPlaceholder.MatchString(m.APIKey)
}

// AgentConfig holds ReAct-engine-wide tuning knobs.
type AgentConfig struct {
	MaxWorkingMemory int `yaml:"max_working_memory" json:"max_working_memory"`
}

// ServerConfig is a generic host/port/debug block, shared by the web and
// grpc sections.
type ServerConfig struct {
	Host  string `yaml:"host" json:"host"`
	Port  int    `yaml:"port" json:"port"`
	Debug bool   `yaml:"debug" json:"debug"`
}

// Config is the root of the configuration file.
type Config struct {
	DefaultModel string                 `yaml:"default_model" json:"default_model"`
	Models       map[string]ModelConfig `yaml:"models" json:"models"`
	Agent        AgentConfig            `yaml:"agent" json:"agent"`
	Web          ServerConfig           `yaml:"web" json:"web"`
	GRPC         ServerConfig           `yaml:"grpc" json:"grpc"`
}

// Load reads and decodes the configuration file at path. The format is
// chosen by file extension (.yaml/.yml or .json); any other extension is an
// error. ${VAR} placeholders are resolved after decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unsupported extension %q", ext)
	}

	resolveEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.MaxWorkingMemory == 0 {
		cfg.Agent.MaxWorkingMemory = 10
	}
	for id, m := range cfg.Models {
		if m.Temperature == 0 {
			m.Temperature = 0.7
		}
		if m.MaxTokens == 0 {
			m.MaxTokens = 2000
		}
		if m.Timeout == 0 {
			m.Timeout = 30
		}
		cfg.Models[id] = m
	}
}

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces every ${VAR} occurrence in s with the environment
// value, leaving unresolved placeholders untouched.
func expandEnv(s string) string {
	return envPlaceholder.ReplaceAllStringFunc(s, func(match string) string {
		name := envPlaceholder.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// resolveEnv walks every string field that may legitimately carry a
// ${VAR} placeholder and expands it in place.
func resolveEnv(cfg *Config) {
	cfg.DefaultModel = expandEnv(cfg.DefaultModel)
	cfg.Web.Host = expandEnv(cfg.Web.Host)
	cfg.GRPC.Host = expandEnv(cfg.GRPC.Host)
	for id, m := range cfg.Models {
		m.APIKey = expandEnv(m.APIKey)
		m.APIBase = expandEnv(m.APIBase)
		m.Model = expandEnv(m.Model)
		m.Name = expandEnv(m.Name)
		cfg.Models[id] = m
	}
}

// VisibleModels returns the subset of Models not Hidden(), keyed by id.
func (c *Config) VisibleModels() map[string]ModelConfig {
	out := make(map[string]ModelConfig, len(c.Models))
	for id, m := range c.Models {
		if !m.Hidden() {
			out[id] = m
		}
	}
	return out
}
