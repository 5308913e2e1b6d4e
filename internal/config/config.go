// Package config resolves the tenex home directory and loads the YAML
// daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ResolveHome returns the tenex home directory (override, TENEX_HOME, or
// default ~/.tenex).
func ResolveHome(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	if env := os.Getenv("TENEX_HOME"); env != "" {
		return filepath.Clean(env), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("could not determine user home directory")
	}
	return filepath.Join(home, ".tenex"), nil
}

// AgentConfig names one collaborating agent identity.
type AgentConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Config is the daemon configuration loaded from home/config.yaml.
type Config struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Store struct {
		Driver string `yaml:"driver"` // "sqlite" (default) or "postgres"
		DSN    string `yaml:"dsn"`    // postgres connection string
	} `yaml:"store"`
	LLM struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
	} `yaml:"llm"`
	Project struct {
		Root string `yaml:"root"` // sandbox root for tool execution
	} `yaml:"project"`
	Shell struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
		DisplayCap     int `yaml:"display_cap"`
	} `yaml:"shell"`
	Reflection struct {
		CorrectionThreshold float64 `yaml:"correction_threshold"`
	} `yaml:"reflection"`
	Agents []AgentConfig `yaml:"agents"`
}

// ShellTimeout returns the configured shell timeout, or 0 for the default.
func (c *Config) ShellTimeout() time.Duration {
	return time.Duration(c.Shell.TimeoutSeconds) * time.Second
}

// Load reads home/config.yaml. A missing file yields defaults; OPENAI_API_KEY
// and DATABASE_URL env vars override their file counterparts.
func Load(home string) (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Addr = "127.0.0.1:8741"
	cfg.Store.Driver = "sqlite"

	path := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if env := os.Getenv("OPENAI_API_KEY"); env != "" {
		cfg.LLM.APIKey = env
	}
	if env := os.Getenv("DATABASE_URL"); env != "" && cfg.Store.Driver == "postgres" {
		cfg.Store.DSN = env
	}
	if cfg.Project.Root == "" {
		cfg.Project.Root, _ = os.Getwd()
	}
	return cfg, nil
}
