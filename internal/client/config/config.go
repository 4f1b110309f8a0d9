// Package config resolves archctl settings from an optional YAML file and the
// environment. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultAPIBase = "http://localhost:8787/api"

type Config struct {
	APIBase        string `yaml:"api_base"`
	BackendURL     string `yaml:"backend_url"`
	BackendAnonKey string `yaml:"backend_anon_key"`
	StateFile      string `yaml:"state_file"`
}

// FunctionMode reports whether both managed-backend values are present.
func (c Config) FunctionMode() bool {
	return strings.TrimSpace(c.BackendURL) != "" && strings.TrimSpace(c.BackendAnonKey) != ""
}

// Load reads path (when non-empty) and applies environment overrides. A
// missing file at path is an error; the defaults need no file.
func Load(path string) (Config, error) {
	cfg := Config{
		APIBase:   DefaultAPIBase,
		StateFile: defaultStateFile(),
	}
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		var fromFile Config
		if err := yaml.Unmarshal(raw, &fromFile); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		merge(&cfg, fromFile)
	}
	merge(&cfg, Config{
		APIBase:        os.Getenv("ARCHBOARD_API_BASE"),
		BackendURL:     os.Getenv("ARCHBOARD_BACKEND_URL"),
		BackendAnonKey: os.Getenv("ARCHBOARD_BACKEND_ANON_KEY"),
		StateFile:      os.Getenv("ARCHBOARD_STATE_FILE"),
	})
	cfg.APIBase = strings.TrimSuffix(cfg.APIBase, "/")
	if cfg.StateFile == "" {
		return Config{}, errors.New("no state file location: set ARCHBOARD_STATE_FILE")
	}
	return cfg, nil
}

func merge(dst *Config, src Config) {
	set := func(target *string, value string) {
		if value = strings.TrimSpace(value); value != "" {
			*target = value
		}
	}
	set(&dst.APIBase, src.APIBase)
	set(&dst.BackendURL, src.BackendURL)
	set(&dst.BackendAnonKey, src.BackendAnonKey)
	set(&dst.StateFile, src.StateFile)
}

func defaultStateFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "archboard", "state.yaml")
}
