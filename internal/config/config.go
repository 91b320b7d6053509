package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, isYAML(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// configWithDefaults is used for proper default handling of fields whose
// zero value is meaningful (a zero TTL expires entries immediately)
type configWithDefaults struct {
	Config                `yaml:",inline"`
	CacheTTLPtr           *int `json:"cacheTTL" yaml:"cacheTTL"`
	CacheSweepIntervalPtr *int `json:"cacheSweepInterval" yaml:"cacheSweepInterval"`
}

// Parse decodes a JSON or YAML document into a validated Config
func Parse(data []byte, asYAML bool) (*Config, error) {
	var rawCfg configWithDefaults
	if asYAML {
		if err := yaml.Unmarshal(data, &rawCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &rawCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg := &rawCfg.Config

	if rawCfg.CacheTTLPtr != nil {
		cfg.CacheTTL = *rawCfg.CacheTTLPtr
	} else {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if rawCfg.CacheSweepIntervalPtr != nil {
		cfg.CacheSweepInterval = *rawCfg.CacheSweepIntervalPtr
	} else {
		cfg.CacheSweepInterval = DefaultCacheSweepInterval
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path, or returns the defaults when path is empty
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	// CacheSize, RPCTimeout, UpstreamTimeout and RestartDelay default to 0, which is valid
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	if cfg.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.CacheSize < 0 {
		return fmt.Errorf("cacheSize must be non-negative")
	}

	if cfg.CacheSweepInterval < 0 {
		return fmt.Errorf("cacheSweepInterval must be non-negative")
	}

	if cfg.RPCTimeout < 0 {
		return fmt.Errorf("rpcTimeout must be non-negative")
	}

	if cfg.UpstreamTimeout < 0 {
		return fmt.Errorf("upstreamTimeout must be non-negative")
	}

	if cfg.RestartDelay < 0 {
		return fmt.Errorf("restartDelay must be non-negative")
	}

	return nil
}
