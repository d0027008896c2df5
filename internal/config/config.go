// Package config loads, validates and serializes the wifisplit TOML
// configuration, and turns the raw prefix lists into a parsed policy.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/netfence/wifisplit/internal/log"
)

const (
	DefaultPollIntervalSeconds   = 5
	DefaultMaxApplyRetries       = 3
	DefaultBackendTimeoutSeconds = 15
	DefaultAPIListen             = "127.0.0.1:8321"
	DefaultSelfCheckHostname     = "captive.apple.com"
)

// LoadConfig reads and parses the TOML configuration file, filling in
// defaults for optional fields. It does not validate; call ValidateConfig
// on the result.
func LoadConfig(configPath string) (*Config, error) {
	configFile := filepath.Clean(configPath)

	if !filepath.IsAbs(configFile) {
		path, err := filepath.Abs(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %v", err)
		}
		configFile = path
	}

	content, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}

	var config Config
	if err := toml.Unmarshal(content, &config); err != nil {
		var derr *toml.DecodeError
		if stderrors.As(err, &derr) {
			log.Errorf(derr.String())
			row, col := derr.Position()
			log.Errorf("Error at line %d, column %d", row, col)
			return nil, fmt.Errorf("failed to parse config file")
		}
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	config._absConfigFilePath = configFile
	config.applyDefaults()

	log.Debugf("Configuration file path: %s", configFile)

	return &config, nil
}

// applyDefaults fills in default values for optional settings.
func (c *Config) applyDefaults() {
	if c.General != nil {
		if c.General.PollIntervalSeconds == 0 {
			c.General.PollIntervalSeconds = DefaultPollIntervalSeconds
		}
		if c.General.MaxApplyRetries == 0 {
			c.General.MaxApplyRetries = DefaultMaxApplyRetries
		}
		if c.General.BackendTimeoutSeconds == 0 {
			c.General.BackendTimeoutSeconds = DefaultBackendTimeoutSeconds
		}
		if c.General.StateDir == "" {
			c.General.StateDir = "/var/lib/wifisplit"
		}
		if c.General.SelfCheckHostname == "" {
			c.General.SelfCheckHostname = DefaultSelfCheckHostname
		}
	}
	if c.API == nil {
		c.API = &APIConfig{Enabled: true}
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}
	for _, ex := range c.Exemptions {
		if ex.Direction == "" {
			ex.Direction = "both"
		}
	}
}

// GetConfigDir returns the directory containing the loaded config file.
func (c *Config) GetConfigDir() string {
	return filepath.Dir(c._absConfigFilePath)
}

// SerializeConfig renders the configuration back to TOML.
func (c *Config) SerializeConfig() (*bytes.Buffer, error) {
	buf := bytes.Buffer{}
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return &buf, nil
}
