package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	configFile = "config.toml"

	defaultHost       = "localhost"
	defaultPort       = "8161"
	defaultBrokerName = "amq-broker-primary"
	defaultOrigin     = "mydomain.com"
	defaultTimeoutSec = 10
)

// FileConfig is the TOML file structure.
type FileConfig struct {
	Proto          string             `toml:"proto"`
	DBPath         string             `toml:"db"`
	Capture        bool               `toml:"capture"`
	TimeoutSeconds int                `toml:"timeout_seconds"`
	Profiles       map[string]Profile `toml:"profiles"`
}

// Profile is a named broker connection profile.
type Profile struct {
	Host       string `toml:"host"`
	Port       string `toml:"port"`
	BrokerName string `toml:"broker_name"`
	Origin     string `toml:"origin"`
}

// Config is the resolved runtime config after profile selection. It is
// built once at startup and immutable thereafter.
type Config struct {
	Host       string
	Port       string
	BrokerName string
	Origin     string

	ProtoPath      string
	DBPath         string
	Capture        bool
	TimeoutSeconds int

	// For diagnostics
	ConfigDir string
}

// BaseURL returns the bridge base URL for the configured broker.
func (c Config) BaseURL() string {
	return fmt.Sprintf("http://%s:%s/console/jolokia", c.Host, c.Port)
}

// LoadFileConfig loads config.toml from configDir.
// Returns a zero-value FileConfig (no error) if the file doesn't exist.
func LoadFileConfig(configDir string) (*FileConfig, error) {
	path := filepath.Join(configDir, configFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &FileConfig{}, nil
		}
		return nil, err
	}

	var cfg FileConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve merges a profile (by name) with env vars and defaults into a
// runtime Config. Profile values win over environment, environment over
// defaults. If profileName is empty or not found, only env/defaults apply.
func (fc FileConfig) Resolve(profileName string, configDir string) Config {
	cfg := Config{
		ProtoPath: fc.Proto,
		DBPath:    fc.DBPath,
		Capture:   fc.Capture,
		ConfigDir: configDir,
	}

	cfg.TimeoutSeconds = fc.TimeoutSeconds
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultTimeoutSec
	}

	p := fc.Profiles[profileName]

	cfg.Host = firstOf(p.Host, os.Getenv("AMQ_HOST"), defaultHost)
	cfg.Port = firstOf(p.Port, os.Getenv("AMQ_PORT"), defaultPort)
	cfg.BrokerName = firstOf(p.BrokerName, os.Getenv("AMQ_BROKER_NAME"), defaultBrokerName)
	cfg.Origin = firstOf(p.Origin, os.Getenv("AMQ_ORIGIN"), defaultOrigin)

	return cfg
}

// ProfileNames returns a sorted list of profile names.
func (fc FileConfig) ProfileNames() []string {
	names := make([]string, 0, len(fc.Profiles))
	for name := range fc.Profiles {
		names = append(names, name)
	}
	// Sort for deterministic ordering
	sortStrings(names)
	return names
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
