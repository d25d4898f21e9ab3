// Package config handles TOML configuration loading with environment
// variable substitution.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Emby     EmbyConfig     `toml:"emby"`
	Network  NetworkConfig  `toml:"network"`
	OneBot   OneBotConfig   `toml:"onebot"`
	Features FeaturesConfig `toml:"features"`
	Workdir  WorkdirConfig  `toml:"workdir"`
	Push     PushConfig     `toml:"push"`
}

type ServerConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port" validate:"omitempty,min=1,max=65535"`
	LogLevel string `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// EmbyConfig covers the media server used for image resolution.
type EmbyConfig struct {
	Host   string `toml:"host" validate:"omitempty,url"`
	APIKey string `toml:"api_key"`
}

type NetworkConfig struct {
	Proxy string `toml:"proxy" validate:"omitempty,url"`
}

// OneBotConfig is the outgoing message transport.
type OneBotConfig struct {
	URL         string `toml:"url" validate:"omitempty,url"`
	AccessToken string `toml:"access_token"`
}

type FeaturesConfig struct {
	// EmbyEnabled allows resolving opaque image tags against the Emby
	// host.
	EmbyEnabled bool `toml:"emby_enabled"`
	// TitleMatch enables fuzzy title lookup when a record has no tmdb
	// id.
	TitleMatch bool `toml:"title_match"`
}

type WorkdirConfig struct {
	CacheDir     string `toml:"cache_dir"`
	DefaultImage string `toml:"default_image"`
	Template     string `toml:"template"`
}

// PushConfig holds the merge window and per-source allow-lists.
type PushConfig struct {
	DebounceSeconds int           `toml:"debounce_seconds" validate:"omitempty,min=1"`
	AniRSS          TargetsConfig `toml:"anirss"`
	Emby            TargetsConfig `toml:"emby"`
}

type TargetsConfig struct {
	Groups  []string `toml:"groups"`
	Private []string `toml:"private"`
}

// DebounceWindow returns the configured quiet window.
func (p PushConfig) DebounceWindow() time.Duration {
	return time.Duration(p.DebounceSeconds) * time.Second
}

// Load reads and parses the configuration file. Unresolved ${VAR}
// references and validation failures are reported together through
// *ConfigError.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	content, missing := substituteEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(content, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	cerr := &ConfigError{Path: path, Missing: missing, Errors: cfg.Validate()}
	if cerr.HasErrors() {
		return nil, cerr
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8428
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/anipush.db"
	}
	if c.Workdir.CacheDir == "" {
		c.Workdir.CacheDir = "./data/images"
	}
	if c.Push.DebounceSeconds == 0 {
		c.Push.DebounceSeconds = 60
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable
// values and reports the names that could not be resolved.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(content string) (string, []string) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1] // Strip ${ and }
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		missing = append(missing, varName)
		return match
	})
	return out, missing
}
