package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for holectl.
type Config struct {
	Appliance ApplianceConfig `json:"appliance" yaml:"appliance"`
	Session   SessionConfig   `json:"session" yaml:"session"`
	Log       LogConfig       `json:"log" yaml:"log"`
	Audit     AuditConfig     `json:"audit" yaml:"audit"`
	Server    ServerConfig    `json:"server" yaml:"server"`
}

// ApplianceConfig describes how to reach the filtering appliance's REST API.
type ApplianceConfig struct {
	URL                string `json:"url" yaml:"url"` // API base, e.g. http://pi.hole/api
	Password           string `json:"password,omitempty" yaml:"password,omitempty"`
	PasswordSource     string `json:"passwordSource,omitempty" yaml:"passwordSource,omitempty"` // "config" | "env" | "keyring"
	PasswordEnv        string `json:"passwordEnv,omitempty" yaml:"passwordEnv,omitempty"`
	KeyringUser        string `json:"keyringUser,omitempty" yaml:"keyringUser,omitempty"`
	SessionHeader      string `json:"sessionHeader" yaml:"sessionHeader"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify" yaml:"insecureSkipVerify"`
	TimeoutSeconds     int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

// Timeout returns the per-request timeout.
func (a ApplianceConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

type SessionConfig struct {
	TokenPath        string `json:"tokenPath" yaml:"tokenPath"`
	FreshnessSeconds int    `json:"freshnessSeconds" yaml:"freshnessSeconds"`
}

// Freshness returns the maximum age at which a cached session id is reused.
func (s SessionConfig) Freshness() time.Duration {
	return time.Duration(s.FreshnessSeconds) * time.Second
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
	File  string `json:"file,omitempty" yaml:"file,omitempty"` // optional rotating log file
}

type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

// ServerConfig configures the long-running `serve` mode.
type ServerConfig struct {
	Host               string `json:"host" yaml:"host"`
	Port               int    `json:"port" yaml:"port"`
	APIKey             string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	RateLimitPerMinute int    `json:"rateLimitPerMinute" yaml:"rateLimitPerMinute"` // 0 = unlimited
	RateLimitBurst     int    `json:"rateLimitBurst" yaml:"rateLimitBurst"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultConfigDir returns the default config directory (~/.holectl).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".holectl"
	}
	return filepath.Join(home, ".holectl")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Environment variables that override file values.
const (
	EnvURL      = "HOLECTL_URL"
	EnvPassword = "HOLECTL_PASSWORD"
)

// Load reads a JSON or YAML config file (by extension), expands ${VAR} references,
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.Session.TokenPath = ExpandPath(cfg.Session.TokenPath)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefaults is Load, falling back to Defaults (plus environment overrides)
// when the file does not exist. Any other failure is returned.
func LoadOrDefaults(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if _, statErr := os.Stat(ExpandPath(path)); !os.IsNotExist(statErr) {
		return nil, false, err
	}
	cfg = Defaults()
	applyEnvOverrides(cfg)
	cfg.Session.TokenPath = ExpandPath(cfg.Session.TokenPath)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	if err := Validate(cfg); err != nil {
		return nil, false, fmt.Errorf("config validation: %w", err)
	}
	return cfg, false, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvURL); v != "" {
		cfg.Appliance.URL = v
	}
	if v := os.Getenv(EnvPassword); v != "" && cfg.Appliance.PasswordSource != "keyring" {
		cfg.Appliance.Password = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// The file may hold the appliance password.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Appliance.URL == "" {
		errs = append(errs, "appliance.url is required")
	} else if u, err := url.Parse(cfg.Appliance.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "appliance.url must be an absolute http(s) URL")
	}
	if strings.TrimSpace(cfg.Appliance.SessionHeader) == "" {
		errs = append(errs, "appliance.sessionHeader is required")
	}
	if cfg.Appliance.TimeoutSeconds < 1 || cfg.Appliance.TimeoutSeconds > 300 {
		errs = append(errs, "appliance.timeoutSeconds must be between 1 and 300")
	}
	switch cfg.Appliance.PasswordSource {
	case "", "config", "env", "keyring":
	default:
		errs = append(errs, "appliance.passwordSource must be one of: config, env, keyring")
	}

	if cfg.Session.FreshnessSeconds < 1 || cfg.Session.FreshnessSeconds > 86400 {
		errs = append(errs, "session.freshnessSeconds must be between 1 and 86400")
	}
	if cfg.Session.TokenPath == "" {
		errs = append(errs, "session.tokenPath is required")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}

	if cfg.Audit.Enabled && cfg.Audit.DBPath == "" {
		errs = append(errs, "audit.dbPath is required when audit is enabled")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.RateLimitPerMinute < 0 || cfg.Server.RateLimitBurst < 0 {
		errs = append(errs, "server.rateLimitPerMinute and server.rateLimitBurst must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
