// Package config is the client's JSON configuration: defaults, validation,
// load/save with environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/Project-GagSpeak/gagspeak-client/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	Server   Server   `json:"server"`
	Paths    Paths    `json:"paths"`
	Session  Session  `json:"session"`
	Logging  Logging  `json:"logging"`
}

type Identity struct {
	// KeyFile holds the secret key exchanged for relay tokens.
	KeyFile string `json:"key_file" env:"GAGSPEAK_KEY_FILE"`
}

type Server struct {
	RelayURL string `json:"relay_url" env:"GAGSPEAK_RELAY_URL"`
	AuthURL  string `json:"auth_url" env:"GAGSPEAK_AUTH_URL"`
}

type Paths struct {
	// DataDir holds the sqlite cache and the definitions directory.
	DataDir        string `json:"data_dir" env:"GAGSPEAK_DATA_DIR"`
	DefinitionsDir string `json:"definitions_dir" env:"GAGSPEAK_DEFINITIONS_DIR"`
}

type Session struct {
	// AutoConnect starts a connection run as soon as the host reports the
	// local user present.
	AutoConnect bool `json:"auto_connect" env:"GAGSPEAK_AUTO_CONNECT"`
	// Paused administratively blocks connecting until cleared.
	Paused bool `json:"paused" env:"GAGSPEAK_PAUSED"`
}

type Logging struct {
	Level string `json:"level" env:"GAGSPEAK_LOG_LEVEL"`
	Dev   bool   `json:"dev" env:"GAGSPEAK_LOG_DEV"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		Server: Server{
			RelayURL: "https://relay.gagspeak.com",
			AuthURL:  "https://auth.gagspeak.com",
		},
		Paths: Paths{
			DataDir:        "data",
			DefinitionsDir: "data/definitions",
		},
		Session: Session{
			AutoConnect: true,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// GagFile and friends are the definition file locations inside the
// definitions directory.
func (c Config) GagFile() string { return filepath.Join(c.Paths.DefinitionsDir, "gags.json") }
func (c Config) RestrictionFile() string {
	return filepath.Join(c.Paths.DefinitionsDir, "restrictions.json")
}
func (c Config) RestraintFile() string {
	return filepath.Join(c.Paths.DefinitionsDir, "restraints.json")
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}
	if strings.TrimSpace(c.Paths.DefinitionsDir) == "" {
		return errors.New("paths.definitions_dir is required")
	}
	if err := validateServerURL(c.Server.RelayURL); err != nil {
		return fmt.Errorf("server.relay_url: %w", err)
	}
	if err := validateServerURL(c.Server.AuthURL); err != nil {
		return fmt.Errorf("server.auth_url: %w", err)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// anchor resolves the relative path fields against the config file's
// directory, so the host's working directory never matters. Absolute
// paths win.
func (c *Config) anchor(base string) {
	c.Identity.KeyFile = util.ResolvePath(base, c.Identity.KeyFile)
	c.Paths.DataDir = util.ResolvePath(base, c.Paths.DataDir)
	c.Paths.DefinitionsDir = util.ResolvePath(base, c.Paths.DefinitionsDir)
}

func validateServerURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(util.NormalizeURL(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// Load reads the config file, overlays environment variables, and
// validates. Missing JSON fields stay at their defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	b = util.StripBOM(b)

	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}
	cfg.anchor(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadPartial reads a config file without validation, for reading
// individual fields when full validation may fail.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	b = util.StripBOM(b)

	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config
// file. Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	// Environment still wins over the freshly written defaults.
	if err := env.Parse(&cfg); err != nil {
		return Config{}, false, fmt.Errorf("env overlay: %w", err)
	}
	cfg.anchor(filepath.Dir(path))
	return cfg, true, nil
}
