package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/kotoba-app/kotoba-server/internal/fsutil"
)

// ErrInvalidConfig wraps every validation failure so callers can test for
// the class with errors.Is.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix is the prefix for all environment overrides, e.g. KOTOBA_PORT.
const EnvPrefix = "KOTOBA"

// Load builds the effective configuration: defaults, then the config file
// at path if it exists, then KOTOBA_* environment variables. A missing file
// is not an error; the desktop shell often runs without one.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := feedFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := (EnvFeeder{Prefix: EnvPrefix}).Feed(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// feedFile overlays the file at path onto cfg. The format follows the
// extension: .yaml/.yml or .toml.
func feedFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}
	return nil
}

// Save writes cfg to path as YAML through an atomic rename so a crash
// mid-write never truncates the previous file.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
