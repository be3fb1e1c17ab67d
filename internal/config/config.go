// Package config loads server configuration in three layers: struct
// defaults from `default` tags, an optional config file (YAML or TOML by
// extension), then KOTOBA_* environment variables on top. Relative paths in
// the file resolve against the working directory the desktop shell sets.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/golobby/cast"
)

// Config is the full server configuration.
type Config struct {
	Host            string   `json:"host" yaml:"host" toml:"host" env:"HOST" default:"127.0.0.1"`
	Port            int      `json:"port" yaml:"port" toml:"port" env:"PORT" default:"0"`
	Dev             bool     `json:"dev" yaml:"dev" toml:"dev" env:"DEV"`
	LogLevel        string   `json:"log_level" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL" default:"info"`
	TokenTTLMinutes int      `json:"token_ttl_minutes" yaml:"token_ttl_minutes" toml:"token_ttl_minutes" env:"TOKEN_TTL_MINUTES" default:"60"`
	MaxConnections  int      `json:"max_connections" yaml:"max_connections" toml:"max_connections" env:"MAX_CONNECTIONS" default:"10"`
	EventQueueSize  int      `json:"event_queue_size" yaml:"event_queue_size" toml:"event_queue_size" env:"EVENT_QUEUE_SIZE" default:"1000"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins" env:"CORS_ORIGINS" default:"tauri://localhost,app://localhost,http://localhost:5173"`
	SettingsPath    string   `json:"settings_path" yaml:"settings_path" toml:"settings_path" env:"SETTINGS_PATH" default:"app_settings.json"`
	DefaultEngine   string   `json:"default_engine" yaml:"default_engine" toml:"default_engine" env:"DEFAULT_ENGINE"`

	Engines     []EngineConfig    `json:"engines" yaml:"engines" toml:"engines"`
	Transcribe  TranscribeConfig  `json:"transcribe" yaml:"transcribe" toml:"transcribe"`
	Realtime    RealtimeConfig    `json:"realtime" yaml:"realtime" toml:"realtime"`
	Monitor     MonitorConfig     `json:"monitor" yaml:"monitor" toml:"monitor"`
	Maintenance MaintenanceConfig `json:"maintenance" yaml:"maintenance" toml:"maintenance"`
}

// EngineConfig declares one speech-to-text backend.
type EngineConfig struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// Type is "fake" (built-in, no recognizer needed) or "command"
	// (external recognizer binary producing JSON on stdout).
	Type      string   `json:"type" yaml:"type" toml:"type"`
	Command   string   `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Args      []string `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	ModelPath string   `json:"model_path,omitempty" yaml:"model_path,omitempty" toml:"model_path,omitempty"`
}

// TranscribeConfig controls file transcription and sidecar output.
type TranscribeConfig struct {
	// AllowedRoots restricts input files to these directories. Empty means
	// the working directory and the user's home directory.
	AllowedRoots      []string `json:"allowed_roots" yaml:"allowed_roots" toml:"allowed_roots" env:"ALLOWED_ROOTS"`
	AllowedExtensions []string `json:"allowed_extensions" yaml:"allowed_extensions" toml:"allowed_extensions" env:"ALLOWED_EXTENSIONS" default:".wav,.mp3,.m4a,.flac,.ogg,.aac,.wma,.mp4,.mov"`
	SidecarLabel      string   `json:"sidecar_label" yaml:"sidecar_label" toml:"sidecar_label" env:"SIDECAR_LABEL" default:"文字起こし"`
	EnsurePeriod      bool     `json:"ensure_period" yaml:"ensure_period" toml:"ensure_period" default:"true"`
}

// RealtimeConfig controls microphone capture and flushing.
type RealtimeConfig struct {
	SampleRate       int     `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate" default:"16000"`
	FrameMs          int     `json:"frame_ms" yaml:"frame_ms" toml:"frame_ms" default:"30"`
	WindowSeconds    float64 `json:"window_seconds" yaml:"window_seconds" toml:"window_seconds" default:"3"`
	SilenceSeconds   float64 `json:"silence_seconds" yaml:"silence_seconds" toml:"silence_seconds" default:"0.5"`
	MinFlushSeconds  float64 `json:"min_flush_seconds" yaml:"min_flush_seconds" toml:"min_flush_seconds" default:"0.3"`
	RingSeconds      int     `json:"ring_seconds" yaml:"ring_seconds" toml:"ring_seconds" default:"60"`
	VolumeIntervalMs int     `json:"volume_interval_ms" yaml:"volume_interval_ms" toml:"volume_interval_ms" default:"100"`
	VADThreshold     float64 `json:"vad_threshold" yaml:"vad_threshold" toml:"vad_threshold" default:"0.015"`
	// Source is "fake" or "command"; a command source streams raw float32
	// PCM on stdout.
	Source        string   `json:"source" yaml:"source" toml:"source" default:"fake"`
	SourceCommand string   `json:"source_command,omitempty" yaml:"source_command,omitempty" toml:"source_command,omitempty"`
	SourceArgs    []string `json:"source_args,omitempty" yaml:"source_args,omitempty" toml:"source_args,omitempty"`
}

// MonitorConfig controls folder watching defaults.
type MonitorConfig struct {
	CheckIntervalSeconds float64  `json:"check_interval_seconds" yaml:"check_interval_seconds" toml:"check_interval_seconds" default:"3"`
	IncludePatterns      []string `json:"include_patterns" yaml:"include_patterns" toml:"include_patterns"`
	ProcessedLimit       int      `json:"processed_limit" yaml:"processed_limit" toml:"processed_limit" default:"50000"`
	StableWaitMs         int      `json:"stable_wait_ms" yaml:"stable_wait_ms" toml:"stable_wait_ms" default:"1000"`
}

// MaintenanceConfig controls the background janitor.
type MaintenanceConfig struct {
	Schedule          string `json:"schedule" yaml:"schedule" toml:"schedule" default:"@every 1h"`
	TempMaxAgeMinutes int    `json:"temp_max_age_minutes" yaml:"temp_max_age_minutes" toml:"temp_max_age_minutes" default:"60"`
}

// Default returns a Config with every `default` tag applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := applyDefaults(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}
	return cfg, nil
}

// applyDefaults walks the struct and fills zero-valued fields from their
// `default` tags. Nested structs are walked recursively; slices of structs
// are left to Validate's backfill.
func applyDefaults(rv reflect.Value) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)

		if field.Kind() == reflect.Struct {
			if err := applyDefaults(field); err != nil {
				return fmt.Errorf("field %s: %w", fieldType.Name, err)
			}
			continue
		}
		tag, ok := fieldType.Tag.Lookup("default")
		if !ok || !field.IsZero() {
			continue
		}
		if err := setFromString(field, tag); err != nil {
			return fmt.Errorf("field %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

// setFromString converts a string to the field's type and assigns it.
// String slices split on commas; everything else goes through cast.
func setFromString(field reflect.Value, value string) error {
	if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		field.Set(reflect.ValueOf(out))
		return nil
	}
	converted, err := cast.FromType(value, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert %q to %v: %w", value, field.Type(), err)
	}
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}
	field.Set(reflect.ValueOf(converted))
	return nil
}

// Validate checks ranges and backfills the parts that need non-zero
// defaults beyond what tags express, e.g. the built-in fake engine when no
// engines are configured.
func (c *Config) Validate() error {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	if c.TokenTTLMinutes <= 0 {
		return fmt.Errorf("%w: token_ttl_minutes must be positive", ErrInvalidConfig)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("%w: max_connections must be at least 1", ErrInvalidConfig)
	}
	if c.EventQueueSize < 1 {
		return fmt.Errorf("%w: event_queue_size must be at least 1", ErrInvalidConfig)
	}

	if len(c.Engines) == 0 {
		c.Engines = []EngineConfig{{Name: "fake", Type: "fake"}}
	}
	names := make(map[string]struct{}, len(c.Engines))
	for i, eng := range c.Engines {
		if eng.Name == "" {
			return fmt.Errorf("%w: engines[%d] missing name", ErrInvalidConfig, i)
		}
		if _, dup := names[eng.Name]; dup {
			return fmt.Errorf("%w: duplicate engine %q", ErrInvalidConfig, eng.Name)
		}
		names[eng.Name] = struct{}{}
		switch eng.Type {
		case "fake":
		case "command":
			if eng.Command == "" {
				return fmt.Errorf("%w: engine %q needs a command", ErrInvalidConfig, eng.Name)
			}
		default:
			return fmt.Errorf("%w: engine %q has unknown type %q", ErrInvalidConfig, eng.Name, eng.Type)
		}
	}
	if c.DefaultEngine == "" {
		c.DefaultEngine = c.Engines[0].Name
	}
	if _, ok := names[c.DefaultEngine]; !ok {
		return fmt.Errorf("%w: default_engine %q is not configured", ErrInvalidConfig, c.DefaultEngine)
	}

	if c.Realtime.SampleRate <= 0 || c.Realtime.FrameMs <= 0 {
		return fmt.Errorf("%w: realtime sample_rate and frame_ms must be positive", ErrInvalidConfig)
	}
	if c.Realtime.MinFlushSeconds <= 0 || c.Realtime.WindowSeconds < c.Realtime.MinFlushSeconds {
		return fmt.Errorf("%w: realtime window_seconds must be at least min_flush_seconds", ErrInvalidConfig)
	}
	if c.Monitor.CheckIntervalSeconds <= 0 {
		return fmt.Errorf("%w: monitor check_interval_seconds must be positive", ErrInvalidConfig)
	}
	if c.Monitor.ProcessedLimit < 1 {
		return fmt.Errorf("%w: monitor processed_limit must be at least 1", ErrInvalidConfig)
	}
	return nil
}
