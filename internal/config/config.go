// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/luna-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete luna configuration.
type Config struct {
	Version string `toml:"version" json:"version" yaml:"version"`

	// Server connection
	Server ServerConfig `toml:"server" json:"server" yaml:"server"`

	// User identity and default room
	User UserConfig `toml:"user" json:"user" yaml:"user"`

	// Chat turn behavior
	Chat ChatConfig `toml:"chat" json:"chat" yaml:"chat"`

	// Response formatting
	Format FormatConfig `toml:"format" json:"format" yaml:"format"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui" yaml:"ui"`

	// Log file configuration
	Log LogConfig `toml:"log" json:"log" yaml:"log"`
}

// ServerConfig contains the Luna server connection settings.
type ServerConfig struct {
	// URL is the server base URL (http or https)
	URL string `toml:"url" json:"url" yaml:"url"`
	// SocketPath is the Socket.IO endpoint path
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
	// DialTimeoutSecs bounds connect plus handshake
	DialTimeoutSecs int `toml:"dial_timeout_secs" json:"dial_timeout_secs" yaml:"dial_timeout_secs"`
	// Reconnect re-dials after the connection drops
	Reconnect bool `toml:"reconnect" json:"reconnect" yaml:"reconnect"`
	// ReconnectIntervalSecs is the minimum spacing between dials
	ReconnectIntervalSecs int `toml:"reconnect_interval_secs" json:"reconnect_interval_secs" yaml:"reconnect_interval_secs"`
}

// UserConfig identifies the user on the server.
type UserConfig struct {
	// Name is sent as the sender of every turn
	Name string `toml:"name" json:"name" yaml:"name"`
	// Room is joined on startup
	Room string `toml:"room" json:"room" yaml:"room"`
}

// ChatConfig contains per-turn settings.
type ChatConfig struct {
	// InternetSearch asks the server to search the web
	InternetSearch bool `toml:"internet_search" json:"internet_search" yaml:"internet_search"`
	// IdleTimeoutSecs fails a turn after this long without server activity (negative disables)
	IdleTimeoutSecs int `toml:"idle_timeout_secs" json:"idle_timeout_secs" yaml:"idle_timeout_secs"`
}

// FormatConfig configures the response formatter.
type FormatConfig struct {
	// Allowed is the language rendered as a code block
	Allowed string `toml:"allowed" json:"allowed" yaml:"allowed"`
	// Disallowed languages are hidden while still streaming
	Disallowed []string `toml:"disallowed" json:"disallowed" yaml:"disallowed"`
	// CommentMarker starts a comment line inside an allowed block
	CommentMarker string `toml:"comment_marker" json:"comment_marker" yaml:"comment_marker"`
	// Sanitize cleans server text before display
	Sanitize bool `toml:"sanitize" json:"sanitize" yaml:"sanitize"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme" json:"theme" yaml:"theme"`
	// CodeStyle is the chroma style for code blocks
	CodeStyle string `toml:"code_style" json:"code_style" yaml:"code_style"`
	// ShowTimestamps prefixes messages with their time
	ShowTimestamps bool `toml:"show_timestamps" json:"show_timestamps" yaml:"show_timestamps"`
	// ExportDir is where /export writes files (default: current directory)
	ExportDir string `toml:"export_dir" json:"export_dir" yaml:"export_dir"`
}

// LogConfig contains log file settings.
type LogConfig struct {
	// Level is the logrus level name
	Level string `toml:"level" json:"level" yaml:"level"`
	// File is the log file path (default: ~/.luna/luna.log)
	File string `toml:"file" json:"file" yaml:"file"`
	// MaxSizeMB rotates the file at this size
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	// MaxAgeDays removes rotated files older than this
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Server: ServerConfig{
			URL:                   "http://127.0.0.1:5000",
			SocketPath:            "/socket.io/",
			DialTimeoutSecs:       10,
			Reconnect:             true,
			ReconnectIntervalSecs: 2,
		},

		User: UserConfig{
			Name: defaultUserName(),
			Room: "general",
		},

		Chat: ChatConfig{
			InternetSearch:  false,
			IdleTimeoutSecs: 60,
		},

		Format: FormatConfig{
			Allowed:       "python",
			Disallowed:    []string{"html"},
			CommentMarker: "#",
		},

		UI: UIConfig{
			Theme:     "dark",
			CodeStyle: "monokai",
		},

		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

func defaultUserName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "guest"
}

// DialTimeout returns the dial timeout as a duration.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Server.DialTimeoutSecs) * time.Second
}

// ReconnectInterval returns the reconnect spacing as a duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Server.ReconnectIntervalSecs) * time.Second
}

// IdleTimeout returns the turn idle timeout as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Chat.IdleTimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the luna configuration directory path. LUNA_HOME
// overrides the default ~/.luna.
func ConfigDir() (string, error) {
	if dir := os.Getenv("LUNA_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".luna"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
//
// A file that fails to parse is reported alongside the default config so
// callers can warn and carry on.
func Load() (*Config, error) {
	var loadErr error

	for _, p := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := p()
		if err != nil {
			continue
		}
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, err := LoadFromPath(path)
		if err != nil {
			loadErr = err
			break
		}
		return cfg, nil
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, loadErr
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults. Booleans are left
// alone: false is a valid setting.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Server
	if cfg.Server.URL == "" {
		cfg.Server.URL = defaults.Server.URL
	}
	if cfg.Server.SocketPath == "" {
		cfg.Server.SocketPath = defaults.Server.SocketPath
	}
	if cfg.Server.DialTimeoutSecs == 0 {
		cfg.Server.DialTimeoutSecs = defaults.Server.DialTimeoutSecs
	}
	if cfg.Server.ReconnectIntervalSecs == 0 {
		cfg.Server.ReconnectIntervalSecs = defaults.Server.ReconnectIntervalSecs
	}

	// User
	if cfg.User.Name == "" {
		cfg.User.Name = defaults.User.Name
	}
	if cfg.User.Room == "" {
		cfg.User.Room = defaults.User.Room
	}

	// Chat
	if cfg.Chat.IdleTimeoutSecs == 0 {
		cfg.Chat.IdleTimeoutSecs = defaults.Chat.IdleTimeoutSecs
	}

	// Format
	if cfg.Format.Allowed == "" {
		cfg.Format.Allowed = defaults.Format.Allowed
	}
	if cfg.Format.Disallowed == nil {
		cfg.Format.Disallowed = defaults.Format.Disallowed
	}
	if cfg.Format.CommentMarker == "" {
		cfg.Format.CommentMarker = defaults.Format.CommentMarker
	}

	// UI
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
	if cfg.UI.CodeStyle == "" {
		cfg.UI.CodeStyle = defaults.UI.CodeStyle
	}

	// Log
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = defaults.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = defaults.Log.MaxBackups
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = defaults.Log.MaxAgeDays
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "# luna configuration file")
	fmt.Fprintln(&buf, "# Generated by luna - edit with care")
	fmt.Fprintln(&buf, "")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Server
	if u, err := url.Parse(c.Server.URL); err != nil || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "server.url",
			Message: fmt.Sprintf("invalid URL '%s'", c.Server.URL),
		})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, ValidationError{
			Field:   "server.url",
			Message: fmt.Sprintf("unsupported scheme '%s', must be http or https", u.Scheme),
		})
	}
	if c.Server.DialTimeoutSecs < 0 || c.Server.DialTimeoutSecs > 300 {
		errs = append(errs, ValidationError{
			Field:   "server.dial_timeout_secs",
			Message: fmt.Sprintf("value %d out of range (0-300)", c.Server.DialTimeoutSecs),
		})
	}
	if c.Server.ReconnectIntervalSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.reconnect_interval_secs",
			Message: "must not be negative",
		})
	}

	// User
	if strings.TrimSpace(c.User.Name) == "" {
		errs = append(errs, ValidationError{Field: "user.name", Message: "must not be empty"})
	}
	if strings.TrimSpace(c.User.Room) == "" {
		errs = append(errs, ValidationError{Field: "user.room", Message: "must not be empty"})
	}

	// Format
	for _, lang := range c.Format.Disallowed {
		if strings.EqualFold(lang, c.Format.Allowed) {
			errs = append(errs, ValidationError{
				Field:   "format.disallowed",
				Message: fmt.Sprintf("'%s' is also the allowed language", lang),
			})
		}
	}

	// UI
	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	// Log
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s'", c.Log.Level),
		})
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{Field: "log", Message: "rotation limits must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - LUNA_SERVER_URL: overrides server.url
//   - LUNA_USER: overrides user.name
//   - LUNA_ROOM: overrides user.room
//   - LUNA_LOG_LEVEL: overrides log.level
//   - LUNA_SEARCH: overrides chat.internet_search
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LUNA_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("LUNA_USER"); v != "" {
		c.User.Name = v
	}
	if v := os.Getenv("LUNA_ROOM"); v != "" {
		c.User.Room = v
	}
	if v := os.Getenv("LUNA_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LUNA_SEARCH"); v != "" {
		c.Chat.InternetSearch = v == "1" || strings.EqualFold(v, "true")
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "user.room").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "ui.theme").
// String values are converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Bool:
			boolVal := strVal == "1" || strings.EqualFold(strVal, "true") || strings.EqualFold(strVal, "yes")
			field.SetBool(boolVal)
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Format.Disallowed = append([]string(nil), c.Format.Disallowed...)
	return &clone
}

// String returns the config as indented JSON for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
