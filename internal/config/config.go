package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/rawcast/internal/frame"
	"github.com/bryanchriswhite/rawcast/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides (RAWCAST_CAPTURE_FPS, ...)
const EnvPrefix = "RAWCAST"

// Capture backends
const (
	BackendAuto       = "auto"
	BackendX11        = "x11"
	BackendScreenshot = "screenshot"
)

// PixelFormatAuto selects the capture backend's native layout
const PixelFormatAuto = "auto"

var ErrInvalidConfig = errors.New("invalid configuration")

// CropConfig is an optional capture region; a zero width or height disables cropping
type CropConfig struct {
	X      int `json:"x" yaml:"x" mapstructure:"x"`
	Y      int `json:"y" yaml:"y" mapstructure:"y"`
	Width  int `json:"width" yaml:"width" mapstructure:"width"`
	Height int `json:"height" yaml:"height" mapstructure:"height"`
}

// Enabled reports whether a crop region was configured
func (c CropConfig) Enabled() bool {
	return c.Width > 0 && c.Height > 0
}

// ScaleConfig is an optional output resolution; zero disables downscaling
type ScaleConfig struct {
	Width  int `json:"width" yaml:"width" mapstructure:"width"`
	Height int `json:"height" yaml:"height" mapstructure:"height"`
}

// Enabled reports whether an output resolution was configured
func (s ScaleConfig) Enabled() bool {
	return s.Width > 0 && s.Height > 0
}

// CaptureConfig configures the frame source
type CaptureConfig struct {
	Backend      string        `json:"backend" yaml:"backend" mapstructure:"backend"`
	FPS          int           `json:"fps" yaml:"fps" mapstructure:"fps"`
	PixelFormat  string        `json:"pixel_format" yaml:"pixel_format" mapstructure:"pixel_format"`
	ShowCursor   bool          `json:"show_cursor" yaml:"show_cursor" mapstructure:"show_cursor"`
	Crop         CropConfig    `json:"crop" yaml:"crop" mapstructure:"crop"`
	Scale        ScaleConfig   `json:"scale" yaml:"scale" mapstructure:"scale"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`
}

// EncoderConfig configures the encoder subprocess
type EncoderConfig struct {
	Command      string        `json:"command" yaml:"command" mapstructure:"command"`
	OutputArgs   []string      `json:"output_args" yaml:"output_args" mapstructure:"output_args"`
	ExtraArgs    []string      `json:"extra_args" yaml:"extra_args" mapstructure:"extra_args"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	CloseTimeout time.Duration `json:"close_timeout" yaml:"close_timeout" mapstructure:"close_timeout"`
}

// StatusConfig configures the optional local status API
type StatusConfig struct {
	Enabled  bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Port     int           `json:"port" yaml:"port" mapstructure:"port"`
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
}

// Config represents the application configuration
type Config struct {
	LogLevel  string        `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty bool          `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	Capture   CaptureConfig `json:"capture" yaml:"capture" mapstructure:"capture"`
	Encoder   EncoderConfig `json:"encoder" yaml:"encoder" mapstructure:"encoder"`
	Status    StatusConfig  `json:"status" yaml:"status" mapstructure:"status"`
}

// defaults are kept as plain values (durations as strings) so the saved
// YAML stays readable
var defaults = map[string]interface{}{
	"log_level":             "info",
	"log_pretty":            true,
	"capture.backend":       BackendAuto,
	"capture.fps":           24,
	"capture.pixel_format":  PixelFormatAuto,
	"capture.show_cursor":   true,
	"capture.crop.x":        0,
	"capture.crop.y":        0,
	"capture.crop.width":    0,
	"capture.crop.height":   0,
	"capture.scale.width":   0,
	"capture.scale.height":  0,
	"capture.poll_interval": "5ms",
	"encoder.command":       "ffplay",
	"encoder.output_args":   []string{},
	"encoder.extra_args":    []string{},
	"encoder.write_timeout": "0s",
	"encoder.close_timeout": "3s",
	"status.enabled":        false,
	"status.port":           8090,
	"status.interval":       "1s",
}

var durationKeys = map[string]struct{}{
	"capture.poll_interval": {},
	"encoder.write_timeout": {},
	"encoder.close_timeout": {},
	"status.interval":       {},
}

// Keys returns every known configuration key
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	return keys
}

// IsKnownKey reports whether key is a configuration key
func IsKnownKey(key string) bool {
	_, ok := defaults[key]
	return ok
}

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper
	mu         sync.RWMutex

	// saved holds values assigned through Set; only these and the file
	// contents are written back, never env or flag overrides
	saved map[string]interface{}
}

// DefaultConfigPath returns $HOME/.config/rawcast/config.yaml
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "rawcast", "config.yaml"), nil
}

// NewManager creates a new configuration manager. A missing config file is
// created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		actualConfigPath = p
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetConfigFile(actualConfigPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	m := &Manager{
		configPath: actualConfigPath,
		v:          v,
		saved:      make(map[string]interface{}),
	}

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(actualConfigPath); !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config loaded")

	return m, nil
}

// Get returns the effective configuration (defaults < file < env < flags)
func (m *Manager) Get() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// GetViper exposes the underlying viper instance for flag binding and
// key-level access
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// Set assigns a single key and persists the configuration
func (m *Manager) Set(key string, value interface{}) error {
	if !IsKnownKey(key) {
		return fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, key)
	}
	m.mu.Lock()
	prev := m.v.Get(key)
	m.v.Set(key, value)
	m.mu.Unlock()

	cfg, err := m.Get()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		m.mu.Lock()
		m.v.Set(key, prev)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.saved[key] = value
	m.mu.Unlock()
	return m.Save()
}

// ParseValue converts a command-line string to the type stored under key.
// List keys take comma-separated values.
func ParseValue(key, raw string) (interface{}, error) {
	def, ok := defaults[key]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, key)
	}

	switch def.(type) {
	case int:
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects a number, got %q", ErrInvalidConfig, key, raw)
		}
		return n, nil
	case bool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects true or false, got %q", ErrInvalidConfig, key, raw)
		}
		return b, nil
	case []string:
		if strings.TrimSpace(raw) == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}

	if _, isDuration := durationKeys[key]; isDuration {
		if _, err := time.ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("%w: %s expects a duration like 5ms, got %q", ErrInvalidConfig, key, raw)
		}
	}
	return raw, nil
}

// Save writes the current settings to disk as YAML
func (m *Manager) Save() error {
	settings, err := m.persisted()
	if err != nil {
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Msg("Config saved successfully")
	return nil
}

// persisted merges defaults, the file on disk and values assigned with Set.
// A separate viper instance keeps environment overrides out of the result.
func (m *Manager) persisted() (map[string]interface{}, error) {
	fv := viper.New()
	for key, value := range defaults {
		fv.SetDefault(key, value)
	}
	fv.SetConfigFile(m.configPath)
	fv.SetConfigType("yaml")
	if _, err := os.Stat(m.configPath); err == nil {
		if err := fv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	m.mu.RLock()
	for key, value := range m.saved {
		fv.Set(key, value)
	}
	m.mu.RUnlock()

	return fv.AllSettings(), nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error

	if !logger.IsValidLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q (use %v)", c.LogLevel, logger.ValidLevels))
	}

	switch c.Capture.Backend {
	case BackendAuto, BackendX11, BackendScreenshot:
	default:
		errs = append(errs, fmt.Errorf("capture.backend %q (use auto, x11 or screenshot)", c.Capture.Backend))
	}

	if c.Capture.FPS <= 0 {
		errs = append(errs, fmt.Errorf("capture.fps must be positive, got %d", c.Capture.FPS))
	}

	if c.Capture.PixelFormat != PixelFormatAuto {
		if _, err := frame.ParsePixelFormat(c.Capture.PixelFormat); err != nil {
			errs = append(errs, fmt.Errorf("capture.pixel_format: %w", err))
		}
	}

	crop := c.Capture.Crop
	if crop.X < 0 || crop.Y < 0 || crop.Width < 0 || crop.Height < 0 {
		errs = append(errs, fmt.Errorf("capture.crop values must not be negative"))
	}
	if (crop.Width == 0) != (crop.Height == 0) {
		errs = append(errs, fmt.Errorf("capture.crop width and height must both be set"))
	}

	scale := c.Capture.Scale
	if scale.Width < 0 || scale.Height < 0 || (scale.Width == 0) != (scale.Height == 0) {
		errs = append(errs, fmt.Errorf("capture.scale width and height must both be positive or both zero"))
	}

	if c.Capture.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("capture.poll_interval must be positive"))
	}

	if strings.TrimSpace(c.Encoder.Command) == "" {
		errs = append(errs, fmt.Errorf("encoder.command must not be empty"))
	}
	if c.Encoder.WriteTimeout < 0 || c.Encoder.CloseTimeout < 0 {
		errs = append(errs, fmt.Errorf("encoder timeouts must not be negative"))
	}

	if c.Status.Enabled && (c.Status.Port <= 0 || c.Status.Port > 65535) {
		errs = append(errs, fmt.Errorf("status.port %d out of range", c.Status.Port))
	}
	if c.Status.Enabled && c.Status.Interval <= 0 {
		errs = append(errs, fmt.Errorf("status.interval must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
