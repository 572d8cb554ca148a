package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

// Config is the root configuration structure
type Config struct {
	Display DisplayConfig `toml:"display"`
	Sonos   SonosConfig   `toml:"sonos"`
	Touch   TouchConfig   `toml:"touch"`
	Log     LogConfig     `toml:"log"`
	PIDFile string        `toml:"pid_file"`
}

// DisplayConfig holds framebuffer and panel settings
type DisplayConfig struct {
	// Device is the framebuffer device path
	Device string `toml:"device"`
	// SysfsDir is the framebuffer sysfs node, used to probe geometry and
	// blank scanout; empty disables probing
	SysfsDir string `toml:"sysfs_dir"`
	// BacklightDir is the backlight sysfs node for true panel off; empty
	// falls back to drawing black
	BacklightDir string `toml:"backlight_dir"`
	// Width and Height override the probed panel resolution when non-zero
	Width  int `toml:"width"`
	Height int `toml:"height"`
}

// SonosConfig holds discovery and polling settings
type SonosConfig struct {
	PollInterval     float64 `toml:"poll_interval"`      // seconds
	DiscoveryTimeout int     `toml:"discovery_timeout"`  // seconds
	RediscoverAfter  int     `toml:"rediscover_after"`   // seconds between SSDP scans
	MaxBackoff       int     `toml:"max_backoff"`        // seconds, discovery retry ceiling
	StaleWindow      int     `toml:"stale_window"`       // seconds before a frozen-position PLAYING is ignored
}

// TouchConfig holds touchscreen gesture settings
type TouchConfig struct {
	Enabled             bool    `toml:"enabled"`
	Device              string  `toml:"device"` // /dev/input/eventX; empty auto-detects
	DoubleTapWindowMS   int     `toml:"double_tap_window_ms"`
	ResumeRewindSec     float64 `toml:"resume_rewind_threshold"` // seconds of remaining time
	ResumeRewindBackSec float64 `toml:"resume_rewind_back"`      // seconds to seek back
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a Config populated with sensible defaults
func Default() *Config {
	return &Config{
		Display: DisplayConfig{
			Device:       "/dev/fb0",
			SysfsDir:     "/sys/class/graphics/fb0",
			BacklightDir: "/sys/class/backlight/rpi_backlight",
		},
		Sonos: SonosConfig{
			PollInterval:     5,
			DiscoveryTimeout: 3,
			RediscoverAfter:  300,
			MaxBackoff:       60,
			StaleWindow:      12,
		},
		Touch: TouchConfig{
			Enabled:             true,
			DoubleTapWindowMS:   400,
			ResumeRewindSec:     5,
			ResumeRewindBackSec: 3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// ApplyDefaults fills in zero values with sensible defaults
func (c *Config) ApplyDefaults() {
	d := Default()

	if c.Display.Device == "" {
		c.Display.Device = d.Display.Device
	}
	if c.Sonos.PollInterval == 0 {
		c.Sonos.PollInterval = d.Sonos.PollInterval
	}
	if c.Sonos.DiscoveryTimeout == 0 {
		c.Sonos.DiscoveryTimeout = d.Sonos.DiscoveryTimeout
	}
	if c.Sonos.RediscoverAfter == 0 {
		c.Sonos.RediscoverAfter = d.Sonos.RediscoverAfter
	}
	if c.Sonos.MaxBackoff == 0 {
		c.Sonos.MaxBackoff = d.Sonos.MaxBackoff
	}
	if c.Sonos.StaleWindow == 0 {
		c.Sonos.StaleWindow = d.Sonos.StaleWindow
	}
	if c.Touch.DoubleTapWindowMS == 0 {
		c.Touch.DoubleTapWindowMS = d.Touch.DoubleTapWindowMS
	}
	if c.Touch.ResumeRewindSec == 0 {
		c.Touch.ResumeRewindSec = d.Touch.ResumeRewindSec
	}
	if c.Touch.ResumeRewindBackSec == 0 {
		c.Touch.ResumeRewindBackSec = d.Touch.ResumeRewindBackSec
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Load reads configuration from standard locations with environment overrides.
// Search order: $SONOSPI_CONFIG, $XDG_CONFIG_HOME/sonospi/config.toml,
// ~/.config/sonospi/config.toml, /etc/sonospi/config.toml
func Load(logger *zap.Logger) (*Config, error) {
	cfg := Default()

	if path := findConfigFile(); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		logger.Info("Configuration file loaded", zap.String("path", path))
	}

	cfg.ApplyDefaults()
	applyEnvOverrides(cfg)

	logger.Info("Configuration resolved",
		zap.String("fbDevice", cfg.Display.Device),
		zap.Float64("pollInterval", cfg.Sonos.PollInterval),
		zap.Bool("touchEnabled", cfg.Touch.Enabled),
		zap.String("logLevel", cfg.Log.Level))

	return cfg, nil
}

// PollInterval returns the poll interval as a duration
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sonos.PollInterval * float64(time.Second))
}

// DoubleTapWindow returns the double-tap window as a duration
func (c *Config) DoubleTapWindow() time.Duration {
	return time.Duration(c.Touch.DoubleTapWindowMS) * time.Millisecond
}

func findConfigFile() string {
	if p := os.Getenv("SONOSPI_CONFIG"); p != "" {
		return p
	}

	var paths []string
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		if home, err := os.UserHomeDir(); err == nil {
			xdgConfig = filepath.Join(home, ".config")
		}
	}
	if xdgConfig != "" {
		paths = append(paths, filepath.Join(xdgConfig, "sonospi", "config.toml"))
	}
	paths = append(paths, "/etc/sonospi/config.toml")

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SONOSPI_FB_DEVICE"); v != "" {
		cfg.Display.Device = v
	}
	if v := os.Getenv("SONOSPI_POLL_INTERVAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sonos.PollInterval = f
		}
	}
	if v := os.Getenv("TOUCH_EVENT"); v != "" {
		cfg.Touch.Device = v
	}
	if v := os.Getenv("TOUCH_DBL_TAP_MS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Touch.DoubleTapWindowMS = i
		}
	}
	if v := os.Getenv("TOUCH_RESUME_REWIND_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Touch.ResumeRewindSec = f
		}
	}
	if v := os.Getenv("TOUCH_RESUME_BACK_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Touch.ResumeRewindBackSec = f
		}
	}
	if v := os.Getenv("SONOSPI_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
