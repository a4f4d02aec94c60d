// Package config loads the toolchain's TOML configuration file,
// grounded on lookbusy1344-arm_emulator/config/config.go's
// default-then-overlay pattern via github.com/BurntSushi/toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config holds settings shared by the lumac and lumavm CLIs.
type Config struct {
	VM struct {
		// NumLEDs sizes the default simulated neopixel strip.
		NumLEDs int `toml:"num_leds"`
		// TraceInstructions enables a line of log output per step.
		TraceInstructions bool `toml:"trace_instructions"`
		// StepTimeoutMS bounds run() under a host-cancellable context;
		// zero means no timeout.
		StepTimeoutMS int `toml:"step_timeout_ms"`
	} `toml:"vm"`

	Compiler struct {
		// SignedRelativeJumps selects the full-16-bit relative jump
		// flag in emitted containers instead of the default page-local
		// behavior.
		SignedRelativeJumps bool `toml:"signed_relative_jumps"`
	} `toml:"compiler"`
}

// Default returns a Config with the toolchain's built-in defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.VM.NumLEDs = 8
	cfg.VM.TraceInstructions = false
	cfg.VM.StepTimeoutMS = 0
	cfg.Compiler.SignedRelativeJumps = false
	return cfg
}

// Path returns the platform-specific config file location.
func Path() string {
	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
		if dir == "" {
			dir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		dir = filepath.Join(dir, "luma")
	case "darwin", "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return "luma.toml"
		}
		dir = filepath.Join(home, ".config", "luma")
	default:
		return "luma.toml"
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return "luma.toml"
	}
	return filepath.Join(dir, "luma.toml")
}

// Load reads the config file at the default path, falling back to
// Default() when it doesn't exist.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config file at path, falling back to Default()
// when it doesn't exist.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cfg, nil
}
