// Package config resolves the harness configuration from defaults, an
// optional YAML file, environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedBaud is returned when the requested baud rate has no termios constant.
var ErrUnsupportedBaud = errors.New("unsupported baud rate")

// SupportedBauds lists the serial speeds the transport can program.
var SupportedBauds = []int{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// Pause checkpoint names.
const (
	PauseAll             = "all"
	PauseSerialConnected = "serial_connected"
	PauseAfterReboot     = "after_reboot"
	PauseAfterIP         = "after_ip"
	PauseAfterGetPrefix  = "after_get_"
)

// SamplerConfig tunes the stability-gated health sampler.
type SamplerConfig struct {
	Settle      time.Duration `yaml:"settle"`
	MaxWait     time.Duration `yaml:"max_wait"`
	TolInternal int64         `yaml:"tolerance_internal_bytes"`
	TolPsram    int64         `yaml:"tolerance_psram_bytes"`
}

// HTTPConfig tunes the device HTTP client.
type HTTPConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Attempts       int           `yaml:"attempts"`
	Backoff        time.Duration `yaml:"backoff"`
	RebootTimeout  time.Duration `yaml:"reboot_timeout"`
}

// HarnessConfig is resolved once at startup and passed by value afterwards.
type HarnessConfig struct {
	Scenario string `yaml:"scenario"`
	IP       string `yaml:"ip"`

	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`

	OutDir  string        `yaml:"out"`
	Timeout time.Duration `yaml:"timeout"`
	Reboot  bool          `yaml:"reboot"`
	Auth    string        `yaml:"auth"`

	Pause       []string `yaml:"pause"`
	Interactive bool     `yaml:"interactive"`

	Health             bool `yaml:"health"`
	Pages              bool `yaml:"pages"`
	BrowserParallel    int  `yaml:"browser_parallel"`
	BrowserHealthCount int  `yaml:"browser_health_count"`
	EchoSerial         bool `yaml:"echo_serial"`

	HeartbeatWait time.Duration `yaml:"heartbeat_wait"`
	MQTTWait      time.Duration `yaml:"mqtt_wait"`

	Sampler SamplerConfig `yaml:"sampler"`
	HTTP    HTTPConfig    `yaml:"http"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Baud:               115200,
		OutDir:             filepath.Join("artifacts", "memory-tests"),
		Timeout:            45 * time.Second,
		Reboot:             true,
		Interactive:        true,
		Health:             true,
		Pages:              true,
		BrowserParallel:    6,
		BrowserHealthCount: 2,
		HeartbeatWait:      90 * time.Second,
		MQTTWait:           30 * time.Second,
		Sampler: SamplerConfig{
			Settle:      2 * time.Second,
			MaxWait:     30 * time.Second,
			TolInternal: 2048,
			TolPsram:    8192,
		},
		HTTP: HTTPConfig{
			RequestTimeout: 10 * time.Second,
			Attempts:       3,
			Backoff:        250 * time.Millisecond,
			RebootTimeout:  500 * time.Millisecond,
		},
	}
}

// LoadConfig overlays the YAML file at path onto the defaults and applies
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (HarnessConfig, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyEnvironmentOverrides()
	return cfg, nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *HarnessConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("MEMHARNESS_PORT"); port != "" {
		c.Port = port
	}
	if out := os.Getenv("MEMHARNESS_OUT"); out != "" {
		c.OutDir = out
	}
	if auth := os.Getenv("MEMHARNESS_AUTH"); auth != "" {
		c.Auth = auth
	}
}

// Validate checks values that would otherwise fail deep inside a run.
func (c HarnessConfig) Validate() error {
	if !BaudSupported(c.Baud) {
		return fmt.Errorf("%w: %d", ErrUnsupportedBaud, c.Baud)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.BrowserParallel < 1 {
		return fmt.Errorf("browser parallelism must be at least 1, got %d", c.BrowserParallel)
	}
	if c.BrowserHealthCount < 0 {
		return fmt.Errorf("browser health count must not be negative, got %d", c.BrowserHealthCount)
	}
	if c.Auth != "" && !strings.Contains(c.Auth, ":") {
		return fmt.Errorf("auth must be user:pass")
	}
	if c.HTTP.Attempts < 1 {
		return fmt.Errorf("http attempts must be at least 1, got %d", c.HTTP.Attempts)
	}
	return nil
}

// BaudSupported reports whether baud is one of SupportedBauds.
func BaudSupported(baud int) bool {
	for _, b := range SupportedBauds {
		if b == baud {
			return true
		}
	}
	return false
}

// BasicAuth splits Auth into user and password.
func (c HarnessConfig) BasicAuth() (user, pass string, ok bool) {
	if c.Auth == "" {
		return "", "", false
	}
	user, pass, ok = strings.Cut(c.Auth, ":")
	return user, pass, ok
}

// PauseEnabled reports whether the named checkpoint should suspend the run.
func (c HarnessConfig) PauseEnabled(name string) bool {
	for _, p := range c.Pause {
		if p == PauseAll || p == name {
			return true
		}
	}
	return false
}

// ParsePauses splits a comma separated checkpoint list, dropping blanks
// and duplicates.
func ParsePauses(raw string) []string {
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		seen[part] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ReadinessTimeout bounds the wait for the "Setup complete" marker.
func (c HarnessConfig) ReadinessTimeout() time.Duration {
	return minDuration(30*time.Second, c.Timeout)
}

// RebootMarkerTimeout bounds the wait for a boot banner after a reboot.
func (c HarnessConfig) RebootMarkerTimeout() time.Duration {
	return minDuration(20*time.Second, c.Timeout)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
