// Package config describes the directory servers termserve runs.
//
// The compiled-in table returned by Default mirrors the five terminal
// variants. A TOML or YAML file can replace it through Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultShutdownTimeout bounds how long in-flight requests may run once
// shutdown begins.
const DefaultShutdownTimeout = 5 * time.Second

// DefaultLogLevel is the logrus level used when none is configured.
const DefaultLogLevel = "info"

var (
	// ErrInvalid is wrapped by every validation failure.
	ErrInvalid = errors.New("invalid config")
	// ErrMissingDirs is returned when one or more serving directories do not exist.
	ErrMissingDirs = errors.New("missing directories")
)

// ServerSpec describes one directory server.
type ServerSpec struct {
	// Name is the display name printed in the status block.
	Name string `toml:"name" yaml:"name"`
	// Dir is the served directory, relative to the base directory unless absolute.
	Dir string `toml:"dir" yaml:"dir"`
	// Port is the TCP port the server listens on across all interfaces.
	Port int `toml:"port" yaml:"port"`
	// Color is a color name (e.g. "green") or a raw ANSI SGR code (e.g. "92").
	Color string `toml:"color" yaml:"color"`
}

// Root returns the absolute directory the server serves for the given base directory.
func (s ServerSpec) Root(baseDir string) string {
	if filepath.IsAbs(s.Dir) {
		return filepath.Clean(s.Dir)
	}
	return filepath.Join(baseDir, s.Dir)
}

// Config holds the server table and the process-wide settings.
type Config struct {
	Servers         []ServerSpec `toml:"server" yaml:"servers"`
	BaseDir         string       `toml:"base_dir" yaml:"base_dir"`
	ShutdownTimeout Duration     `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MaxConns caps concurrent connections per server. Zero means unlimited.
	MaxConns    int    `toml:"max_conns" yaml:"max_conns"`
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`
	LogLevel    string `toml:"log_level" yaml:"log_level"`
}

// Default returns the compiled-in configuration: ports 8005-8009, one per
// terminal variant.
func Default() *Config {
	return &Config{
		Servers:         DefaultServers(),
		ShutdownTimeout: Duration{DefaultShutdownTimeout},
		LogLevel:        DefaultLogLevel,
	}
}

// DefaultServers returns a fresh copy of the compiled-in server table.
func DefaultServers() []ServerSpec {
	return []ServerSpec{
		{Name: "Matrix Rain Terminal", Dir: "terminal-matrix", Port: 8005, Color: "green"},
		{Name: "Neon Grid Terminal", Dir: "terminal-neon-grid", Port: 8006, Color: "cyan"},
		{Name: "Tactical Terminal", Dir: "terminal-tactical", Port: 8007, Color: "yellow"},
		{Name: "Holographic Terminal", Dir: "terminal-hologram", Port: 8008, Color: "blue"},
		{Name: "Glitch Terminal", Dir: "terminal-glitch", Port: 8009, Color: "magenta"},
	}
}

func (c *Config) applyDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = DefaultServers()
	}
	if c.ShutdownTimeout.Duration == 0 {
		c.ShutdownTimeout = Duration{DefaultShutdownTimeout}
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks every server entry and setting. Ports must be in 1-65535
// and unique, names and directories non-empty, colors known.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("%w: no servers configured", ErrInvalid)
	}
	ports := make(map[int]string, len(c.Servers))
	for i, s := range c.Servers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("%w: server %d: empty name", ErrInvalid, i)
		}
		if strings.TrimSpace(s.Dir) == "" {
			return fmt.Errorf("%w: server %q: empty dir", ErrInvalid, s.Name)
		}
		if s.Port < 1 || s.Port > 65535 {
			return fmt.Errorf("%w: server %q: port %d out of range 1-65535", ErrInvalid, s.Name, s.Port)
		}
		if other, ok := ports[s.Port]; ok {
			return fmt.Errorf("%w: server %q: port %d already used by %q", ErrInvalid, s.Name, s.Port, other)
		}
		ports[s.Port] = s.Name
		if _, err := ParseColor(s.Color); err != nil {
			return fmt.Errorf("%w: server %q: %v", ErrInvalid, s.Name, err)
		}
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("%w: max_conns must not be negative", ErrInvalid)
	}
	if c.ShutdownTimeout.Duration < 0 {
		return fmt.Errorf("%w: shutdown_timeout must not be negative", ErrInvalid)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// MissingDirs returns the Dir of every spec whose root does not exist or is
// not a directory, in configuration order.
func MissingDirs(baseDir string, specs []ServerSpec) []string {
	var missing []string
	for _, s := range specs {
		info, err := os.Stat(s.Root(baseDir))
		if err != nil || !info.IsDir() {
			missing = append(missing, s.Dir)
		}
	}
	return missing
}

// Duration is a time.Duration that decodes from strings like "5s" in TOML
// and YAML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}
