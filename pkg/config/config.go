// Package config loads the YAML configuration of the sample binaries.
//
// Load starts from Default and overlays the file, so a file only needs the
// keys it changes. Unknown keys are rejected. Watch reloads the file when
// it changes on disk.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config errors.
var (
	ErrInvalid = errors.New("invalid configuration")
)

// Config holds the settings shared by the sample device and control point.
type Config struct {
	// Interface names the network interface to bind. Empty selects the
	// first suitable one.
	Interface string `yaml:"interface"`

	// Port is the HTTP port. 0 lets the system choose.
	Port int `yaml:"port"`

	// WebDir is served as the web server root.
	WebDir string `yaml:"web_dir"`

	// DescDocName is the description document below WebDir.
	DescDocName string `yaml:"desc_doc_name"`

	// MaxAge is the advertisement lifetime.
	MaxAge Duration `yaml:"max_age"`

	// StateDir holds persistent device state. Empty disables persistence.
	StateDir string `yaml:"state_dir"`

	// CaptureFile receives the protocol capture. Empty disables capture.
	CaptureFile string `yaml:"capture_file"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// DNSSD enables the additional mDNS announcement.
	DNSSD bool `yaml:"dnssd"`

	// Metrics enables the /metrics endpoint.
	Metrics bool `yaml:"metrics"`

	Search Search `yaml:"search"`
}

// Search configures the control point's searches.
type Search struct {
	// MX is the M-SEARCH response window in seconds.
	MX int `yaml:"mx"`

	// Target is the ST header value.
	Target string `yaml:"target"`
}

// Duration is a time.Duration that reads "90s" style strings or plain
// seconds from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	var secs int
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("%w: bad duration %q", ErrInvalid, s)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:        49152,
		WebDir:      "./web",
		DescDocName: "tvdevicedesc.xml",
		MaxAge:      Duration(100 * time.Second),
		LogLevel:    "info",
		Search: Search{
			MX:     5,
			Target: "urn:schemas-upnp-org:device:tvdevice:1",
		},
	}
}

// Load reads path over Default. A missing path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	// #nosec G304 -- configuration file paths are provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: multiple documents", ErrInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: port %d", ErrInvalid, c.Port))
	}
	if c.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("%w: negative max_age", ErrInvalid))
	}
	if c.Search.MX < 1 {
		errs = append(errs, fmt.Errorf("%w: search.mx must be at least 1", ErrInvalid))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Marshal encodes c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: log level %q", ErrInvalid, s)
}
