package cbffi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coinbase/cb-ffi-go/pkg/cbffi/logging"
)

// Config expresses the knobs of a boundary host. The zero value is usable;
// DefaultConfig spells out the defaults explicitly.
type Config struct {
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// HandleLimit caps the handle space. Zero means the full positive int64
	// range.
	HandleLimit int64 `yaml:"handle_limit"`

	// MaxPayload bounds any single payload in bytes, including decompressed
	// output. Zero selects DefaultMaxPayload.
	MaxPayload int `yaml:"max_payload"`

	// Codec selects how structured results are encoded: json or proto.
	Codec string `yaml:"codec"`

	// ProgressInterval throttles progress callbacks. Zero delivers every
	// report.
	ProgressInterval time.Duration `yaml:"progress_interval"`

	// RecentLogSize is the number of log lines kept for cbffi_recent_log.
	RecentLogSize int `yaml:"recent_log_size"`

	// ZeroizeOnRelease overwrites payload memory before it is freed.
	ZeroizeOnRelease bool `yaml:"zeroize_on_release"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		MaxPayload:    DefaultMaxPayload,
		Codec:         "json",
		RecentLogSize: logging.DefaultRingSize,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidArgument, err)
	}
	if c.HandleLimit < 0 {
		return fmt.Errorf("%w: handle_limit must not be negative (got %d)", ErrInvalidArgument, c.HandleLimit)
	}
	if c.MaxPayload < 0 {
		return fmt.Errorf("%w: max_payload must not be negative (got %d)", ErrInvalidArgument, c.MaxPayload)
	}
	if _, err := CodecByName(c.Codec); err != nil {
		return fmt.Errorf("codec: %w", err)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("%w: progress_interval must not be negative", ErrInvalidArgument)
	}
	if c.RecentLogSize < 0 {
		return fmt.Errorf("%w: recent_log_size must not be negative", ErrInvalidArgument)
	}
	return nil
}

// ParseConfig decodes a YAML document on top of DefaultConfig. Unknown keys
// are rejected. An empty document yields the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: parse config: %v", ErrInvalidArgument, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}
