package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v2"
)

// Collector configuration
//
// Loaded from YAML:
//
//	gc:
//	  max_heap: 64MB     # 0 or empty = unlimited
//	  max_array: 16MB    # largest single array allocation
//	  assertions: true   # verify invariants while marking and sweeping
//	  log_level: info
//
// Sizes accept any unit go-bytesize understands (B, KB, MB, GB, ...).

// ErrInvalid is wrapped by every validation failure
var ErrInvalid = errors.New("invalid configuration")

// GCConfig holds the collector settings
type GCConfig struct {
	MaxHeap    bytesize.ByteSize // Total accounted heap; 0 = unlimited
	MaxArray   bytesize.ByteSize // Largest single array; 0 = unlimited
	Assertions bool
	LogLevel   slog.Level
}

// Config is the top-level configuration document
type Config struct {
	GC GCConfig
}

type rawGC struct {
	MaxHeap    string `yaml:"max_heap"`
	MaxArray   string `yaml:"max_array"`
	Assertions *bool  `yaml:"assertions"`
	LogLevel   string `yaml:"log_level"`
}

type rawConfig struct {
	GC rawGC `yaml:"gc"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		GC: GCConfig{
			MaxHeap:    0,
			MaxArray:   256 * bytesize.MB,
			Assertions: true,
			LogLevel:   slog.LevelInfo,
		},
	}
}

// Load reads and parses a configuration file
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document on top of Default
func Parse(data []byte) (Config, error) {
	var raw rawConfig
	if err := yaml.UnmarshalStrict(data, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	cfg := Default()
	var err error
	if cfg.GC.MaxHeap, err = parseSize("max_heap", raw.GC.MaxHeap, cfg.GC.MaxHeap); err != nil {
		return Config{}, err
	}
	if cfg.GC.MaxArray, err = parseSize("max_array", raw.GC.MaxArray, cfg.GC.MaxArray); err != nil {
		return Config{}, err
	}
	if raw.GC.Assertions != nil {
		cfg.GC.Assertions = *raw.GC.Assertions
	}
	if raw.GC.LogLevel != "" {
		if err := cfg.GC.LogLevel.UnmarshalText([]byte(raw.GC.LogLevel)); err != nil {
			return Config{}, fmt.Errorf("%w: log_level: %v", ErrInvalid, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseSize(key, value string, def bytesize.ByteSize) (bytesize.ByteSize, error) {
	value = strings.TrimSpace(value)
	switch value {
	case "":
		return def, nil
	case "0":
		return 0, nil
	}
	size, err := bytesize.Parse(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	return size, nil
}

// Validate checks cross-field constraints
func (c Config) Validate() error {
	if c.GC.MaxHeap < 0 || c.GC.MaxArray < 0 {
		return fmt.Errorf("%w: sizes must not be negative", ErrInvalid)
	}
	if c.GC.MaxHeap > 0 && c.GC.MaxArray > c.GC.MaxHeap {
		return fmt.Errorf("%w: max_array (%s) exceeds max_heap (%s)", ErrInvalid, c.GC.MaxArray, c.GC.MaxHeap)
	}
	return nil
}

// HeapLimit returns the heap limit in bytes, 0 when unlimited
func (c GCConfig) HeapLimit() uint64 {
	return uint64(c.MaxHeap)
}

// ArrayLimit returns the array limit in bytes, 0 when unlimited
func (c GCConfig) ArrayLimit() uint64 {
	return uint64(c.MaxArray)
}
