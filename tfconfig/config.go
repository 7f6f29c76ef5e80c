// Package tfconfig loads and validates the YAML configuration consumed by
// the timeframe aggregator host, covering every key enumerated in the
// external interfaces section: slicing/timeout behavior, RDH validation
// knobs, and the timeframe period.
package tfconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PoolConfig sizes the shared MemoryPool.
type PoolConfig struct {
	Capacity int `yaml:"capacity"`
	PageSize int `yaml:"pageSize"`
}

// AggregatorConfig configures the round-robin scheduler.
type AggregatorConfig struct {
	DisableSlicing bool    `yaml:"disableSlicing"`
	SliceTimeout   float64 `yaml:"sliceTimeout"`
	OutputCapacity int     `yaml:"outputCapacity"`
}

// RdhConfig configures embedded frame-header decoration and validation.
// CheckPacketCounterContiguous and DumpErrorEnabled default to true, so
// they are pointers: nil means "not set in YAML, use the default".
type RdhConfig struct {
	UseFirstInPageEnabled        bool  `yaml:"rdhUseFirstInPageEnabled"`
	CheckEnabled                 bool  `yaml:"rdhCheckEnabled"`
	CheckPacketCounterContiguous *bool `yaml:"rdhCheckPacketCounterContiguous"`
	DumpEnabled                  int   `yaml:"rdhDumpEnabled"`
	DumpErrorEnabled             *bool `yaml:"rdhDumpErrorEnabled"`
}

// ContiguousCheck resolves CheckPacketCounterContiguous's default (true).
func (r RdhConfig) ContiguousCheck() bool {
	return r.CheckPacketCounterContiguous == nil || *r.CheckPacketCounterContiguous
}

// DumpOnError resolves DumpErrorEnabled's default (true).
func (r RdhConfig) DumpOnError() bool {
	return r.DumpErrorEnabled == nil || *r.DumpErrorEnabled
}

// EquipmentConfig configures one EquipmentProducer.
type EquipmentConfig struct {
	Name               string `yaml:"name"`
	Kind               string `yaml:"kind"` // "card" | "emulator" | "filereplay"
	FilePath           string `yaml:"filePath,omitempty"`
	CleanPageBeforeUse bool   `yaml:"cleanPageBeforeUse"`
	TFPeriod           uint64 `yaml:"tfPeriod"`
	StopOnError        bool   `yaml:"stopOnError"`
	Rdh                RdhConfig `yaml:"rdh"`
}

// MetricsConfig gates the optional Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Config is the full, validated configuration the host loads once at
// startup.
type Config struct {
	Pool       PoolConfig        `yaml:"pool"`
	Aggregator AggregatorConfig  `yaml:"aggregator"`
	Equipment  []EquipmentConfig `yaml:"equipment"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

// Load reads, parses, defaults, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tfconfig: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tfconfig: parse %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("tfconfig: %s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Pool.Capacity == 0 {
		cfg.Pool.Capacity = 128
	}
	if cfg.Pool.PageSize == 0 {
		cfg.Pool.PageSize = 64 * 1024
	}
	if cfg.Aggregator.OutputCapacity == 0 {
		cfg.Aggregator.OutputCapacity = 64
	}
	for i := range cfg.Equipment {
		eq := &cfg.Equipment[i]
		if eq.TFPeriod == 0 {
			eq.TFPeriod = 256
		}
		if eq.Kind == "" {
			eq.Kind = "emulator"
		}
	}
}
