package tfconfig

import (
	"fmt"
)

// Validate enforces the required-field and range checks a Config must pass
// before anything is wired up.
func Validate(cfg *Config) error {
	if cfg.Pool.Capacity <= 0 {
		return fmt.Errorf("pool.capacity must be positive, got %d", cfg.Pool.Capacity)
	}
	if cfg.Pool.PageSize <= 0 {
		return fmt.Errorf("pool.pageSize must be positive, got %d", cfg.Pool.PageSize)
	}
	if cfg.Aggregator.SliceTimeout < 0 {
		return fmt.Errorf("aggregator.sliceTimeout must be >= 0, got %f", cfg.Aggregator.SliceTimeout)
	}
	if cfg.Aggregator.OutputCapacity <= 1 || cfg.Aggregator.OutputCapacity&(cfg.Aggregator.OutputCapacity-1) != 0 {
		return fmt.Errorf("aggregator.outputCapacity must be a power of two >= 2, got %d", cfg.Aggregator.OutputCapacity)
	}
	if len(cfg.Equipment) == 0 {
		return fmt.Errorf("at least one equipment entry is required")
	}
	names := make(map[string]bool, len(cfg.Equipment))
	for i, eq := range cfg.Equipment {
		if eq.Name == "" {
			return fmt.Errorf("equipment[%d]: name is required", i)
		}
		if names[eq.Name] {
			return fmt.Errorf("equipment[%d]: duplicate name %q", i, eq.Name)
		}
		names[eq.Name] = true
		switch eq.Kind {
		case "card", "emulator", "filereplay":
		default:
			return fmt.Errorf("equipment[%q]: unknown kind %q", eq.Name, eq.Kind)
		}
		if eq.Kind == "filereplay" && eq.FilePath == "" {
			return fmt.Errorf("equipment[%q]: filePath is required for kind=filereplay", eq.Name)
		}
		if eq.TFPeriod == 0 {
			return fmt.Errorf("equipment[%q]: tfPeriod must be positive", eq.Name)
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics.enabled is true")
	}
	return nil
}
