package tfconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tfagg.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
equipment:
  - name: cru0
    kind: emulator
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.Capacity != 128 || cfg.Pool.PageSize != 64*1024 {
		t.Fatalf("pool defaults not applied: %+v", cfg.Pool)
	}
	if cfg.Aggregator.OutputCapacity != 64 {
		t.Fatalf("output capacity default not applied: %d", cfg.Aggregator.OutputCapacity)
	}
	if cfg.Equipment[0].TFPeriod != 256 {
		t.Fatalf("tfPeriod default not applied: %d", cfg.Equipment[0].TFPeriod)
	}
	if !cfg.Equipment[0].Rdh.ContiguousCheck() || !cfg.Equipment[0].Rdh.DumpOnError() {
		t.Fatal("rdh bool defaults should resolve to true when unset")
	}
}

func TestLoadRejectsMissingEquipment(t *testing.T) {
	path := writeConfig(t, `pool:
  capacity: 4
  pageSize: 65536
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for config with no equipment entries")
	}
}

func TestLoadRejectsFileReplayWithoutPath(t *testing.T) {
	path := writeConfig(t, `
equipment:
  - name: replay0
    kind: filereplay
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for filereplay without filePath")
	}
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	path := writeConfig(t, `
equipment:
  - name: cru0
    kind: emulator
  - name: cru0
    kind: emulator
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for duplicate equipment names")
	}
}

func TestExplicitFalseOverridesDefault(t *testing.T) {
	path := writeConfig(t, `
equipment:
  - name: cru0
    kind: emulator
    rdh:
      rdhCheckPacketCounterContiguous: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Equipment[0].Rdh.ContiguousCheck() {
		t.Fatal("explicit false should override the true default")
	}
}
