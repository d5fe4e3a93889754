package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesPartialFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	raw := []byte(`
id: exp_7
seed: 99
dt_sec: 30
tumor:
  quiesce_threshold: 20000
  dwell_ticks: 4
field:
  bounds_um: [600, 600]
  bins: [60, 60]
`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ID != "exp_7" || cfg.Seed != 99 || cfg.DtSec != 30 {
		t.Fatalf("top-level fields: %+v", cfg)
	}
	if cfg.Tumor.QuiesceThreshold != 20000 || cfg.Tumor.DwellTicks != 4 {
		t.Fatalf("tumor params: %+v", cfg.Tumor)
	}
	if cfg.Field.BoundsUm != [2]float64{600, 600} {
		t.Fatalf("field bounds: %v", cfg.Field.BoundsUm)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(path, []byte("dt_sec: [not a number"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("malformed yaml accepted")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("err=%v, want not-exist", err)
	}
}
