package engine

import (
	"errors"
	"testing"
)

func TestConfigRejectsNonPositiveDt(t *testing.T) {
	cfg := testConfig()
	cfg.DtSec = -1
	_, err := New(cfg, nil)
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Field != "dt_sec" {
		t.Fatalf("err=%v, want ConfigError on dt_sec", err)
	}
}

func TestConfigRejectsInvertedHysteresisBand(t *testing.T) {
	cfg := testConfig()
	cfg.Tumor.QuiesceThreshold = 100
	cfg.Tumor.RevertThreshold = 200
	_, err := New(cfg, nil)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err=%v, want ConfigError", err)
	}
}

func TestConfigRejectsOutOfRangeSplit(t *testing.T) {
	cfg := testConfig()
	cfg.DivisionSplit = 1.5
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("division split 1.5 accepted")
	}
}

func TestSpawnRejectsOutOfBoundsPosition(t *testing.T) {
	cfg := testConfig()
	_, err := New(cfg, []InitialAgent{{Type: "TUMOR", X: 500, Y: 10}})
	if err == nil {
		t.Fatalf("out-of-bounds agent accepted")
	}
}

func TestSpawnRejectsUnknownType(t *testing.T) {
	cfg := testConfig()
	_, err := New(cfg, []InitialAgent{{Type: "NK_CELL", X: 10, Y: 10}})
	if err == nil {
		t.Fatalf("unknown agent type accepted")
	}
}

func TestDefaultsYieldRunnableEngine(t *testing.T) {
	e, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("zero config rejected: %v", err)
	}
	if e.Config().DtSec != 60 {
		t.Fatalf("dt default=%v", e.Config().DtSec)
	}
	if e.Config().Tumor.QuiesceThreshold != 15000 {
		t.Fatalf("quiesce threshold default=%v", e.Config().Tumor.QuiesceThreshold)
	}
}
