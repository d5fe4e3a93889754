package engine

import (
	"context"
	"testing"
	"time"

	"tmesim/internal/sim/cells"
)

type captureLogger struct {
	entries []TickLogEntry
}

func (c *captureLogger) LogTick(e TickLogEntry) error {
	c.entries = append(c.entries, e)
	return nil
}

func TestStepEmitsTickEntries(t *testing.T) {
	e := newTestEngine(t, 10, 4)
	var logged captureLogger
	e.SetTickLogger(&logged)

	for i := 0; i < 5; i++ {
		if _, _, err := e.StepOnce(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if len(logged.entries) != 5 {
		t.Fatalf("entries=%d, want 5", len(logged.entries))
	}
	for i, entry := range logged.entries {
		if entry.Tick != uint64(i+1) {
			t.Fatalf("entry %d has tick %d", i, entry.Tick)
		}
		if entry.Digest == "" {
			t.Fatalf("entry %d has empty digest", i)
		}
		total := 0
		for _, n := range entry.Populations {
			total += n
		}
		if total == 0 {
			t.Fatalf("entry %d has empty populations", i)
		}
	}
}

func TestStructuralViolationIsolatesAgent(t *testing.T) {
	e := newTestEngine(t, 3, 0)
	var victim *Agent
	for _, a := range e.liveAgents() {
		victim = a
		break
	}
	victim.DiameterUm = -1

	var logged captureLogger
	e.SetTickLogger(&logged)
	if _, _, err := e.StepOnce(); err != nil {
		t.Fatalf("run did not continue past the violation: %v", err)
	}

	if _, ok := e.agents[victim.ID]; ok {
		t.Fatalf("violating agent not removed")
	}
	entry := logged.entries[0]
	if len(entry.Invariants) == 0 {
		t.Fatalf("no invariant message in tick log")
	}
	found := false
	for _, d := range entry.Deaths {
		if d.ID == victim.ID && d.Cause == cells.DeathInvariant {
			found = true
		}
	}
	if !found {
		t.Fatalf("no invariant death record: %+v", entry.Deaths)
	}
}

func TestNonFinitePositionIsFatal(t *testing.T) {
	e := newTestEngine(t, 2, 0)
	for _, a := range e.liveAgents() {
		a.X = nan()
		break
	}
	_, _, err := e.StepOnce()
	if err == nil {
		t.Fatalf("non-finite position did not abort the run")
	}
	if _, ok := err.(*DivergenceError); !ok {
		t.Fatalf("err=%T, want DivergenceError", err)
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestUptakeCreditsTumorExposure(t *testing.T) {
	cfg := testConfig()
	cfg.Tumor.ApoptosisProb = 1e-12
	e, err := New(cfg, []InitialAgent{{Type: "TUMOR", X: 100, Y: 100}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.Field().SetUniform(cells.SpeciesIFNg, 100)

	var tumor *Agent
	for _, a := range e.agents {
		tumor = a
	}
	if _, _, err := e.StepOnce(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if tumor.Tumor.Exposure <= 0 {
		t.Fatalf("exposure not credited from field uptake")
	}
}

func TestRunReportsStepDurations(t *testing.T) {
	e := newTestEngine(t, 5, 2)
	var observed int
	e.SetStepTimer(func(d time.Duration) {
		if d < 0 {
			t.Fatalf("negative step duration %v", d)
		}
		observed++
	})
	if err := e.Run(context.Background(), 3, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if observed != 3 {
		t.Fatalf("timer fired %d times, want 3", observed)
	}
}

func TestPopulationsCountByTypeAndState(t *testing.T) {
	cfg := testConfig()
	e, err := New(cfg, []InitialAgent{
		{Type: "TUMOR", X: 10, Y: 10, Phenotype: "PROLIFERATIVE"},
		{Type: "TUMOR", X: 50, Y: 50, Phenotype: "QUIESCENT"},
		{Type: "T_CELL", X: 90, Y: 90, Phenotype: "PD1_NEG"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pops := e.Populations()
	if pops["TUMOR/PROLIFERATIVE"] != 1 || pops["TUMOR/QUIESCENT"] != 1 || pops["T_CELL/PD1_NEG"] != 1 {
		t.Fatalf("populations=%v", pops)
	}
}
