package cells

import (
	"math"
	"math/rand"
	"testing"
)

func tumorTestParams() TumorParams {
	var p TumorParams
	p.ApplyDefaults()
	// Quiet the stochastic paths so transitions are the only moving part.
	p.ApoptosisProb = 0
	p.DivideProb = 0
	p.ExposureDecayRate = 0
	p.QuiesceThreshold = 100
	p.RevertThreshold = 50
	p.DwellTicks = 3
	return p
}

func TestTumorQuiescesAfterDwellWindow(t *testing.T) {
	p := tumorTestParams()
	rng := rand.New(rand.NewSource(1))
	c := NewTumorCell(p, true)

	for i := 1; i <= 3; i++ {
		c.Exposure = 200
		var d Decision
		c, d = UpdateTumor(p, 60, c, LocalEnv{}, rng)
		if d.Die {
			t.Fatalf("tick %d: unexpected death", i)
		}
		if i < 3 && c.State != TumorProliferative {
			t.Fatalf("tick %d: transitioned before dwell window, state=%s", i, c.State)
		}
	}
	if c.State != TumorQuiescent {
		t.Fatalf("state=%s after dwell window, want %s", c.State, TumorQuiescent)
	}
	if c.MHCI != p.MHCIQuiescent || c.PDL1 != p.PDL1Quiescent {
		t.Fatalf("quiescent markers not raised: MHCI=%v PDL1=%v", c.MHCI, c.PDL1)
	}
}

func TestTumorDwellWindowResetsWhenExposureDips(t *testing.T) {
	p := tumorTestParams()
	rng := rand.New(rand.NewSource(1))
	c := NewTumorCell(p, true)

	c.Exposure = 200
	c, _ = UpdateTumor(p, 60, c, LocalEnv{}, rng)
	c.Exposure = 200
	c, _ = UpdateTumor(p, 60, c, LocalEnv{}, rng)

	// A dip below threshold resets the counter.
	c.Exposure = 10
	c, _ = UpdateTumor(p, 60, c, LocalEnv{}, rng)
	if c.State != TumorProliferative {
		t.Fatalf("state=%s, want still proliferative", c.State)
	}

	c.Exposure = 200
	c, _ = UpdateTumor(p, 60, c, LocalEnv{}, rng)
	c.Exposure = 200
	c, _ = UpdateTumor(p, 60, c, LocalEnv{}, rng)
	if c.State != TumorProliferative {
		t.Fatalf("counter did not reset: state=%s after 2 ticks above", c.State)
	}
}

func TestTumorRevertsBelowRevertThreshold(t *testing.T) {
	p := tumorTestParams()
	rng := rand.New(rand.NewSource(1))
	c := NewTumorCell(p, false)

	// Above revert threshold: stays quiescent.
	c.Exposure = 75
	c, _ = UpdateTumor(p, 60, c, LocalEnv{}, rng)
	if c.State != TumorQuiescent {
		t.Fatalf("state=%s, want quiescent inside hysteresis band", c.State)
	}

	c.Exposure = 40
	c, _ = UpdateTumor(p, 60, c, LocalEnv{}, rng)
	if c.State != TumorProliferative {
		t.Fatalf("state=%s, want proliferative below revert threshold", c.State)
	}
	if c.MHCI != p.MHCIBase {
		t.Fatalf("markers not restored: MHCI=%v want %v", c.MHCI, p.MHCIBase)
	}
}

func TestTumorLethalDoseKills(t *testing.T) {
	p := tumorTestParams()
	rng := rand.New(rand.NewSource(1))
	c := NewTumorCell(p, true)
	c.Dose = p.LethalDose

	c, d := UpdateTumor(p, 60, c, LocalEnv{}, rng)
	if !d.Die || d.DeathCause != DeathCytotoxic {
		t.Fatalf("die=%v cause=%q, want cytotoxic kill", d.Die, d.DeathCause)
	}
	if c.State != TumorDead {
		t.Fatalf("state=%s, want dead", c.State)
	}
	if d.Secretions[SpeciesDebris] != p.DebrisOnDeath {
		t.Fatalf("debris=%v, want %v", d.Secretions[SpeciesDebris], p.DebrisOnDeath)
	}
}

func TestTumorSubLethalDoseAccumulates(t *testing.T) {
	p := tumorTestParams()
	rng := rand.New(rand.NewSource(1))
	c := NewTumorCell(p, true)
	c.Dose = p.LethalDose - 1

	c, d := UpdateTumor(p, 60, c, LocalEnv{}, rng)
	if d.Die {
		t.Fatalf("died below lethal dose")
	}
	if c.Dose != p.LethalDose-1 {
		t.Fatalf("dose changed without delivery: %v", c.Dose)
	}
}

func TestQuiescentSeedHoldsState(t *testing.T) {
	p := tumorTestParams()
	rng := rand.New(rand.NewSource(1))
	c := NewTumorCell(p, false)

	if c.Exposure != p.QuiesceThreshold {
		t.Fatalf("seed exposure=%v, want %v", c.Exposure, p.QuiesceThreshold)
	}
	for i := 0; i < 5; i++ {
		c, _ = UpdateTumor(p, 60, c, LocalEnv{}, rng)
		if c.State != TumorQuiescent {
			t.Fatalf("tick %d: seeded quiescent cell reverted, state=%s", i+1, c.State)
		}
	}
}

func TestTumorUptakeHalvedWhenQuiescent(t *testing.T) {
	p := tumorTestParams()
	rng := rand.New(rand.NewSource(1))

	prolif := NewTumorCell(p, true)
	_, dp := UpdateTumor(p, 60, prolif, LocalEnv{}, rng)

	quiescent := NewTumorCell(p, false)
	_, dq := UpdateTumor(p, 60, quiescent, LocalEnv{}, rng)

	if dq.Uptakes[SpeciesIFNg]*2 != dp.Uptakes[SpeciesIFNg] {
		t.Fatalf("uptakes prolif=%v quiescent=%v, want 2:1",
			dp.Uptakes[SpeciesIFNg], dq.Uptakes[SpeciesIFNg])
	}
}

func TestTumorDeadIsInert(t *testing.T) {
	p := tumorTestParams()
	rng := rand.New(rand.NewSource(1))
	c := TumorCell{State: TumorDead}

	next, d := UpdateTumor(p, 60, c, LocalEnv{}, rng)
	if d.Die || d.Divide || len(d.Secretions) != 0 || len(d.Uptakes) != 0 {
		t.Fatalf("dead cell produced a decision: %+v", d)
	}
	if next != c {
		t.Fatalf("dead cell state changed: %+v", next)
	}
}

func TestProbInWindow(t *testing.T) {
	if got := ProbInWindow(0.5, 3600, 3600); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("full window: got %v, want 0.5", got)
	}
	if got := ProbInWindow(1, 3600, 60); got != 1 {
		t.Fatalf("p=1: got %v", got)
	}
	if got := ProbInWindow(0, 3600, 60); got != 0 {
		t.Fatalf("p=0: got %v", got)
	}
	// Halving the step must not halve the probability linearly: the
	// Poisson rescale compounds, so two half-steps equal one full step.
	half := ProbInWindow(0.5, 3600, 1800)
	combined := 1 - (1-half)*(1-half)
	if math.Abs(combined-0.5) > 1e-12 {
		t.Fatalf("compounding broken: half=%v combined=%v", half, combined)
	}
}
