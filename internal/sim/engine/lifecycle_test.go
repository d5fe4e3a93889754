package engine

import (
	"math"
	"testing"

	"tmesim/internal/sim/cells"
)

func TestDivisionConservesMassAndVolume(t *testing.T) {
	e := newTestEngine(t, 1, 0)
	var parent *Agent
	for _, a := range e.agents {
		parent = a
	}
	parent.Tumor.Exposure = 1000
	parent.Tumor.Dose = 400

	d1, d2 := e.divide(1, parent)

	if d1.ID == d2.ID || d1.ID == parent.ID || d2.ID == parent.ID {
		t.Fatalf("ids not distinct: parent=%s d1=%s d2=%s", parent.ID, d1.ID, d2.ID)
	}
	if got := d1.MassNg + d2.MassNg; math.Abs(got-parent.MassNg) > 1e-12 {
		t.Fatalf("mass not conserved: %v vs parent %v", got, parent.MassNg)
	}
	if got := d1.Volume() + d2.Volume(); math.Abs(got-parent.Volume())/parent.Volume() > 1e-12 {
		t.Fatalf("volume not conserved: %v vs parent %v", got, parent.Volume())
	}
	if got := d1.Tumor.Exposure + d2.Tumor.Exposure; math.Abs(got-1000) > 1e-9 {
		t.Fatalf("exposure not conserved: %v", got)
	}
	if got := d1.Tumor.Dose + d2.Tumor.Dose; math.Abs(got-400) > 1e-9 {
		t.Fatalf("dose not conserved: %v", got)
	}
	if d1.Tumor.AgeTicks != 0 || d1.Tumor.AboveTicks != 0 {
		t.Fatalf("per-life timers not reset: %+v", d1.Tumor)
	}
	if d1.Generation != parent.Generation+1 {
		t.Fatalf("generation=%d, want %d", d1.Generation, parent.Generation+1)
	}
}

func TestCommitLifecycleDeathWinsOverDivision(t *testing.T) {
	e := newTestEngine(t, 1, 0)
	var a *Agent
	for _, ag := range e.agents {
		a = ag
	}
	a.Dead = true
	a.DeathCause = cells.DeathApoptosis
	a.Divide = true

	births, deaths := e.commitLifecycle(1, []*Agent{a})
	if len(births) != 0 {
		t.Fatalf("dead agent divided: %+v", births)
	}
	if len(deaths) != 1 || deaths[0].Cause != cells.DeathApoptosis {
		t.Fatalf("deaths=%+v", deaths)
	}
	if _, ok := e.agents[a.ID]; ok {
		t.Fatalf("dead agent still present")
	}
}

func TestDeathRemovesContacts(t *testing.T) {
	e := newTestEngine(t, 2, 0)
	agents := e.liveAgents()
	a, b := agents[0], agents[1]
	e.contacts[pairKeyOf(a.ID, b.ID)] = &Contact{Ticks: 3, LastTick: 1}

	a.Dead = true
	a.DeathCause = cells.DeathApoptosis
	e.commitLifecycle(2, []*Agent{a})

	if e.ContactTicks(a.ID, b.ID) != 0 {
		t.Fatalf("contact survived the death")
	}
}

func TestDeliveryToDeadTargetIsHarmless(t *testing.T) {
	cfg := testConfig()
	e, err := New(cfg, []InitialAgent{
		{Type: "TUMOR", X: 100, Y: 100},
		{Type: "T_CELL", X: 105, Y: 100},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	agents := e.liveAgents()
	tumor, tc := agents[0], agents[1]
	tumor.Dead = true
	tumor.DeathCause = cells.DeathApoptosis
	e.contacts[pairKeyOf(tumor.ID, tc.ID)] = &Contact{Ticks: 6, LastTick: 1}

	e.applyTransfers(map[string]cells.Decision{
		tc.ID: {Transfer: &cells.TransferRequest{TargetID: tumor.ID, Packets: 400}},
	})

	// The dose lands on the corpse but nothing downstream reads it; a
	// second delivery must also be a no-op for the rest of the tick.
	e.applyTransfers(map[string]cells.Decision{
		tc.ID: {Transfer: &cells.TransferRequest{TargetID: tumor.ID, Packets: 400}},
	})

	_, deaths := e.commitLifecycle(2, e.liveAgents())
	if len(deaths) != 1 || deaths[0].ID != tumor.ID {
		t.Fatalf("deaths=%+v, want exactly one for %s", deaths, tumor.ID)
	}
}

func TestTransferRequiresContact(t *testing.T) {
	cfg := testConfig()
	e, err := New(cfg, []InitialAgent{
		{Type: "TUMOR", X: 20, Y: 20},
		{Type: "T_CELL", X: 200, Y: 200},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	agents := e.liveAgents()
	tumor, tc := agents[0], agents[1]

	e.applyTransfers(map[string]cells.Decision{
		tc.ID: {Transfer: &cells.TransferRequest{TargetID: tumor.ID, Packets: 400}},
	})
	if tumor.Tumor.Dose != 0 {
		t.Fatalf("dose delivered without contact: %v", tumor.Tumor.Dose)
	}
}
