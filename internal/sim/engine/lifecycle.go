package engine

import (
	"math"

	"tmesim/internal/sim/cells"
)

// commitLifecycle removes dead agents and splits dividing ones. Deaths run
// first so a cell that both died and was flagged to divide never divides.
// Removal also drops the agent's contact records, resetting any T cell
// engagement timers against it on the next environment build.
func (e *Engine) commitLifecycle(tick uint64, agents []*Agent) ([]BirthRecord, []DeathRecord) {
	var births []BirthRecord
	var deaths []DeathRecord

	for _, a := range agents {
		if !a.Dead {
			continue
		}
		deaths = append(deaths, DeathRecord{ID: a.ID, Cause: a.DeathCause})
		delete(e.agents, a.ID)
		e.clearContactsFor(a.ID)
	}

	for _, a := range agents {
		if a.Dead || !a.Divide {
			continue
		}
		a.Divide = false
		d1, d2 := e.divide(tick, a)
		delete(e.agents, a.ID)
		e.clearContactsFor(a.ID)
		e.agents[d1.ID] = d1
		e.agents[d2.ID] = d2
		births = append(births, BirthRecord{ParentID: a.ID, ChildIDs: []string{d1.ID, d2.ID}})
	}
	return births, deaths
}

// divide splits a parent into two daughters that together carry exactly the
// parent's mass. Diameters scale with the cube root of the volume fraction;
// accumulators split with the mass and per-life timers reset.
func (e *Engine) divide(tick uint64, parent *Agent) (*Agent, *Agent) {
	rng := e.rngAt(streamDivision, parent.Num, tick)
	jitter := e.cfg.Motion.DivisionJitterFrac * parent.DiameterUm
	bounds := e.fld.Bounds()

	mk := func(frac float64) *Agent {
		id := e.newAgentID()
		d := &Agent{
			ID:         id,
			Num:        e.nextAgentNum,
			Type:       parent.Type,
			X:          clampF(parent.X+rng.NormFloat64()*jitter, 0, bounds[0]),
			Y:          clampF(parent.Y+rng.NormFloat64()*jitter, 0, bounds[1]),
			DiameterUm: parent.DiameterUm * math.Cbrt(frac),
			MassNg:     parent.MassNg * frac,
			BornTick:   tick,
			Generation: parent.Generation + 1,
		}
		switch parent.Type {
		case cells.TypeTumor:
			d.Tumor = parent.Tumor
			d.Tumor.Exposure *= frac
			d.Tumor.Dose *= frac
			d.Tumor.AboveTicks = 0
			d.Tumor.AgeTicks = 0
			d.Tumor.DivideCount = parent.Tumor.DivideCount + 1
		case cells.TypeTCell:
			d.TCell = parent.TCell
			d.TCell.Pool *= frac
			d.TCell.EngagedTicks = 0
			d.TCell.AgeTicks = 0
			d.TCell.DivideCount = parent.TCell.DivideCount + 1
		}
		return d
	}

	d1 := mk(e.cfg.DivisionSplit)
	d2 := mk(1 - e.cfg.DivisionSplit)
	return d1, d2
}
