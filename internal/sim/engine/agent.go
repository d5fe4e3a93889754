package engine

import (
	"math"

	"tmesim/internal/sim/cells"
)

// Agent is one simulated cell plus its physical body. Exactly one of the
// Tumor / TCell fields is meaningful, selected by Type.
type Agent struct {
	ID         string     `json:"id"`
	Num        uint64     `json:"num"`
	Type       cells.Type `json:"type"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	DiameterUm float64    `json:"diameter_um"`
	MassNg     float64    `json:"mass_ng"`

	Tumor cells.TumorCell `json:"tumor,omitempty"`
	TCell cells.TCell     `json:"tcell,omitempty"`

	Divide     bool   `json:"-"`
	Dead       bool   `json:"dead,omitempty"`
	DeathCause string `json:"death_cause,omitempty"`

	BornTick   uint64 `json:"born_tick"`
	Generation uint64 `json:"generation"`
}

func (a *Agent) Radius() float64 { return a.DiameterUm / 2 }

func (a *Agent) Volume() float64 {
	r := a.Radius()
	return 4.0 / 3.0 * math.Pi * r * r * r
}

func (a *Agent) Alive() bool { return !a.Dead }

// engagedDwell reports whether the agent is a T cell holding a synapse
// with an antigen-presenting tumor neighbor, which pins it in place.
func (a *Agent) engagedDwell(p cells.TCellParams, env cells.LocalEnv) bool {
	if a.Type != cells.TypeTCell {
		return false
	}
	for _, n := range env.Neighbors {
		if n.Type == cells.TypeTumor && n.MHCI >= p.LigandThreshold {
			return true
		}
	}
	return false
}

// structuralViolation returns a non-empty reason when the agent's body is
// inconsistent. The engine isolates such agents and keeps running.
func (a *Agent) structuralViolation() string {
	switch a.Type {
	case cells.TypeTumor, cells.TypeTCell:
	default:
		return "unknown agent type " + string(a.Type)
	}
	if a.DiameterUm <= 0 {
		return "non-positive diameter"
	}
	if a.MassNg <= 0 {
		return "non-positive mass"
	}
	return ""
}

// finiteViolation returns a non-empty description when a numeric field has
// left the finite domain. This is fatal for the run.
func (a *Agent) finiteViolation() string {
	bad := func(v float64) bool { return math.IsNaN(v) || math.IsInf(v, 0) }
	if bad(a.X) || bad(a.Y) {
		return "non-finite position"
	}
	if bad(a.DiameterUm) || bad(a.MassNg) {
		return "non-finite body"
	}
	switch a.Type {
	case cells.TypeTumor:
		if bad(a.Tumor.Exposure) || bad(a.Tumor.Dose) {
			return "non-finite tumor accumulator"
		}
	case cells.TypeTCell:
		if bad(a.TCell.Pool) {
			return "non-finite cytotoxic pool"
		}
	}
	return ""
}
