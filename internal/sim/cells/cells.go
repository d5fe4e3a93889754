// Package cells holds the per-agent phenotype state machines for the two
// simulated populations. Updates are pure: given the previous cell state, a
// local-environment snapshot and a seeded random stream they return the next
// cell state plus the requests the engine should act on. Nothing in this
// package reads engine or field state directly.
package cells

import (
	"math"
	"math/rand"
)

type Type string

const (
	TypeTumor Type = "TUMOR"
	TypeTCell Type = "T_CELL"
)

// Diffusible species ids shared with the field solver.
const (
	SpeciesIFNg   = "IFNg"
	SpeciesDebris = "TUMOR_DEBRIS"
)

// NeighborInfo summarizes one currently-contacting neighbor. Marker values
// are the expression levels the neighbor presented at its last update.
type NeighborInfo struct {
	ID           string
	Type         Type
	MHCI         float64
	PDL1         float64
	TCR          float64
	PD1          float64
	ContactTicks uint64
	Distance     float64
}

// LocalEnv is the only channel through which a state machine observes the
// outside world. Neighbors are sorted by id; concentrations are ng/mL
// sampled at the agent's grid cell at the start of the tick.
type LocalEnv struct {
	Concentrations map[string]float64
	Neighbors      []NeighborInfo
	Crowding       int
}

// TransferRequest asks the contact resolver to deliver a payload to a
// specific neighbor. Delivery happens only if the pair is still in contact
// when the resolver runs.
type TransferRequest struct {
	TargetID string
	Packets  float64
}

// Decision is everything a state machine may ask of the engine for one tick.
// Secretions and Uptakes are molecule counts; the field solver converts them
// to concentration at the agent's grid cell and caps uptake at availability.
type Decision struct {
	Secretions map[string]float64
	Uptakes    map[string]float64
	Transfer   *TransferRequest
	Divide     bool
	Die        bool
	DeathCause string
}

func (d *Decision) secrete(species string, counts float64) {
	if counts <= 0 {
		return
	}
	if d.Secretions == nil {
		d.Secretions = map[string]float64{}
	}
	d.Secretions[species] += counts
}

func (d *Decision) uptake(species string, counts float64) {
	if counts <= 0 {
		return
	}
	if d.Uptakes == nil {
		d.Uptakes = map[string]float64{}
	}
	d.Uptakes[species] += counts
}

// ProbInWindow converts a probability observed over a reference timescale
// into the equivalent per-step probability for a step of dt seconds,
// assuming a Poisson process.
func ProbInWindow(p, timescaleSec, dt float64) float64 {
	if p <= 0 || timescaleSec <= 0 || dt <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}
	rate := -math.Log(1 - p)
	return 1 - math.Exp(-rate*dt/timescaleSec)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func draw(rng *rand.Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return rng.Float64() < p
}
