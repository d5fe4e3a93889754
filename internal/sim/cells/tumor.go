package cells

import "math/rand"

// TumorState is the phenotype of a tumor cell.
type TumorState string

const (
	TumorProliferative TumorState = "PROLIFERATIVE"
	TumorQuiescent     TumorState = "QUIESCENT"
	TumorDead          TumorState = "DEAD"
)

// Recorded death causes.
const (
	DeathApoptosis  = "APOPTOSIS"
	DeathCytotoxic  = "CYTOTOXIC_KILL"
	DeathCheckpoint = "CHECKPOINT"
	DeathInvariant  = "INVARIANT_VIOLATION"
)

// TumorParams calibrates the tumor state machine. Probabilities are given
// over their reference timescale in seconds and rescaled per step.
type TumorParams struct {
	InitialProliferative float64 `yaml:"initial_proliferative"`

	ApoptosisProb      float64 `yaml:"apoptosis_prob"`
	ApoptosisTimescale float64 `yaml:"apoptosis_timescale_sec"`
	LethalDose         float64 `yaml:"lethal_dose"`

	DivideProb        float64 `yaml:"divide_prob"`
	DivideTimescale   float64 `yaml:"divide_timescale_sec"`
	GrowthMatureTicks uint64  `yaml:"growth_mature_ticks"`
	CrowdingLimit     int     `yaml:"crowding_limit"`

	QuiesceThreshold  float64 `yaml:"quiesce_threshold"`
	RevertThreshold   float64 `yaml:"revert_threshold"`
	DwellTicks        uint64  `yaml:"dwell_ticks"`
	ExposureDecayRate float64 `yaml:"exposure_decay_rate"`
	ExposureMax       float64 `yaml:"exposure_max"`

	UptakeRatePerSec   float64 `yaml:"uptake_rate_per_sec"`
	QuiescentUptakeDiv float64 `yaml:"quiescent_uptake_div"`

	MHCIBase      float64 `yaml:"mhci_base"`
	PDL1Base      float64 `yaml:"pdl1_base"`
	MHCIQuiescent float64 `yaml:"mhci_quiescent"`
	PDL1Quiescent float64 `yaml:"pdl1_quiescent"`

	DebrisOnDeath float64 `yaml:"debris_on_death"`
}

func (p *TumorParams) ApplyDefaults() {
	if p.InitialProliferative == 0 {
		p.InitialProliferative = 0.8
	}
	if p.ApoptosisProb == 0 {
		p.ApoptosisProb = 0.5
	}
	if p.ApoptosisTimescale == 0 {
		p.ApoptosisTimescale = 5 * 24 * 3600
	}
	if p.LethalDose == 0 {
		p.LethalDose = 128 * 100
	}
	if p.DivideProb == 0 {
		p.DivideProb = 0.6
	}
	if p.DivideTimescale == 0 {
		p.DivideTimescale = 24 * 3600
	}
	if p.GrowthMatureTicks == 0 {
		p.GrowthMatureTicks = 60
	}
	if p.CrowdingLimit == 0 {
		p.CrowdingLimit = 6
	}
	if p.QuiesceThreshold == 0 {
		p.QuiesceThreshold = 15000
	}
	if p.RevertThreshold == 0 {
		p.RevertThreshold = p.QuiesceThreshold / 2
	}
	if p.DwellTicks == 0 {
		p.DwellTicks = 3
	}
	if p.ExposureDecayRate == 0 {
		p.ExposureDecayRate = 1e-4
	}
	if p.ExposureMax == 0 {
		p.ExposureMax = 1e9
	}
	if p.UptakeRatePerSec == 0 {
		p.UptakeRatePerSec = 21.0 / 60.0
	}
	if p.QuiescentUptakeDiv == 0 {
		p.QuiescentUptakeDiv = 2
	}
	if p.MHCIBase == 0 {
		p.MHCIBase = 1000
	}
	if p.MHCIQuiescent == 0 {
		p.MHCIQuiescent = 5e4
	}
	if p.PDL1Quiescent == 0 {
		p.PDL1Quiescent = 5e4
	}
	if p.DebrisOnDeath == 0 {
		p.DebrisOnDeath = 1.4e15
	}
}

// TumorCell is the mutable phenotype state carried by a tumor agent.
type TumorCell struct {
	State       TumorState
	Exposure    float64
	Dose        float64
	MHCI        float64
	PDL1        float64
	AboveTicks  uint64
	AgeTicks    uint64
	DivideCount uint64
}

// NewTumorCell seeds a quiescent cell with its exposure at the quiesce
// threshold, inside the hysteresis band, so it does not revert to
// proliferative on the first step.
func NewTumorCell(p TumorParams, proliferative bool) TumorCell {
	c := TumorCell{
		State:    TumorQuiescent,
		Exposure: p.QuiesceThreshold,
		MHCI:     p.MHCIQuiescent,
		PDL1:     p.PDL1Quiescent,
	}
	if proliferative {
		c.State = TumorProliferative
		c.Exposure = 0
		c.MHCI = p.MHCIBase
		c.PDL1 = p.PDL1Base
	}
	return c
}

// UpdateTumor advances one tumor cell by one step of dt seconds. Death
// paths win over everything else; the phenotype transition uses a dwell
// window above the threshold and a lower revert threshold so the state
// cannot chatter at the boundary.
func UpdateTumor(p TumorParams, dt float64, c TumorCell, env LocalEnv, rng *rand.Rand) (TumorCell, Decision) {
	var d Decision
	if c.State == TumorDead {
		return c, d
	}
	c.AgeTicks++

	c.Exposure *= 1 - clamp(p.ExposureDecayRate*dt, 0, 1)
	c.Exposure = clamp(c.Exposure, 0, p.ExposureMax)

	if c.Dose >= p.LethalDose {
		c.State = TumorDead
		d.Die = true
		d.DeathCause = DeathCytotoxic
		d.secrete(SpeciesDebris, p.DebrisOnDeath)
		return c, d
	}
	if draw(rng, ProbInWindow(p.ApoptosisProb, p.ApoptosisTimescale, dt)) {
		c.State = TumorDead
		d.Die = true
		d.DeathCause = DeathApoptosis
		d.secrete(SpeciesDebris, p.DebrisOnDeath)
		return c, d
	}

	switch c.State {
	case TumorProliferative:
		if c.Exposure >= p.QuiesceThreshold {
			c.AboveTicks++
			if c.AboveTicks >= p.DwellTicks {
				c.State = TumorQuiescent
				c.AboveTicks = 0
			}
		} else {
			c.AboveTicks = 0
		}
	case TumorQuiescent:
		if c.Exposure <= p.RevertThreshold {
			c.State = TumorProliferative
			c.AboveTicks = 0
		}
	}

	if c.State == TumorQuiescent {
		c.MHCI = p.MHCIQuiescent
		c.PDL1 = p.PDL1Quiescent
	} else {
		c.MHCI = p.MHCIBase
		c.PDL1 = p.PDL1Base
	}

	if c.State == TumorProliferative &&
		c.AgeTicks >= p.GrowthMatureTicks &&
		env.Crowding <= p.CrowdingLimit &&
		draw(rng, ProbInWindow(p.DivideProb, p.DivideTimescale, dt)) {
		d.Divide = true
	}

	uptake := p.UptakeRatePerSec * dt
	if c.State == TumorQuiescent && p.QuiescentUptakeDiv > 0 {
		uptake /= p.QuiescentUptakeDiv
	}
	d.uptake(SpeciesIFNg, uptake)

	return c, d
}
