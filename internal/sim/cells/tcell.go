package cells

import (
	"math"
	"math/rand"
)

// TCellState is the phenotype of a T cell.
type TCellState string

const (
	TCellPD1Neg TCellState = "PD1_NEG"
	TCellPD1Pos TCellState = "PD1_POS"
	TCellDead   TCellState = "DEAD"
)

// TCellParams calibrates the T cell state machine.
type TCellParams struct {
	InitialPD1Neg float64 `yaml:"initial_pd1_neg"`

	ApoptosisProbBase       float64 `yaml:"apoptosis_prob_base"`
	ApoptosisProbPD1Pos     float64 `yaml:"apoptosis_prob_pd1_pos"`
	ApoptosisProbCheckpoint float64 `yaml:"apoptosis_prob_checkpoint"`
	ApoptosisTimescale      float64 `yaml:"apoptosis_timescale_sec"`

	LigandThreshold          float64 `yaml:"ligand_threshold"`
	CheckpointThreshold      float64 `yaml:"checkpoint_threshold"`
	EngagementThresholdTicks uint64  `yaml:"engagement_threshold_ticks"`

	IFNgProdPerSec       float64 `yaml:"ifng_prod_per_sec"`
	IFNgProdPerSecPD1Pos float64 `yaml:"ifng_prod_per_sec_pd1_pos"`
	ReducedProductionDiv float64 `yaml:"reduced_production_div"`

	PacketProdPerSec float64 `yaml:"packet_prod_per_sec"`
	PoolMaxPD1Neg    float64 `yaml:"pool_max_pd1_neg"`
	PoolMaxPD1Pos    float64 `yaml:"pool_max_pd1_pos"`
	TransferPerSec   float64 `yaml:"transfer_per_sec"`

	DivideProbPD1Neg  float64 `yaml:"divide_prob_pd1_neg"`
	DivideProbPD1Pos  float64 `yaml:"divide_prob_pd1_pos"`
	DivideTimescale   float64 `yaml:"divide_timescale_sec"`
	GrowthMatureTicks uint64  `yaml:"growth_mature_ticks"`
	CrowdingLimit     int     `yaml:"crowding_limit"`

	TCRBase        float64 `yaml:"tcr_base"`
	PD1Equilibrium float64 `yaml:"pd1_equilibrium"`
}

func (p *TCellParams) ApplyDefaults() {
	if p.InitialPD1Neg == 0 {
		p.InitialPD1Neg = 0.8
	}
	if p.ApoptosisProbBase == 0 {
		p.ApoptosisProbBase = 0.1
	}
	if p.ApoptosisProbPD1Pos == 0 {
		p.ApoptosisProbPD1Pos = 0.35
	}
	if p.ApoptosisProbCheckpoint == 0 {
		p.ApoptosisProbCheckpoint = 0.475
	}
	if p.ApoptosisTimescale == 0 {
		p.ApoptosisTimescale = 14 * 3600
	}
	if p.LigandThreshold == 0 {
		p.LigandThreshold = 1e4
	}
	if p.CheckpointThreshold == 0 {
		p.CheckpointThreshold = 1e4
	}
	if p.EngagementThresholdTicks == 0 {
		p.EngagementThresholdTicks = 5
	}
	if p.IFNgProdPerSec == 0 {
		p.IFNgProdPerSec = 1.62e4 / 3600
	}
	if p.IFNgProdPerSecPD1Pos == 0 {
		p.IFNgProdPerSecPD1Pos = 1.62e3 / 3600
	}
	if p.ReducedProductionDiv == 0 {
		p.ReducedProductionDiv = 400
	}
	if p.PacketProdPerSec == 0 {
		p.PacketProdPerSec = 40.0 / 60.0
	}
	if p.PoolMaxPD1Neg == 0 {
		p.PoolMaxPD1Neg = 10000
	}
	if p.PoolMaxPD1Pos == 0 {
		p.PoolMaxPD1Pos = 1000
	}
	if p.TransferPerSec == 0 {
		p.TransferPerSec = 400.0 / 60.0
	}
	if p.DivideProbPD1Neg == 0 {
		p.DivideProbPD1Neg = 0.9
	}
	if p.DivideProbPD1Pos == 0 {
		p.DivideProbPD1Pos = 0.2
	}
	if p.DivideTimescale == 0 {
		p.DivideTimescale = 28 * 3600
	}
	if p.GrowthMatureTicks == 0 {
		p.GrowthMatureTicks = 60
	}
	if p.CrowdingLimit == 0 {
		p.CrowdingLimit = 6
	}
	if p.TCRBase == 0 {
		p.TCRBase = 5e4
	}
	if p.PD1Equilibrium == 0 {
		p.PD1Equilibrium = 5e4
	}
}

// TCell is the mutable phenotype state carried by a T cell agent.
type TCell struct {
	State        TCellState
	EngagedTicks uint64
	Pool         float64
	TCR          float64
	PD1          float64
	AgeTicks     uint64
	DivideCount  uint64
}

func NewTCell(p TCellParams, pd1neg bool) TCell {
	c := TCell{State: TCellPD1Pos, TCR: p.TCRBase, PD1: p.PD1Equilibrium, Pool: p.PoolMaxPD1Pos}
	if pd1neg {
		c.State = TCellPD1Neg
		c.PD1 = 0
		c.Pool = p.PoolMaxPD1Neg
	}
	return c
}

// engagedTumor picks the tumor neighbor the cell is synapsed with: the
// closest one, ties broken by lower id. Returns nil when no tumor neighbor
// is in contact.
func engagedTumor(env LocalEnv) *NeighborInfo {
	var best *NeighborInfo
	for i := range env.Neighbors {
		n := &env.Neighbors[i]
		if n.Type != TypeTumor {
			continue
		}
		if best == nil || n.Distance < best.Distance ||
			(n.Distance == best.Distance && n.ID < best.ID) {
			best = n
		}
	}
	return best
}

// UpdateTCell advances one T cell by one step of dt seconds. Contact with
// an antigen-presenting tumor drives secretion and packet transfer right
// away; the engagement timer drives only the PD1-neg to PD1-pos
// transition, and it hard-resets whenever contact with a tumor breaks.
func UpdateTCell(p TCellParams, dt float64, c TCell, env LocalEnv, rng *rand.Rand) (TCell, Decision) {
	var d Decision
	if c.State == TCellDead {
		return c, d
	}
	c.AgeTicks++

	target := engagedTumor(env)
	if target != nil {
		c.EngagedTicks++
	} else {
		c.EngagedTicks = 0
	}

	deathProb := p.ApoptosisProbBase
	cause := DeathApoptosis
	if c.State == TCellPD1Pos {
		deathProb = p.ApoptosisProbPD1Pos
		if target != nil && target.PDL1 >= p.CheckpointThreshold {
			deathProb = p.ApoptosisProbCheckpoint
			cause = DeathCheckpoint
		}
	}
	if draw(rng, ProbInWindow(deathProb, p.ApoptosisTimescale, dt)) {
		c.State = TCellDead
		d.Die = true
		d.DeathCause = cause
		return c, d
	}

	if c.State == TCellPD1Neg && c.EngagedTicks >= p.EngagementThresholdTicks {
		c.State = TCellPD1Pos
	}

	if c.State == TCellPD1Pos {
		c.PD1 = p.PD1Equilibrium
	} else {
		c.PD1 = 0
	}
	c.TCR = p.TCRBase

	divideProb := p.DivideProbPD1Neg
	poolMax := p.PoolMaxPD1Neg
	ifngRate := p.IFNgProdPerSec
	if c.State == TCellPD1Pos {
		divideProb = p.DivideProbPD1Pos
		poolMax = p.PoolMaxPD1Pos
		ifngRate = p.IFNgProdPerSecPD1Pos
	}

	if c.AgeTicks >= p.GrowthMatureTicks &&
		env.Crowding <= p.CrowdingLimit &&
		draw(rng, ProbInWindow(divideProb, p.DivideTimescale, dt)) {
		d.Divide = true
	}

	if target != nil && target.MHCI > 0 {
		rate := ifngRate
		if target.MHCI < p.LigandThreshold && p.ReducedProductionDiv > 0 {
			rate /= p.ReducedProductionDiv
		}
		d.secrete(SpeciesIFNg, rate*dt)

		c.Pool = math.Min(poolMax, c.Pool+p.PacketProdPerSec*dt)
		payload := math.Min(c.Pool, p.TransferPerSec*dt)
		if payload > 0 {
			c.Pool -= payload
			d.Transfer = &TransferRequest{TargetID: target.ID, Packets: payload}
		}
	} else {
		c.Pool = math.Min(poolMax, c.Pool+p.PacketProdPerSec*dt)
	}

	return c, d
}
