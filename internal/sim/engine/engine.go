// Package engine owns the authoritative simulation state and the tick
// loop. All mutation happens on the goroutine driving StepOnce; observers
// and persistence sinks receive immutable per-tick records.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"tmesim/internal/sim/cells"
	"tmesim/internal/sim/field"
)

// InitialAgent describes one agent of the starting population.
type InitialAgent struct {
	Type      string  `json:"type"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Phenotype string  `json:"phenotype,omitempty"`
}

// AgentRecord is the per-agent slice of a tick log entry.
type AgentRecord struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	State    string  `json:"state"`
	Exposure float64 `json:"exposure,omitempty"`
	Dose     float64 `json:"dose,omitempty"`
	Pool     float64 `json:"pool,omitempty"`
}

// BirthRecord notes one division committed this tick.
type BirthRecord struct {
	ParentID string   `json:"parent_id"`
	ChildIDs []string `json:"child_ids"`
}

// DeathRecord notes one removal committed this tick.
type DeathRecord struct {
	ID    string `json:"id"`
	Cause string `json:"cause"`
}

// TickLogEntry is the immutable record emitted after every tick.
type TickLogEntry struct {
	RunID       string               `json:"run_id"`
	Tick        uint64               `json:"tick"`
	Digest      string               `json:"digest"`
	Populations map[string]int       `json:"populations"`
	FieldMassNg map[string]float64   `json:"field_mass_ng"`
	Agents      []AgentRecord        `json:"agents,omitempty"`
	FieldGrids  map[string][]float64 `json:"field_grids,omitempty"`
	Births      []BirthRecord        `json:"births,omitempty"`
	Deaths      []DeathRecord        `json:"deaths,omitempty"`
	Invariants  []string             `json:"invariants,omitempty"`
}

// TickLogger receives every tick entry. Implementations must be safe to
// call from the stepping goroutine without blocking it for long.
type TickLogger interface {
	LogTick(entry TickLogEntry) error
}

// Engine is the authoritative world. Not safe for concurrent mutation;
// drive it from one goroutine.
type Engine struct {
	cfg  Config
	tick atomic.Uint64

	agents   map[string]*Agent
	contacts map[PairKey]*Contact
	fld      *field.Field

	nextAgentNum uint64

	tickLogger   TickLogger
	snapshotSink chan<- Snapshot
	observers    []func(TickLogEntry)
	stepTimer    func(time.Duration)
}

// New builds an engine from a config and an initial population. A nil
// population makes an empty world, which Restore fills in.
func New(cfg Config, initial []InitialAgent) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	f, err := field.New(cfg.Field)
	if err != nil {
		return nil, &ConfigError{Field: "field", Err: err}
	}
	e := &Engine{
		cfg:      cfg,
		agents:   map[string]*Agent{},
		contacts: map[PairKey]*Contact{},
		fld:      f,
	}
	for i, ia := range initial {
		if err := e.spawn(ia); err != nil {
			return nil, &ConfigError{Field: fmt.Sprintf("population[%d]", i), Err: err}
		}
	}
	return e, nil
}

func (e *Engine) spawn(ia InitialAgent) error {
	bounds := e.fld.Bounds()
	if ia.X < 0 || ia.X > bounds[0] || ia.Y < 0 || ia.Y > bounds[1] {
		return fmt.Errorf("position (%v,%v) outside domain %v", ia.X, ia.Y, bounds)
	}
	a := &Agent{
		ID:  e.newAgentID(),
		Num: e.nextAgentNum,
		X:   ia.X,
		Y:   ia.Y,
	}
	switch cells.Type(ia.Type) {
	case cells.TypeTumor:
		a.Type = cells.TypeTumor
		a.DiameterUm = e.cfg.TumorDiameterUm
		a.MassNg = e.cfg.TumorMassNg
		prolif := ia.Phenotype == "" || ia.Phenotype == string(cells.TumorProliferative)
		a.Tumor = cells.NewTumorCell(e.cfg.Tumor, prolif)
	case cells.TypeTCell:
		a.Type = cells.TypeTCell
		a.DiameterUm = e.cfg.TCellDiameterUm
		a.MassNg = e.cfg.TCellMassNg
		pd1neg := ia.Phenotype == "" || ia.Phenotype == string(cells.TCellPD1Neg)
		a.TCell = cells.NewTCell(e.cfg.TCell, pd1neg)
	default:
		return fmt.Errorf("unknown agent type %q", ia.Type)
	}
	e.agents[a.ID] = a
	return nil
}

func (e *Engine) newAgentID() string {
	e.nextAgentNum++
	return fmt.Sprintf("C%06d", e.nextAgentNum)
}

// DefaultPopulation places nTumor tumor cells and nTCell T cells uniformly
// at random over the domain, deterministically from the config seed.
// Phenotypes follow the configured initial fractions.
func DefaultPopulation(cfg Config, nTumor, nTCell int) []InitialAgent {
	cfg.applyDefaults()
	rng := newSeededRand(cfg.Seed, streamSeeding, 0)
	bounds := cfg.Field.BoundsUm
	var out []InitialAgent
	for i := 0; i < nTumor; i++ {
		ia := InitialAgent{
			Type: string(cells.TypeTumor),
			X:    rng.Float64() * bounds[0],
			Y:    rng.Float64() * bounds[1],
		}
		if rng.Float64() < cfg.Tumor.InitialProliferative {
			ia.Phenotype = string(cells.TumorProliferative)
		} else {
			ia.Phenotype = string(cells.TumorQuiescent)
		}
		out = append(out, ia)
	}
	for i := 0; i < nTCell; i++ {
		ia := InitialAgent{
			Type: string(cells.TypeTCell),
			X:    rng.Float64() * bounds[0],
			Y:    rng.Float64() * bounds[1],
		}
		if rng.Float64() < cfg.TCell.InitialPD1Neg {
			ia.Phenotype = string(cells.TCellPD1Neg)
		} else {
			ia.Phenotype = string(cells.TCellPD1Pos)
		}
		out = append(out, ia)
	}
	return out
}

func (e *Engine) Config() Config      { return e.cfg }
func (e *Engine) CurrentTick() uint64 { return e.tick.Load() }
func (e *Engine) Field() *field.Field { return e.fld }
func (e *Engine) AgentCount() int     { return len(e.agents) }

func (e *Engine) AgentByID(id string) (Agent, bool) {
	a, ok := e.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *a, true
}

// ContactTicks returns how many consecutive ticks the pair has been in
// contact, zero if they are not.
func (e *Engine) ContactTicks(a, b string) uint64 {
	if c, ok := e.contacts[pairKeyOf(a, b)]; ok {
		return c.Ticks
	}
	return 0
}

// liveAgents returns every agent sorted by id. The stable order is what
// makes per-tick iteration deterministic.
func (e *Engine) liveAgents() []*Agent {
	out := make([]*Agent, 0, len(e.agents))
	for _, a := range e.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) SetTickLogger(l TickLogger)         { e.tickLogger = l }
func (e *Engine) SetSnapshotSink(ch chan<- Snapshot) { e.snapshotSink = ch }
func (e *Engine) OnTick(fn func(TickLogEntry))       { e.observers = append(e.observers, fn) }

// SetStepTimer installs a callback that receives the wall time each tick
// took inside Run.
func (e *Engine) SetStepTimer(fn func(time.Duration)) { e.stepTimer = fn }

// Populations counts live agents keyed by "TYPE/STATE".
func (e *Engine) Populations() map[string]int {
	out := map[string]int{}
	for _, a := range e.agents {
		if !a.Alive() {
			continue
		}
		switch a.Type {
		case cells.TypeTumor:
			out[string(a.Type)+"/"+string(a.Tumor.State)]++
		case cells.TypeTCell:
			out[string(a.Type)+"/"+string(a.TCell.State)]++
		}
	}
	return out
}

// Run steps until the context is canceled, maxTicks is reached (0 means
// unlimited), or the stop predicate returns true.
func (e *Engine) Run(ctx context.Context, maxTicks uint64, stop func(*Engine) bool) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if maxTicks > 0 && e.tick.Load() >= maxTicks {
			return nil
		}
		if stop != nil && stop(e) {
			return nil
		}
		start := time.Now()
		if _, _, err := e.StepOnce(); err != nil {
			return err
		}
		if e.stepTimer != nil {
			e.stepTimer(time.Since(start))
		}
	}
}

// Extinct reports whether no live agents remain.
func Extinct(e *Engine) bool {
	for _, a := range e.agents {
		if a.Alive() {
			return false
		}
	}
	return true
}
