package engine

import (
	"sort"

	"tmesim/internal/sim/cells"
	"tmesim/internal/sim/field"
)

// StepOnce advances the world by one tick and returns the new tick number
// and the state digest. The phase order inside a tick is fixed:
//
//  1. agent updates against the previous tick's snapshot
//  2. contact resolution, payload transfer, movement
//  3. field solve with this tick's secretions and uptake requests
//  4. invariant checks
//  5. lifecycle commit (deaths, then divisions)
//
// Everything a cell observes during phase 1 was produced by the previous
// tick, so update order within a phase cannot change outcomes.
func (e *Engine) StepOnce() (uint64, string, error) {
	tick := e.tick.Load() + 1
	agents := e.liveAgents()

	var invariants []string
	var deaths []DeathRecord

	// Phase 1: state machine updates.
	envs := e.buildEnvs(tick, agents)
	decisions := make(map[string]cells.Decision, len(agents))
	for _, a := range agents {
		if a.Dead {
			continue
		}
		rng := e.rngAt(streamUpdate, a.Num, tick)
		switch a.Type {
		case cells.TypeTumor:
			next, d := cells.UpdateTumor(e.cfg.Tumor, e.cfg.DtSec, a.Tumor, envs[a.ID], rng)
			a.Tumor = next
			decisions[a.ID] = d
			if d.Die {
				a.Dead = true
				a.DeathCause = d.DeathCause
			} else if d.Divide {
				a.Divide = true
			}
		case cells.TypeTCell:
			next, d := cells.UpdateTCell(e.cfg.TCell, e.cfg.DtSec, a.TCell, envs[a.ID], rng)
			a.TCell = next
			decisions[a.ID] = d
			if d.Die {
				a.Dead = true
				a.DeathCause = d.DeathCause
			} else if d.Divide {
				a.Divide = true
			}
		}
	}

	// Phase 2: contacts, transfers, movement.
	grid := newSpatialGrid(e.gridCell(), agents)
	pairs := detectPairs(grid, agents, e.cfg.InteractionMarginUm)
	e.updateContacts(tick, pairs)
	e.applyTransfers(decisions)
	e.moveAgents(tick, agents, envs)
	e.relaxOverlaps(tick, agents)

	// Phase 3: field solve.
	deposits, uptakes := e.collectFieldRequests(agents, decisions)
	granted, err := e.fld.Step(e.cfg.DtSec, deposits, uptakes)
	if err != nil {
		return tick, "", &DivergenceError{Tick: tick, Subject: "field", Err: err}
	}
	e.creditUptakes(granted)

	// Phase 4: invariant checks.
	for _, a := range agents {
		if msg := a.finiteViolation(); msg != "" {
			return tick, "", &DivergenceError{Tick: tick, Subject: "agent " + a.ID,
				Err: &InvariantError{Tick: tick, AgentID: a.ID, Reason: msg}}
		}
		if a.Dead {
			continue
		}
		if msg := a.structuralViolation(); msg != "" {
			a.Dead = true
			a.DeathCause = cells.DeathInvariant
			invariants = append(invariants, (&InvariantError{Tick: tick, AgentID: a.ID, Reason: msg}).Error())
		}
	}

	// Phase 5: lifecycle commit.
	births, lifeDeaths := e.commitLifecycle(tick, agents)
	deaths = append(deaths, lifeDeaths...)

	digest := e.stateDigest(tick)
	e.emit(tick, digest, births, deaths, invariants)
	e.tick.Store(tick)
	return tick, digest, nil
}

// gridCell sizes the spatial buckets so both contact detection and
// crowding counts are covered by a 3x3 bucket scan.
func (e *Engine) gridCell() float64 {
	maxDiameter := e.cfg.TumorDiameterUm
	if e.cfg.TCellDiameterUm > maxDiameter {
		maxDiameter = e.cfg.TCellDiameterUm
	}
	cell := maxDiameter + e.cfg.InteractionMarginUm
	if e.cfg.CrowdingRadiusUm > cell {
		cell = e.cfg.CrowdingRadiusUm
	}
	return cell
}

// buildEnvs snapshots each agent's local environment from the previous
// tick's contact records, marker values and field state.
func (e *Engine) buildEnvs(tick uint64, agents []*Agent) map[string]cells.LocalEnv {
	adjacency := map[string][]string{}
	for k, c := range e.contacts {
		if c.LastTick+1 != tick {
			continue
		}
		adjacency[k.A] = append(adjacency[k.A], k.B)
		adjacency[k.B] = append(adjacency[k.B], k.A)
	}
	grid := newSpatialGrid(e.gridCell(), agents)

	envs := make(map[string]cells.LocalEnv, len(agents))
	for _, a := range agents {
		ids := adjacency[a.ID]
		sort.Strings(ids)
		var neighbors []cells.NeighborInfo
		for _, id := range ids {
			n, ok := e.agents[id]
			if !ok || n.Dead {
				continue
			}
			info := cells.NeighborInfo{
				ID:           n.ID,
				Type:         n.Type,
				ContactTicks: e.contacts[pairKeyOf(a.ID, n.ID)].Ticks,
				Distance:     dist(a, n),
			}
			switch n.Type {
			case cells.TypeTumor:
				info.MHCI = n.Tumor.MHCI
				info.PDL1 = n.Tumor.PDL1
			case cells.TypeTCell:
				info.TCR = n.TCell.TCR
				info.PD1 = n.TCell.PD1
			}
			neighbors = append(neighbors, info)
		}

		crowding := 0
		for _, b := range grid.nearby(a.X, a.Y) {
			if b.ID != a.ID && !b.Dead && dist(a, b) <= e.cfg.CrowdingRadiusUm {
				crowding++
			}
		}

		envs[a.ID] = cells.LocalEnv{
			Concentrations: map[string]float64{
				cells.SpeciesIFNg:   e.fld.CountsToConc(cells.SpeciesIFNg, e.fld.Sample(cells.SpeciesIFNg, a.X, a.Y)),
				cells.SpeciesDebris: e.fld.CountsToConc(cells.SpeciesDebris, e.fld.Sample(cells.SpeciesDebris, a.X, a.Y)),
			},
			Neighbors: neighbors,
			Crowding:  crowding,
		}
	}
	return envs
}

// applyTransfers delivers cytotoxic payloads requested this tick. A
// transfer lands only if the pair is still in contact after resolution and
// the sender is alive; dead targets absorb the dose with no effect, so a
// delivery to a cell that died this tick is harmless.
func (e *Engine) applyTransfers(decisions map[string]cells.Decision) {
	ids := make([]string, 0, len(decisions))
	for id := range decisions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d := decisions[id]
		if d.Transfer == nil {
			continue
		}
		sender, ok := e.agents[id]
		if !ok || sender.Dead {
			continue
		}
		target, ok := e.agents[d.Transfer.TargetID]
		if !ok {
			continue
		}
		if _, touching := e.contacts[pairKeyOf(id, target.ID)]; !touching {
			continue
		}
		if target.Type == cells.TypeTumor {
			target.Tumor.Dose += d.Transfer.Packets
		}
	}
}

// collectFieldRequests turns this tick's decisions into field deposits and
// uptake requests, binned at each agent's post-movement position. Dead
// agents still deposit (death debris) but never uptake.
func (e *Engine) collectFieldRequests(agents []*Agent, decisions map[string]cells.Decision) ([]field.Deposit, []field.UptakeRequest) {
	var deposits []field.Deposit
	var uptakes []field.UptakeRequest
	for _, a := range agents {
		d, ok := decisions[a.ID]
		if !ok {
			continue
		}
		bin := e.fld.BinAt(a.X, a.Y)
		for _, sp := range sortedKeys(d.Secretions) {
			deposits = append(deposits, field.Deposit{Species: sp, Bin: bin, Counts: d.Secretions[sp]})
		}
		if a.Dead {
			continue
		}
		for _, sp := range sortedKeys(d.Uptakes) {
			uptakes = append(uptakes, field.UptakeRequest{AgentID: a.ID, Species: sp, Bin: bin, Counts: d.Uptakes[sp]})
		}
	}
	return deposits, uptakes
}

func sortedKeys(m map[string]float64) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// creditUptakes folds granted uptake back into agent accumulators. The
// credit lands after this tick's updates ran, so cells see it next tick.
func (e *Engine) creditUptakes(granted map[string]map[string]float64) {
	for id, bys := range granted {
		a, ok := e.agents[id]
		if !ok || a.Dead {
			continue
		}
		if a.Type == cells.TypeTumor {
			a.Tumor.Exposure += bys[cells.SpeciesIFNg]
		}
	}
}

func (e *Engine) emit(tick uint64, digest string, births []BirthRecord, deaths []DeathRecord, invariants []string) {
	entry := TickLogEntry{
		RunID:       e.cfg.ID,
		Tick:        tick,
		Digest:      digest,
		Populations: e.Populations(),
		FieldMassNg: map[string]float64{},
		Births:      births,
		Deaths:      deaths,
		Invariants:  invariants,
	}
	for _, sp := range e.fld.Species() {
		entry.FieldMassNg[sp] = e.fld.Mass(sp)
	}
	for _, a := range e.liveAgents() {
		rec := AgentRecord{ID: a.ID, Type: string(a.Type), X: a.X, Y: a.Y}
		switch a.Type {
		case cells.TypeTumor:
			rec.State = string(a.Tumor.State)
			rec.Exposure = a.Tumor.Exposure
			rec.Dose = a.Tumor.Dose
		case cells.TypeTCell:
			rec.State = string(a.TCell.State)
			rec.Pool = a.TCell.Pool
		}
		entry.Agents = append(entry.Agents, rec)
	}
	if e.cfg.LogFieldGrids {
		entry.FieldGrids = map[string][]float64{}
		for _, sp := range e.fld.Species() {
			src := e.fld.Grid(sp)
			g := make([]float64, len(src))
			copy(g, src)
			entry.FieldGrids[sp] = g
		}
	}

	if e.tickLogger != nil {
		_ = e.tickLogger.LogTick(entry)
	}
	for _, fn := range e.observers {
		fn(entry)
	}
	if e.snapshotSink != nil && tick%e.cfg.SnapshotEveryTicks == 0 {
		select {
		case e.snapshotSink <- e.BuildSnapshot():
		default:
		}
	}
}
