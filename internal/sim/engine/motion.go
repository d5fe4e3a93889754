package engine

import (
	"math"

	"tmesim/internal/sim/cells"
)

// moveAgents applies one random-walk step per live agent. Direction comes
// from the agent's motion stream so movement replays identically for a
// given seed.
func (e *Engine) moveAgents(tick uint64, agents []*Agent, envs map[string]cells.LocalEnv) {
	bounds := e.fld.Bounds()
	for _, a := range agents {
		if a.Dead {
			continue
		}
		speed := e.speedFor(a, envs[a.ID])
		if speed <= 0 {
			continue
		}
		rng := e.rngAt(streamMotion, a.Num, tick)
		angle := rng.Float64() * 2 * math.Pi
		step := speed * e.cfg.DtSec
		a.X = clampF(a.X+step*math.Cos(angle), 0, bounds[0])
		a.Y = clampF(a.Y+step*math.Sin(angle), 0, bounds[1])
	}
}

// speedFor selects the movement speed: tumor cells use one speed, T cells
// move per phenotype and drop to the dwell speed while synapsed with an
// antigen-presenting tumor cell.
func (e *Engine) speedFor(a *Agent, env cells.LocalEnv) float64 {
	switch a.Type {
	case cells.TypeTumor:
		return e.cfg.Motion.TumorSpeedUmPerSec
	case cells.TypeTCell:
		if a.engagedDwell(e.cfg.TCell, env) {
			return e.cfg.Motion.DwellSpeedUmPerSec
		}
		if a.TCell.State == cells.TCellPD1Pos {
			return e.cfg.Motion.TCellPD1PosUmPerSec
		}
		return e.cfg.Motion.TCellPD1NegUmPerSec
	}
	return 0
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// relaxOverlaps pushes overlapping bodies apart by a fraction of the
// overlap each tick rather than resolving instantly, which keeps dense
// clusters stable. Coincident centers get a deterministic pseudo-random
// separation direction.
func (e *Engine) relaxOverlaps(tick uint64, agents []*Agent) {
	grid := newSpatialGrid(e.gridCell(), agents)
	pairs := detectPairs(grid, agents, 0)
	bounds := e.fld.Bounds()
	for _, k := range pairs {
		a, b := e.agents[k.A], e.agents[k.B]
		if a == nil || b == nil || a.Dead || b.Dead {
			continue
		}
		d := dist(a, b)
		overlap := a.Radius() + b.Radius() - d
		if overlap <= e.cfg.Motion.OverlapToleranceUm {
			continue
		}
		var ux, uy float64
		if d > 1e-9 {
			ux = (b.X - a.X) / d
			uy = (b.Y - a.Y) / d
		} else {
			angle := float64(hashStream(e.cfg.Seed, streamMotion, a.Num^b.Num, tick)%3600) / 3600 * 2 * math.Pi
			ux = math.Cos(angle)
			uy = math.Sin(angle)
		}
		push := overlap * e.cfg.Motion.OverlapRelaxPerTick / 2
		a.X = clampF(a.X-ux*push, 0, bounds[0])
		a.Y = clampF(a.Y-uy*push, 0, bounds[1])
		b.X = clampF(b.X+ux*push, 0, bounds[0])
		b.Y = clampF(b.Y+uy*push, 0, bounds[1])
	}
}
