package engine

import (
	"math"
	"sort"
)

// PairKey identifies an unordered agent pair; A is always the lower id.
type PairKey struct {
	A, B string
}

func pairKeyOf(a, b string) PairKey {
	if a < b {
		return PairKey{A: a, B: b}
	}
	return PairKey{A: b, B: a}
}

// Contact tracks a persisting pairwise contact across ticks.
type Contact struct {
	Ticks    uint64
	LastTick uint64
}

// spatialGrid buckets agents into square cells sized so any contacting
// pair falls within a 3x3 bucket neighborhood.
type spatialGrid struct {
	cell    float64
	buckets map[[2]int][]*Agent
}

func newSpatialGrid(cell float64, agents []*Agent) *spatialGrid {
	g := &spatialGrid{cell: cell, buckets: map[[2]int][]*Agent{}}
	for _, a := range agents {
		k := g.keyFor(a.X, a.Y)
		g.buckets[k] = append(g.buckets[k], a)
	}
	return g
}

func (g *spatialGrid) keyFor(x, y float64) [2]int {
	return [2]int{int(math.Floor(x / g.cell)), int(math.Floor(y / g.cell))}
}

func (g *spatialGrid) nearby(x, y float64) []*Agent {
	k := g.keyFor(x, y)
	var out []*Agent
	for di := -1; di <= 1; di++ {
		for dj := -1; dj <= 1; dj++ {
			out = append(out, g.buckets[[2]int{k[0] + di, k[1] + dj}]...)
		}
	}
	return out
}

func dist(a, b *Agent) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

func inContact(a, b *Agent, margin float64) bool {
	return dist(a, b) <= a.Radius()+b.Radius()+margin
}

// detectPairs finds all contacting pairs using the bucket grid. Output is
// sorted so downstream iteration is deterministic.
func detectPairs(grid *spatialGrid, agents []*Agent, margin float64) []PairKey {
	seen := map[PairKey]struct{}{}
	var pairs []PairKey
	for _, a := range agents {
		for _, b := range grid.nearby(a.X, a.Y) {
			if b.ID <= a.ID {
				continue
			}
			if !inContact(a, b, margin) {
				continue
			}
			k := pairKeyOf(a.ID, b.ID)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			pairs = append(pairs, k)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

// updateContacts folds this tick's detected pairs into the persistent
// contact records: continuing contacts grow their tick count, new ones
// start at 1, and records not seen this tick are dropped.
func (e *Engine) updateContacts(tick uint64, pairs []PairKey) {
	for _, k := range pairs {
		if c, ok := e.contacts[k]; ok && c.LastTick == tick-1 {
			c.Ticks++
			c.LastTick = tick
		} else {
			e.contacts[k] = &Contact{Ticks: 1, LastTick: tick}
		}
	}
	for k, c := range e.contacts {
		if c.LastTick != tick {
			delete(e.contacts, k)
		}
	}
}

func (e *Engine) clearContactsFor(id string) {
	for k := range e.contacts {
		if k.A == id || k.B == id {
			delete(e.contacts, k)
		}
	}
}
