// Package field implements the shared diffusion lattice: a regular 2D grid
// of concentration values per species, advanced by an explicit 5-point
// stencil with exponential decay. The solver sub-steps automatically so the
// explicit scheme stays inside its stability bound regardless of the tick
// length the caller uses.
package field

import (
	"fmt"
	"math"
	"sort"
)

const avogadro = 6.02214076e23

// SpeciesParams calibrates one diffusible species.
type SpeciesParams struct {
	DiffusionUm2PerSec float64 `yaml:"diffusion_um2_per_sec"`
	DecayRatePerSec    float64 `yaml:"decay_rate_per_sec"`
	MolWeightGPerMol   float64 `yaml:"mol_weight_g_per_mol"`
	InitialNgPerML     float64 `yaml:"initial_ng_per_ml"`
}

// Params configures the lattice geometry and its species set.
type Params struct {
	BoundsUm      [2]float64               `yaml:"bounds_um"`
	Bins          [2]int                   `yaml:"bins"`
	DepthUm       float64                  `yaml:"depth_um"`
	MaxSubstepSec float64                  `yaml:"max_substep_sec"`
	Species       map[string]SpeciesParams `yaml:"species"`
}

func (p *Params) ApplyDefaults() {
	if p.BoundsUm[0] == 0 {
		p.BoundsUm[0] = 1200
	}
	if p.BoundsUm[1] == 0 {
		p.BoundsUm[1] = 1200
	}
	if p.Bins[0] == 0 {
		p.Bins[0] = 120
	}
	if p.Bins[1] == 0 {
		p.Bins[1] = 120
	}
	if p.DepthUm == 0 {
		p.DepthUm = 15
	}
	if p.MaxSubstepSec == 0 {
		p.MaxSubstepSec = 60
	}
	if p.Species == nil {
		p.Species = map[string]SpeciesParams{}
	}
	if _, ok := p.Species["IFNg"]; !ok {
		// 1.25e-3 cm^2/day expressed in um^2/s; decay half-life 7h.
		p.Species["IFNg"] = SpeciesParams{
			DiffusionUm2PerSec: 1.25e-3 * 1e8 / 86400,
			DecayRatePerSec:    math.Ln2 / (7 * 3600),
			MolWeightGPerMol:   17000,
		}
	}
	if _, ok := p.Species["TUMOR_DEBRIS"]; !ok {
		p.Species["TUMOR_DEBRIS"] = SpeciesParams{
			DiffusionUm2PerSec: 0.5,
			DecayRatePerSec:    math.Ln2 / (24 * 3600),
			MolWeightGPerMol:   5e6,
		}
	}
}

func (p *Params) Validate() error {
	if p.BoundsUm[0] <= 0 || p.BoundsUm[1] <= 0 {
		return fmt.Errorf("field bounds must be positive, got %v", p.BoundsUm)
	}
	if p.Bins[0] <= 0 || p.Bins[1] <= 0 {
		return fmt.Errorf("field bins must be positive, got %v", p.Bins)
	}
	if p.DepthUm <= 0 {
		return fmt.Errorf("field depth must be positive, got %v", p.DepthUm)
	}
	for name, sp := range p.Species {
		if sp.DiffusionUm2PerSec < 0 {
			return fmt.Errorf("species %s: negative diffusion coefficient", name)
		}
		if sp.DecayRatePerSec < 0 {
			return fmt.Errorf("species %s: negative decay rate", name)
		}
		if sp.MolWeightGPerMol <= 0 {
			return fmt.Errorf("species %s: molecular weight must be positive", name)
		}
	}
	return nil
}

// Deposit adds molecule counts to one bin before the next solve.
type Deposit struct {
	Species string
	Bin     [2]int
	Counts  float64
}

// UptakeRequest asks to remove molecule counts from one bin. When requests
// against a bin exceed what it holds, every request is scaled by the same
// factor and the granted amounts are reported back per agent.
type UptakeRequest struct {
	AgentID string
	Species string
	Bin     [2]int
	Counts  float64
}

// DivergenceError reports a non-finite or negative concentration produced
// by a solve. The field is unusable after this.
type DivergenceError struct {
	Species string
	Bin     [2]int
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("field diverged: species %s at bin (%d,%d)", e.Species, e.Bin[0], e.Bin[1])
}

// Field holds per-species concentration lattices in molecule counts per bin.
type Field struct {
	params      Params
	nx, ny      int
	dx, dy      float64
	binVolumeML float64
	countsPerNg map[string]float64
	grids       map[string][]float64
	species     []string
}

func New(p Params) (*Field, error) {
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f := &Field{
		params:      p,
		nx:          p.Bins[0],
		ny:          p.Bins[1],
		dx:          p.BoundsUm[0] / float64(p.Bins[0]),
		dy:          p.BoundsUm[1] / float64(p.Bins[1]),
		countsPerNg: map[string]float64{},
		grids:       map[string][]float64{},
	}
	// 1 mL = 1e12 um^3.
	f.binVolumeML = f.dx * f.dy * p.DepthUm / 1e12
	for name, sp := range p.Species {
		f.species = append(f.species, name)
		f.countsPerNg[name] = avogadro / sp.MolWeightGPerMol * 1e-9
		g := make([]float64, f.nx*f.ny)
		if sp.InitialNgPerML > 0 {
			init := sp.InitialNgPerML * f.countsPerNg[name] * f.binVolumeML
			for i := range g {
				g[i] = init
			}
		}
		f.grids[name] = g
	}
	sort.Strings(f.species)
	return f, nil
}

// Species returns the species ids in stable sorted order.
func (f *Field) Species() []string { return append([]string(nil), f.species...) }

func (f *Field) Bins() [2]int       { return f.params.Bins }
func (f *Field) Bounds() [2]float64 { return f.params.BoundsUm }

// BinAt maps a position in micrometers to its grid bin, clamped to the
// lattice so agents sitting exactly on the boundary stay addressable.
func (f *Field) BinAt(x, y float64) [2]int {
	i := int(x / f.dx)
	j := int(y / f.dy)
	if i < 0 {
		i = 0
	}
	if i >= f.nx {
		i = f.nx - 1
	}
	if j < 0 {
		j = 0
	}
	if j >= f.ny {
		j = f.ny - 1
	}
	return [2]int{i, j}
}

// Sample returns the molecule count of species in the bin containing (x, y).
func (f *Field) Sample(species string, x, y float64) float64 {
	g, ok := f.grids[species]
	if !ok {
		return 0
	}
	b := f.BinAt(x, y)
	return g[b[1]*f.nx+b[0]]
}

// Grid exposes the raw lattice for a species. Callers must not mutate it.
func (f *Field) Grid(species string) []float64 { return f.grids[species] }

// Mass returns the total mass of a species over the lattice in nanograms.
func (f *Field) Mass(species string) float64 {
	g, ok := f.grids[species]
	if !ok {
		return 0
	}
	var counts float64
	for _, v := range g {
		counts += v
	}
	return counts / f.countsPerNg[species]
}

// SetUniform overwrites a species lattice with a uniform concentration.
func (f *Field) SetUniform(species string, ngPerML float64) {
	g, ok := f.grids[species]
	if !ok {
		return
	}
	counts := ngPerML * f.countsPerNg[species] * f.binVolumeML
	for i := range g {
		g[i] = counts
	}
}

// SetBin overwrites one bin with a molecule count.
func (f *Field) SetBin(species string, bin [2]int, counts float64) {
	if g, ok := f.grids[species]; ok {
		g[bin[1]*f.nx+bin[0]] = counts
	}
}

// CountsToConc converts a bin molecule count to ng/mL.
func (f *Field) CountsToConc(species string, counts float64) float64 {
	return counts / (f.countsPerNg[species] * f.binVolumeML)
}

// ConcToCounts converts ng/mL to a bin molecule count.
func (f *Field) ConcToCounts(species string, ngPerML float64) float64 {
	return ngPerML * f.countsPerNg[species] * f.binVolumeML
}

// Step advances every species by dt seconds, then applies deposits and
// uptake requests. It returns the granted uptake per agent per species.
func (f *Field) Step(dt float64, deposits []Deposit, uptakes []UptakeRequest) (map[string]map[string]float64, error) {
	for _, name := range f.species {
		sp := f.params.Species[name]
		f.diffuse(name, sp, dt)
		if sp.DecayRatePerSec > 0 {
			decay := math.Exp(-sp.DecayRatePerSec * dt)
			g := f.grids[name]
			for i := range g {
				g[i] *= decay
			}
		}
	}
	f.applyDeposits(deposits)
	granted := f.applyUptakes(uptakes)
	for _, name := range f.species {
		g := f.grids[name]
		for i, v := range g {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < -1e-9 {
				return nil, &DivergenceError{Species: name, Bin: [2]int{i % f.nx, i / f.nx}}
			}
			if v < 0 {
				g[i] = 0
			}
		}
	}
	return granted, nil
}

// diffuse runs the explicit 5-point stencil in flux form: each interior
// face exchanges D*dt*(hi-lo)/h^2, which conserves total counts exactly
// under no-flux boundaries. The step is split so every sub-step satisfies
// dt <= 0.5*dx^2*dy^2 / (D*(dx^2+dy^2)).
func (f *Field) diffuse(name string, sp SpeciesParams, dt float64) {
	if sp.DiffusionUm2PerSec <= 0 {
		return
	}
	stable := 0.5 * f.dx * f.dx * f.dy * f.dy /
		(sp.DiffusionUm2PerSec * (f.dx*f.dx + f.dy*f.dy))
	sub := math.Min(stable, f.params.MaxSubstepSec)
	n := int(math.Ceil(dt / sub))
	if n < 1 {
		n = 1
	}
	h := dt / float64(n)
	ax := sp.DiffusionUm2PerSec * h / (f.dx * f.dx)
	ay := sp.DiffusionUm2PerSec * h / (f.dy * f.dy)

	g := f.grids[name]
	next := make([]float64, len(g))
	for s := 0; s < n; s++ {
		for j := 0; j < f.ny; j++ {
			for i := 0; i < f.nx; i++ {
				idx := j*f.nx + i
				v := g[idx]
				acc := v
				if i > 0 {
					acc += ax * (g[idx-1] - v)
				}
				if i < f.nx-1 {
					acc += ax * (g[idx+1] - v)
				}
				if j > 0 {
					acc += ay * (g[idx-f.nx] - v)
				}
				if j < f.ny-1 {
					acc += ay * (g[idx+f.nx] - v)
				}
				next[idx] = acc
			}
		}
		g, next = next, g
	}
	if n%2 == 1 {
		copy(f.grids[name], g)
	}
}

func (f *Field) applyDeposits(deposits []Deposit) {
	for _, d := range deposits {
		g, ok := f.grids[d.Species]
		if !ok || d.Counts <= 0 {
			continue
		}
		g[d.Bin[1]*f.nx+d.Bin[0]] += d.Counts
	}
}

// applyUptakes removes requested counts bin by bin. When a bin is asked for
// more than it holds, all requests against it are scaled proportionally so
// the bin never goes negative.
func (f *Field) applyUptakes(uptakes []UptakeRequest) map[string]map[string]float64 {
	granted := map[string]map[string]float64{}
	type binKey struct {
		species string
		idx     int
	}
	totals := map[binKey]float64{}
	avails := map[binKey]float64{}
	for _, u := range uptakes {
		g, ok := f.grids[u.Species]
		if !ok || u.Counts <= 0 {
			continue
		}
		k := binKey{u.Species, u.Bin[1]*f.nx + u.Bin[0]}
		totals[k] += u.Counts
		avails[k] = g[k.idx]
	}
	for _, u := range uptakes {
		g, ok := f.grids[u.Species]
		if !ok || u.Counts <= 0 {
			continue
		}
		k := binKey{u.Species, u.Bin[1]*f.nx + u.Bin[0]}
		take := u.Counts
		if total, avail := totals[k], avails[k]; total > avail {
			take = u.Counts * avail / total
		}
		g[k.idx] -= take
		byAgent := granted[u.AgentID]
		if byAgent == nil {
			byAgent = map[string]float64{}
			granted[u.AgentID] = byAgent
		}
		byAgent[u.Species] += take
	}
	return granted
}
