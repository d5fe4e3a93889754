package engine

import "fmt"

const SnapshotVersion = 1

// ContactSnapshot is the serializable form of one contact record.
type ContactSnapshot struct {
	A        string `json:"a"`
	B        string `json:"b"`
	Ticks    uint64 `json:"ticks"`
	LastTick uint64 `json:"last_tick"`
}

// Snapshot is a complete restorable copy of the world at one tick.
type Snapshot struct {
	Version      int                  `json:"version"`
	RunID        string               `json:"run_id"`
	Tick         uint64               `json:"tick"`
	Config       Config               `json:"config"`
	NextAgentNum uint64               `json:"next_agent_num"`
	Agents       []Agent              `json:"agents"`
	Contacts     []ContactSnapshot    `json:"contacts"`
	Field        map[string][]float64 `json:"field"`
}

// BuildSnapshot copies the current state into a Snapshot. Safe to call
// between ticks on the stepping goroutine.
func (e *Engine) BuildSnapshot() Snapshot {
	s := Snapshot{
		Version:      SnapshotVersion,
		RunID:        e.cfg.ID,
		Tick:         e.tick.Load(),
		Config:       e.cfg,
		NextAgentNum: e.nextAgentNum,
		Field:        map[string][]float64{},
	}
	for _, a := range e.liveAgents() {
		s.Agents = append(s.Agents, *a)
	}
	for k, c := range e.contacts {
		s.Contacts = append(s.Contacts, ContactSnapshot{A: k.A, B: k.B, Ticks: c.Ticks, LastTick: c.LastTick})
	}
	for _, sp := range e.fld.Species() {
		s.Field[sp] = append([]float64(nil), e.fld.Grid(sp)...)
	}
	return s
}

// Restore rebuilds an engine from a snapshot. The restored engine produces
// the same digests as the original from that tick on.
func Restore(s Snapshot) (*Engine, error) {
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", s.Version, SnapshotVersion)
	}
	e, err := New(s.Config, nil)
	if err != nil {
		return nil, err
	}
	for i := range s.Agents {
		a := s.Agents[i]
		e.agents[a.ID] = &a
	}
	for _, c := range s.Contacts {
		e.contacts[PairKey{A: c.A, B: c.B}] = &Contact{Ticks: c.Ticks, LastTick: c.LastTick}
	}
	for sp, grid := range s.Field {
		dst := e.fld.Grid(sp)
		if dst == nil || len(dst) != len(grid) {
			return nil, fmt.Errorf("snapshot field %s: got %d bins, want %d", sp, len(grid), len(dst))
		}
		copy(dst, grid)
	}
	e.nextAgentNum = s.NextAgentNum
	e.tick.Store(s.Tick)
	return e, nil
}
