package engine

import "math/rand"

// Random streams. Every stochastic draw comes from a rand seeded by
// (run seed, stream, agent number, tick), so outcomes depend only on run
// inputs and never on map iteration order or wall-clock time.
const (
	streamUpdate uint64 = iota + 1
	streamMotion
	streamDivision
	streamSeeding
)

func mix64(v uint64) uint64 {
	v ^= v >> 33
	v *= 0xff51afd7ed558ccd
	v ^= v >> 33
	v *= 0xc4ceb9fe1a85ec53
	v ^= v >> 33
	return v
}

func hashStream(seed, stream, num, tick uint64) uint64 {
	h := mix64(seed ^ 0x9e3779b97f4a7c15)
	h = mix64(h ^ stream*0xbf58476d1ce4e5b9)
	h = mix64(h ^ num*0x94d049bb133111eb)
	h = mix64(h ^ tick)
	return h
}

func (e *Engine) rngAt(stream, num, tick uint64) *rand.Rand {
	return rand.New(rand.NewSource(int64(hashStream(e.cfg.Seed, stream, num, tick))))
}

// newSeededRand builds a stream rng without an engine, for deterministic
// population seeding before the engine exists.
func newSeededRand(seed, stream, num uint64) *rand.Rand {
	return rand.New(rand.NewSource(int64(hashStream(seed, stream, num, 0))))
}
