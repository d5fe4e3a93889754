package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"sort"

	"tmesim/internal/sim/cells"
)

// stateDigest hashes the complete simulation state in canonical order.
// Two runs with the same config and inputs must produce identical digests
// at every tick; the determinism tests rely on this.
func (e *Engine) stateDigest(nowTick uint64) string {
	h := sha256.New()
	writeU64(h, nowTick)
	writeU64(h, e.cfg.Seed)
	writeF64(h, e.cfg.DtSec)
	writeU64(h, e.nextAgentNum)

	for _, a := range e.liveAgents() {
		h.Write([]byte(a.ID))
		h.Write([]byte(a.Type))
		writeF64(h, a.X)
		writeF64(h, a.Y)
		writeF64(h, a.DiameterUm)
		writeF64(h, a.MassNg)
		writeU64(h, a.Generation)
		switch a.Type {
		case cells.TypeTumor:
			h.Write([]byte(a.Tumor.State))
			writeF64(h, a.Tumor.Exposure)
			writeF64(h, a.Tumor.Dose)
			writeU64(h, a.Tumor.AboveTicks)
			writeU64(h, a.Tumor.AgeTicks)
		case cells.TypeTCell:
			h.Write([]byte(a.TCell.State))
			writeF64(h, a.TCell.Pool)
			writeU64(h, a.TCell.EngagedTicks)
			writeU64(h, a.TCell.AgeTicks)
		}
	}

	keys := make([]PairKey, 0, len(e.contacts))
	for k := range e.contacts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
	for _, k := range keys {
		c := e.contacts[k]
		h.Write([]byte(k.A))
		h.Write([]byte(k.B))
		writeU64(h, c.Ticks)
		writeU64(h, c.LastTick)
	}

	for _, sp := range e.fld.Species() {
		h.Write([]byte(sp))
		for _, v := range e.fld.Grid(sp) {
			writeF64(h, v)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeU64(h hash.Hash, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func writeF64(h hash.Hash, v float64) {
	writeU64(h, math.Float64bits(v))
}
