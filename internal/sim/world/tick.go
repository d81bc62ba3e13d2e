package world

import (
	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
)

type Readiness int

const (
	Ready Readiness = iota
	NotPresent
	NotTickable
	Busy
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case NotPresent:
		return "not_present"
	case NotTickable:
		return "not_tickable"
	case Busy:
		return "busy"
	}
	return "unknown"
}

type TickResult struct {
	Key             coords.ChunkKey
	Seq             uint64
	Moves           int
	CrossChunkMoves int

	// Touched lists neighbor chunks that received a voxel.
	Touched []coords.ChunkKey

	// Discarded is set when an isolated pass lost its copy-back race.
	Discarded bool

	// Swaps is only filled when Config.RecordSwaps is set.
	Swaps []Swap
}

// Swap records one exchange, with both voxels as they were stored after it.
type Swap struct {
	From, To  coords.Vec3i
	Mover     voxel.Voxel
	Displaced voxel.Voxel
}

// TickJob owns a chunk's updating flag until Run returns. Exactly one of Run
// or Cancel must be called.
type TickJob struct {
	w        *World
	c        *Chunk
	isolated bool
	seq      uint64
}

func (j *TickJob) Key() coords.ChunkKey { return j.c.key }

// PrepareTick claims key for an in-place pass that may move voxels into
// neighbor chunks.
func (w *World) PrepareTick(key coords.ChunkKey) (*TickJob, Readiness) {
	return w.prepare(key, false)
}

// PrepareIsolatedTick claims key for a pass over a private copy of its voxels.
// Neighbor chunks are never read or written.
func (w *World) PrepareIsolatedTick(key coords.ChunkKey) (*TickJob, Readiness) {
	return w.prepare(key, true)
}

func (w *World) prepare(key coords.ChunkKey, isolated bool) (*TickJob, Readiness) {
	c := w.lookup(key)
	if c == nil {
		return nil, NotPresent
	}
	if !c.Tickable() {
		return nil, NotTickable
	}
	if !c.updating.CompareAndSwap(false, true) {
		return nil, Busy
	}
	return &TickJob{w: w, c: c, isolated: isolated, seq: w.tickSeq.Add(1)}, Ready
}

// TickChunk runs one in-place pass on the calling goroutine.
func (w *World) TickChunk(key coords.ChunkKey) (TickResult, Readiness) {
	j, r := w.PrepareTick(key)
	if r != Ready {
		return TickResult{Key: key}, r
	}
	return j.Run(), Ready
}

func (j *TickJob) Cancel() { j.c.updating.Store(false) }

func (j *TickJob) Run() TickResult {
	defer j.c.updating.Store(false)
	if j.isolated {
		return j.runIsolated()
	}
	c := j.c
	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check under the lock: the chunk may have been put to sleep by an
	// earlier pass between prepare and run.
	if !c.awake.Load() {
		return TickResult{Key: c.key, Seq: j.seq}
	}
	p := newPass(j.w, c.key, c.voxels, false, j.seq)
	p.run()
	p.finish()
	j.settle(p.res.Moves > 0)
	return p.res
}

func (j *TickJob) runIsolated() TickResult {
	private, base, ok := j.copyOut()
	if !ok {
		return TickResult{Key: j.c.key, Seq: j.seq}
	}
	p := newPass(j.w, j.c.key, private, true, j.seq)
	p.run()
	return j.copyBack(p, base)
}

// copyOut snapshots the voxels and the version they were read at. ok is false
// when the chunk fell asleep after prepare.
func (j *TickJob) copyOut() (private []voxel.Voxel, base uint64, ok bool) {
	c := j.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.awake.Load() {
		return nil, 0, false
	}
	return append(c.voxels[:0:0], c.voxels...), c.version, true
}

// copyBack publishes an isolated pass unless the chunk was written meanwhile.
func (j *TickJob) copyBack(p *pass, base uint64) TickResult {
	c := j.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != base {
		p.res.Discarded = true
		return p.res
	}
	copy(c.voxels, p.voxels)
	j.settle(p.res.Moves > 0)
	return p.res
}

// settle must run with c.mu held.
func (j *TickJob) settle(moved bool) {
	c := j.c
	if moved {
		c.version++
		c.meshDirty.Store(true)
	}
	c.awake.Store(moved)
}
