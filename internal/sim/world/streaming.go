package world

import (
	"fmt"
	"time"

	"voxelgrid.ai/internal/sim/world/coords"
)

type StreamReport struct {
	Generated   []coords.ChunkKey
	Failed      []GenFailure
	Activated   []coords.ChunkKey
	Deferred    []coords.ChunkKey
	Deactivated []coords.ChunkKey

	// Pending counts keys that still wait for generation budget.
	Pending int
}

type GenFailure struct {
	Key coords.ChunkKey
	Err error
}

// EnsureLoaded generates missing chunks (at most GenerationsPerStep per call)
// and activates present, initialized chunks that are not loaded yet. Keys are
// handled in the given order.
func (w *World) EnsureLoaded(keys []coords.ChunkKey) StreamReport {
	var rep StreamReport
	budget := w.cfg.GenerationsPerStep
	for _, key := range keys {
		c := w.lookup(key)
		if c == nil || !c.initialized.Load() {
			if budget <= 0 {
				rep.Pending++
				continue
			}
			budget--
			if c == nil {
				c = &Chunk{key: key}
				w.mu.Lock()
				w.chunks[key] = c
				w.mu.Unlock()
			}
			if err := w.generate(c); err != nil {
				rep.Failed = append(rep.Failed, GenFailure{Key: key, Err: err})
				continue
			}
			rep.Generated = append(rep.Generated, key)
		}
		if c.loaded.Load() {
			c.outSince = time.Time{}
			continue
		}
		if !w.activate(c) {
			rep.Deferred = append(rep.Deferred, key)
			continue
		}
		rep.Activated = append(rep.Activated, key)
	}
	return rep
}

func (w *World) generate(c *Chunk) error {
	voxels, err := w.gen.Generate(c.key)
	if err != nil {
		return fmt.Errorf("generate %s: %w", c.key, err)
	}
	if len(voxels) != w.space.Volume() {
		return fmt.Errorf("generate %s: got %d voxels, want %d", c.key, len(voxels), w.space.Volume())
	}
	c.mu.Lock()
	c.voxels = voxels
	c.version++
	c.mu.Unlock()
	c.meshDirty.Store(true)
	c.initialized.Store(true)
	return nil
}

func (w *World) activate(c *Chunk) bool {
	ct, ok := w.pool.Acquire(c.key)
	if !ok {
		return false
	}
	c.container = ct
	c.outSince = time.Time{}
	c.meshDirty.Store(true)
	c.awake.Store(true)
	c.loaded.Store(true)
	w.wakeNeighbors(c.key)
	return true
}

// wakeNeighbors lets voxels that were blocked by a missing chunk try again.
func (w *World) wakeNeighbors(key coords.ChunkKey) {
	for _, k := range coords.KeysInCube(key, 1) {
		if k == key {
			continue
		}
		if n := w.lookup(k); n != nil && n.initialized.Load() {
			n.awake.Store(true)
		}
	}
}

// EvictOutOfRange deactivates loaded chunks that have been outside inRange
// for at least UnloadGrace. Voxel data is kept.
func (w *World) EvictOutOfRange(inRange []coords.ChunkKey) StreamReport {
	var rep StreamReport
	want := make(map[coords.ChunkKey]struct{}, len(inRange))
	for _, k := range inRange {
		want[k] = struct{}{}
	}
	now := w.cfg.Now()
	for _, key := range w.LoadedKeys() {
		c := w.lookup(key)
		if _, ok := want[key]; ok {
			c.outSince = time.Time{}
			continue
		}
		if c.outSince.IsZero() {
			c.outSince = now
		}
		if now.Sub(c.outSince) < w.cfg.UnloadGrace {
			continue
		}
		w.deactivate(c)
		rep.Deactivated = append(rep.Deactivated, key)
	}
	return rep
}

func (w *World) deactivate(c *Chunk) {
	c.loaded.Store(false)
	w.pool.Release(c.container)
	c.container = nil
	c.outSince = time.Time{}
}

// Forget drops an unloaded chunk and its voxel data. The key is generated
// again the next time it is needed.
func (w *World) Forget(key coords.ChunkKey) error {
	c := w.lookup(key)
	if c == nil {
		return ErrChunkMissing
	}
	if c.loaded.Load() || c.updating.Load() {
		return fmt.Errorf("forget %s: chunk is loaded or updating", key)
	}
	// A neighboring pass may hold the chunk for a cross-chunk move.
	if !c.mu.TryLock() {
		return fmt.Errorf("forget %s: chunk is in use", key)
	}
	defer c.mu.Unlock()
	w.mu.Lock()
	delete(w.chunks, key)
	w.mu.Unlock()
	return nil
}
