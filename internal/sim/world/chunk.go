package world

import (
	"sync"
	"sync/atomic"
	"time"

	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
)

// Chunk is owned by the World; callers borrow it by key and must not keep it.
type Chunk struct {
	key coords.ChunkKey

	// mu guards voxels, version and the cached digest.
	mu        sync.Mutex
	voxels    []voxel.Voxel
	version   uint64
	digestVer uint64
	digest    uint64

	initialized atomic.Bool
	loaded      atomic.Bool
	awake       atomic.Bool
	updating    atomic.Bool
	meshDirty   atomic.Bool

	// Streaming state, touched only by the goroutine driving the World.
	container *Container
	outSince  time.Time
}

func (c *Chunk) Key() coords.ChunkKey { return c.key }
func (c *Chunk) Initialized() bool    { return c.initialized.Load() }
func (c *Chunk) Loaded() bool         { return c.loaded.Load() }
func (c *Chunk) Awake() bool          { return c.awake.Load() }
func (c *Chunk) Updating() bool       { return c.updating.Load() }
func (c *Chunk) MeshDirty() bool      { return c.meshDirty.Load() }

// Tickable reports initialized && loaded && awake.
func (c *Chunk) Tickable() bool {
	return c.initialized.Load() && c.loaded.Load() && c.awake.Load()
}

// Container is the renderable slot held while the chunk is loaded.
func (c *Chunk) Container() *Container { return c.container }

// Voxels returns a copy of the voxel array.
func (c *Chunk) Voxels() []voxel.Voxel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]voxel.Voxel(nil), c.voxels...)
}

// IDs returns a copy of the voxel ids in index order.
func (c *Chunk) IDs() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idsLocked()
}

func (c *Chunk) idsLocked() []uint16 {
	out := make([]uint16, len(c.voxels))
	for i := range c.voxels {
		out[i] = c.voxels[i].ID
	}
	return out
}

// touchLocked records a mutation made by someone other than the chunk's own pass.
func (c *Chunk) touchLocked() {
	c.version++
	c.meshDirty.Store(true)
	c.awake.Store(true)
}
