package world

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
	"voxelgrid.ai/internal/sim/world/logic/mathx"
)

var (
	ErrChunkMissing  = errors.New("chunk not present")
	ErrChunkNotReady = errors.New("chunk not initialized")
)

// Generator fills a new chunk. It is called from the goroutine driving the
// World, once per successful key.
type Generator interface {
	Generate(key coords.ChunkKey) ([]voxel.Voxel, error)
}

type GeneratorFunc func(key coords.ChunkKey) ([]voxel.Voxel, error)

func (f GeneratorFunc) Generate(key coords.ChunkKey) ([]voxel.Voxel, error) { return f(key) }

// World is the sparse chunk grid. Streaming methods (EnsureLoaded,
// EvictOutOfRange, RebuildMeshes, Forget) must be called from a single
// goroutine; lookups and ticks may run concurrently with them.
type World struct {
	cfg     Config
	space   coords.Space
	catalog *voxel.Catalog
	gen     Generator
	pool    *ContainerPool

	mu     sync.RWMutex
	chunks map[coords.ChunkKey]*Chunk

	tickSeq atomic.Uint64
}

func New(cfg Config, catalog *voxel.Catalog, gen Generator) (*World, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if catalog == nil {
		return nil, fmt.Errorf("nil voxel catalog")
	}
	if gen == nil {
		return nil, fmt.Errorf("nil generator")
	}
	return &World{
		cfg:     cfg,
		space:   cfg.Space,
		catalog: catalog,
		gen:     gen,
		pool:    NewContainerPool(cfg.ContainerPool, cfg.Space),
		chunks:  map[coords.ChunkKey]*Chunk{},
	}, nil
}

func (w *World) Space() coords.Space         { return w.space }
func (w *World) Catalog() *voxel.Catalog     { return w.catalog }
func (w *World) Containers() *ContainerPool { return w.pool }
func (w *World) Seed() int64                 { return w.cfg.Seed }

func (w *World) lookup(key coords.ChunkKey) *Chunk {
	w.mu.RLock()
	ch := w.chunks[key]
	w.mu.RUnlock()
	return ch
}

// GetChunk looks a chunk up without creating it.
func (w *World) GetChunk(key coords.ChunkKey) (*Chunk, bool) {
	ch := w.lookup(key)
	return ch, ch != nil
}

// ChunksInRange lists the keys within a cubic radius of the chunk holding center.
func (w *World) ChunksInRange(center mgl32.Vec3, radius int) []coords.ChunkKey {
	return coords.KeysInCube(w.space.ChunkKeyFromWorld(center), radius)
}

// Keys returns all present keys, sorted.
func (w *World) Keys() []coords.ChunkKey {
	w.mu.RLock()
	keys := make([]coords.ChunkKey, 0, len(w.chunks))
	for k := range w.chunks {
		keys = append(keys, k)
	}
	w.mu.RUnlock()
	coords.SortKeys(keys)
	return keys
}

// LoadedKeys returns the keys of loaded chunks, sorted.
func (w *World) LoadedKeys() []coords.ChunkKey {
	return w.keysWhere(func(c *Chunk) bool { return c.loaded.Load() })
}

func (w *World) keysWhere(pred func(*Chunk) bool) []coords.ChunkKey {
	w.mu.RLock()
	var keys []coords.ChunkKey
	for k, c := range w.chunks {
		if pred(c) {
			keys = append(keys, k)
		}
	}
	w.mu.RUnlock()
	coords.SortKeys(keys)
	return keys
}

type Stats struct {
	Present         int `json:"present"`
	Initialized     int `json:"initialized"`
	Loaded          int `json:"loaded"`
	Awake           int `json:"awake"`
	Updating        int `json:"updating"`
	MeshDirty       int `json:"mesh_dirty"`
	ContainersInUse int `json:"containers_in_use"`
	ContainersCap   int `json:"containers_cap"`
}

func (w *World) Stats() Stats {
	var s Stats
	w.mu.RLock()
	s.Present = len(w.chunks)
	for _, c := range w.chunks {
		if c.initialized.Load() {
			s.Initialized++
		}
		if c.loaded.Load() {
			s.Loaded++
		}
		if c.awake.Load() {
			s.Awake++
		}
		if c.updating.Load() {
			s.Updating++
		}
		if c.meshDirty.Load() {
			s.MeshDirty++
		}
	}
	w.mu.RUnlock()
	s.ContainersInUse = w.pool.InUse()
	s.ContainersCap = w.pool.Cap()
	return s
}

func (w *World) keySeed(key coords.ChunkKey) uint64 {
	return mathx.Hash3(w.cfg.Seed, key.X, key.Y, key.Z)
}
