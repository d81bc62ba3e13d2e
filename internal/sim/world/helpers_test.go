package world

import (
	"errors"
	"testing"
	"time"

	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
)

const (
	idEmpty uint16 = iota
	idStone
	idSand
	idWater
	idSteam
)

func testCatalog(t *testing.T) *voxel.Catalog {
	t.Helper()
	c, err := voxel.NewCatalog([]voxel.Def{
		{ID: idEmpty, Name: "EMPTY", Physics: "NONE", Transparent: true, Mass: 0},
		{ID: idStone, Name: "STONE", Physics: "SOLID", Mass: 100},
		{ID: idSand, Name: "SAND", Physics: "MOVABLE", Mass: 5, Value: 2},
		{ID: idWater, Name: "WATER", Physics: "FLUID", Transparent: true, Mass: 3},
		{ID: idSteam, Name: "STEAM", Physics: "GAS", Transparent: true, Mass: -1},
	})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

// emptyGen fills every chunk with the empty voxel.
func emptyGen(space coords.Space, cat *voxel.Catalog) GeneratorFunc {
	return func(coords.ChunkKey) ([]voxel.Voxel, error) {
		out := make([]voxel.Voxel, space.Volume())
		for i := range out {
			out[i] = cat.Empty()
		}
		return out, nil
	}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testWorld struct {
	*World
	cat   *voxel.Catalog
	clock *fakeClock
}

func newTestWorld(t *testing.T, size int, mutate func(*Config)) *testWorld {
	t.Helper()
	space, err := coords.NewSpace(size, 1)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	cat := testCatalog(t)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cfg := Config{
		Space:              space,
		Seed:               42,
		GenerationsPerStep: 64,
		ContainerPool:      64,
		Now:                clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	w, err := New(cfg, cat, emptyGen(space, cat))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testWorld{World: w, cat: cat, clock: clock}
}

func (tw *testWorld) load(t *testing.T, keys ...coords.ChunkKey) {
	t.Helper()
	rep := tw.EnsureLoaded(keys)
	if len(rep.Failed) != 0 || rep.Pending != 0 || len(rep.Deferred) != 0 {
		t.Fatalf("load %v: %+v", keys, rep)
	}
}

func (tw *testWorld) put(t *testing.T, key coords.ChunkKey, local coords.Vec3i, id uint16, mutate func(*voxel.Voxel)) {
	t.Helper()
	v, err := tw.cat.Voxel(id)
	if err != nil {
		t.Fatalf("Voxel(%d): %v", id, err)
	}
	if mutate != nil {
		mutate(&v)
	}
	if err := tw.SetVoxel(key, local, v); err != nil {
		t.Fatalf("SetVoxel: %v", err)
	}
}

func (tw *testWorld) get(t *testing.T, key coords.ChunkKey, local coords.Vec3i) voxel.Voxel {
	t.Helper()
	v, err := tw.Voxel(key, local)
	if err != nil {
		t.Fatalf("Voxel(%v,%v): %v", key, local, err)
	}
	return v
}

func (tw *testWorld) tick(t *testing.T, key coords.ChunkKey) TickResult {
	t.Helper()
	res, r := tw.TickChunk(key)
	if r != Ready {
		t.Fatalf("TickChunk(%v): %s", key, r)
	}
	return res
}

func (tw *testWorld) chunk(t *testing.T, key coords.ChunkKey) *Chunk {
	t.Helper()
	c, ok := tw.GetChunk(key)
	if !ok {
		t.Fatalf("missing chunk %v", key)
	}
	return c
}

var errGen = errors.New("generator down")
