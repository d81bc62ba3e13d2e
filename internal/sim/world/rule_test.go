package world

import (
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
)

var origin = coords.ChunkKey{}

func TestMovableFallsOneCell(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	tw.put(t, origin, coords.Vec3i{X: 0, Y: 5, Z: 0}, idSand, nil)

	res := tw.tick(t, origin)
	if res.Moves != 1 {
		t.Fatalf("moves=%d want 1", res.Moves)
	}
	got := tw.get(t, origin, coords.Vec3i{X: 0, Y: 4, Z: 0})
	if got.ID != idSand {
		t.Fatalf("sand not at (0,4,0): id=%d", got.ID)
	}
	if got.ForceDirection != (mgl32.Vec3{0, -1, 0}) {
		t.Fatalf("force=%v want (0,-1,0)", got.ForceDirection)
	}
	above := tw.get(t, origin, coords.Vec3i{X: 0, Y: 5, Z: 0})
	if above.ID != idEmpty || above.ForceDirection != (mgl32.Vec3{0, 1, 0}) {
		t.Fatalf("displaced voxel: %+v", above)
	}
	c := tw.chunk(t, origin)
	if !c.Awake() || !c.MeshDirty() {
		t.Fatalf("awake=%v meshDirty=%v after a move", c.Awake(), c.MeshDirty())
	}
}

func TestMovableSlidesDiagonallyInScanOrder(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	p := coords.Vec3i{X: 3, Y: 3, Z: 3}
	tw.put(t, origin, p, idSand, nil)
	// Block straight down and the first two diagonal candidates.
	tw.put(t, origin, coords.Vec3i{X: 3, Y: 2, Z: 3}, idStone, nil)
	tw.put(t, origin, coords.Vec3i{X: 2, Y: 2, Z: 2}, idStone, nil)
	tw.put(t, origin, coords.Vec3i{X: 2, Y: 2, Z: 3}, idStone, nil)

	tw.tick(t, origin)
	got := tw.get(t, origin, coords.Vec3i{X: 2, Y: 2, Z: 4})
	if got.ID != idSand {
		t.Fatalf("expected sand at third diagonal candidate, got id=%d", got.ID)
	}
	if got.ForceDirection != (mgl32.Vec3{-1, -1, 1}) {
		t.Fatalf("force=%v", got.ForceDirection)
	}
}

func TestMovableRestsOnHeavier(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	// Bottom layer of the chunk: nothing below it is loaded, so it cannot move.
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			tw.put(t, origin, coords.Vec3i{X: 3 + dx, Y: 0, Z: 3 + dz}, idSand, nil)
		}
	}
	tw.put(t, origin, coords.Vec3i{X: 3, Y: 1, Z: 3}, idSand, nil)

	res := tw.tick(t, origin)
	if res.Moves != 0 {
		t.Fatalf("moves=%d want 0", res.Moves)
	}
	if tw.get(t, origin, coords.Vec3i{X: 3, Y: 1, Z: 3}).ID != idSand {
		t.Fatalf("sand moved into equal-mass cell")
	}
}

func TestFluidSpreadsLaterally(t *testing.T) {
	for seed := int64(1); seed <= 8; seed++ {
		tw := newTestWorld(t, 8, func(c *Config) { c.Seed = seed })
		tw.load(t, origin)
		p := coords.Vec3i{X: 3, Y: 4, Z: 3}
		tw.put(t, origin, p, idWater, nil)
		tw.put(t, origin, coords.Vec3i{X: 3, Y: 3, Z: 3}, idWater, nil)
		// Stone under the lower water so it has nowhere to go.
		for dx := -2; dx <= 2; dx++ {
			for dz := -2; dz <= 2; dz++ {
				tw.put(t, origin, coords.Vec3i{X: 3 + dx, Y: 2, Z: 3 + dz}, idStone, nil)
			}
		}

		tw.tick(t, origin)

		if tw.get(t, origin, p).ID == idWater {
			t.Fatalf("seed %d: water did not spread", seed)
		}
		found := 0
		for _, d := range lateralRing {
			v := tw.get(t, origin, p.Add(d))
			if v.ID == idWater {
				found++
				if v.ForceDirection != d.Vec3() {
					t.Fatalf("seed %d: force=%v want %v", seed, v.ForceDirection, d.Vec3())
				}
			}
		}
		if found != 1 {
			t.Fatalf("seed %d: water in %d lateral cells, want 1", seed, found)
		}
	}
}

func TestFluidFallsBeforeSpreading(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	tw.put(t, origin, coords.Vec3i{X: 3, Y: 4, Z: 3}, idWater, nil)
	tw.tick(t, origin)
	if tw.get(t, origin, coords.Vec3i{X: 3, Y: 3, Z: 3}).ID != idWater {
		t.Fatalf("water did not fall")
	}
}

func TestFluidWideFallbackScanOrder(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	p := coords.Vec3i{X: 3, Y: 4, Z: 3}
	tw.put(t, origin, p, idWater, nil)
	// Fill the whole 5x5 layer below with stone, then open two cells. The
	// first one in dx-outer / dz-inner order must win.
	for dx := -2; dx <= 2; dx++ {
		for dz := -2; dz <= 2; dz++ {
			tw.put(t, origin, coords.Vec3i{X: 3 + dx, Y: 3, Z: 3 + dz}, idStone, nil)
		}
	}
	tw.put(t, origin, coords.Vec3i{X: 5, Y: 3, Z: 1}, idEmpty, nil)
	tw.put(t, origin, coords.Vec3i{X: 1, Y: 3, Z: 5}, idEmpty, nil)

	tw.tick(t, origin)
	if tw.get(t, origin, coords.Vec3i{X: 1, Y: 3, Z: 5}).ID != idWater {
		t.Fatalf("expected water at dx=-2,dz=+2")
	}
	if tw.get(t, origin, coords.Vec3i{X: 5, Y: 3, Z: 1}).ID != idEmpty {
		t.Fatalf("second candidate should be untouched")
	}
}

func TestGasRisesIntoHeavierNonSolid(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	tw.put(t, origin, coords.Vec3i{X: 2, Y: 2, Z: 2}, idSteam, nil)
	tw.tick(t, origin)
	got := tw.get(t, origin, coords.Vec3i{X: 2, Y: 3, Z: 2})
	if got.ID != idSteam || got.ForceDirection != (mgl32.Vec3{0, 1, 0}) {
		t.Fatalf("steam did not rise: %+v", got)
	}
}

func TestGasNeverEntersSolid(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	p := coords.Vec3i{X: 2, Y: 2, Z: 2}
	tw.put(t, origin, p, idSteam, nil)
	for dx := -1; dx <= 1; dx++ {
		for dz := -1; dz <= 1; dz++ {
			tw.put(t, origin, coords.Vec3i{X: 2 + dx, Y: 3, Z: 2 + dz}, idStone, nil)
		}
	}
	tw.tick(t, origin)
	if tw.get(t, origin, p).ID != idSteam {
		t.Fatalf("steam moved into solid")
	}
}

func TestGasAtTopWithMissingNeighborStays(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	p := coords.Vec3i{X: 3, Y: 7, Z: 3}
	tw.put(t, origin, p, idSteam, nil)
	res := tw.tick(t, origin)
	if res.Moves != 0 {
		t.Fatalf("moves=%d want 0", res.Moves)
	}
	if tw.get(t, origin, p).ID != idSteam {
		t.Fatalf("steam left the chunk into a missing neighbor")
	}
	if tw.chunk(t, origin).Awake() {
		t.Fatalf("chunk should sleep after a pass with no moves")
	}
}

func TestMovableCrossesIntoChunkBelow(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	below := coords.ChunkKey{Y: -1}
	tw.load(t, origin, below)
	tw.put(t, origin, coords.Vec3i{X: 4, Y: 0, Z: 4}, idSand, nil)

	// Let the lower chunk settle so its flags reflect only the swap.
	tw.tick(t, below)
	lower := tw.chunk(t, below)
	lower.meshDirty.Store(false)
	if lower.Awake() {
		t.Fatalf("lower chunk still awake before the swap")
	}

	res := tw.tick(t, origin)
	if res.CrossChunkMoves != 1 || len(res.Touched) != 1 || res.Touched[0] != below {
		t.Fatalf("unexpected result %+v", res)
	}
	got := tw.get(t, below, coords.Vec3i{X: 4, Y: 7, Z: 4})
	if got.ID != idSand || got.ForceDirection != (mgl32.Vec3{0, -1, 0}) {
		t.Fatalf("sand not in neighbor chunk: %+v", got)
	}
	if tw.get(t, origin, coords.Vec3i{X: 4, Y: 0, Z: 4}).ID != idEmpty {
		t.Fatalf("source cell not emptied")
	}
	if !lower.Awake() || !lower.MeshDirty() {
		t.Fatalf("neighbor awake=%v meshDirty=%v", lower.Awake(), lower.MeshDirty())
	}
}

func TestSwapSymmetryAndMassOrdering(t *testing.T) {
	tw := newTestWorld(t, 8, func(c *Config) { c.RecordSwaps = true })
	below := coords.ChunkKey{Y: -1}
	tw.load(t, origin, below)
	ids := []uint16{idSand, idWater, idSteam, idStone, idEmpty, idEmpty}
	r := rand.New(rand.NewPCG(7, 7))
	for _, key := range []coords.ChunkKey{origin, below} {
		for i := 0; i < tw.Space().Volume(); i++ {
			tw.put(t, key, tw.Space().Local(i), ids[r.IntN(len(ids))], nil)
		}
	}

	swaps := 0
	for round := 0; round < 4; round++ {
		for _, key := range []coords.ChunkKey{below, origin} {
			res, rd := tw.TickChunk(key)
			if rd != Ready {
				continue
			}
			for _, sw := range res.Swaps {
				swaps++
				if sw.Mover.ForceDirection.Add(sw.Displaced.ForceDirection) != (mgl32.Vec3{}) {
					t.Fatalf("asymmetric swap %+v", sw)
				}
				if sw.Mover.ForceDirection != sw.To.Sub(sw.From).Vec3() {
					t.Fatalf("force %v does not match %v -> %v", sw.Mover.ForceDirection, sw.From, sw.To)
				}
				switch sw.Mover.Physics {
				case voxel.PhysicsMovable, voxel.PhysicsFluid:
					if !(sw.Displaced.Mass < sw.Mover.Mass) {
						t.Fatalf("%s moved into mass %v >= %v", sw.Mover.Physics, sw.Displaced.Mass, sw.Mover.Mass)
					}
				case voxel.PhysicsGas:
					if !(sw.Displaced.Mass > sw.Mover.Mass) || sw.Displaced.Physics == voxel.PhysicsSolid {
						t.Fatalf("gas moved into %s mass %v", sw.Displaced.Physics, sw.Displaced.Mass)
					}
				default:
					t.Fatalf("%s voxel initiated a swap", sw.Mover.Physics)
				}
			}
		}
	}
	if swaps == 0 {
		t.Fatalf("random fill produced no swaps")
	}
}

// Movers start at most one swap per pass. The voxel they displace is not
// limited: the light bottom voxel is carried up the whole column.
func TestMoverSwapsAtMostOncePerPass(t *testing.T) {
	tw := newTestWorld(t, 8, func(c *Config) { c.RecordSwaps = true })
	tw.load(t, origin)
	// Movable column, mass increasing with height so every voxel wants to fall.
	for y := 0; y < 8; y++ {
		m := float32(y + 1)
		tag := int32(100 + y)
		tw.put(t, origin, coords.Vec3i{X: 3, Y: y, Z: 3}, idSand, func(v *voxel.Voxel) { v.Mass = m; v.Value = tag })
	}
	res := tw.tick(t, origin)

	moved := map[int32]int{}
	displaced := map[int32]int{}
	for _, sw := range res.Swaps {
		moved[sw.Mover.Value]++
		displaced[sw.Displaced.Value]++
	}
	for tag, n := range moved {
		if n > 1 {
			t.Fatalf("voxel %d started %d swaps in one pass", tag, n)
		}
	}
	if moved[100] != 0 || displaced[100] != 7 {
		t.Fatalf("bottom voxel: moved=%d displaced=%d, want 0 and 7", moved[100], displaced[100])
	}
	if v := tw.get(t, origin, coords.Vec3i{X: 3, Y: 7, Z: 3}); v.Value != 100 {
		t.Fatalf("top of column holds %d, want the bottom voxel", v.Value)
	}
	for y := 1; y < 8; y++ {
		if v := tw.get(t, origin, coords.Vec3i{X: 3, Y: y - 1, Z: 3}); v.Value != int32(100+y) {
			t.Fatalf("voxel from y=%d not one cell below (found %d)", y, v.Value)
		}
	}
}

func TestSparseColumnEachVoxelFallsOnce(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	// Decreasing mass by height, one empty cell under each voxel.
	for y := 1; y < 8; y += 2 {
		m := float32(10 - y)
		tag := int32(y)
		tw.put(t, origin, coords.Vec3i{X: 1, Y: y, Z: 1}, idSand, func(v *voxel.Voxel) { v.Mass = m; v.Value = tag })
	}
	tw.tick(t, origin)
	for y := 1; y < 8; y += 2 {
		v := tw.get(t, origin, coords.Vec3i{X: 1, Y: y - 1, Z: 1})
		if v.Value != int32(y) {
			t.Fatalf("voxel from y=%d not one cell below (found value %d)", y, v.Value)
		}
	}
}

func TestAsleepChunkIsNotTicked(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	tw.tick(t, origin)
	if _, r := tw.TickChunk(origin); r != NotTickable {
		t.Fatalf("readiness=%s want not_tickable", r)
	}
}

func TestUpdatedIsClearedEachPass(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	tw.put(t, origin, coords.Vec3i{X: 2, Y: 6, Z: 2}, idSand, nil)
	tw.tick(t, origin)
	tw.tick(t, origin)
	if tw.get(t, origin, coords.Vec3i{X: 2, Y: 4, Z: 2}).ID != idSand {
		t.Fatalf("sand should fall one cell per pass")
	}
}

func TestPassMarksEveryEvaluatedVoxel(t *testing.T) {
	tw := newTestWorld(t, 8, nil)
	tw.load(t, origin)
	tw.put(t, origin, coords.Vec3i{X: 1, Y: 0, Z: 1}, idStone, nil)
	tw.put(t, origin, coords.Vec3i{X: 1, Y: 1, Z: 1}, idSand, nil)
	tw.tick(t, origin)
	for i, v := range tw.chunk(t, origin).Voxels() {
		if !v.Updated {
			t.Fatalf("voxel %d at %v not marked after the pass", v.ID, tw.Space().Local(i))
		}
	}
}
