package world

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
)

func TestVoxelAtResolvesWorldPosition(t *testing.T) {
	tw := newTestWorld(t, 4, nil)
	k := coords.ChunkKey{X: -1}
	tw.load(t, k)
	tw.put(t, k, coords.Vec3i{X: 3, Y: 2, Z: 1}, idStone, nil)

	v, err := tw.VoxelAt(mgl32.Vec3{-0.5, 2.2, 1.9})
	if err != nil {
		t.Fatalf("VoxelAt: %v", err)
	}
	if v.ID != idStone {
		t.Fatalf("id=%d", v.ID)
	}
	if _, err := tw.VoxelAt(mgl32.Vec3{100, 0, 0}); !errors.Is(err, ErrChunkMissing) {
		t.Fatalf("err=%v", err)
	}
}

func TestSetVoxelAtWakesAndDirties(t *testing.T) {
	tw := newTestWorld(t, 4, nil)
	tw.load(t, origin)
	tw.tick(t, origin)
	c := tw.chunk(t, origin)
	c.meshDirty.Store(false)

	sand, _ := tw.cat.Voxel(idSand)
	if err := tw.SetVoxelAt(mgl32.Vec3{1, 3, 1}, sand); err != nil {
		t.Fatalf("SetVoxelAt: %v", err)
	}
	if !c.Awake() || !c.MeshDirty() {
		t.Fatalf("awake=%v dirty=%v", c.Awake(), c.MeshDirty())
	}
}

func TestReplaceInSphereAcrossChunks(t *testing.T) {
	tw := newTestWorld(t, 4, nil)
	a, b := coords.ChunkKey{}, coords.ChunkKey{X: 1}
	tw.load(t, a, b)
	gold := func(v *voxel.Voxel) { v.Value = 7 }
	tw.put(t, a, coords.Vec3i{X: 3, Y: 1, Z: 1}, idStone, gold)
	tw.put(t, b, coords.Vec3i{X: 0, Y: 1, Z: 1}, idStone, gold)
	tw.put(t, b, coords.Vec3i{X: 3, Y: 1, Z: 1}, idStone, gold) // too far
	tw.put(t, a, coords.Vec3i{X: 2, Y: 1, Z: 1}, idSand, nil)   // wrong id

	res, err := tw.ReplaceInSphere(mgl32.Vec3{4, 1.5, 1.5}, 1.5, idStone, idEmpty)
	if err != nil {
		t.Fatalf("ReplaceInSphere: %v", err)
	}
	if res.Replaced != 2 || res.Value != 14 {
		t.Fatalf("result %+v", res)
	}
	if len(res.Touched) != 2 {
		t.Fatalf("touched %v", res.Touched)
	}
	if tw.get(t, b, coords.Vec3i{X: 3, Y: 1, Z: 1}).ID != idStone {
		t.Fatalf("voxel outside radius replaced")
	}
	if tw.get(t, a, coords.Vec3i{X: 2, Y: 1, Z: 1}).ID != idSand {
		t.Fatalf("voxel of other id replaced")
	}
	if _, err := tw.ReplaceInSphere(mgl32.Vec3{}, 1, idStone, 99); !errors.Is(err, voxel.ErrUnknownVoxel) {
		t.Fatalf("err=%v", err)
	}
}

func TestForceField(t *testing.T) {
	tw := newTestWorld(t, 4, nil)
	tw.load(t, origin)
	tw.put(t, origin, coords.Vec3i{X: 1, Y: 2, Z: 1}, idSand, nil)
	tw.tick(t, origin)
	ff, err := tw.ForceField(origin)
	if err != nil {
		t.Fatalf("ForceField: %v", err)
	}
	if len(ff) != 1 || ff[0].ID != idSand || ff[0].Local != (coords.Vec3i{X: 1, Y: 1, Z: 1}) || ff[0].Dir != (mgl32.Vec3{0, -1, 0}) {
		t.Fatalf("force field %+v", ff)
	}
}

func TestDigestTracksContent(t *testing.T) {
	tw := newTestWorld(t, 4, nil)
	tw.load(t, origin, coords.ChunkKey{X: 1})
	d0, err := tw.Digest(origin)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	d1, _ := tw.Digest(coords.ChunkKey{X: 1})
	if d0 != d1 {
		t.Fatalf("identical chunks hash differently")
	}
	tw.put(t, origin, coords.Vec3i{X: 1, Y: 1, Z: 1}, idStone, nil)
	snap, err := tw.Snapshot(origin)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Digest == d0 {
		t.Fatalf("digest unchanged after edit")
	}
	if i, _ := tw.Space().Index(coords.Vec3i{X: 1, Y: 1, Z: 1}); snap.IDs[i] != idStone {
		t.Fatalf("snapshot ids stale")
	}
}
