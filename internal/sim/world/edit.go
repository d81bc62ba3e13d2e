package world

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
	"voxelgrid.ai/internal/sim/world/logic/mathx"
)

func (w *World) ready(key coords.ChunkKey) (*Chunk, error) {
	c := w.lookup(key)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrChunkMissing, key)
	}
	if !c.initialized.Load() {
		return nil, fmt.Errorf("%w: %s", ErrChunkNotReady, key)
	}
	return c, nil
}

// Voxel reads one voxel by chunk key and local position.
func (w *World) Voxel(key coords.ChunkKey, local coords.Vec3i) (voxel.Voxel, error) {
	idx, ok := w.space.Index(local)
	if !ok {
		return voxel.Voxel{}, fmt.Errorf("local position %+v out of chunk", local)
	}
	c, err := w.ready(key)
	if err != nil {
		return voxel.Voxel{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voxels[idx], nil
}

// SetVoxel overwrites one voxel and wakes the chunk.
func (w *World) SetVoxel(key coords.ChunkKey, local coords.Vec3i, v voxel.Voxel) error {
	idx, ok := w.space.Index(local)
	if !ok {
		return fmt.Errorf("local position %+v out of chunk", local)
	}
	c, err := w.ready(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.voxels[idx] = v
	c.touchLocked()
	c.mu.Unlock()
	return nil
}

func (w *World) VoxelAt(p mgl32.Vec3) (voxel.Voxel, error) {
	key := w.space.ChunkKeyFromWorld(p)
	return w.Voxel(key, w.space.LocalFromWorld(p, key))
}

func (w *World) SetVoxelAt(p mgl32.Vec3, v voxel.Voxel) error {
	key := w.space.ChunkKeyFromWorld(p)
	return w.SetVoxel(key, w.space.LocalFromWorld(p, key), v)
}

type SphereResult struct {
	Replaced int
	Touched  []coords.ChunkKey

	// Value is the sum of the replaced voxels' payloads.
	Value int64
}

// ReplaceInSphere swaps every voxel of id from whose centre lies within
// radius of center for a fresh voxel of id to. Chunks that are missing or not
// initialized are skipped.
func (w *World) ReplaceInSphere(center mgl32.Vec3, radius float32, from, to uint16) (SphereResult, error) {
	var res SphereResult
	repl, err := w.catalog.Voxel(to)
	if err != nil {
		return res, err
	}
	if radius < 0 {
		return res, nil
	}
	vs := w.space.VoxelSize
	r := int(math.Ceil(float64(radius/vs))) + 1
	cv := w.space.VoxelCoord(center)
	lo := cv.Sub(coords.Vec3i{X: r, Y: r, Z: r})
	hi := cv.Add(coords.Vec3i{X: r, Y: r, Z: r})
	n := w.space.ChunkSize
	klo := coords.ChunkKey{X: mathx.FloorDiv(lo.X, n), Y: mathx.FloorDiv(lo.Y, n), Z: mathx.FloorDiv(lo.Z, n)}
	khi := coords.ChunkKey{X: mathx.FloorDiv(hi.X, n), Y: mathx.FloorDiv(hi.Y, n), Z: mathx.FloorDiv(hi.Z, n)}
	r2 := radius * radius

	for ky := klo.Y; ky <= khi.Y; ky++ {
		for kz := klo.Z; kz <= khi.Z; kz++ {
			for kx := klo.X; kx <= khi.X; kx++ {
				key := coords.ChunkKey{X: kx, Y: ky, Z: kz}
				c, err := w.ready(key)
				if err != nil {
					continue
				}
				replaced, value := w.replaceInChunk(c, center, r2, lo, hi, from, repl)
				if replaced > 0 {
					res.Replaced += replaced
					res.Value += value
					res.Touched = append(res.Touched, key)
				}
			}
		}
	}
	return res, nil
}

func (w *World) replaceInChunk(c *Chunk, center mgl32.Vec3, r2 float32, lo, hi coords.Vec3i, from uint16, repl voxel.Voxel) (int, int64) {
	origin := w.space.ChunkVoxelOrigin(c.key)
	half := w.space.VoxelSize / 2
	c.mu.Lock()
	defer c.mu.Unlock()
	replaced := 0
	var value int64
	for i := range c.voxels {
		if c.voxels[i].ID != from {
			continue
		}
		g := origin.Add(w.space.Local(i))
		if g.X < lo.X || g.Y < lo.Y || g.Z < lo.Z || g.X > hi.X || g.Y > hi.Y || g.Z > hi.Z {
			continue
		}
		centre := g.Vec3().Mul(w.space.VoxelSize).Add(mgl32.Vec3{half, half, half})
		d := centre.Sub(center)
		if d.Dot(d) > r2 {
			continue
		}
		value += int64(c.voxels[i].Value)
		c.voxels[i] = repl
		replaced++
	}
	if replaced > 0 {
		c.touchLocked()
	}
	return replaced, value
}

type ForceSample struct {
	Local coords.Vec3i
	ID    uint16
	Dir   mgl32.Vec3
}

// ForceField lists the non-empty voxels of key that carry a displacement.
func (w *World) ForceField(key coords.ChunkKey) ([]ForceSample, error) {
	c, err := w.ready(key)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ForceSample
	for i, v := range c.voxels {
		if v.IsEmpty() || v.ForceDirection.Len() == 0 {
			continue
		}
		out = append(out, ForceSample{Local: w.space.Local(i), ID: v.ID, Dir: v.ForceDirection})
	}
	return out, nil
}
