// Package mesh turns per-material occupancy masks into triangle buffers.
package mesh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.ai/internal/sim/world/coords"
)

// Mask marks the cells occupied by one material, in chunk index order.
type Mask struct {
	Material uint16
	Filled   []bool
}

// Count returns the number of filled cells.
func (m Mask) Count() int {
	n := 0
	for _, f := range m.Filled {
		if f {
			n++
		}
	}
	return n
}

type Mesh struct {
	Material uint16
	Vertices []mgl32.Vec3
	Normals  []mgl32.Vec3
	UVs      []mgl32.Vec2
	Indices  []uint32
}

func (m Mesh) Faces() int { return len(m.Indices) / 6 }

// Mesher builds geometry for one mask. Implementations must not retain mask.
type Mesher interface {
	Build(space coords.Space, mask Mask) (Mesh, error)
}

// Masks splits ids into one mask per material present, skipping skip.
// Materials come out in ascending id order.
func Masks(ids []uint16, skip uint16) []Mask {
	byID := map[uint16]int{}
	var out []Mask
	for i, id := range ids {
		if id == skip {
			continue
		}
		k, ok := byID[id]
		if !ok {
			k = len(out)
			byID[id] = k
			out = append(out, Mask{Material: id, Filled: make([]bool, len(ids))})
		}
		out[k].Filled[i] = true
	}
	sortMasks(out)
	return out
}

func sortMasks(ms []Mask) {
	for i := 1; i < len(ms); i++ {
		for j := i; j > 0 && ms[j].Material < ms[j-1].Material; j-- {
			ms[j], ms[j-1] = ms[j-1], ms[j]
		}
	}
}

type face struct {
	dir    coords.Vec3i
	normal mgl32.Vec3
	// corners relative to the voxel's min corner, counter-clockwise seen from outside
	corners [4]mgl32.Vec3
}

var faces = [6]face{
	{coords.Vec3i{X: 1}, mgl32.Vec3{1, 0, 0}, [4]mgl32.Vec3{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 0, 1}}},
	{coords.Vec3i{X: -1}, mgl32.Vec3{-1, 0, 0}, [4]mgl32.Vec3{{0, 0, 1}, {0, 1, 1}, {0, 1, 0}, {0, 0, 0}}},
	{coords.Vec3i{Y: 1}, mgl32.Vec3{0, 1, 0}, [4]mgl32.Vec3{{0, 1, 0}, {0, 1, 1}, {1, 1, 1}, {1, 1, 0}}},
	{coords.Vec3i{Y: -1}, mgl32.Vec3{0, -1, 0}, [4]mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {1, 0, 1}, {0, 0, 1}}},
	{coords.Vec3i{Z: 1}, mgl32.Vec3{0, 0, 1}, [4]mgl32.Vec3{{1, 0, 1}, {1, 1, 1}, {0, 1, 1}, {0, 0, 1}}},
	{coords.Vec3i{Z: -1}, mgl32.Vec3{0, 0, -1}, [4]mgl32.Vec3{{0, 0, 0}, {0, 1, 0}, {1, 1, 0}, {1, 0, 0}}},
}

var quadUVs = [4]mgl32.Vec2{{0, 0}, {0, 1}, {1, 1}, {1, 0}}

// Culled emits one quad per face whose neighbor cell is not filled with the
// same material. Faces on the chunk boundary are always emitted.
type Culled struct{}

func (Culled) Build(space coords.Space, mask Mask) (Mesh, error) {
	if len(mask.Filled) != space.Volume() {
		return Mesh{}, fmt.Errorf("mesh: mask has %d cells, want %d", len(mask.Filled), space.Volume())
	}
	out := Mesh{Material: mask.Material}
	vs := space.VoxelSize
	for i, filled := range mask.Filled {
		if !filled {
			continue
		}
		p := space.Local(i)
		base := p.Vec3().Mul(vs)
		for _, f := range faces {
			if j, ok := space.Index(p.Add(f.dir)); ok && mask.Filled[j] {
				continue
			}
			start := uint32(len(out.Vertices))
			for k, c := range f.corners {
				out.Vertices = append(out.Vertices, base.Add(c.Mul(vs)))
				out.Normals = append(out.Normals, f.normal)
				out.UVs = append(out.UVs, quadUVs[k])
			}
			out.Indices = append(out.Indices, start, start+1, start+2, start, start+2, start+3)
		}
	}
	return out, nil
}
