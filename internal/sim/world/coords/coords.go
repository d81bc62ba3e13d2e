// Package coords translates between world positions, chunk keys and local
// voxel indices for a fixed chunk size and voxel size.
package coords

import (
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.ai/internal/sim/world/logic/mathx"
)

type ChunkKey struct {
	X, Y, Z int
}

func (k ChunkKey) Add(dx, dy, dz int) ChunkKey {
	return ChunkKey{X: k.X + dx, Y: k.Y + dy, Z: k.Z + dz}
}

// Parity is the checkerboard class of the key (0 or 1).
func (k ChunkKey) Parity() int { return mathx.Parity(k.X, k.Y, k.Z) }

func (k ChunkKey) String() string { return fmt.Sprintf("%d,%d,%d", k.X, k.Y, k.Z) }

// Less orders keys by y, then z, then x.
func (k ChunkKey) Less(o ChunkKey) bool {
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	if k.Z != o.Z {
		return k.Z < o.Z
	}
	return k.X < o.X
}

type Vec3i struct {
	X, Y, Z int
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3i) Sub(o Vec3i) Vec3i { return Vec3i{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }
func (v Vec3i) Vec3() mgl32.Vec3  { return mgl32.Vec3{float32(v.X), float32(v.Y), float32(v.Z)} }

// Space holds the two constants every conversion depends on.
type Space struct {
	ChunkSize int
	VoxelSize float32
}

func NewSpace(chunkSize int, voxelSize float32) (Space, error) {
	if chunkSize <= 0 {
		return Space{}, fmt.Errorf("coords: chunk size must be > 0, got %d", chunkSize)
	}
	if !(voxelSize > 0) || math.IsInf(float64(voxelSize), 0) {
		return Space{}, fmt.Errorf("coords: voxel size must be > 0, got %v", voxelSize)
	}
	return Space{ChunkSize: chunkSize, VoxelSize: voxelSize}, nil
}

// Volume is the number of voxels per chunk.
func (s Space) Volume() int { return s.ChunkSize * s.ChunkSize * s.ChunkSize }

// ChunkWorldSize is the edge length of a chunk in world units.
func (s Space) ChunkWorldSize() float32 { return float32(s.ChunkSize) * s.VoxelSize }

func (s Space) InBounds(p Vec3i) bool {
	n := s.ChunkSize
	return p.X >= 0 && p.X < n && p.Y >= 0 && p.Y < n && p.Z >= 0 && p.Z < n
}

// Index maps a local position to its array slot (x fastest, then y, then z).
// ok is false when p lies outside the chunk.
func (s Space) Index(p Vec3i) (int, bool) {
	if !s.InBounds(p) {
		return -1, false
	}
	n := s.ChunkSize
	return p.X + n*(p.Y+n*p.Z), true
}

// Local is the inverse of Index.
func (s Space) Local(i int) Vec3i {
	n := s.ChunkSize
	return Vec3i{X: i % n, Y: (i / n) % n, Z: i / (n * n)}
}

// VoxelCoord returns the global integer voxel coordinate containing p.
func (s Space) VoxelCoord(p mgl32.Vec3) Vec3i {
	vs := float64(s.VoxelSize)
	return Vec3i{
		X: int(math.Floor(float64(p[0]) / vs)),
		Y: int(math.Floor(float64(p[1]) / vs)),
		Z: int(math.Floor(float64(p[2]) / vs)),
	}
}

// ChunkKeyFromWorld floor-divides each axis by the chunk's world size.
func (s Space) ChunkKeyFromWorld(p mgl32.Vec3) ChunkKey {
	v := s.VoxelCoord(p)
	return ChunkKey{
		X: mathx.FloorDiv(v.X, s.ChunkSize),
		Y: mathx.FloorDiv(v.Y, s.ChunkSize),
		Z: mathx.FloorDiv(v.Z, s.ChunkSize),
	}
}

// LocalFromWorld subtracts the chunk origin and floors to voxel units. The
// subtraction happens on integer voxel coordinates so positions that belong to
// key always land in [0, ChunkSize).
func (s Space) LocalFromWorld(p mgl32.Vec3, key ChunkKey) Vec3i {
	return s.VoxelCoord(p).Sub(s.ChunkVoxelOrigin(key))
}

// ChunkVoxelOrigin is the global voxel coordinate of local (0,0,0).
func (s Space) ChunkVoxelOrigin(key ChunkKey) Vec3i {
	n := s.ChunkSize
	return Vec3i{X: key.X * n, Y: key.Y * n, Z: key.Z * n}
}

// ChunkOrigin is the world position of the chunk's minimum corner.
func (s Space) ChunkOrigin(key ChunkKey) mgl32.Vec3 {
	return s.ChunkVoxelOrigin(key).Vec3().Mul(s.VoxelSize)
}

// WorldFromLocal returns the world position of the voxel's minimum corner.
func (s Space) WorldFromLocal(key ChunkKey, local Vec3i) mgl32.Vec3 {
	return s.ChunkVoxelOrigin(key).Add(local).Vec3().Mul(s.VoxelSize)
}

// Global converts a chunk-local position into a global voxel coordinate.
func (s Space) Global(key ChunkKey, local Vec3i) Vec3i {
	return s.ChunkVoxelOrigin(key).Add(local)
}

// ResolveNeighbor moves any axis of local that falls outside [0, ChunkSize)
// into the adjacent chunk, independently per axis.
func (s Space) ResolveNeighbor(key ChunkKey, local Vec3i) (ChunkKey, Vec3i) {
	n := s.ChunkSize
	if s.InBounds(local) {
		return key, local
	}
	key.X += mathx.FloorDiv(local.X, n)
	key.Y += mathx.FloorDiv(local.Y, n)
	key.Z += mathx.FloorDiv(local.Z, n)
	return key, Vec3i{X: mathx.Mod(local.X, n), Y: mathx.Mod(local.Y, n), Z: mathx.Mod(local.Z, n)}
}

// KeysInCube lists every key within a cubic radius of center, y-major then z
// then x, all ascending.
func KeysInCube(center ChunkKey, radius int) []ChunkKey {
	if radius < 0 {
		return nil
	}
	side := 2*radius + 1
	out := make([]ChunkKey, 0, side*side*side)
	for dy := -radius; dy <= radius; dy++ {
		for dz := -radius; dz <= radius; dz++ {
			for dx := -radius; dx <= radius; dx++ {
				out = append(out, center.Add(dx, dy, dz))
			}
		}
	}
	return out
}

// SortKeys orders keys by Less.
func SortKeys(keys []ChunkKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
