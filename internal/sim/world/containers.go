package world

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelgrid.ai/internal/sim/mesh"
	"voxelgrid.ai/internal/sim/world/coords"
)

// Container is a renderable slot. Meshes holds the last geometry built for
// the chunk bound to it.
type Container struct {
	Slot   int
	Key    coords.ChunkKey
	Origin mgl32.Vec3
	Meshes []mesh.Mesh
	Builds uint64
}

// ContainerPool is a fixed set of containers. It is not safe for concurrent use.
type ContainerPool struct {
	space coords.Space
	all   []*Container
	free  []*Container
}

func NewContainerPool(n int, space coords.Space) *ContainerPool {
	p := &ContainerPool{space: space}
	for i := 0; i < n; i++ {
		c := &Container{Slot: i}
		p.all = append(p.all, c)
	}
	// Hand out low slots first.
	for i := n - 1; i >= 0; i-- {
		p.free = append(p.free, p.all[i])
	}
	return p
}

// Acquire binds a free container to key. ok is false when the pool is empty.
func (p *ContainerPool) Acquire(key coords.ChunkKey) (*Container, bool) {
	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	c := p.free[n-1]
	p.free = p.free[:n-1]
	c.Key = key
	c.Origin = p.space.ChunkOrigin(key)
	return c, true
}

func (p *ContainerPool) Release(c *Container) {
	if c == nil {
		return
	}
	c.Meshes = nil
	c.Key = coords.ChunkKey{}
	c.Origin = mgl32.Vec3{}
	p.free = append(p.free, c)
}

func (p *ContainerPool) Cap() int   { return len(p.all) }
func (p *ContainerPool) InUse() int { return len(p.all) - len(p.free) }
