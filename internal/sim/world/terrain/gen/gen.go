package gen

import (
	"fmt"

	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
	"voxelgrid.ai/internal/sim/world/logic/mathx"
)

// Layer scatters spheres of one voxel over a 3D grid. Each grid cell holds at
// most one sphere, present with probability ProbPermille/1000.
type Layer struct {
	Voxel        string `yaml:"voxel" toml:"voxel" json:"voxel"`
	Grid         int    `yaml:"grid" toml:"grid" json:"grid"`
	Radius       int    `yaml:"radius" toml:"radius" json:"radius"`
	ProbPermille int    `yaml:"prob_permille" toml:"prob_permille" json:"prob_permille"`
	SeedOffset   int64  `yaml:"seed_offset" toml:"seed_offset" json:"seed_offset"`

	// Sphere centres are limited to [MinY, MaxY] when MaxY > MinY.
	MinY int `yaml:"min_y" toml:"min_y" json:"min_y"`
	MaxY int `yaml:"max_y" toml:"max_y" json:"max_y"`
}

type Params struct {
	Base            string  `yaml:"base" toml:"base" json:"base"`
	Layers          []Layer `yaml:"layers" toml:"layers" json:"layers"`
	DensityPermille int     `yaml:"density_permille" toml:"density_permille" json:"density_permille"`
	SpawnCaveRadius int     `yaml:"spawn_cave_radius" toml:"spawn_cave_radius" json:"spawn_cave_radius"`
}

func DefaultParams() Params {
	return Params{
		Base: "STONE",
		Layers: []Layer{
			{Voxel: "DIRT", Grid: 12, Radius: 4, ProbPermille: 500, SeedOffset: 11},
			{Voxel: "GRAVEL", Grid: 10, Radius: 2, ProbPermille: 350, SeedOffset: 23},
			{Voxel: "SAND", Grid: 9, Radius: 3, ProbPermille: 400, SeedOffset: 37},
			{Voxel: "EMPTY", Grid: 14, Radius: 4, ProbPermille: 450, SeedOffset: 41},
			{Voxel: "WATER", Grid: 16, Radius: 2, ProbPermille: 300, SeedOffset: 53, MinY: -64, MaxY: 32},
			{Voxel: "LAVA", Grid: 20, Radius: 2, ProbPermille: 150, SeedOffset: 67, MinY: -256, MaxY: -16},
			{Voxel: "CRYSTAL", Grid: 8, Radius: 1, ProbPermille: 80, SeedOffset: 71},
			{Voxel: "GOLD", Grid: 11, Radius: 1, ProbPermille: 60, SeedOffset: 83},
		},
		DensityPermille: 1000,
		SpawnCaveRadius: 3,
	}
}

type layer struct {
	Layer
	proto voxel.Voxel
	prob  uint64
	seed  int64
}

// Generator produces chunk contents from a seed. Output depends only on the
// seed, the params and the chunk key, so neighbouring chunks agree on every
// sphere that straddles their boundary.
type Generator struct {
	space  coords.Space
	seed   int64
	base   voxel.Voxel
	empty  voxel.Voxel
	layers []layer
	cave   int
}

func New(space coords.Space, cat *voxel.Catalog, seed int64, p Params) (*Generator, error) {
	resolve := func(name string) (voxel.Voxel, error) {
		id, ok := cat.ID(name)
		if !ok {
			return voxel.Voxel{}, fmt.Errorf("worldgen: %q: %w", name, voxel.ErrUnknownVoxel)
		}
		return cat.Voxel(id)
	}
	base, err := resolve(p.Base)
	if err != nil {
		return nil, err
	}
	g := &Generator{space: space, seed: seed, base: base, empty: cat.Empty(), cave: p.SpawnCaveRadius}
	for i, l := range p.Layers {
		if l.Grid <= 0 || l.Radius <= 0 {
			return nil, fmt.Errorf("worldgen: layer %d (%s): grid and radius must be > 0", i, l.Voxel)
		}
		proto, err := resolve(l.Voxel)
		if err != nil {
			return nil, err
		}
		g.layers = append(g.layers, layer{
			Layer: l,
			proto: proto,
			prob:  ScalePermille(uint64(ClampPermille(l.ProbPermille)), p.DensityPermille),
			seed:  seed + l.SeedOffset,
		})
	}
	return g, nil
}

func (g *Generator) Generate(key coords.ChunkKey) ([]voxel.Voxel, error) {
	n := g.space.ChunkSize
	out := make([]voxel.Voxel, g.space.Volume())
	for i := range out {
		out[i] = g.base
	}
	lo := g.space.ChunkVoxelOrigin(key)
	hi := lo.Add(coords.Vec3i{X: n - 1, Y: n - 1, Z: n - 1})
	for _, l := range g.layers {
		l.stamp(out, g.space, lo, hi)
	}
	if key == (coords.ChunkKey{}) && g.cave > 0 {
		c := coords.Vec3i{X: n / 2, Y: n / 2, Z: n / 2}
		stampSphere(out, g.space, coords.Vec3i{}, c, g.cave, g.empty)
	}
	return out, nil
}

// IDAt evaluates a single global voxel position without building the chunk.
func (g *Generator) IDAt(p coords.Vec3i) uint16 {
	n := g.space.ChunkSize
	if g.cave > 0 {
		c := coords.Vec3i{X: n / 2, Y: n / 2, Z: n / 2}
		if p.X >= 0 && p.X < n && p.Y >= 0 && p.Y < n && p.Z >= 0 && p.Z < n && within(p, c, g.cave) {
			return g.empty.ID
		}
	}
	for i := len(g.layers) - 1; i >= 0; i-- {
		if g.layers[i].contains(p) {
			return g.layers[i].proto.ID
		}
	}
	return g.base.ID
}

// centre returns the sphere centre of grid cell (gx, gy, gz), if it has one.
func (l *layer) centre(gx, gy, gz int) (coords.Vec3i, bool) {
	h := mathx.Hash3(l.seed, gx, gy, gz)
	if h%1000 >= l.prob {
		return coords.Vec3i{}, false
	}
	c := coords.Vec3i{
		X: gx*l.Grid + int((h>>10)%uint64(l.Grid)),
		Y: gy*l.Grid + int((h>>20)%uint64(l.Grid)),
		Z: gz*l.Grid + int((h>>30)%uint64(l.Grid)),
	}
	if l.MaxY > l.MinY && (c.Y < l.MinY || c.Y > l.MaxY) {
		return coords.Vec3i{}, false
	}
	return c, true
}

func (l *layer) stamp(out []voxel.Voxel, space coords.Space, lo, hi coords.Vec3i) {
	r := l.Radius
	for gx := mathx.FloorDiv(lo.X-r, l.Grid); gx <= mathx.FloorDiv(hi.X+r, l.Grid); gx++ {
		for gy := mathx.FloorDiv(lo.Y-r, l.Grid); gy <= mathx.FloorDiv(hi.Y+r, l.Grid); gy++ {
			for gz := mathx.FloorDiv(lo.Z-r, l.Grid); gz <= mathx.FloorDiv(hi.Z+r, l.Grid); gz++ {
				if c, ok := l.centre(gx, gy, gz); ok {
					stampSphere(out, space, lo, c, r, l.proto)
				}
			}
		}
	}
}

// contains mirrors stamp for one point; span covers every cell whose sphere
// can reach p.
func (l *layer) contains(p coords.Vec3i) bool {
	span := 1 + l.Radius/l.Grid
	gx0, gy0, gz0 := mathx.FloorDiv(p.X, l.Grid), mathx.FloorDiv(p.Y, l.Grid), mathx.FloorDiv(p.Z, l.Grid)
	for dx := -span; dx <= span; dx++ {
		for dy := -span; dy <= span; dy++ {
			for dz := -span; dz <= span; dz++ {
				if c, ok := l.centre(gx0+dx, gy0+dy, gz0+dz); ok && within(p, c, l.Radius) {
					return true
				}
			}
		}
	}
	return false
}

// stampSphere writes v over every cell of the chunk starting at origin whose
// global position lies within r of c.
func stampSphere(out []voxel.Voxel, space coords.Space, origin, c coords.Vec3i, r int, v voxel.Voxel) {
	for x := c.X - r; x <= c.X+r; x++ {
		for y := c.Y - r; y <= c.Y+r; y++ {
			for z := c.Z - r; z <= c.Z+r; z++ {
				p := coords.Vec3i{X: x, Y: y, Z: z}
				if !within(p, c, r) {
					continue
				}
				if idx, ok := space.Index(p.Sub(origin)); ok {
					out[idx] = v
				}
			}
		}
	}
}

func within(p, c coords.Vec3i, r int) bool {
	d := p.Sub(c)
	return d.X*d.X+d.Y*d.Y+d.Z*d.Z <= r*r
}

func ClampPermille(v int) int {
	if v < 0 {
		return 0
	}
	if v > 1000 {
		return 1000
	}
	return v
}

// ScalePermille scales base by scalePermille/1000, rounding half up and
// capping at 1000. A non-positive scale means 1000.
func ScalePermille(base uint64, scalePermille int) uint64 {
	if scalePermille <= 0 {
		scalePermille = 1000
	}
	scaled := (base*uint64(scalePermille) + 500) / 1000
	if scaled > 1000 {
		return 1000
	}
	return scaled
}
