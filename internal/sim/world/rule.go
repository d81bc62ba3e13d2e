package world

import (
	"math/rand/v2"

	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
)

var (
	// dx outer, dz inner, both ascending; (0,0) excluded.
	diagonalRing = []coords.Vec3i{
		{X: -1, Z: -1}, {X: -1, Z: 0}, {X: -1, Z: 1},
		{X: 0, Z: -1}, {X: 0, Z: 1},
		{X: 1, Z: -1}, {X: 1, Z: 0}, {X: 1, Z: 1},
	}
	// N, NE, E, SE, S, SW, W, NW with +z as north and +x as east.
	lateralRing = [8]coords.Vec3i{
		{X: 0, Z: 1}, {X: 1, Z: 1}, {X: 1, Z: 0}, {X: 1, Z: -1},
		{X: 0, Z: -1}, {X: -1, Z: -1}, {X: -1, Z: 0}, {X: -1, Z: 1},
	}
	// 5x5 fallback, dx outer, dz inner, both ascending, centre included.
	wideRing = func() []coords.Vec3i {
		out := make([]coords.Vec3i, 0, 25)
		for dx := -2; dx <= 2; dx++ {
			for dz := -2; dz <= 2; dz++ {
				out = append(out, coords.Vec3i{X: dx, Z: dz})
			}
		}
		return out
	}()
)

type cell struct {
	arr    []voxel.Voxel
	idx    int
	owner  *Chunk // nil when the cell is in the chunk being ticked
	global coords.Vec3i
}

func (c cell) voxel() *voxel.Voxel { return &c.arr[c.idx] }

// pass is one tick of one chunk. It is not safe for concurrent use.
type pass struct {
	w        *World
	space    coords.Space
	key      coords.ChunkKey
	voxels   []voxel.Voxel
	isolated bool
	rng      *rand.Rand

	neighbors map[coords.ChunkKey]*Chunk // nil value: absent for this pass
	locked    []*Chunk
	touched   map[*Chunk]struct{}

	res TickResult
}

func newPass(w *World, key coords.ChunkKey, voxels []voxel.Voxel, isolated bool, seq uint64) *pass {
	return &pass{
		w:        w,
		space:    w.space,
		key:      key,
		voxels:   voxels,
		isolated: isolated,
		rng:      rand.New(rand.NewPCG(w.keySeed(key), seq)),
		res:      TickResult{Key: key, Seq: seq},
	}
}

func (p *pass) run() {
	for i := range p.voxels {
		p.voxels[i].Updated = false
	}
	for i := range p.voxels {
		v := &p.voxels[i]
		if v.Updated {
			continue
		}
		v.Updated = true
		switch v.Physics {
		case voxel.PhysicsMovable:
			p.stepMovable(i)
		case voxel.PhysicsFluid:
			p.stepFluid(i)
		case voxel.PhysicsGas:
			p.stepGas(i)
		}
	}
}

func (p *pass) self(i int) cell {
	local := p.space.Local(i)
	return cell{arr: p.voxels, idx: i, global: p.space.Global(p.key, local)}
}

// at resolves a local offset from the chunk being ticked. ok is false when the
// target chunk is missing, not initialized, busy or outside an isolated pass.
func (p *pass) at(local coords.Vec3i) (cell, bool) {
	if idx, ok := p.space.Index(local); ok {
		return cell{arr: p.voxels, idx: idx, global: p.space.Global(p.key, local)}, true
	}
	if p.isolated {
		return cell{}, false
	}
	nk, nl := p.space.ResolveNeighbor(p.key, local)
	idx, ok := p.space.Index(nl)
	if !ok {
		return cell{}, false
	}
	ch := p.neighbor(nk)
	if ch == nil || len(ch.voxels) <= idx {
		return cell{}, false
	}
	return cell{arr: ch.voxels, idx: idx, owner: ch, global: p.space.Global(nk, nl)}, true
}

func (p *pass) neighbor(key coords.ChunkKey) *Chunk {
	if ch, seen := p.neighbors[key]; seen {
		return ch
	}
	if p.neighbors == nil {
		p.neighbors = make(map[coords.ChunkKey]*Chunk, 8)
	}
	ch := p.w.lookup(key)
	if ch == nil || !ch.initialized.Load() || ch.updating.Load() || !ch.mu.TryLock() {
		p.neighbors[key] = nil
		return nil
	}
	p.locked = append(p.locked, ch)
	p.neighbors[key] = ch
	return ch
}

func (p *pass) offset(i int, d coords.Vec3i) (cell, bool) {
	return p.at(p.space.Local(i).Add(d))
}

func (p *pass) stepMovable(i int) {
	mass := p.voxels[i].Mass
	lighter := func(c cell) bool { return c.voxel().Mass < mass }
	if p.tryMove(i, coords.Vec3i{Y: -1}, lighter) {
		return
	}
	p.tryRing(i, diagonalRing, -1, lighter)
}

func (p *pass) stepFluid(i int) {
	self := p.voxels[i]
	lighter := func(c cell) bool { return c.voxel().Mass < self.Mass }

	below, ok := p.offset(i, coords.Vec3i{Y: -1})
	if ok && lighter(below) {
		p.swap(p.self(i), below)
		return
	}
	if ok && below.voxel().ID == self.ID {
		dirs := lateralRing
		p.rng.Shuffle(len(dirs), func(a, b int) { dirs[a], dirs[b] = dirs[b], dirs[a] })
		if p.tryRing(i, dirs[:], 0, lighter) {
			return
		}
	}
	p.tryRing(i, wideRing, -1, lighter)
}

func (p *pass) stepGas(i int) {
	mass := p.voxels[i].Mass
	heavier := func(c cell) bool {
		v := c.voxel()
		return v.Mass > mass && v.Physics != voxel.PhysicsSolid
	}
	if p.tryMove(i, coords.Vec3i{Y: 1}, heavier) {
		return
	}
	p.tryRing(i, diagonalRing, 1, heavier)
}

func (p *pass) tryMove(i int, d coords.Vec3i, accept func(cell) bool) bool {
	target, ok := p.offset(i, d)
	if !ok || !accept(target) {
		return false
	}
	p.swap(p.self(i), target)
	return true
}

func (p *pass) tryRing(i int, ring []coords.Vec3i, dy int, accept func(cell) bool) bool {
	for _, d := range ring {
		d.Y = dy
		if p.tryMove(i, d, accept) {
			return true
		}
	}
	return false
}

// swap exchanges mover and target and records the displacement on both.
// The target may already be Updated; only the mover is limited per pass.
func (p *pass) swap(mover, target cell) {
	a, b := *mover.voxel(), *target.voxel()
	dir := target.global.Sub(mover.global).Vec3()
	a.ForceDirection = dir
	b.ForceDirection = dir.Mul(-1)
	*mover.voxel(), *target.voxel() = b, a

	p.res.Moves++
	if p.w.cfg.RecordSwaps {
		p.res.Swaps = append(p.res.Swaps, Swap{From: mover.global, To: target.global, Mover: a, Displaced: b})
	}
	if target.owner != nil {
		p.res.CrossChunkMoves++
		if p.touched == nil {
			p.touched = make(map[*Chunk]struct{}, 4)
		}
		p.touched[target.owner] = struct{}{}
	}
}

// finish marks every touched neighbor and releases the neighbor locks.
func (p *pass) finish() {
	for ch := range p.touched {
		ch.touchLocked()
		p.res.Touched = append(p.res.Touched, ch.key)
	}
	coords.SortKeys(p.res.Touched)
	for _, ch := range p.locked {
		ch.mu.Unlock()
	}
	p.locked = nil
	p.neighbors = nil
}
