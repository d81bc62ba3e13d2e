package world

import (
	"fmt"

	"voxelgrid.ai/internal/sim/mesh"
	"voxelgrid.ai/internal/sim/voxel"
	"voxelgrid.ai/internal/sim/world/coords"
)

type MeshReport struct {
	Built  []coords.ChunkKey
	Failed []GenFailure

	// Remaining counts dirty loaded chunks left for a later call.
	Remaining int
}

// RebuildMeshes regenerates geometry for at most max dirty, loaded chunks.
// A failed build leaves the chunk dirty so it is retried.
func (w *World) RebuildMeshes(m mesh.Mesher, max int) MeshReport {
	var rep MeshReport
	for _, key := range w.keysWhere(func(c *Chunk) bool { return c.loaded.Load() && c.meshDirty.Load() }) {
		if len(rep.Built)+len(rep.Failed) >= max {
			rep.Remaining++
			continue
		}
		c := w.lookup(key)
		// Clear first so edits made during the build dirty it again.
		c.meshDirty.Store(false)
		meshes, err := w.buildMeshes(m, c.IDs())
		if err != nil {
			c.meshDirty.Store(true)
			rep.Failed = append(rep.Failed, GenFailure{Key: key, Err: err})
			continue
		}
		if ct := c.container; ct != nil {
			ct.Meshes = meshes
			ct.Builds++
		}
		rep.Built = append(rep.Built, key)
	}
	return rep
}

func (w *World) buildMeshes(m mesh.Mesher, ids []uint16) ([]mesh.Mesh, error) {
	var out []mesh.Mesh
	for _, mask := range mesh.Masks(ids, voxel.EmptyID) {
		mm, err := m.Build(w.space, mask)
		if err != nil {
			return nil, fmt.Errorf("mesh material %d: %w", mask.Material, err)
		}
		out = append(out, mm)
	}
	return out, nil
}
