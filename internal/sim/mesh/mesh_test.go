package mesh

import (
	"testing"

	"voxelgrid.ai/internal/sim/world/coords"
)

func space(t *testing.T, n int) coords.Space {
	t.Helper()
	s, err := coords.NewSpace(n, 0.5)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return s
}

func TestCulledSingleVoxelHasSixFaces(t *testing.T) {
	s := space(t, 4)
	m := Mask{Material: 3, Filled: make([]bool, s.Volume())}
	i, _ := s.Index(coords.Vec3i{X: 1, Y: 1, Z: 1})
	m.Filled[i] = true

	got, err := Culled{}.Build(s, m)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got.Faces() != 6 || len(got.Vertices) != 24 || len(got.Normals) != 24 || len(got.UVs) != 24 {
		t.Fatalf("faces=%d verts=%d normals=%d uvs=%d", got.Faces(), len(got.Vertices), len(got.Normals), len(got.UVs))
	}
	if got.Material != 3 {
		t.Fatalf("material=%d", got.Material)
	}
	for _, v := range got.Vertices {
		for a := 0; a < 3; a++ {
			if v[a] < 0.5 || v[a] > 1.0 {
				t.Fatalf("vertex %v outside voxel bounds", v)
			}
		}
	}
}

func TestCulledSharedFaceRemoved(t *testing.T) {
	s := space(t, 4)
	m := Mask{Filled: make([]bool, s.Volume())}
	a, _ := s.Index(coords.Vec3i{X: 1, Y: 1, Z: 1})
	b, _ := s.Index(coords.Vec3i{X: 2, Y: 1, Z: 1})
	m.Filled[a], m.Filled[b] = true, true
	got, err := Culled{}.Build(s, m)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got.Faces() != 10 {
		t.Fatalf("faces=%d want 10", got.Faces())
	}
}

func TestCulledRejectsWrongMaskSize(t *testing.T) {
	if _, err := (Culled{}).Build(space(t, 4), Mask{Filled: make([]bool, 3)}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMasksSplitsMaterials(t *testing.T) {
	ids := []uint16{0, 2, 2, 1, 0, 1}
	ms := Masks(ids, 0)
	if len(ms) != 2 || ms[0].Material != 1 || ms[1].Material != 2 {
		t.Fatalf("unexpected masks %+v", ms)
	}
	if ms[0].Count() != 2 || ms[1].Count() != 2 {
		t.Fatalf("counts %d %d", ms[0].Count(), ms[1].Count())
	}
	if !ms[1].Filled[1] || ms[1].Filled[3] {
		t.Fatalf("material 2 mask wrong: %v", ms[1].Filled)
	}
}
