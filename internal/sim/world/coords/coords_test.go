package coords

import (
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func mustSpace(t *testing.T, n int, vs float32) Space {
	t.Helper()
	s, err := NewSpace(n, vs)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return s
}

func TestNewSpaceRejectsBadParams(t *testing.T) {
	if _, err := NewSpace(0, 1); err == nil {
		t.Fatalf("expected error for chunk size 0")
	}
	if _, err := NewSpace(8, 0); err == nil {
		t.Fatalf("expected error for voxel size 0")
	}
}

func TestIndexRoundTrip(t *testing.T) {
	s := mustSpace(t, 8, 1)
	for i := 0; i < s.Volume(); i++ {
		p := s.Local(i)
		j, ok := s.Index(p)
		if !ok || j != i {
			t.Fatalf("index %d -> %+v -> %d (ok=%v)", i, p, j, ok)
		}
	}
	if i, _ := s.Index(Vec3i{X: 1, Y: 0, Z: 0}); i != 1 {
		t.Fatalf("x is not fastest: %d", i)
	}
	if i, _ := s.Index(Vec3i{X: 0, Y: 1, Z: 0}); i != 8 {
		t.Fatalf("y stride: %d", i)
	}
	if _, ok := s.Index(Vec3i{X: 8}); ok {
		t.Fatalf("out of bounds index accepted")
	}
	if _, ok := s.Index(Vec3i{Y: -1}); ok {
		t.Fatalf("negative index accepted")
	}
}

func TestChunkKeyFromWorldNegative(t *testing.T) {
	s := mustSpace(t, 8, 0.5)
	// chunk world size = 4
	cases := []struct {
		p    mgl32.Vec3
		want ChunkKey
	}{
		{mgl32.Vec3{0, 0, 0}, ChunkKey{0, 0, 0}},
		{mgl32.Vec3{3.99, 4, -0.01}, ChunkKey{0, 1, -1}},
		{mgl32.Vec3{-4, -4.01, 8}, ChunkKey{-1, -2, 2}},
	}
	for _, c := range cases {
		if got := s.ChunkKeyFromWorld(c.p); got != c.want {
			t.Fatalf("ChunkKeyFromWorld(%v)=%v want %v", c.p, got, c.want)
		}
	}
}

func TestLocalFromWorldAlwaysInRange(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for _, vs := range []float32{1, 0.5, 0.25, 0.1, 2} {
		s := mustSpace(t, 16, vs)
		for i := 0; i < 5000; i++ {
			p := mgl32.Vec3{
				float32(r.Float64()*2000 - 1000),
				float32(r.Float64()*2000 - 1000),
				float32(r.Float64()*2000 - 1000),
			}
			k := s.ChunkKeyFromWorld(p)
			l := s.LocalFromWorld(p, k)
			if !s.InBounds(l) {
				t.Fatalf("vs=%v p=%v key=%v local=%v out of range", vs, p, k, l)
			}
			back := s.WorldFromLocal(k, l)
			for a := 0; a < 3; a++ {
				d := p[a] - back[a]
				if d < -vs*0.01 || d > vs*1.01 {
					t.Fatalf("vs=%v p=%v back=%v axis %d off by %v", vs, p, back, a, d)
				}
			}
		}
	}
}

func TestResolveNeighborSingleAxis(t *testing.T) {
	s := mustSpace(t, 8, 1)
	k := ChunkKey{X: 2, Y: -1, Z: 0}

	nk, nl := s.ResolveNeighbor(k, Vec3i{X: -1, Y: 3, Z: 4})
	if nk != (ChunkKey{X: 1, Y: -1, Z: 0}) || nl != (Vec3i{X: 7, Y: 3, Z: 4}) {
		t.Fatalf("-x: got %v %v", nk, nl)
	}
	nk, nl = s.ResolveNeighbor(k, Vec3i{X: 3, Y: 8, Z: 4})
	if nk != (ChunkKey{X: 2, Y: 0, Z: 0}) || nl != (Vec3i{X: 3, Y: 0, Z: 4}) {
		t.Fatalf("+y: got %v %v", nk, nl)
	}
	nk, nl = s.ResolveNeighbor(k, Vec3i{X: 3, Y: 3, Z: 8})
	if nk != (ChunkKey{X: 2, Y: -1, Z: 1}) || nl != (Vec3i{X: 3, Y: 3, Z: 0}) {
		t.Fatalf("+z: got %v %v", nk, nl)
	}
}

func TestResolveNeighborDiagonalAndWide(t *testing.T) {
	s := mustSpace(t, 8, 1)
	k := ChunkKey{}
	nk, nl := s.ResolveNeighbor(k, Vec3i{X: -2, Y: -1, Z: 9})
	if nk != (ChunkKey{X: -1, Y: -1, Z: 1}) || nl != (Vec3i{X: 6, Y: 7, Z: 1}) {
		t.Fatalf("diagonal: got %v %v", nk, nl)
	}
	nk, nl = s.ResolveNeighbor(k, Vec3i{X: 3, Y: 4, Z: 5})
	if nk != k || nl != (Vec3i{X: 3, Y: 4, Z: 5}) {
		t.Fatalf("in-bounds position moved: %v %v", nk, nl)
	}
}

func TestResolveNeighborPreservesGlobal(t *testing.T) {
	s := mustSpace(t, 4, 1)
	k := ChunkKey{X: -3, Y: 2, Z: 1}
	for dx := -2; dx <= 5; dx++ {
		for dy := -2; dy <= 5; dy++ {
			for dz := -2; dz <= 5; dz++ {
				l := Vec3i{X: dx, Y: dy, Z: dz}
				nk, nl := s.ResolveNeighbor(k, l)
				if !s.InBounds(nl) {
					t.Fatalf("resolved local %v out of bounds", nl)
				}
				if s.Global(nk, nl) != s.Global(k, l) {
					t.Fatalf("global mismatch for %v", l)
				}
			}
		}
	}
}

func TestKeysInCube(t *testing.T) {
	keys := KeysInCube(ChunkKey{X: 1, Y: 1, Z: 1}, 1)
	if len(keys) != 27 {
		t.Fatalf("len=%d want 27", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if !keys[i-1].Less(keys[i]) {
			t.Fatalf("keys not ordered at %d: %v %v", i, keys[i-1], keys[i])
		}
	}
	if keys[0] != (ChunkKey{0, 0, 0}) || keys[26] != (ChunkKey{2, 2, 2}) {
		t.Fatalf("unexpected bounds %v %v", keys[0], keys[26])
	}
	if KeysInCube(ChunkKey{}, -1) != nil {
		t.Fatalf("negative radius should be empty")
	}
}
