package voxel

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

type PhysicsType uint8

const (
	PhysicsNone PhysicsType = iota
	PhysicsSolid
	PhysicsFluid
	PhysicsGas
	PhysicsMovable
)

var physicsNames = [...]string{
	PhysicsNone:    "NONE",
	PhysicsSolid:   "SOLID",
	PhysicsFluid:   "FLUID",
	PhysicsGas:     "GAS",
	PhysicsMovable: "MOVABLE",
}

func (p PhysicsType) String() string {
	if int(p) < len(physicsNames) {
		return physicsNames[p]
	}
	return fmt.Sprintf("PhysicsType(%d)", p)
}

func ParsePhysicsType(s string) (PhysicsType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return PhysicsNone, nil
	}
	for i, name := range physicsNames {
		if name == s {
			return PhysicsType(i), nil
		}
	}
	return PhysicsNone, fmt.Errorf("unknown physics type %q", s)
}

// Voxel is a flat value; the simulation copies and swaps it in place.
type Voxel struct {
	Physics     PhysicsType
	Transparent bool
	// Mass is only used as a total order for displacement.
	Mass           float32
	ForceDirection mgl32.Vec3
	ID             uint16
	Value          int32

	// Updated is set once the current chunk pass has evaluated the voxel,
	// whether or not it moved.
	Updated bool
}

func (v Voxel) IsEmpty() bool { return v.ID == EmptyID }
