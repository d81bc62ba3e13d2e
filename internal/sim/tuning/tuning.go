package tuning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"

	"voxelgrid.ai/internal/sim/scheduler"
	"voxelgrid.ai/internal/sim/world/terrain/gen"
)

var ErrInvalid = errors.New("invalid tuning")

type Tuning struct {
	TickRateHz int     `yaml:"tick_rate_hz" toml:"tick_rate_hz" json:"tick_rate_hz"`
	ChunkSize  int     `yaml:"chunk_size" toml:"chunk_size" json:"chunk_size"`
	VoxelSize  float32 `yaml:"voxel_size" toml:"voxel_size" json:"voxel_size"`

	// Distances are cubic radii in chunks around the reference point.
	RenderDistance     int `yaml:"render_distance" toml:"render_distance" json:"render_distance"`
	SimulationDistance int `yaml:"simulation_distance" toml:"simulation_distance" json:"simulation_distance"`

	GenerationsPerStep int `yaml:"generations_per_step" toml:"generations_per_step" json:"generations_per_step"`
	ChunksPerStep      int `yaml:"chunks_per_step" toml:"chunks_per_step" json:"chunks_per_step"`
	MeshesPerStep      int `yaml:"meshes_per_step" toml:"meshes_per_step" json:"meshes_per_step"`
	UnloadGraceMs      int `yaml:"unload_grace_ms" toml:"unload_grace_ms" json:"unload_grace_ms"`
	ContainerPool      int `yaml:"container_pool" toml:"container_pool" json:"container_pool"`

	Strategy string `yaml:"strategy" toml:"strategy" json:"strategy"`
	Workers  int    `yaml:"workers" toml:"workers" json:"workers"`

	Seed      int64     `yaml:"seed" toml:"seed" json:"seed"`
	Reference []float32 `yaml:"reference" toml:"reference" json:"reference"`

	WorldGen gen.Params `yaml:"worldgen" toml:"worldgen" json:"worldgen"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         20,
		ChunkSize:          16,
		VoxelSize:          1,
		RenderDistance:     3,
		SimulationDistance: 2,
		GenerationsPerStep: 4,
		ChunksPerStep:      32,
		MeshesPerStep:      8,
		UnloadGraceMs:      3000,
		ContainerPool:      7 * 7 * 7,
		Strategy:           string(scheduler.TimeSliced),
		Seed:               1337,
		Reference:          []float32{8, 8, 8},
		WorldGen:           gen.DefaultParams(),
	}
}

// Load reads a tuning file. Files ending in .toml are parsed as TOML,
// anything else as YAML. Missing fields take their defaults.
func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	name := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(raw, &t)
	} else {
		err = yaml.Unmarshal(raw, &t)
	}
	if err != nil {
		return t, fmt.Errorf("%s: %w", name, err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

// Normalize fills zero values from Defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.TickRateHz == 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.ChunkSize == 0 {
		t.ChunkSize = d.ChunkSize
	}
	if t.VoxelSize == 0 {
		t.VoxelSize = d.VoxelSize
	}
	if t.RenderDistance == 0 {
		t.RenderDistance = d.RenderDistance
	}
	if t.SimulationDistance == 0 {
		t.SimulationDistance = min(d.SimulationDistance, t.RenderDistance)
	}
	if t.GenerationsPerStep == 0 {
		t.GenerationsPerStep = d.GenerationsPerStep
	}
	if t.ChunksPerStep == 0 {
		t.ChunksPerStep = d.ChunksPerStep
	}
	if t.MeshesPerStep == 0 {
		t.MeshesPerStep = d.MeshesPerStep
	}
	if t.ContainerPool == 0 {
		side := 2*t.RenderDistance + 1
		t.ContainerPool = side * side * side
	}
	t.Strategy = strings.ToLower(strings.TrimSpace(t.Strategy))
	if t.Strategy == "" {
		t.Strategy = d.Strategy
	}
	if len(t.Reference) == 0 {
		t.Reference = d.Reference
	}
	if t.WorldGen.Base == "" {
		t.WorldGen.Base = d.WorldGen.Base
	}
	if t.WorldGen.Layers == nil {
		t.WorldGen.Layers = d.WorldGen.Layers
	}
	if t.WorldGen.DensityPermille == 0 {
		t.WorldGen.DensityPermille = d.WorldGen.DensityPermille
	}
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0:
		return fmt.Errorf("%w: tick_rate_hz must be > 0", ErrInvalid)
	case t.ChunkSize < 3:
		return fmt.Errorf("%w: chunk_size must be >= 3", ErrInvalid)
	case t.VoxelSize <= 0:
		return fmt.Errorf("%w: voxel_size must be > 0", ErrInvalid)
	case t.RenderDistance < 0 || t.SimulationDistance < 0:
		return fmt.Errorf("%w: distances must be >= 0", ErrInvalid)
	case t.SimulationDistance > t.RenderDistance:
		return fmt.Errorf("%w: simulation_distance must be <= render_distance", ErrInvalid)
	case t.GenerationsPerStep < 0 || t.ChunksPerStep < 0 || t.MeshesPerStep < 0:
		return fmt.Errorf("%w: per-step budgets must be >= 0", ErrInvalid)
	case t.UnloadGraceMs < 0:
		return fmt.Errorf("%w: unload_grace_ms must be >= 0", ErrInvalid)
	case t.ContainerPool < 1:
		return fmt.Errorf("%w: container_pool must be > 0", ErrInvalid)
	case t.Workers < 0:
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalid)
	case len(t.Reference) != 3:
		return fmt.Errorf("%w: reference must have 3 components", ErrInvalid)
	}
	if _, err := scheduler.ParseStrategy(t.Strategy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (t Tuning) ReferencePoint() mgl32.Vec3 {
	if len(t.Reference) != 3 {
		return mgl32.Vec3{}
	}
	return mgl32.Vec3{t.Reference[0], t.Reference[1], t.Reference[2]}
}
