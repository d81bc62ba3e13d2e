package world

import (
	"fmt"
	"time"

	"voxelgrid.ai/internal/sim/world/coords"
)

type Config struct {
	Space coords.Space
	Seed  int64

	// GenerationsPerStep bounds generator calls per EnsureLoaded.
	GenerationsPerStep int

	// ContainerPool is the number of renderable containers.
	ContainerPool int

	// UnloadGrace is how long a loaded chunk may stay out of range.
	UnloadGrace time.Duration

	// RecordSwaps makes every TickResult carry the swaps it performed.
	RecordSwaps bool

	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.GenerationsPerStep <= 0 {
		c.GenerationsPerStep = 4
	}
	if c.ContainerPool <= 0 {
		c.ContainerPool = 7 * 7 * 7
	}
	if c.UnloadGrace < 0 {
		c.UnloadGrace = 0
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c Config) validate() error {
	if _, err := coords.NewSpace(c.Space.ChunkSize, c.Space.VoxelSize); err != nil {
		return err
	}
	if c.Space.ChunkSize < 3 {
		return fmt.Errorf("chunk size must be >= 3, got %d", c.Space.ChunkSize)
	}
	return nil
}
