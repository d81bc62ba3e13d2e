package world

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"voxelgrid.ai/internal/sim/world/coords"
)

// ChunkData is a consistent copy of a chunk's ids and their digest.
type ChunkData struct {
	Key    coords.ChunkKey
	IDs    []uint16
	Digest uint64
}

// Snapshot copies the ids of an initialized chunk.
func (w *World) Snapshot(key coords.ChunkKey) (ChunkData, error) {
	c, err := w.ready(key)
	if err != nil {
		return ChunkData{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChunkData{Key: key, IDs: c.idsLocked(), Digest: c.digestLocked()}, nil
}

// Digest hashes the voxel ids of an initialized chunk.
func (w *World) Digest(key coords.ChunkKey) (uint64, error) {
	c, err := w.ready(key)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.digestLocked(), nil
}

func (c *Chunk) digestLocked() uint64 {
	if c.digestVer == c.version && c.digest != 0 {
		return c.digest
	}
	d := xxhash.New()
	var tmp [2]byte
	for i := range c.voxels {
		binary.LittleEndian.PutUint16(tmp[:], c.voxels[i].ID)
		_, _ = d.Write(tmp[:])
	}
	c.digest = d.Sum64()
	c.digestVer = c.version
	return c.digest
}
