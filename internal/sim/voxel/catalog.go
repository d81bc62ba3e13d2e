package voxel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// EmptyID is the id of the empty voxel. Every catalog must define it.
const EmptyID uint16 = 0

var ErrUnknownVoxel = errors.New("unknown voxel id")

type Def struct {
	ID          uint16  `yaml:"id" json:"id"`
	Name        string  `yaml:"name" json:"name"`
	Physics     string  `yaml:"physics" json:"physics"`
	Transparent bool    `yaml:"transparent" json:"transparent"`
	Mass        float32 `yaml:"mass" json:"mass"`
	Value       int32   `yaml:"value" json:"value"`
}

// Catalog maps voxel ids to their definitions. Ids are dense: 0..len-1.
type Catalog struct {
	Defs   []Def
	Digest string

	protos []Voxel
	index  map[string]uint16
}

func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var file struct {
		Voxels []Def `yaml:"voxels"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("voxels.yaml: %w", err)
	}
	c, err := NewCatalog(file.Voxels)
	if err != nil {
		return nil, fmt.Errorf("voxels.yaml: %w", err)
	}
	return c, nil
}

func NewCatalog(defs []Def) (*Catalog, error) {
	sorted := append([]Def(nil), defs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	c := &Catalog{
		Defs:   sorted,
		protos: make([]Voxel, len(sorted)),
		index:  make(map[string]uint16, len(sorted)),
	}
	for i, d := range sorted {
		if int(d.ID) != i {
			return nil, fmt.Errorf("voxel ids must be dense from 0: got id %d at position %d", d.ID, i)
		}
		if d.Name == "" {
			return nil, fmt.Errorf("voxel %d: empty name", d.ID)
		}
		if _, dup := c.index[d.Name]; dup {
			return nil, fmt.Errorf("duplicate voxel name %q", d.Name)
		}
		pt, err := ParsePhysicsType(d.Physics)
		if err != nil {
			return nil, fmt.Errorf("voxel %s: %w", d.Name, err)
		}
		if m := float64(d.Mass); math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, fmt.Errorf("voxel %s: mass must be finite, got %v", d.Name, d.Mass)
		}
		c.index[d.Name] = d.ID
		c.protos[i] = Voxel{
			Physics:     pt,
			Transparent: d.Transparent,
			Mass:        d.Mass,
			ID:          d.ID,
			Value:       d.Value,
		}
	}
	if len(c.protos) == 0 {
		return nil, fmt.Errorf("missing empty voxel (id 0)")
	}
	if c.protos[EmptyID].Physics != PhysicsNone {
		return nil, fmt.Errorf("voxel 0 must have physics NONE, got %s", c.protos[EmptyID].Physics)
	}

	b, _ := json.Marshal(c.Defs)
	sum := sha256.Sum256(b)
	c.Digest = hex.EncodeToString(sum[:])
	return c, nil
}

// Voxel returns a fresh instance of id with zero force and Updated cleared.
func (c *Catalog) Voxel(id uint16) (Voxel, error) {
	if int(id) >= len(c.protos) {
		return Voxel{}, fmt.Errorf("%w: %d", ErrUnknownVoxel, id)
	}
	return c.protos[id], nil
}

func (c *Catalog) Empty() Voxel { return c.protos[EmptyID] }

func (c *Catalog) ID(name string) (uint16, bool) {
	id, ok := c.index[name]
	return id, ok
}

func (c *Catalog) Len() int { return len(c.protos) }

// Palette lists voxel names indexed by id.
func (c *Catalog) Palette() []string {
	out := make([]string, len(c.Defs))
	for i, d := range c.Defs {
		out[i] = d.Name
	}
	return out
}
