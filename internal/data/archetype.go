package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ArchetypeTemplate holds static data for a bot archetype loaded from YAML:
// which character shell it wears and how heavy its behavior is.
type ArchetypeTemplate struct {
	Key       string  `yaml:"key"`
	Name      string  `yaml:"name"`
	ClassType int16   `yaml:"class_type"`
	MinLevel  int16   `yaml:"min_level"`
	MaxLevel  int16   `yaml:"max_level"`
	MapID     int16   `yaml:"map_id"`
	SpawnX    int32   `yaml:"spawn_x"`
	SpawnY    int32   `yaml:"spawn_y"`
	Weight    float64 `yaml:"weight"` // spawn selection weight
	Script    string  `yaml:"script"` // behavior script name, for the simulation loop
}

type archetypeListFile struct {
	Archetypes []ArchetypeTemplate `yaml:"archetypes"`
}

// ArchetypeTable holds all archetype templates indexed by key, with the
// original file order retained for weighted pick iteration.
type ArchetypeTable struct {
	byKey   map[string]*ArchetypeTemplate
	ordered []*ArchetypeTemplate
	total   float64 // sum of weights
}

// LoadArchetypeTable loads bot archetypes from a YAML file.
func LoadArchetypeTable(path string) (*ArchetypeTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archetype_list: %w", err)
	}
	var f archetypeListFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse archetype_list: %w", err)
	}
	t := &ArchetypeTable{byKey: make(map[string]*ArchetypeTemplate, len(f.Archetypes))}
	for i := range f.Archetypes {
		a := &f.Archetypes[i]
		if a.Weight <= 0 {
			a.Weight = 1
		}
		if _, dup := t.byKey[a.Key]; dup {
			return nil, fmt.Errorf("archetype_list: duplicate key %q", a.Key)
		}
		t.byKey[a.Key] = a
		t.ordered = append(t.ordered, a)
		t.total += a.Weight
	}
	return t, nil
}

// Get returns the archetype for a key, or nil.
func (t *ArchetypeTable) Get(key string) *ArchetypeTemplate {
	return t.byKey[key]
}

// Count returns the number of loaded archetypes.
func (t *ArchetypeTable) Count() int {
	return len(t.ordered)
}

// Pick selects an archetype by weight using roll ∈ [0, 1).
func (t *ArchetypeTable) Pick(roll float64) *ArchetypeTemplate {
	if len(t.ordered) == 0 {
		return nil
	}
	target := roll * t.total
	for _, a := range t.ordered {
		target -= a.Weight
		if target < 0 {
			return a
		}
	}
	return t.ordered[len(t.ordered)-1]
}
