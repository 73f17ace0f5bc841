package dictionary

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
)

// Materials is the precomputed decode input derived from the merged
// dictionaries: the set of known readings used by the dictionary
// boundary features.
type Materials struct {
	Readings  []string `json:"readings"`
	MaxLength int      `json:"max_length"`

	once sync.Once
	set  map[string]struct{}
}

// BuildMaterials derives materials from a snapshot.
func BuildMaterials(s *Snapshot) *Materials {
	return &Materials{Readings: s.Readings(), MaxLength: s.maxLen}
}

// Contains implements segmenter.Lexicon.
func (m *Materials) Contains(reading string) bool {
	m.once.Do(func() {
		m.set = make(map[string]struct{}, len(m.Readings))
		for _, r := range m.Readings {
			m.set[r] = struct{}{}
		}
	})
	_, ok := m.set[reading]
	return ok
}

// SaveMaterials writes m as JSON.
func SaveMaterials(m *Materials, path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadMaterials reads materials written by SaveMaterials.
func LoadMaterials(path string) (*Materials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Materials
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &m, nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
