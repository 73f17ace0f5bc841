// Package dictionary merges weighted reading→candidate tables and serves
// ranked lookups from an atomically swapped snapshot.
package dictionary

import (
	"fmt"
	"sort"
)

// Candidate is one conversion candidate for a reading.
type Candidate struct {
	Surface string `json:"surface"`
	Weight  int    `json:"weight"`
}

// MergePolicy decides the weight of a candidate seen more than once.
type MergePolicy int

const (
	// MergeMax keeps the highest weight seen. Merging a table with
	// itself is a no-op under this policy.
	MergeMax MergePolicy = iota
	// MergeSum adds the weights.
	MergeSum
)

func (p MergePolicy) String() string {
	switch p {
	case MergeMax:
		return "max"
	case MergeSum:
		return "sum"
	}
	return fmt.Sprintf("MergePolicy(%d)", int(p))
}

// ParseMergePolicy parses "max" or "sum".
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "max", "":
		return MergeMax, nil
	case "sum":
		return MergeSum, nil
	}
	return 0, fmt.Errorf("dictionary: unknown merge policy %q", s)
}

type entry struct {
	cands []Candidate    // discovery order
	index map[string]int // surface -> position in cands
}

// Table is a mutable reading→candidates mapping that remembers the order
// in which readings and candidates were first seen.
type Table struct {
	entries map[string]*entry
	order   []string
	policy  MergePolicy
}

// NewTable returns an empty table using policy for repeated candidates.
func NewTable(policy MergePolicy) *Table {
	return &Table{entries: make(map[string]*entry), policy: policy}
}

// Add records a candidate. A candidate already present keeps its
// discovery position and gets its weight merged by the table policy.
func (t *Table) Add(reading, surface string, weight int) {
	e, ok := t.entries[reading]
	if !ok {
		e = &entry{index: make(map[string]int)}
		t.entries[reading] = e
		t.order = append(t.order, reading)
	}
	if i, ok := e.index[surface]; ok {
		switch t.policy {
		case MergeSum:
			e.cands[i].Weight += weight
		default:
			e.cands[i].Weight = max(e.cands[i].Weight, weight)
		}
		return
	}
	e.index[surface] = len(e.cands)
	e.cands = append(e.cands, Candidate{Surface: surface, Weight: weight})
}

// Merge adds every candidate of other, in other's discovery order.
func (t *Table) Merge(other *Table) {
	for _, reading := range other.order {
		for _, c := range other.entries[reading].cands {
			t.Add(reading, c.Surface, c.Weight)
		}
	}
}

// Lookup returns the candidates for reading sorted by descending weight;
// equal weights keep discovery order.
func (t *Table) Lookup(reading string) []Candidate {
	e, ok := t.entries[reading]
	if !ok {
		return nil
	}
	return ranked(e.cands)
}

// Weight returns the merged weight of a candidate.
func (t *Table) Weight(reading, surface string) (int, bool) {
	e, ok := t.entries[reading]
	if !ok {
		return 0, false
	}
	i, ok := e.index[surface]
	if !ok {
		return 0, false
	}
	return e.cands[i].Weight, true
}

// Readings returns the readings in discovery order.
func (t *Table) Readings() []string {
	return append([]string(nil), t.order...)
}

// Len returns the number of readings.
func (t *Table) Len() int {
	return len(t.order)
}

// Candidates returns the total number of (reading, surface) pairs.
func (t *Table) Candidates() int {
	n := 0
	for _, e := range t.entries {
		n += len(e.cands)
	}
	return n
}

func ranked(cands []Candidate) []Candidate {
	out := append([]Candidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Weight > out[j].Weight
	})
	return out
}
