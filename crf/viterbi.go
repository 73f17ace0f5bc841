package crf

import (
	"math"
	"strings"
)

// Constraints restricts the label sequences a decoder may produce.
// A nil Constraints allows everything.
type Constraints struct {
	Start   []bool   // Start[y]: y may label position 0
	Allowed [][]bool // Allowed[from][to]: to may follow from
}

func (c *Constraints) canStart(y int) bool {
	return c == nil || c.Start == nil || c.Start[y]
}

func (c *Constraints) canFollow(from, to int) bool {
	return c == nil || c.Allowed == nil || c.Allowed[from][to]
}

// BIOConstraints derives begin/inside constraints from label names of
// the form "B-x" and "I-x": an inside label never starts a sequence and
// only follows a begin or inside label of the same type. Other labels
// are unconstrained.
func BIOConstraints(labels *Alphabet) *Constraints {
	L := labels.Size()
	c := &Constraints{
		Start:   make([]bool, L),
		Allowed: make([][]bool, L),
	}
	for to := range L {
		c.Allowed[to] = make([]bool, L)
	}
	for to, name := range labels.ToStr {
		kind, ok := strings.CutPrefix(name, "I-")
		c.Start[to] = !ok
		for from, prev := range labels.ToStr {
			if !ok {
				c.Allowed[from][to] = true
				continue
			}
			c.Allowed[from][to] = prev == "B-"+kind || prev == "I-"+kind
		}
	}
	return c
}

// Viterbi finds the best label sequence using the Viterbi algorithm (log-domain).
func Viterbi(stateScores, transScores [][]float64) ([]int, float64) {
	return ConstrainedViterbi(stateScores, transScores, nil)
}

// ConstrainedViterbi is Viterbi restricted to sequences permitted by c.
// It returns a nil path when no sequence is permitted.
func ConstrainedViterbi(stateScores, transScores [][]float64, c *Constraints) ([]int, float64) {
	T := len(stateScores)
	if T == 0 {
		return nil, math.Inf(-1)
	}
	L := len(stateScores[0])
	negInf := math.Inf(-1)

	// delta[t][y] = best score ending at time t with label y
	delta := make([][]float64, T)
	// psi[t][y] = best previous label for backtracking
	psi := make([][]int, T)

	delta[0] = make([]float64, L)
	psi[0] = make([]int, L)
	for y := range L {
		delta[0][y] = negInf
		if c.canStart(y) {
			delta[0][y] = stateScores[0][y]
		}
	}

	for t := 1; t < T; t++ {
		delta[t] = make([]float64, L)
		psi[t] = make([]int, L)
		for y := range L {
			bestScore := negInf
			bestPrev := -1
			for yp := range L {
				if delta[t-1][yp] == negInf || !c.canFollow(yp, y) {
					continue
				}
				score := delta[t-1][yp] + transScores[yp][y]
				if bestPrev < 0 || score > bestScore {
					bestScore = score
					bestPrev = yp
				}
			}
			psi[t][y] = bestPrev
			delta[t][y] = negInf
			if bestPrev >= 0 {
				delta[t][y] = bestScore + stateScores[t][y]
			}
		}
	}

	bestScore := negInf
	bestLabel := -1
	for y := range L {
		if delta[T-1][y] == negInf {
			continue
		}
		if bestLabel < 0 || delta[T-1][y] > bestScore {
			bestScore = delta[T-1][y]
			bestLabel = y
		}
	}
	if bestLabel < 0 {
		return nil, negInf
	}

	path := make([]int, T)
	path[T-1] = bestLabel
	for t := T - 2; t >= 0; t-- {
		path[t] = psi[t+1][path[t+1]]
	}

	return path, bestScore
}

// PredictMarginals returns the marginal probability of every label at
// each position, keyed by label name.
func (m *Model) PredictMarginals(items []Item) []map[string]float64 {
	fb := ForwardBackward(m.ComputeStateScores(items), m.ComputeTransScores())

	result := make([]map[string]float64, len(items))
	for t := range items {
		result[t] = make(map[string]float64, m.NumLabels)
		for y := range m.NumLabels {
			result[t][m.Labels.String(y)] = fb.Marginals[t][y]
		}
	}
	return result
}
