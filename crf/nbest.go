package crf

import (
	"math"
	"sort"
)

// DefaultNBest is the number of paths NBest returns when k <= 0.
const DefaultNBest = 5

// Path is one decoded label sequence with its unnormalized score.
type Path struct {
	Labels []int
	Score  float64
}

// hyp is one entry of a lattice cell: a partial path ending in the
// cell's label, reached from rank prevRank of label prevLabel.
type hyp struct {
	score     float64
	prevLabel int
	prevRank  int
}

// NBestViterbi returns up to k best label sequences sorted by
// non-increasing score. Each lattice cell keeps its k best partial
// paths; candidates are generated by previous label then previous rank,
// and equal scores keep that generation order. Transitions rejected by
// c are never expanded.
func NBestViterbi(stateScores, transScores [][]float64, k int, c *Constraints) []Path {
	T := len(stateScores)
	if T == 0 {
		return []Path{}
	}
	if k <= 0 {
		k = DefaultNBest
	}
	L := len(stateScores[0])

	lattice := make([][][]hyp, T)
	lattice[0] = make([][]hyp, L)
	for y := range L {
		if c.canStart(y) {
			lattice[0][y] = []hyp{{score: stateScores[0][y], prevLabel: -1, prevRank: -1}}
		}
	}

	for t := 1; t < T; t++ {
		lattice[t] = make([][]hyp, L)
		for y := range L {
			var cands []hyp
			for yp := range L {
				if !c.canFollow(yp, y) {
					continue
				}
				for r, h := range lattice[t-1][yp] {
					cands = append(cands, hyp{
						score:     h.score + transScores[yp][y] + stateScores[t][y],
						prevLabel: yp,
						prevRank:  r,
					})
				}
			}
			lattice[t][y] = topK(cands, k)
		}
	}

	type final struct {
		label int
		rank  int
		score float64
	}
	var ends []final
	for y := range L {
		for r, h := range lattice[T-1][y] {
			ends = append(ends, final{label: y, rank: r, score: h.score})
		}
	}
	sort.SliceStable(ends, func(i, j int) bool {
		return ends[i].score > ends[j].score
	})
	if len(ends) > k {
		ends = ends[:k]
	}

	paths := make([]Path, 0, len(ends))
	for _, e := range ends {
		labels := make([]int, T)
		y, r := e.label, e.rank
		for t := T - 1; t >= 0; t-- {
			labels[t] = y
			h := lattice[t][y][r]
			y, r = h.prevLabel, h.prevRank
		}
		paths = append(paths, Path{Labels: labels, Score: e.score})
	}
	return paths
}

func topK(cands []hyp, k int) []hyp {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})
	if len(cands) > k {
		cands = cands[:k:k]
	}
	return cands
}

// NBest decodes the k best label sequences for items under c.
func (m *Model) NBest(items []Item, k int, c *Constraints) []Path {
	if len(items) == 0 || m.NumLabels == 0 {
		return []Path{}
	}
	return NBestViterbi(m.ComputeStateScores(items), m.ComputeTransScores(), k, c)
}

// PathScore is the unnormalized score of labels under the given scores.
func PathScore(stateScores, transScores [][]float64, labels []int) float64 {
	if len(labels) == 0 {
		return math.Inf(-1)
	}
	s := 0.0
	for t, y := range labels {
		s += stateScores[t][y]
		if t > 0 {
			s += transScores[labels[t-1]][y]
		}
	}
	return s
}
