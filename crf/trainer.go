package crf

import (
	"errors"
	"log/slog"
	"math"
)

// ErrEmptyTrainingSet is returned by Train when no usable sequence is given.
var ErrEmptyTrainingSet = errors.New("crf: empty training set")

// TrainerConfig holds CRF training hyperparameters.
type TrainerConfig struct {
	C1            float64 // L1 regularization
	C2            float64 // L2 regularization
	MaxIterations int
	Epsilon       float64 // convergence threshold

	// AllPossibleTransitions trains every label pair. When false only
	// transitions seen in the gold data get a weight.
	AllPossibleTransitions bool
	// AllPossibleStates trains every (attribute, label) pair. When false
	// only pairs seen in the gold data get a weight.
	AllPossibleStates bool

	// Labels are registered first so the label IDs are stable even if
	// the data lacks some of them.
	Labels []string

	// Progress, when set, is called every ProgressEvery iterations and
	// once after the last one.
	Progress      func(Progress)
	ProgressEvery int
}

// Progress is a snapshot of the optimizer state.
type Progress struct {
	Iteration int
	Loss      float64
	Active    int
}

// TrainStats summarizes a finished training run.
type TrainStats struct {
	Iterations     int
	Loss           float64
	ActiveFeatures int
	Converged      bool
}

// DefaultTrainerConfig returns the default training configuration.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		C1:                     1.0,
		C2:                     1e-3,
		MaxIterations:          100,
		AllPossibleTransitions: true,
		Epsilon:                1e-5,
		ProgressEvery:          1,
	}
}

type featureEntry struct {
	attrID int
	value  float64
}

type encodedSeq struct {
	features [][]featureEntry
	labels   []int
}

// trainer holds the encoded data and evaluates the regularized
// negative log-likelihood without its L1 part.
type trainer struct {
	seqs        []encodedSeq
	L           int
	transOffset int
	n           int
	c2          float64
	trainable   []bool // nil means every weight is trainable
}

// Train fits a CRF to the sequences using OWL-QN. The run is fully
// deterministic for a given input order and configuration.
func Train(sequences []TrainingSequence, config TrainerConfig) (*Model, TrainStats, error) {
	var usable []TrainingSequence
	for i, seq := range sequences {
		if len(seq.Items) == 0 {
			continue
		}
		if len(seq.Items) != len(seq.Labels) {
			slog.Warn("Skipping sequence with mismatched labels", "index", i,
				"items", len(seq.Items), "labels", len(seq.Labels))
			continue
		}
		usable = append(usable, seq)
	}
	if len(usable) == 0 {
		return nil, TrainStats{}, ErrEmptyTrainingSet
	}

	model := NewModel()
	model.Labels = BuildLabelAlphabet(usable, config.Labels...)
	model.Attributes = BuildAttributeAlphabet(usable)
	model.NumLabels = model.Labels.Size()
	model.Weights = make([]float64, model.NumWeights())

	tr := newTrainer(model, usable, config)
	stats := tr.optimize(model.Weights, config)
	stats.ActiveFeatures = model.ActiveFeatures()

	slog.Debug("CRF training finished",
		"iterations", stats.Iterations,
		"loss", stats.Loss,
		"active_features", stats.ActiveFeatures,
		"converged", stats.Converged)
	return model, stats, nil
}

func newTrainer(model *Model, sequences []TrainingSequence, config TrainerConfig) *trainer {
	L := model.NumLabels
	tr := &trainer{
		seqs:        make([]encodedSeq, len(sequences)),
		L:           L,
		transOffset: model.TransOffset(),
		n:           model.NumWeights(),
		c2:          config.C2,
	}
	if !config.AllPossibleStates || !config.AllPossibleTransitions {
		tr.trainable = make([]bool, tr.n)
		if config.AllPossibleStates {
			for i := range tr.transOffset {
				tr.trainable[i] = true
			}
		}
		if config.AllPossibleTransitions {
			for i := tr.transOffset; i < tr.n; i++ {
				tr.trainable[i] = true
			}
		}
	}

	for i, seq := range sequences {
		T := len(seq.Items)
		es := encodedSeq{
			features: make([][]featureEntry, T),
			labels:   make([]int, T),
		}
		for t := range T {
			y := model.Labels.Get(seq.Labels[t])
			es.labels[t] = y
			for _, attr := range seq.Items[t] {
				attrID := model.Attributes.Get(attr.Name)
				if attrID < 0 {
					continue
				}
				es.features[t] = append(es.features[t], featureEntry{attrID, attr.Value})
				if tr.trainable != nil {
					tr.trainable[attrID*L+y] = true
				}
			}
			if t > 0 && tr.trainable != nil {
				tr.trainable[tr.transOffset+es.labels[t-1]*L+y] = true
			}
		}
		tr.seqs[i] = es
	}
	return tr
}

// evaluate returns the smooth objective at w and writes its gradient
// into grad.
func (tr *trainer) evaluate(w, grad []float64) float64 {
	L, off := tr.L, tr.transOffset
	clear(grad)

	transScores := make([][]float64, L)
	for i := range L {
		transScores[i] = w[off+i*L : off+(i+1)*L]
	}

	nll := 0.0
	for _, es := range tr.seqs {
		T := len(es.features)
		stateScores := make([][]float64, T)
		for t := range T {
			stateScores[t] = make([]float64, L)
			for _, fe := range es.features[t] {
				base := fe.attrID * L
				for y := range L {
					stateScores[t][y] += w[base+y] * fe.value
				}
			}
		}

		fb := ForwardBackward(stateScores, transScores)

		gold := 0.0
		for t := range T {
			y := es.labels[t]
			gold += stateScores[t][y]
			if t > 0 {
				gold += transScores[es.labels[t-1]][y]
			}
		}
		nll += fb.LogZ - gold

		// Gradient is model expectation minus empirical count.
		for t := range T {
			goldY := es.labels[t]
			for _, fe := range es.features[t] {
				base := fe.attrID * L
				grad[base+goldY] -= fe.value
				for y := range L {
					grad[base+y] += fb.Marginals[t][y] * fe.value
				}
			}
		}
		if T > 1 {
			transMarg := TransitionMarginals(fb, stateScores, transScores)
			for t := range T - 1 {
				grad[off+es.labels[t]*L+es.labels[t+1]] -= 1.0
				for i := range L {
					row := off + i*L
					for j := range L {
						grad[row+j] += transMarg[t][i][j]
					}
				}
			}
		}
	}

	if tr.c2 > 0 {
		l2 := 0.0
		for i, v := range w {
			l2 += v * v
			grad[i] += tr.c2 * v
		}
		nll += 0.5 * tr.c2 * l2
	}

	if tr.trainable != nil {
		for i, ok := range tr.trainable {
			if !ok {
				grad[i] = 0
			}
		}
	}
	return nll
}

func (tr *trainer) optimize(w []float64, config TrainerConfig) TrainStats {
	n := tr.n
	c1 := config.C1
	every := config.ProgressEvery
	if every <= 0 {
		every = 1
	}

	grad := make([]float64, n)
	f := tr.evaluate(w, grad) + c1*l1Norm(w)

	mem := newLBFGS(n, 10)
	pg := make([]float64, n)
	wNew := make([]float64, n)
	gradNew := make([]float64, n)
	s := make([]float64, n)
	yv := make([]float64, n)

	var stats TrainStats
	report := func(iter int) {
		if config.Progress == nil {
			return
		}
		config.Progress(Progress{Iteration: iter, Loss: f, Active: countNonZero(w)})
	}

	for iter := range config.MaxIterations {
		pseudoGradient(pg, w, grad, c1)
		if maxAbs(pg) < config.Epsilon {
			stats.Converged = true
			break
		}

		dir := mem.computeDirection(pg)
		for i := range n {
			if dir[i]*pg[i] >= 0 {
				dir[i] = 0
			}
		}

		fNew, ok := tr.lineSearch(w, wNew, gradNew, dir, pg, f, c1, iter == 0)
		if !ok {
			slog.Warn("CRF line search failed, stopping", "iteration", iter+1)
			break
		}

		for i := range n {
			s[i] = wNew[i] - w[i]
			yv[i] = gradNew[i] - grad[i]
		}
		mem.update(s, yv)

		copy(w, wNew)
		copy(grad, gradNew)
		prev := f
		f = fNew
		stats.Iterations = iter + 1

		slog.Debug("CRF training iteration", "iteration", iter+1, "nll", f)
		if (iter+1)%every == 0 {
			report(iter + 1)
		}

		if math.Abs(prev-f)/math.Max(math.Abs(f), 1) < config.Epsilon {
			stats.Converged = true
			slog.Debug("CRF converged", "iteration", iter+1, "loss", f)
			break
		}
	}

	if stats.Iterations%every != 0 || stats.Iterations == 0 {
		report(stats.Iterations)
	}
	stats.Loss = f
	return stats
}

// lineSearch backtracks along dir from w, projecting each trial point
// onto the orthant chosen by w and pg. On success wNew and gradNew hold
// the accepted point and its smooth gradient.
func (tr *trainer) lineSearch(w, wNew, gradNew, dir, pg []float64, f, c1 float64, first bool) (float64, bool) {
	const armijo = 1e-4

	step := 1.0
	if first {
		if norm := math.Sqrt(dot(dir, dir)); norm > 0 {
			step = 1.0 / norm
		}
	}

	for range 30 {
		for i := range w {
			v := w[i] + step*dir[i]
			orthant := sign(w[i])
			if orthant == 0 {
				orthant = -sign(pg[i])
			}
			if c1 > 0 && sign(v) != orthant {
				v = 0
			}
			wNew[i] = v
		}

		fNew := tr.evaluate(wNew, gradNew) + c1*l1Norm(wNew)

		decrease := 0.0
		for i := range w {
			decrease += pg[i] * (wNew[i] - w[i])
		}
		if fNew <= f+armijo*decrease {
			return fNew, true
		}
		step *= 0.5
	}
	return f, false
}

// pseudoGradient writes the OWL-QN pseudo-gradient of f + c1*|w| into pg.
func pseudoGradient(pg, w, grad []float64, c1 float64) {
	for i := range w {
		switch {
		case w[i] > 0:
			pg[i] = grad[i] + c1
		case w[i] < 0:
			pg[i] = grad[i] - c1
		case grad[i]+c1 < 0:
			pg[i] = grad[i] + c1
		case grad[i]-c1 > 0:
			pg[i] = grad[i] - c1
		default:
			pg[i] = 0
		}
	}
}

// lbfgs implements the L-BFGS two-loop recursion.
type lbfgs struct {
	n    int // number of variables
	m    int // memory size
	s    [][]float64
	y    [][]float64
	rho  []float64
	k    int
	size int
}

func newLBFGS(n, m int) *lbfgs {
	return &lbfgs{
		n:   n,
		m:   m,
		s:   make([][]float64, m),
		y:   make([][]float64, m),
		rho: make([]float64, m),
	}
}

func (l *lbfgs) update(s, y []float64) {
	sy := dot(s, y)
	if sy <= 0 {
		return
	}
	idx := l.k % l.m
	if l.s[idx] == nil {
		l.s[idx] = make([]float64, l.n)
		l.y[idx] = make([]float64, l.n)
	}
	copy(l.s[idx], s)
	copy(l.y[idx], y)
	l.rho[idx] = 1.0 / sy
	l.k++
	if l.size < l.m {
		l.size++
	}
}

// slot returns the ring index of the i-th oldest stored pair.
func (l *lbfgs) slot(i int) int {
	return (l.k - l.size + i) % l.m
}

func (l *lbfgs) computeDirection(pg []float64) []float64 {
	q := make([]float64, l.n)
	copy(q, pg)

	if l.size > 0 {
		alpha := make([]float64, l.size)
		for i := l.size - 1; i >= 0; i-- {
			idx := l.slot(i)
			alpha[i] = l.rho[idx] * dot(l.s[idx], q)
			for j := range l.n {
				q[j] -= alpha[i] * l.y[idx][j]
			}
		}

		// Scale by H_0 = (s_k^T y_k) / (y_k^T y_k)
		latest := l.slot(l.size - 1)
		if yy := dot(l.y[latest], l.y[latest]); yy > 0 {
			gamma := dot(l.s[latest], l.y[latest]) / yy
			for i := range q {
				q[i] *= gamma
			}
		}

		for i := range l.size {
			idx := l.slot(i)
			beta := l.rho[idx] * dot(l.y[idx], q)
			for j := range l.n {
				q[j] += (alpha[i] - beta) * l.s[idx][j]
			}
		}
	}

	for i := range q {
		q[i] = -q[i]
	}
	return q
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func l1Norm(w []float64) float64 {
	var s float64
	for _, v := range w {
		s += math.Abs(v)
	}
	return s
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}

func countNonZero(w []float64) int {
	n := 0
	for _, v := range w {
		if v != 0 {
			n++
		}
	}
	return n
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
