package crf

import "math"

// ForwardBackwardResult holds the results of the forward-backward algorithm.
type ForwardBackwardResult struct {
	LogZ      float64     // log partition function
	Marginals [][]float64 // [T][L] marginal probabilities P(y_t=j|x)
	Alpha     [][]float64 // [T][L] scaled forward variables
	Beta      [][]float64 // [T][L] scaled backward variables
	Scale     []float64   // [T] scaling factors

	expState [][]float64
	expTrans [][]float64
}

// ForwardBackward computes the scaled forward-backward algorithm.
// stateScores: [T][L] state feature scores
// transScores: [L][L] transition feature scores
func ForwardBackward(stateScores, transScores [][]float64) ForwardBackwardResult {
	T := len(stateScores)
	if T == 0 {
		return ForwardBackwardResult{}
	}
	L := len(stateScores[0])

	expState := expMatrix(stateScores)
	expTrans := expMatrix(transScores)

	alpha := make([][]float64, T)
	scale := make([]float64, T)
	for t := range T {
		alpha[t] = make([]float64, L)
		var sum float64
		for y := range L {
			if t == 0 {
				alpha[t][y] = expState[t][y]
			} else {
				var s float64
				for yp := range L {
					s += alpha[t-1][yp] * expTrans[yp][y]
				}
				alpha[t][y] = s * expState[t][y]
			}
			sum += alpha[t][y]
		}
		scale[t] = 1.0
		if sum > 0 {
			scale[t] = 1.0 / sum
		}
		for y := range L {
			alpha[t][y] *= scale[t]
		}
	}

	// Backward pass reuses the forward scale factors.
	beta := make([][]float64, T)
	beta[T-1] = make([]float64, L)
	for y := range L {
		beta[T-1][y] = scale[T-1]
	}
	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, L)
		for y := range L {
			var s float64
			for yn := range L {
				s += expTrans[y][yn] * expState[t+1][yn] * beta[t+1][yn]
			}
			beta[t][y] = s * scale[t]
		}
	}

	logZ := 0.0
	for t := range T {
		logZ -= math.Log(scale[t])
	}

	marginals := make([][]float64, T)
	for t := range T {
		marginals[t] = make([]float64, L)
		for y := range L {
			marginals[t][y] = alpha[t][y] * beta[t][y] / scale[t]
		}
	}

	return ForwardBackwardResult{
		LogZ:      logZ,
		Marginals: marginals,
		Alpha:     alpha,
		Beta:      beta,
		Scale:     scale,
		expState:  expState,
		expTrans:  expTrans,
	}
}

// TransitionMarginals computes P(y_{t-1}=i, y_t=j | x) for all t, i, j.
// Returns [T-1][L][L] tensor.
func TransitionMarginals(fb ForwardBackwardResult, stateScores, transScores [][]float64) [][][]float64 {
	T := len(stateScores)
	if T <= 1 {
		return nil
	}
	L := len(stateScores[0])

	expState, expTrans := fb.expState, fb.expTrans
	if expState == nil {
		expState = expMatrix(stateScores)
		expTrans = expMatrix(transScores)
	}

	result := make([][][]float64, T-1)
	for t := range T - 1 {
		result[t] = make([][]float64, L)
		for i := range L {
			result[t][i] = make([]float64, L)
			for j := range L {
				result[t][i][j] = fb.Alpha[t][i] * expTrans[i][j] * expState[t+1][j] * fb.Beta[t+1][j]
			}
		}
	}
	return result
}

func expMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = make([]float64, len(row))
		for j, v := range row {
			out[i][j] = math.Exp(v)
		}
	}
	return out
}
