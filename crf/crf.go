// Package crf implements a linear-chain Conditional Random Field with
// OWL-QN training and N-best Viterbi decoding.
package crf

// Alphabet maps between string labels/attributes and integer IDs.
type Alphabet struct {
	ToID  map[string]int `json:"to_id"`
	ToStr []string       `json:"to_str"`
}

// NewAlphabet creates an empty alphabet.
func NewAlphabet() *Alphabet {
	return &Alphabet{
		ToID: make(map[string]int),
	}
}

// Add adds a string to the alphabet if not already present, returns its ID.
func (a *Alphabet) Add(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	id := len(a.ToStr)
	a.ToID[s] = id
	a.ToStr = append(a.ToStr, s)
	return id
}

// Get returns the ID for a string, or -1 if not found.
func (a *Alphabet) Get(s string) int {
	if id, ok := a.ToID[s]; ok {
		return id
	}
	return -1
}

// String returns the entry for id, or "" when id is out of range.
func (a *Alphabet) String(id int) string {
	if id < 0 || id >= len(a.ToStr) {
		return ""
	}
	return a.ToStr[id]
}

// Size returns the number of entries.
func (a *Alphabet) Size() int {
	return len(a.ToStr)
}

// Attribute is one active feature at a position. Name is the
// "key=value" form produced by the caller's feature extractor.
type Attribute struct {
	Name  string
	Value float64
}

// Item is the ordered attribute list of a single position. Order is
// preserved through training so that floating point accumulation is
// reproducible run to run.
type Item []Attribute

// Model holds the CRF parameters.
type Model struct {
	Labels     *Alphabet `json:"labels"`
	Attributes *Alphabet `json:"attributes"`
	Weights    []float64 `json:"weights"`
	NumLabels  int       `json:"num_labels"`
	// Weight layout: [state_features... | transition_features...]
	// State feature index: attrID * numLabels + labelID
	// Transition feature index: transOffset + fromLabelID * numLabels + toLabelID
}

// NewModel creates a new empty model.
func NewModel() *Model {
	return &Model{
		Labels:     NewAlphabet(),
		Attributes: NewAlphabet(),
	}
}

// TransOffset returns the offset where transition features start in the weight vector.
func (m *Model) TransOffset() int {
	return m.Attributes.Size() * m.NumLabels
}

// NumWeights returns the total number of weights.
func (m *Model) NumWeights() int {
	return m.TransOffset() + m.NumLabels*m.NumLabels
}

// StateFeatureIndex returns the weight index for a state feature.
func (m *Model) StateFeatureIndex(attrID, labelID int) int {
	return attrID*m.NumLabels + labelID
}

// TransFeatureIndex returns the weight index for a transition feature.
func (m *Model) TransFeatureIndex(fromLabelID, toLabelID int) int {
	return m.TransOffset() + fromLabelID*m.NumLabels + toLabelID
}

// ActiveFeatures counts the non-zero weights.
func (m *Model) ActiveFeatures() int {
	n := 0
	for _, w := range m.Weights {
		if w != 0 {
			n++
		}
	}
	return n
}

// TrainingSequence represents a labeled sequence for training.
type TrainingSequence struct {
	Items  []Item   // per-position attributes
	Labels []string // gold labels
	Group  int      // for grouped cross-validation
}

// ComputeStateScores computes state feature scores for each position and label.
// Returns [T][L] matrix where T is sequence length and L is number of labels.
// Attributes unknown to the model contribute nothing.
func (m *Model) ComputeStateScores(items []Item) [][]float64 {
	T := len(items)
	L := m.NumLabels
	scores := make([][]float64, T)
	for t := range T {
		scores[t] = make([]float64, L)
		for _, attr := range items[t] {
			attrID := m.Attributes.Get(attr.Name)
			if attrID < 0 {
				continue
			}
			for y := range L {
				idx := m.StateFeatureIndex(attrID, y)
				if idx < len(m.Weights) {
					scores[t][y] += m.Weights[idx] * attr.Value
				}
			}
		}
	}
	return scores
}

// ComputeTransScores returns the [L][L] transition score matrix.
func (m *Model) ComputeTransScores() [][]float64 {
	L := m.NumLabels
	trans := make([][]float64, L)
	for i := range L {
		trans[i] = make([]float64, L)
		for j := range L {
			idx := m.TransFeatureIndex(i, j)
			if idx < len(m.Weights) {
				trans[i][j] = m.Weights[idx]
			}
		}
	}
	return trans
}

// LabelStrings maps label IDs back to their names.
func (m *Model) LabelStrings(path []int) []string {
	out := make([]string, len(path))
	for i, id := range path {
		out[i] = m.Labels.String(id)
	}
	return out
}
