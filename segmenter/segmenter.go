package segmenter

import (
	"errors"
	"fmt"

	"github.com/happyhackingspace/henkan/crf"
	"github.com/happyhackingspace/henkan/internal/textutil"
)

// ErrNoModel is returned when decoding is requested without a model.
var ErrNoModel = errors.New("segmenter: no model loaded")

// Example is one labeled training sentence.
type Example struct {
	Tokens   []string
	Labels   []Label
	Features []FeatureSet
}

// Prediction is one decoded segmentation.
type Prediction struct {
	Tokens   []string   `json:"tokens"`
	Labels   []Label    `json:"-"`
	Bunsetsu []Bunsetsu `json:"bunsetsu"`
	Score    float64    `json:"score"`
}

// LabelStrings returns the wire form of p.Labels.
func (p Prediction) LabelStrings() []string {
	out := make([]string, len(p.Labels))
	for i, l := range p.Labels {
		out[i] = l.String()
	}
	return out
}

// Segmenter decodes readings with a trained CRF model. It is read-only
// after construction and safe for concurrent use.
type Segmenter struct {
	model       *crf.Model
	labels      []Label // model label ID -> Label
	constraints *crf.Constraints
}

// New wraps a trained model. Every model label must be one of Labels.
func New(model *crf.Model) (*Segmenter, error) {
	if model == nil {
		return nil, ErrNoModel
	}
	labels := make([]Label, model.Labels.Size())
	for id, name := range model.Labels.ToStr {
		l, err := ParseLabel(name)
		if err != nil {
			return nil, fmt.Errorf("segmenter: %w", err)
		}
		labels[id] = l
	}
	return &Segmenter{
		model:       model,
		labels:      labels,
		constraints: crf.BIOConstraints(model.Labels),
	}, nil
}

// Load reads a model written by Save.
func Load(path string) (*Segmenter, error) {
	model, err := crf.LoadModel(path)
	if err != nil {
		return nil, fmt.Errorf("segmenter: load %s: %w", path, err)
	}
	return New(model)
}

// Save writes the model to path.
func (s *Segmenter) Save(path string) error {
	if s == nil || s.model == nil {
		return ErrNoModel
	}
	return crf.SaveModel(s.model, path)
}

// Model returns the underlying CRF model.
func (s *Segmenter) Model() *crf.Model {
	return s.model
}

// Train fits a segmenter on labeled examples.
func Train(examples []Example, config crf.TrainerConfig) (*Segmenter, crf.TrainStats, error) {
	seqs := make([]crf.TrainingSequence, 0, len(examples))
	for i, ex := range examples {
		labels := make([]string, len(ex.Labels))
		for j, l := range ex.Labels {
			labels[j] = l.String()
		}
		seqs = append(seqs, crf.TrainingSequence{
			Items:  Items(ex.Features),
			Labels: labels,
			Group:  i,
		})
	}
	config.Labels = labelNames()

	model, stats, err := crf.Train(seqs, config)
	if err != nil {
		return nil, stats, err
	}
	seg, err := New(model)
	return seg, stats, err
}

// Segment tokenises reading and returns up to n segmentations, best
// first. An empty reading yields no predictions.
func (s *Segmenter) Segment(reading string, lex Lexicon, n int) ([]Prediction, error) {
	tokens := textutil.Tokenize(reading)
	return s.Decode(tokens, Extract(tokens, lex), n)
}

// Decode returns up to n segmentations for pre-extracted features.
func (s *Segmenter) Decode(tokens []string, features []FeatureSet, n int) ([]Prediction, error) {
	if s == nil || s.model == nil {
		return nil, ErrNoModel
	}
	paths := s.model.NBest(Items(features), n, s.constraints)
	out := make([]Prediction, 0, len(paths))
	for _, p := range paths {
		labels := make([]Label, len(p.Labels))
		for i, id := range p.Labels {
			labels[i] = s.labels[id]
		}
		out = append(out, Prediction{
			Tokens:   tokens,
			Labels:   labels,
			Bunsetsu: BunsetsuFromLabels(tokens, labels),
			Score:    p.Score,
		})
	}
	return out, nil
}

// Best returns the single best label sequence, or nil when none exists.
func (s *Segmenter) Best(features []FeatureSet) []Label {
	if s == nil || s.model == nil || len(features) == 0 {
		return nil
	}
	path, _ := crf.ConstrainedViterbi(
		s.model.ComputeStateScores(Items(features)),
		s.model.ComputeTransScores(),
		s.constraints,
	)
	labels := make([]Label, len(path))
	for i, id := range path {
		labels[i] = s.labels[id]
	}
	return labels
}

// Marginals tokenises reading and returns, per token, the marginal
// probability of each label under the model.
func (s *Segmenter) Marginals(reading string, lex Lexicon) ([]map[string]float64, error) {
	if s == nil || s.model == nil {
		return nil, ErrNoModel
	}
	tokens := textutil.Tokenize(reading)
	if len(tokens) == 0 {
		return nil, nil
	}
	return s.model.PredictMarginals(Items(Extract(tokens, lex))), nil
}
