// Package conversion implements the interactive conversion state for one
// reading: whole-word lookup, fallback to multi-bunsetsu segmentations,
// per-segment candidate cycling and N-best cycling.
package conversion

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/happyhackingspace/henkan/crf"
	"github.com/happyhackingspace/henkan/dictionary"
	"github.com/happyhackingspace/henkan/segmenter"
)

// Dictionary is the lookup side of a dictionary store. Lookup returns
// dictionary.ErrNotReady until the first load completes.
type Dictionary interface {
	Lookup(reading string) ([]dictionary.Candidate, error)
	Ready() bool
}

// Predictor returns up to n segmentations of reading, best first.
type Predictor interface {
	Predict(reading string, n int) ([]segmenter.Prediction, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(reading string, n int) ([]segmenter.Prediction, error)

func (f PredictorFunc) Predict(reading string, n int) ([]segmenter.Prediction, error) {
	return f(reading, n)
}

// State is the engine's conversion mode.
type State int

const (
	StateIdle State = iota
	// StateWholeWord: the full reading has dictionary candidates.
	StateWholeWord
	// StateNoMatch: no usable conversion, the reading is echoed.
	StateNoMatch
	// StateBunsetsu: one of the multi-bunsetsu predictions is active.
	StateBunsetsu
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWholeWord:
		return "whole-word"
	case StateNoMatch:
		return "no-match"
	case StateBunsetsu:
		return "bunsetsu"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Candidate is one displayable conversion.
type Candidate struct {
	Surface     string `json:"surface"`
	Reading     string `json:"reading"`
	Weight      int    `json:"weight"`
	Passthrough bool   `json:"passthrough,omitempty"`
}

// Segment is a read-only view of one bunsetsu in bunsetsu mode.
type Segment struct {
	Text        string      `json:"text"`
	Surface     string      `json:"surface"`
	Passthrough bool        `json:"passthrough,omitempty"`
	Candidates  []Candidate `json:"candidates"`
	Selected    int         `json:"selected"`
	Focused     bool        `json:"focused,omitempty"`
}

type segment struct {
	text        string
	passthrough bool
	// fixed segments never cycle: passthrough bunsetsu and lookup misses.
	fixed      bool
	candidates []Candidate
	selected   int
}

// Engine holds the conversion state of one session. It is not safe for
// concurrent use.
type Engine struct {
	dict  Dictionary
	pred  Predictor
	nbest int

	state     State
	reading   string
	notReady  bool
	wholeWord bool

	candidates []Candidate
	selected   int

	predicted   bool
	predictions []segmenter.Prediction
	prediction  int

	segments []segment
	focus    int
}

// New returns an idle engine. pred may be nil, in which case no
// bunsetsu predictions are ever offered. nbest <= 0 selects the decoder
// default.
func New(dict Dictionary, pred Predictor, nbest int) *Engine {
	if nbest <= 0 {
		nbest = crf.DefaultNBest
	}
	return &Engine{dict: dict, pred: pred, nbest: nbest}
}

// Submit discards the current state and converts reading. It returns the
// candidate list: the ranked whole-word candidates, a single entry for
// the bunsetsu conversion, or the reading itself.
func (e *Engine) Submit(reading string) []Candidate {
	e.Reset()
	if reading == "" {
		return nil
	}
	e.reading = reading

	cands, err := e.lookup(reading)
	if errors.Is(err, dictionary.ErrNotReady) {
		e.notReady = true
		e.echo(true)
		slog.Debug("Dictionary not ready, passing reading through", "reading", reading)
		return e.Candidates()
	}
	if err != nil {
		slog.Warn("Dictionary lookup failed", "reading", reading, "error", err)
	}

	if len(cands) > 0 {
		e.wholeWord = true
		e.state = StateWholeWord
		e.candidates = toCandidates(reading, cands)
		slog.Debug("Whole-word match", "reading", reading, "candidates", len(cands))
		return e.Candidates()
	}

	e.predict()
	if len(e.predictions) == 0 {
		e.echo(false)
		slog.Debug("No usable segmentation, returning reading", "reading", reading)
		return e.Candidates()
	}
	e.enterBunsetsu(0)
	return e.Candidates()
}

func (e *Engine) lookup(reading string) ([]dictionary.Candidate, error) {
	if e.dict == nil {
		return nil, dictionary.ErrNotReady
	}
	return e.dict.Lookup(reading)
}

func (e *Engine) echo(passthrough bool) {
	e.state = StateNoMatch
	e.candidates = []Candidate{{Surface: e.reading, Reading: e.reading, Passthrough: passthrough}}
}

func toCandidates(reading string, cands []dictionary.Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		out[i] = Candidate{Surface: c.Surface, Reading: reading, Weight: c.Weight}
	}
	return out
}

// predict runs the segmenter once per reading and keeps only
// segmentations with at least two bunsetsu.
func (e *Engine) predict() {
	if e.predicted {
		return
	}
	e.predicted = true
	if e.pred == nil {
		return
	}
	preds, err := e.pred.Predict(e.reading, e.nbest)
	if err != nil {
		slog.Debug("Segmentation unavailable", "reading", e.reading, "error", err)
		return
	}
	for _, p := range preds {
		if len(p.Bunsetsu) >= 2 {
			e.predictions = append(e.predictions, p)
		}
	}
	slog.Debug("Segmented reading",
		"reading", e.reading,
		"predictions", len(preds),
		"usable", len(e.predictions))
}

func (e *Engine) enterBunsetsu(index int) {
	p := e.predictions[index]
	e.prediction = index
	e.segments = make([]segment, 0, len(p.Bunsetsu))
	for _, b := range p.Bunsetsu {
		e.segments = append(e.segments, e.newSegment(b))
	}
	e.focus = 0
	e.state = StateBunsetsu
	slog.Debug("Entered bunsetsu mode",
		"reading", e.reading,
		"prediction", index+1,
		"bunsetsu", len(e.segments))
}

func (e *Engine) newSegment(b segmenter.Bunsetsu) segment {
	seg := segment{text: b.Text, passthrough: b.Passthrough}
	if !b.Passthrough {
		cands, err := e.lookup(b.Text)
		if err != nil {
			slog.Debug("Bunsetsu lookup failed", "text", b.Text, "error", err)
		}
		if len(cands) > 0 {
			seg.candidates = toCandidates(b.Text, cands)
			return seg
		}
	}
	seg.fixed = true
	seg.candidates = []Candidate{{Surface: b.Text, Reading: b.Text, Passthrough: true}}
	return seg
}

// Reset confirms or cancels the conversion and returns to idle.
func (e *Engine) Reset() {
	*e = Engine{dict: e.dict, pred: e.pred, nbest: e.nbest}
}

// State returns the current mode.
func (e *Engine) State() State { return e.state }

// Reading returns the submitted reading.
func (e *Engine) Reading() string { return e.reading }

// Ready reports whether conversions consult the real dictionary. It is
// false while the dictionary is still loading.
func (e *Engine) Ready() bool {
	return e.dict != nil && e.dict.Ready()
}

// DisplaySurface returns the text to show for the current state: the
// selected whole-word candidate, or the concatenation of every
// segment's selected candidate in bunsetsu mode.
func (e *Engine) DisplaySurface() string {
	switch e.state {
	case StateBunsetsu:
		var b strings.Builder
		for _, s := range e.segments {
			b.WriteString(s.candidates[s.selected].Surface)
		}
		return b.String()
	case StateWholeWord, StateNoMatch:
		return e.candidates[e.selected].Surface
	}
	return ""
}

// Candidates returns the current candidate list. In bunsetsu mode it is
// a single entry carrying the combined surface.
func (e *Engine) Candidates() []Candidate {
	switch e.state {
	case StateBunsetsu:
		return []Candidate{{Surface: e.DisplaySurface(), Reading: e.reading}}
	case StateWholeWord, StateNoMatch:
		return append([]Candidate(nil), e.candidates...)
	}
	return nil
}

// Selected returns the selected whole-word candidate, or the combined
// bunsetsu candidate.
func (e *Engine) Selected() (Candidate, bool) {
	switch e.state {
	case StateBunsetsu:
		return e.Candidates()[0], true
	case StateWholeWord, StateNoMatch:
		return e.candidates[e.selected], true
	}
	return Candidate{}, false
}

// SelectedIndex returns the selected whole-word candidate index.
func (e *Engine) SelectedIndex() int { return e.selected }

// SelectCandidate selects whole-word candidate i.
func (e *Engine) SelectCandidate(i int) bool {
	if !e.flat() || i < 0 || i >= len(e.candidates) {
		return false
	}
	e.selected = i
	return true
}

// NextCandidate moves to the next whole-word candidate, wrapping.
func (e *Engine) NextCandidate() (Candidate, bool) {
	return e.stepCandidate(1)
}

// PreviousCandidate moves to the previous whole-word candidate, wrapping.
func (e *Engine) PreviousCandidate() (Candidate, bool) {
	return e.stepCandidate(-1)
}

func (e *Engine) stepCandidate(delta int) (Candidate, bool) {
	if !e.flat() {
		return Candidate{}, false
	}
	e.selected = wrap(e.selected+delta, len(e.candidates))
	return e.candidates[e.selected], true
}

func (e *Engine) flat() bool {
	return (e.state == StateWholeWord || e.state == StateNoMatch) && len(e.candidates) > 0
}

// Predictions returns the number of multi-bunsetsu segmentations found so
// far. Segmentation runs lazily when a whole-word match exists.
func (e *Engine) Predictions() int { return len(e.predictions) }

// Prediction returns the index of the active segmentation, or -1 outside
// bunsetsu mode.
func (e *Engine) Prediction() int {
	if e.state != StateBunsetsu {
		return -1
	}
	return e.prediction
}

// CyclePrediction advances to the next segmentation. With a whole-word
// match the cycle is whole-word, #1, #2, ... and back to whole-word;
// otherwise it wraps among the segmentations. It reports whether the
// state changed.
func (e *Engine) CyclePrediction() bool {
	if e.reading == "" || e.notReady {
		return false
	}
	e.predict()
	if len(e.predictions) == 0 {
		return false
	}

	if e.state != StateBunsetsu {
		e.enterBunsetsu(0)
		return true
	}
	next := e.prediction + 1
	if next < len(e.predictions) {
		e.enterBunsetsu(next)
		return true
	}
	if e.wholeWord {
		e.state = StateWholeWord
		e.selected = 0
		e.segments = nil
		e.focus = 0
		slog.Debug("Cycled back to whole-word", "reading", e.reading)
		return true
	}
	if len(e.predictions) == 1 {
		return false
	}
	e.enterBunsetsu(0)
	return true
}

// Segments returns a view of the bunsetsu in bunsetsu mode.
func (e *Engine) Segments() []Segment {
	if e.state != StateBunsetsu {
		return nil
	}
	out := make([]Segment, len(e.segments))
	for i, s := range e.segments {
		out[i] = Segment{
			Text:        s.text,
			Surface:     s.candidates[s.selected].Surface,
			Passthrough: s.passthrough,
			Candidates:  append([]Candidate(nil), s.candidates...),
			Selected:    s.selected,
			Focused:     i == e.focus,
		}
	}
	return out
}

// Focus returns the focused bunsetsu index.
func (e *Engine) Focus() int { return e.focus }

// SelectBunsetsu focuses bunsetsu i.
func (e *Engine) SelectBunsetsu(i int) bool {
	if e.state != StateBunsetsu || i < 0 || i >= len(e.segments) {
		return false
	}
	e.focus = i
	return true
}

// NextBunsetsu moves focus right, wrapping.
func (e *Engine) NextBunsetsu() bool { return e.moveFocus(1) }

// PreviousBunsetsu moves focus left, wrapping.
func (e *Engine) PreviousBunsetsu() bool { return e.moveFocus(-1) }

func (e *Engine) moveFocus(delta int) bool {
	if e.state != StateBunsetsu || len(e.segments) == 0 {
		return false
	}
	e.focus = wrap(e.focus+delta, len(e.segments))
	return true
}

// NextBunsetsuCandidate cycles the focused bunsetsu forward. Fixed
// segments do not cycle.
func (e *Engine) NextBunsetsuCandidate() (Candidate, bool) {
	return e.stepBunsetsuCandidate(1)
}

// PreviousBunsetsuCandidate cycles the focused bunsetsu backward.
func (e *Engine) PreviousBunsetsuCandidate() (Candidate, bool) {
	return e.stepBunsetsuCandidate(-1)
}

func (e *Engine) stepBunsetsuCandidate(delta int) (Candidate, bool) {
	if e.state != StateBunsetsu || e.focus >= len(e.segments) {
		return Candidate{}, false
	}
	s := &e.segments[e.focus]
	if s.fixed {
		return Candidate{}, false
	}
	s.selected = wrap(s.selected+delta, len(s.candidates))
	return s.candidates[s.selected], true
}

func wrap(i, n int) int {
	return ((i % n) + n) % n
}
