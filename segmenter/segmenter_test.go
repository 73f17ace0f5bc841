package segmenter

import (
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/happyhackingspace/henkan/crf"
	"github.com/happyhackingspace/henkan/internal/textutil"
)

func TestParseLabel(t *testing.T) {
	for _, l := range Labels {
		got, err := ParseLabel(l.String())
		if err != nil || got != l {
			t.Errorf("ParseLabel(%q) = %v, %v", l.String(), got, err)
		}
	}
	if _, err := ParseLabel("B"); err == nil {
		t.Error("expected error for unknown label")
	}
}

func TestWellFormed(t *testing.T) {
	tests := []struct {
		labels []Label
		want   bool
	}{
		{[]Label{LookupBegin, LookupInside, PassthroughBegin, PassthroughInside}, true},
		{[]Label{LookupInside}, false},
		{[]Label{PassthroughBegin, LookupInside}, false},
		{[]Label{LookupBegin, PassthroughInside}, false},
		{nil, true},
	}
	for _, tt := range tests {
		if got := WellFormed(tt.labels); got != tt.want {
			t.Errorf("WellFormed(%v) = %v, want %v", tt.labels, got, tt.want)
		}
	}
}

func TestBunsetsuFromLabels(t *testing.T) {
	tokens := strings.Split("きぎょうしゅうえき", "")
	labels := []Label{
		LookupBegin, LookupInside, LookupInside, LookupInside,
		LookupBegin, LookupInside, LookupInside, LookupInside, LookupInside,
	}
	got := BunsetsuFromLabels(tokens, labels)
	want := []Bunsetsu{{Text: "きぎょう"}, {Text: "しゅうえき"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// A leading inside label is promoted, and a sub-type change splits.
	got = BunsetsuFromLabels([]string{"き", "ょ", "は"}, []Label{LookupInside, LookupInside, PassthroughInside})
	want = []Bunsetsu{{Text: "きょ"}, {Text: "は", Passthrough: true}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if got := BunsetsuFromLabels(nil, nil); got != nil {
		t.Errorf("empty input = %v, want nil", got)
	}
}

func TestRepair(t *testing.T) {
	labels := Repair([]Label{LookupInside, PassthroughInside, PassthroughInside, LookupInside})
	want := []Label{LookupBegin, PassthroughBegin, PassthroughInside, LookupBegin}
	if !reflect.DeepEqual(labels, want) {
		t.Errorf("Repair = %v, want %v", labels, want)
	}
	if !WellFormed(labels) {
		t.Error("repaired labels are not well formed")
	}
}

func TestFormat(t *testing.T) {
	bs := []Bunsetsu{{Text: "きょう"}, {Text: "は", Passthrough: true}, {Text: "てんき"}}
	if got := Format(bs); got != "きょう _は_ てんき" {
		t.Errorf("Format = %q", got)
	}
	if got := Join(bs); got != "きょうはてんき" {
		t.Errorf("Join = %q", got)
	}
}

func has(fs FeatureSet, kind Kind, value string) bool {
	for _, f := range fs {
		if f.Kind == kind && f.Value == value {
			return true
		}
	}
	return false
}

func hasKind(fs FeatureSet, kind Kind) bool {
	for _, f := range fs {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

func TestExtract(t *testing.T) {
	tokens := textutil.Tokenize("きょうはカナです")
	lex := NewReadingSet("きょう", "かな")
	feats := Extract(tokens, lex)
	if len(feats) != len(tokens) {
		t.Fatalf("got %d feature sets for %d tokens", len(feats), len(tokens))
	}

	first := feats[0]
	if first[0] != (Feature{KindBias, "1"}) {
		t.Errorf("first feature = %v, want bias", first[0])
	}
	for _, want := range []Feature{
		{KindChar, "き"}, {KindType, "hiragana"}, {KindBOS, "1"},
		{KindCharNext, "ょ"}, {KindCharNext2, "う"}, {KindBigramNext, "きょ"},
		{KindDictStart, "3"},
	} {
		if !has(first, want.Kind, want.Value) {
			t.Errorf("position 0 missing %v", want)
		}
	}
	if hasKind(first, KindTypeChange) || hasKind(first, KindCharPrev) {
		t.Error("position 0 has backward window features")
	}

	third := feats[2] // う
	if !has(third, KindDictEnd, "3") || !has(third, KindAuxVerb, "う") {
		t.Errorf("position 2 = %v", third)
	}

	topic := feats[3] // は
	for _, want := range []Feature{
		{KindParticle, "は"}, {KindCharPrev, "う"}, {KindCharPrev2, "ょ"},
		{KindBigramPrev, "うは"}, {KindTypeChange, "false"},
	} {
		if !has(topic, want.Kind, want.Value) {
			t.Errorf("position 3 missing %v", want)
		}
	}

	kana := feats[4] // カ
	if !has(kana, KindTypeChange, "true") || !has(kana, KindType, "katakana") {
		t.Errorf("position 4 = %v", kana)
	}

	last := feats[len(feats)-1] // す
	if !has(last, KindEOS, "1") || !has(last, KindAuxVerb, "です") {
		t.Errorf("last position = %v", last)
	}
	if hasKind(last, KindCharNext) {
		t.Error("last position has forward window features")
	}

	for i, fs := range Extract(tokens, nil) {
		if hasKind(fs, KindDictStart) || hasKind(fs, KindDictEnd) {
			t.Errorf("position %d has dictionary features without a lexicon", i)
		}
	}
}

func TestExtractEmptyAndUnknown(t *testing.T) {
	if got := Extract(nil, nil); len(got) != 0 {
		t.Errorf("Extract(nil) = %v", got)
	}
	feats := Extract([]string{"☃"}, nil)
	if len(feats) != 1 || !has(feats[0], KindType, "symbol") {
		t.Errorf("Extract(☃) = %v", feats)
	}
}

func TestParseFeature(t *testing.T) {
	for k := range numKinds {
		f := Feature{Kind: k, Value: "x=y"}
		got, err := ParseFeature(f.String())
		if err != nil {
			t.Fatalf("ParseFeature(%q): %v", f.String(), err)
		}
		if got != f {
			t.Errorf("ParseFeature(%q) = %v, want %v", f.String(), got, f)
		}
	}
	if _, err := ParseFeature("nope=1"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := ParseFeature("bias"); err == nil {
		t.Error("expected error for missing value")
	}
}

// example builds a training example from space separated bunsetsu,
// underscores marking passthrough ones.
func example(line string, lex Lexicon) Example {
	var ex Example
	for _, part := range strings.Fields(line) {
		pass := strings.HasPrefix(part, "_") || strings.HasSuffix(part, "_")
		for i, tok := range textutil.Tokenize(strings.Trim(part, "_")) {
			l := LookupBegin
			if i > 0 {
				l = LookupInside
			}
			if pass {
				l = l + 2
			}
			ex.Tokens = append(ex.Tokens, tok)
			ex.Labels = append(ex.Labels, l)
		}
	}
	ex.Features = Extract(ex.Tokens, lex)
	return ex
}

var trainingLines = []string{
	"きょう _は_ てんき _が_ よい",
	"あした _は_ あめ _が_ ふる",
	"いく _から_",
	"きぎょう しゅうえき _が_ ふえた",
	"わたし _は_ がくせい _です_",
	"てんき _が_ わるい",
}

func trainSegmenter(t *testing.T, lex Lexicon) *Segmenter {
	t.Helper()
	examples := make([]Example, len(trainingLines))
	for i, line := range trainingLines {
		examples[i] = example(line, lex)
	}
	config := crf.DefaultTrainerConfig()
	config.C1 = 0
	config.C2 = 0.01
	config.MaxIterations = 100
	seg, stats, err := Train(examples, config)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Iterations == 0 {
		t.Fatal("training ran no iterations")
	}
	return seg
}

func TestTrainAndSegment(t *testing.T) {
	lex := NewReadingSet("きょう", "てんき", "きぎょう", "しゅうえき")
	seg := trainSegmenter(t, lex)

	if got := seg.Model().NumLabels; got != len(Labels) {
		t.Errorf("model has %d labels, want %d", got, len(Labels))
	}

	preds, err := seg.Segment("きょうはてんきがよい", lex, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(preds) == 0 || len(preds) > 5 {
		t.Fatalf("got %d predictions", len(preds))
	}
	for i, p := range preds {
		if !WellFormed(p.Labels) {
			t.Errorf("prediction %d labels %v are not well formed", i, p.LabelStrings())
		}
		if Join(p.Bunsetsu) != "きょうはてんきがよい" {
			t.Errorf("prediction %d does not reconstruct the reading: %v", i, p.Bunsetsu)
		}
		if i > 0 && p.Score > preds[i-1].Score {
			t.Errorf("prediction %d out of order", i)
		}
	}
	want := "きょう _は_ てんき _が_ よい"
	if got := Format(preds[0].Bunsetsu); got != want {
		t.Errorf("best segmentation = %q, want %q", got, want)
	}

	one, err := seg.Segment("きょうはてんきがよい", lex, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(one[0], preds[0]) {
		t.Errorf("n=1 result %v differs from head of n=5 %v", one[0], preds[0])
	}

	empty, err := seg.Segment("", lex, 5)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty reading = %v, %v", empty, err)
	}

	unknown, err := seg.Segment("ゑゐ☃", lex, 3)
	if err != nil || len(unknown) == 0 {
		t.Errorf("unknown characters = %v, %v", unknown, err)
	}
}

func TestMarginals(t *testing.T) {
	lex := NewReadingSet("きょう", "てんき")
	seg := trainSegmenter(t, lex)

	marg, err := seg.Marginals("きょうは", lex)
	if err != nil {
		t.Fatal(err)
	}
	if len(marg) != 4 {
		t.Fatalf("got %d positions, want 4", len(marg))
	}
	for i, m := range marg {
		var sum float64
		for _, p := range m {
			sum += p
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Errorf("position %d marginals sum to %v", i, sum)
		}
	}
	if marg[0]["B-L"] < marg[0]["I-L"] {
		t.Errorf("first token favours I-L: %v", marg[0])
	}

	if m, err := seg.Marginals("", lex); err != nil || m != nil {
		t.Errorf("empty reading = %v, %v", m, err)
	}
	var none *Segmenter
	if _, err := none.Marginals("あ", nil); !errors.Is(err, ErrNoModel) {
		t.Errorf("err = %v, want ErrNoModel", err)
	}
}

func TestTrainDeterministic(t *testing.T) {
	a := trainSegmenter(t, nil)
	b := trainSegmenter(t, nil)
	pa, _ := a.Segment("あしたはてんきがよい", nil, 1)
	pb, _ := b.Segment("あしたはてんきがよい", nil, 1)
	if !reflect.DeepEqual(pa, pb) {
		t.Errorf("top-1 differs between identical runs: %v vs %v", pa, pb)
	}
}

func TestSaveLoad(t *testing.T) {
	seg := trainSegmenter(t, nil)
	path := filepath.Join(t.TempDir(), "model.json")
	if err := seg.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	before, _ := seg.Segment("いくから", nil, 5)
	after, _ := loaded.Segment("いくから", nil, 5)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("decode changed after reload: %v vs %v", before, after)
	}
}

func TestNoModel(t *testing.T) {
	var seg *Segmenter
	if _, err := seg.Segment("あ", nil, 5); !errors.Is(err, ErrNoModel) {
		t.Errorf("err = %v, want ErrNoModel", err)
	}
	if err := seg.Save(filepath.Join(t.TempDir(), "m.json")); !errors.Is(err, ErrNoModel) {
		t.Errorf("Save err = %v, want ErrNoModel", err)
	}
	if _, err := New(nil); !errors.Is(err, ErrNoModel) {
		t.Errorf("New(nil) err = %v", err)
	}
}

func TestNewRejectsForeignLabels(t *testing.T) {
	m := crf.NewModel()
	m.Labels.Add("B")
	m.NumLabels = 1
	if _, err := New(m); err == nil {
		t.Error("expected error for unknown label")
	}
}
