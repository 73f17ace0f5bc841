package henkan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/happyhackingspace/henkan/conversion"
	"github.com/happyhackingspace/henkan/crf"
	"github.com/happyhackingspace/henkan/dictionary"
	"github.com/happyhackingspace/henkan/internal/corpus"
	"github.com/happyhackingspace/henkan/segmenter"
)

const testCorpus = `# weather
きょう _は_ てんき _が_ よい
あした _は_ あめ _が_ ふる

いく _から_
きぎょう しゅうえき _が_ ふえた
わたし _は_ がくせい _です_
てんき _が_ わるい
`

const testDictionary = `{
  "きょう": {"今日": 9, "京": 2},
  "てんき": {"天気": 7, "転機": 3},
  "よい": {"良い": 6, "酔い": 2},
  "きぎょう": {"企業": 10, "起業": 4},
  "しゅうえき": {"収益": 8},
  "へんかん": {"変換": 5, "返還": 1}
}`

type fixture struct {
	dir        string
	corpus     string
	dictionary string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:        dir,
		corpus:     filepath.Join(dir, "corpus.txt"),
		dictionary: filepath.Join(dir, "system.json"),
	}
	require.NoError(t, os.WriteFile(f.corpus, []byte(testCorpus), 0o644))
	require.NoError(t, os.WriteFile(f.dictionary, []byte(testDictionary), 0o644))
	return f
}

func (f fixture) lexicon() LexiconConfig {
	return LexiconConfig{
		Dictionaries:  dictionary.SourcesFor([]string{f.dictionary}),
		MaterialsPath: filepath.Join(f.dir, "materials.json"),
	}
}

func testTrainer() *crf.TrainerConfig {
	cfg := crf.DefaultTrainerConfig()
	cfg.C1 = 0
	cfg.C2 = 0.01
	return &cfg
}

func trainFixture(t *testing.T, f fixture) *TrainingResult {
	t.Helper()
	res, err := Train(context.Background(), []string{f.corpus}, &TrainConfig{
		LexiconConfig: f.lexicon(),
		Trainer:       testTrainer(),
		ModelPath:     filepath.Join(f.dir, "model.json"),
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	return res
}

func TestTrain(t *testing.T) {
	f := newFixture(t)
	res := trainFixture(t, f)

	assert.Equal(t, 6, res.SentenceCount)
	assert.Equal(t, 53, res.TokenCount)
	assert.Positive(t, res.LastIteration)
	assert.Positive(t, res.FeatureCount)
	assert.Positive(t, res.ModelSize)
	assert.Empty(t, res.ErrorMessage)
	assert.FileExists(t, res.ModelPath)
	assert.FileExists(t, filepath.Join(f.dir, "materials.json"))

	seg, err := LoadSegmenter(res.ModelPath, filepath.Join(f.dir, "materials.json"))
	require.NoError(t, err)
	got, err := seg.Test("きょうはてんきがよい", 3)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 3)
	assert.Equal(t, "きょう _は_ てんき _が_ よい", got[0].Formatted)
	assert.Equal(t, []string{"B-L", "I-L", "I-L", "B-P", "B-L", "I-L", "I-L", "B-P", "B-L", "I-L"}, got[0].Labels)

	again, err := res.Segmenter.Test("きょうはてんきがよい", 3)
	require.NoError(t, err)
	assert.Equal(t, got, again, "saved model must decode identically")
}

func TestTrainNormalizesTestInput(t *testing.T) {
	f := newFixture(t)
	res := trainFixture(t, f)

	hira, err := res.Segmenter.Test("きょうはてんきがよい", 1)
	require.NoError(t, err)
	kata, err := res.Segmenter.Test("キョウハテンキガヨイ", 1)
	require.NoError(t, err)
	assert.Equal(t, hira, kata)
}

func TestTrainErrors(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.json")

	res, err := Train(context.Background(), []string{filepath.Join(dir, "missing.txt")}, &TrainConfig{ModelPath: modelPath})
	require.ErrorIs(t, err, corpus.ErrNoCorpus)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ErrorMessage)
	assert.NoFileExists(t, modelPath)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing here\n\n"), 0o644))
	res, err = Train(context.Background(), []string{empty}, &TrainConfig{ModelPath: modelPath})
	require.ErrorIs(t, err, crf.ErrEmptyTrainingSet)
	assert.False(t, res.Success)
	assert.NoFileExists(t, modelPath)
}

func TestExtractThenTrainFromFeatures(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "features.tsv")

	var calls [][2]int
	ext, err := Extract(context.Background(), []string{f.corpus, filepath.Join(f.dir, "missing.txt")}, &ExtractConfig{
		LexiconConfig: f.lexicon(),
		OutputPath:    out,
		Progress:      func(done, total int) { calls = append(calls, [2]int{done, total}) },
	})
	require.NoError(t, err)
	assert.Equal(t, out, ext.OutputPath)
	assert.Equal(t, 6, ext.Stats.Sentences)
	assert.Equal(t, 1, ext.Stats.MissingFiles)
	assert.Equal(t, [][2]int{{6, 6}}, calls)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# sentence 1\n"))
	assert.Contains(t, string(data), "dict_start_len=3")

	res, err := Train(context.Background(), nil, &TrainConfig{
		LexiconConfig: LexiconConfig{MaterialsPath: filepath.Join(f.dir, "materials.json")},
		Trainer:       testTrainer(),
		FeaturesPath:  out,
	})
	require.NoError(t, err)
	assert.Equal(t, 6, res.SentenceCount)
	assert.Empty(t, res.ModelPath)

	direct := trainFixture(t, f)
	a, err := res.Segmenter.Test("てんきがわるい", 2)
	require.NoError(t, err)
	b, err := direct.Segmenter.Test("てんきがわるい", 2)
	require.NoError(t, err)
	assert.Equal(t, b, a, "training from extracted features must match training from the corpus")
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	st, err := Stats([]string{f.corpus})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Files)
	assert.Equal(t, 6, st.Sentences)
	assert.Equal(t, 53, st.Tokens)
	assert.Equal(t, 23, st.Bunsetsu)
	assert.Equal(t, 14, st.LookupBunsetsu)
	assert.Equal(t, 9, st.PassthroughBunsetsu)

	_, err = Stats([]string{filepath.Join(f.dir, "missing.txt")})
	assert.ErrorIs(t, err, corpus.ErrNoCorpus)
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t)
	res, err := Evaluate(context.Background(), []string{f.corpus}, &EvalConfig{
		LexiconConfig: f.lexicon(),
		Folds:         3,
		Trainer:       testTrainer(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Folds)
	assert.Equal(t, 6, res.SentenceTotal)
	assert.Equal(t, 53, res.TokenTotal)
	assert.InDelta(t, float64(res.TokenCorrect)/53, res.TokenAccuracy, 1e-12)
	assert.LessOrEqual(t, res.SentenceCorrect, res.SentenceTotal)

	_, err = Evaluate(context.Background(), []string{f.corpus}, &EvalConfig{Folds: 1, Trainer: testTrainer()})
	assert.Error(t, err)
}

func TestGroupKFold(t *testing.T) {
	folds := groupKFold([]int{3, 1, 1, 2, 3, 0}, 2)
	assert.Equal(t, [][]int{{3, 5}, {0, 1, 2, 4}}, folds)
	assert.Len(t, groupKFold([]int{0, 1}, 10), 2)
	assert.Nil(t, groupKFold(nil, 3))
}

func TestServiceConversion(t *testing.T) {
	f := newFixture(t)
	res := trainFixture(t, f)

	svc, err := NewService(Options{
		Dictionaries: dictionary.SourcesFor([]string{f.dictionary}),
		ModelPath:    res.ModelPath,
		CacheSize:    8,
	})
	require.NoError(t, err)

	e := svc.NewEngine()
	got := e.Submit("へんかん")
	assert.Equal(t, []conversion.Candidate{{Surface: "へんかん", Reading: "へんかん", Passthrough: true}}, got,
		"conversion must pass through before the dictionaries are loaded")
	assert.False(t, svc.Ready())

	require.NoError(t, <-svc.Open(context.Background()))
	assert.True(t, svc.Ready())
	assert.True(t, svc.ModelReady())

	e.Submit("へんかん")
	assert.Equal(t, conversion.StateWholeWord, e.State())
	assert.Equal(t, "変換", e.DisplaySurface())

	e.Submit("きょうはてんきがよい")
	require.Equal(t, conversion.StateBunsetsu, e.State())
	assert.Equal(t, "今日は天気が良い", e.DisplaySurface())
	segs := e.Segments()
	require.Len(t, segs, 5)
	assert.True(t, segs[1].Passthrough)

	require.True(t, e.SelectBunsetsu(2))
	c, ok := e.NextBunsetsuCandidate()
	require.True(t, ok)
	assert.Equal(t, "転機", c.Surface)
	assert.Equal(t, "今日は転機が良い", e.DisplaySurface())

	first, err := svc.Predict("きょうはてんきがよい", 5)
	require.NoError(t, err)
	second, err := svc.Predict("きょうはてんきがよい", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, svc.cache.Len())

	_, err = svc.Reload(context.Background())
	require.NoError(t, err)
	assert.Zero(t, svc.cache.Len(), "a dictionary swap must drop cached predictions")

	stats, err := svc.Stats()
	require.NoError(t, err)
	assert.Equal(t, 6, stats.Readings)
	assert.Equal(t, []string{f.dictionary}, stats.Sources)
}

func TestServiceWithoutModel(t *testing.T) {
	f := newFixture(t)
	svc, err := NewService(Options{
		Dictionaries: dictionary.SourcesFor([]string{f.dictionary}),
		ModelPath:    filepath.Join(f.dir, "none.json"),
	})
	require.NoError(t, err)

	err = <-svc.Open(context.Background())
	require.ErrorIs(t, err, segmenter.ErrNoModel)
	assert.True(t, svc.Ready())
	assert.False(t, svc.ModelReady())

	e := svc.NewEngine()
	got := e.Submit("きょうはてんきがよい")
	assert.Equal(t, []conversion.Candidate{{Surface: "きょうはてんきがよい", Reading: "きょうはてんきがよい"}}, got)
	assert.Equal(t, conversion.StateNoMatch, e.State())

	e.Submit("へんかん")
	assert.Equal(t, "変換", e.DisplaySurface())
}

func TestServiceSetModel(t *testing.T) {
	f := newFixture(t)
	res := trainFixture(t, f)

	svc, err := NewService(Options{Dictionaries: dictionary.SourcesFor([]string{f.dictionary})})
	require.NoError(t, err)
	assert.Nil(t, svc.cache)
	err = <-svc.Open(context.Background())
	require.ErrorIs(t, err, segmenter.ErrNoModel)

	svc.SetModel(res.Segmenter.seg)
	preds, err := svc.Predict("きぎょうしゅうえき", 5)
	require.NoError(t, err)
	require.NotEmpty(t, preds)

	e := svc.NewEngine()
	e.Submit("きぎょうしゅうえき")
	if e.State() == conversion.StateBunsetsu {
		assert.Equal(t, e.DisplaySurface(), joinSurfaces(e.Segments()))
	}
}

func joinSurfaces(segs []conversion.Segment) string {
	var b strings.Builder
	for _, s := range segs {
		b.WriteString(s.Surface)
	}
	return b.String()
}

func TestGenerateMaterials(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "m.json")
	m, err := GenerateMaterials(context.Background(), dictionary.SourcesFor([]string{f.dictionary}), dictionary.MergeMax, path)
	require.NoError(t, err)
	assert.Equal(t, 5, m.MaxLength)
	assert.Len(t, m.Readings, 6)

	loaded, err := dictionary.LoadMaterials(path)
	require.NoError(t, err)
	assert.Equal(t, m.Readings, loaded.Readings)

	_, err = GenerateMaterials(context.Background(), dictionary.SourcesFor([]string{filepath.Join(f.dir, "none.json")}), dictionary.MergeMax, "")
	assert.ErrorIs(t, err, dictionary.ErrNoDictionary)
}

// gateLexicon blocks the first Contains call until release is closed.
type gateLexicon struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gateLexicon) Contains(string) bool {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return false
}

func TestServiceModelSwapDuringPredict(t *testing.T) {
	f := newFixture(t)
	res := trainFixture(t, f)

	svc, err := NewService(Options{CacheSize: 8})
	require.NoError(t, err)
	svc.SetModel(res.Segmenter.seg)

	gate := &gateLexicon{entered: make(chan struct{}), release: make(chan struct{})}
	svc.lex.Store(&lexicon{gate})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Predict("きょうはてんきがよい", 5)
		done <- err
	}()
	<-gate.entered
	svc.SetModel(res.Segmenter.seg)
	close(gate.release)
	require.NoError(t, <-done)
	assert.Zero(t, svc.cache.Len(), "a decode begun before the swap must not be cached")

	_, err = svc.Predict("きょうはてんきがよい", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.cache.Len())
}

func TestServiceReadyWithoutDictionaries(t *testing.T) {
	f := newFixture(t)
	res := trainFixture(t, f)

	svc, err := NewService(Options{
		Dictionaries: dictionary.SourcesFor([]string{filepath.Join(f.dir, "none.json")}),
		ModelPath:    res.ModelPath,
	})
	require.NoError(t, err)

	err = <-svc.Open(context.Background())
	require.ErrorIs(t, err, dictionary.ErrNoDictionary)
	assert.True(t, svc.Ready())
	assert.True(t, svc.ModelReady())

	e := svc.NewEngine()
	assert.True(t, e.Ready())
	got := e.Submit("きょうはてんきがよい")
	require.NotEmpty(t, got)
	assert.False(t, got[0].Passthrough, "a ready engine must not fall back to the not-ready echo")
	assert.NotEqual(t, conversion.StateWholeWord, e.State())
}

func TestSegmenterMarginals(t *testing.T) {
	f := newFixture(t)
	res := trainFixture(t, f)

	marg, err := res.Segmenter.Marginals("キョウハ")
	require.NoError(t, err)
	require.Len(t, marg, 4)
	for _, m := range marg {
		var sum float64
		for _, p := range m {
			sum += p
		}
		assert.InDelta(t, 1, sum, 1e-6)
	}

	var none *Segmenter
	_, err = none.Marginals("きょう")
	assert.ErrorIs(t, err, segmenter.ErrNoModel)
}
