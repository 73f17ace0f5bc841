package henkan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/happyhackingspace/henkan/crf"
	"github.com/happyhackingspace/henkan/dictionary"
	"github.com/happyhackingspace/henkan/internal/corpus"
	"github.com/happyhackingspace/henkan/segmenter"
)

// LexiconConfig says where the known-readings lexicon comes from. When
// Dictionaries is set the materials are regenerated from it (and written
// to MaterialsPath if that is set); otherwise MaterialsPath is read.
type LexiconConfig struct {
	Dictionaries  []dictionary.Source
	Merge         dictionary.MergePolicy
	MaterialsPath string
}

// TrainConfig holds configuration for training.
type TrainConfig struct {
	LexiconConfig
	// Trainer defaults to crf.DefaultTrainerConfig when nil.
	Trainer *crf.TrainerConfig
	// ModelPath is where the model is written; empty skips saving.
	ModelPath string
	// FeaturesPath, when set, trains from a previously extracted feature
	// file instead of the corpus.
	FeaturesPath string
}

// TrainingResult reports a training run. On failure Success is false and
// ErrorMessage is set; no model file is written.
type TrainingResult struct {
	Success       bool          `json:"success"`
	ModelPath     string        `json:"model_path,omitempty"`
	TrainingTime  time.Duration `json:"training_time"`
	ModelSize     int64         `json:"model_size"`
	SentenceCount int           `json:"sentence_count"`
	TokenCount    int           `json:"token_count"`
	LastIteration int           `json:"last_iteration"`
	Loss          float64       `json:"loss"`
	FeatureCount  int           `json:"feature_count"`
	Converged     bool          `json:"converged"`
	ErrorMessage  string        `json:"error_message,omitempty"`

	Segmenter *Segmenter `json:"-"`
}

// ExtractConfig holds configuration for feature extraction.
type ExtractConfig struct {
	LexiconConfig
	// OutputPath receives the feature file.
	OutputPath string
	// Progress is called every 100 sentences and once at the end.
	Progress func(done, total int)
}

// ExtractResult reports a feature extraction run.
type ExtractResult struct {
	OutputPath string       `json:"output_path"`
	Stats      corpus.Stats `json:"stats"`
}

// EvalConfig holds configuration for cross-validation.
type EvalConfig struct {
	LexiconConfig
	Folds   int
	Trainer *crf.TrainerConfig
}

// EvalResult holds cross-validation results.
type EvalResult struct {
	Folds            int     `json:"folds"`
	TokenAccuracy    float64 `json:"token_accuracy"`
	SentenceAccuracy float64 `json:"sentence_accuracy"`
	TokenCorrect     int     `json:"token_correct"`
	TokenTotal       int     `json:"token_total"`
	SentenceCorrect  int     `json:"sentence_correct"`
	SentenceTotal    int     `json:"sentence_total"`
}

const extractProgressEvery = 100

// Train extracts features from the corpus (or reads them from
// config.FeaturesPath) and trains a segmentation model. The lexicon is
// resolved in both cases and attached to the returned Segmenter.
func Train(ctx context.Context, corpusPaths []string, config *TrainConfig) (*TrainingResult, error) {
	if config == nil {
		config = &TrainConfig{}
	}
	result := &TrainingResult{}
	fail := func(err error) (*TrainingResult, error) {
		result.ErrorMessage = err.Error()
		return result, fmt.Errorf("henkan: %w", err)
	}

	lex, err := config.load(ctx)
	if err != nil {
		return fail(err)
	}

	var examples []segmenter.Example
	if config.FeaturesPath != "" {
		ex, st, err := corpus.LoadFeatures(config.FeaturesPath)
		if err != nil {
			return fail(err)
		}
		if st.SkippedRows > 0 {
			slog.Warn("Skipped malformed feature rows", "path", config.FeaturesPath, "rows", st.SkippedRows)
		}
		examples = ex
	} else {
		sentences, _, err := corpus.Load(corpusPaths...)
		if err != nil {
			return fail(err)
		}
		examples = extractExamples(sentences, lex, nil)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	result.SentenceCount = len(examples)
	for _, ex := range examples {
		result.TokenCount += len(ex.Tokens)
	}
	slog.Info("Training segmentation model", "sentences", result.SentenceCount, "tokens", result.TokenCount)

	trainerCfg := crf.DefaultTrainerConfig()
	if config.Trainer != nil {
		trainerCfg = *config.Trainer
	}

	start := time.Now()
	seg, stats, err := segmenter.Train(examples, trainerCfg)
	result.TrainingTime = time.Since(start)
	if err != nil {
		return fail(err)
	}
	result.LastIteration = stats.Iterations
	result.Loss = stats.Loss
	result.FeatureCount = stats.ActiveFeatures
	result.Converged = stats.Converged
	result.Segmenter = NewSegmenter(seg, lex)

	if config.ModelPath != "" {
		if err := seg.Save(config.ModelPath); err != nil {
			return fail(err)
		}
		info, err := os.Stat(config.ModelPath)
		if err != nil {
			return fail(err)
		}
		result.ModelPath = config.ModelPath
		result.ModelSize = info.Size()
	}
	result.Success = true
	return result, nil
}

// Extract writes the intermediate feature file for the corpus.
func Extract(ctx context.Context, corpusPaths []string, config *ExtractConfig) (*ExtractResult, error) {
	if config == nil || config.OutputPath == "" {
		return nil, errors.New("henkan: extract: no output path")
	}
	sentences, stats, err := corpus.Load(corpusPaths...)
	if err != nil {
		return nil, fmt.Errorf("henkan: %w", err)
	}
	lex, err := config.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("henkan: %w", err)
	}
	examples := extractExamples(sentences, lex, config.Progress)
	if err := corpus.SaveFeatures(config.OutputPath, examples); err != nil {
		return nil, fmt.Errorf("henkan: %w", err)
	}
	return &ExtractResult{OutputPath: config.OutputPath, Stats: stats}, nil
}

// Stats reads the corpus and returns its aggregate counts.
func Stats(corpusPaths []string) (*corpus.Stats, error) {
	_, stats, err := corpus.Load(corpusPaths...)
	if err != nil {
		return nil, fmt.Errorf("henkan: %w", err)
	}
	return &stats, nil
}

// Evaluate runs k-fold cross-validation over the corpus and reports
// token and sentence accuracy of the best segmentation.
func Evaluate(ctx context.Context, corpusPaths []string, config *EvalConfig) (*EvalResult, error) {
	nFolds := 10
	trainerCfg := crf.DefaultTrainerConfig()
	if config == nil {
		config = &EvalConfig{}
	}
	if config.Folds > 0 {
		nFolds = config.Folds
	}
	if config.Trainer != nil {
		trainerCfg = *config.Trainer
	}

	sentences, _, err := corpus.Load(corpusPaths...)
	if err != nil {
		return nil, fmt.Errorf("henkan: %w", err)
	}
	lex, err := config.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("henkan: %w", err)
	}
	examples := extractExamples(sentences, lex, nil)
	if len(examples) == 0 {
		return nil, fmt.Errorf("henkan: %w", crf.ErrEmptyTrainingSet)
	}

	groups := make([]int, len(examples))
	for i := range groups {
		groups[i] = i
	}
	folds := groupKFold(groups, nFolds)
	if len(folds) < 2 {
		return nil, fmt.Errorf("henkan: cross-validation needs at least 2 folds, have %d sentences and %d folds", len(examples), nFolds)
	}
	result := &EvalResult{Folds: len(folds)}

	for f, testIdx := range folds {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("henkan: %w", err)
		}
		testSet := makeTestSet(len(examples), testIdx)
		var train []segmenter.Example
		for i, ex := range examples {
			if !testSet[i] {
				train = append(train, ex)
			}
		}
		seg, _, err := segmenter.Train(train, trainerCfg)
		if err != nil {
			return nil, fmt.Errorf("henkan: fold %d: %w", f+1, err)
		}

		for _, idx := range testIdx {
			ex := examples[idx]
			pred := seg.Best(ex.Features)
			allCorrect := true
			for j := range ex.Labels {
				if j < len(pred) && pred[j] == ex.Labels[j] {
					result.TokenCorrect++
				} else {
					allCorrect = false
				}
				result.TokenTotal++
			}
			if allCorrect {
				result.SentenceCorrect++
			}
			result.SentenceTotal++
		}
		slog.Debug("Fold evaluated", "fold", f+1, "test", len(testIdx))
	}

	if result.TokenTotal > 0 {
		result.TokenAccuracy = float64(result.TokenCorrect) / float64(result.TokenTotal)
	}
	if result.SentenceTotal > 0 {
		result.SentenceAccuracy = float64(result.SentenceCorrect) / float64(result.SentenceTotal)
	}
	return result, nil
}

// GenerateMaterials merges the dictionaries and writes the decode
// materials to path.
func GenerateMaterials(ctx context.Context, sources []dictionary.Source, merge dictionary.MergePolicy, path string) (*dictionary.Materials, error) {
	store := dictionary.NewStore(merge)
	if _, err := store.Load(ctx, sources...); err != nil {
		return nil, fmt.Errorf("henkan: %w", err)
	}
	snap, err := store.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("henkan: %w", err)
	}
	m := dictionary.BuildMaterials(snap)
	if path != "" {
		if err := dictionary.SaveMaterials(m, path); err != nil {
			return nil, fmt.Errorf("henkan: %w", err)
		}
	}
	return m, nil
}

func (c LexiconConfig) load(ctx context.Context) (segmenter.Lexicon, error) {
	if len(c.Dictionaries) > 0 {
		m, err := GenerateMaterials(ctx, c.Dictionaries, c.Merge, c.MaterialsPath)
		if err != nil {
			return nil, err
		}
		slog.Debug("Decode materials regenerated", "readings", len(m.Readings), "path", c.MaterialsPath)
		return m, nil
	}
	if c.MaterialsPath == "" {
		return nil, nil
	}
	m, err := dictionary.LoadMaterials(c.MaterialsPath)
	if err != nil {
		slog.Warn("Cannot load decode materials, dictionary features disabled", "path", c.MaterialsPath, "error", err)
		return nil, nil
	}
	return m, nil
}

func extractExamples(sentences []corpus.Sentence, lex segmenter.Lexicon, progress func(done, total int)) []segmenter.Example {
	examples := make([]segmenter.Example, len(sentences))
	for i, s := range sentences {
		examples[i] = segmenter.Example{
			Tokens:   s.Tokens,
			Labels:   s.Labels,
			Features: segmenter.Extract(s.Tokens, lex),
		}
		if progress != nil && (i+1)%extractProgressEvery == 0 {
			progress(i+1, len(sentences))
		}
	}
	if progress != nil {
		progress(len(sentences), len(sentences))
	}
	return examples
}

// groupKFold assigns whole groups to folds round-robin in ascending group
// order, so a group never spans train and test.
func groupKFold(groups []int, nFolds int) [][]int {
	unique := slices.Clone(groups)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	if nFolds > len(unique) {
		nFolds = len(unique)
	}
	if nFolds == 0 {
		return nil
	}

	groupToFold := make(map[int]int, len(unique))
	for i, g := range unique {
		groupToFold[g] = i % nFolds
	}

	folds := make([][]int, nFolds)
	for i, g := range groups {
		fold := groupToFold[g]
		folds[fold] = append(folds[fold], i)
	}
	return folds
}

func makeTestSet(n int, testIdx []int) []bool {
	set := make([]bool, n)
	for _, i := range testIdx {
		set[i] = true
	}
	return set
}
