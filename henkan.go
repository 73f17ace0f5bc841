// Package henkan converts kana readings into kanji candidates.
//
// A CRF model segments readings into bunsetsu, a merged dictionary
// supplies candidates, and a conversion engine drives the interactive
// state for one reading.
//
//	svc, _ := henkan.NewService(henkan.Options{
//	    Dictionaries: dictionary.SourcesFor([]string{"system.json", "user.json"}),
//	    ModelPath:    "henkan_model.json",
//	})
//	<-svc.Open(ctx)
//	e := svc.NewEngine()
//	e.Submit("きょうはてんきがよい")
//	fmt.Println(e.DisplaySurface()) // 今日は天気が良い
package henkan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/happyhackingspace/henkan/conversion"
	"github.com/happyhackingspace/henkan/crf"
	"github.com/happyhackingspace/henkan/dictionary"
	"github.com/happyhackingspace/henkan/internal/textutil"
	"github.com/happyhackingspace/henkan/segmenter"
)

// Segmentation is one ranked segmentation of a reading.
type Segmentation struct {
	Labels    []string             `json:"labels"`
	Bunsetsu  []segmenter.Bunsetsu `json:"bunsetsu"`
	Formatted string               `json:"formatted"`
	Score     float64              `json:"score"`
}

// Segmenter pairs a trained model with the known-readings lexicon used by
// the dictionary boundary features.
type Segmenter struct {
	seg *segmenter.Segmenter
	lex segmenter.Lexicon
}

// NewSegmenter wraps a trained segmenter. lex may be nil.
func NewSegmenter(seg *segmenter.Segmenter, lex segmenter.Lexicon) *Segmenter {
	return &Segmenter{seg: seg, lex: lex}
}

// LoadSegmenter loads a model and, if materialsPath is non-empty, the
// decode materials. Missing materials only disable the dictionary
// boundary features.
func LoadSegmenter(modelPath, materialsPath string) (*Segmenter, error) {
	seg, err := segmenter.Load(modelPath)
	if err != nil {
		return nil, fmt.Errorf("henkan: %w", err)
	}
	s := &Segmenter{seg: seg}
	if materialsPath != "" {
		m, err := dictionary.LoadMaterials(materialsPath)
		if err != nil {
			slog.Warn("Cannot load decode materials", "path", materialsPath, "error", err)
		} else {
			s.lex = m
		}
	}
	return s, nil
}

// Save writes the model to path.
func (s *Segmenter) Save(path string) error {
	if err := s.seg.Save(path); err != nil {
		return fmt.Errorf("henkan: %w", err)
	}
	return nil
}

// Predict returns up to n segmentations of reading. It implements
// conversion.Predictor.
func (s *Segmenter) Predict(reading string, n int) ([]segmenter.Prediction, error) {
	if s == nil {
		return nil, segmenter.ErrNoModel
	}
	return s.seg.Segment(reading, s.lex, n)
}

// Test normalizes reading and returns its nBest segmentations with
// scores, best first.
func (s *Segmenter) Test(reading string, nBest int) ([]Segmentation, error) {
	preds, err := s.Predict(textutil.NormalizeReading(reading), nBest)
	if err != nil {
		return nil, fmt.Errorf("henkan: %w", err)
	}
	out := make([]Segmentation, len(preds))
	for i, p := range preds {
		out[i] = Segmentation{
			Labels:    p.LabelStrings(),
			Bunsetsu:  p.Bunsetsu,
			Formatted: segmenter.Format(p.Bunsetsu),
			Score:     p.Score,
		}
	}
	return out, nil
}

// Marginals normalizes reading and returns the per-token label
// probabilities.
func (s *Segmenter) Marginals(reading string) ([]map[string]float64, error) {
	if s == nil {
		return nil, fmt.Errorf("henkan: %w", segmenter.ErrNoModel)
	}
	m, err := s.seg.Marginals(textutil.NormalizeReading(reading), s.lex)
	if err != nil {
		return nil, fmt.Errorf("henkan: %w", err)
	}
	return m, nil
}

// Options configures a Service.
type Options struct {
	// Dictionaries are merged in order.
	Dictionaries []dictionary.Source
	Merge        dictionary.MergePolicy
	// ModelPath is optional; without a model the engine offers only
	// whole-word conversions.
	ModelPath string
	// MaterialsPath is optional; without it the merged dictionary itself
	// serves the boundary features.
	MaterialsPath string
	NBest         int
	// CacheSize bounds the prediction cache; 0 disables it.
	CacheSize int
}

// Service owns the shared conversion resources: the dictionary store, the
// current model and a prediction cache. It is safe for concurrent use;
// each session gets its own engine from NewEngine.
type Service struct {
	opts  Options
	store *dictionary.Store
	seg   atomic.Pointer[Segmenter]
	lex   atomic.Pointer[lexicon]

	// cacheMu orders cache writes against purges; gen counts purges so a
	// decode that started before a swap is not cached after it.
	cacheMu sync.Mutex
	gen     uint64
	cache   *lru.Cache[string, []segmenter.Prediction]
}

type lexicon struct {
	segmenter.Lexicon
}

// NewService returns a service with nothing loaded yet.
func NewService(opts Options) (*Service, error) {
	if opts.NBest <= 0 {
		opts.NBest = crf.DefaultNBest
	}
	s := &Service{opts: opts, store: dictionary.NewStore(opts.Merge)}
	if opts.CacheSize > 0 {
		cache, err := lru.New[string, []segmenter.Prediction](opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("henkan: %w", err)
		}
		s.cache = cache
	}
	s.store.OnSwap(func(snap *dictionary.Snapshot) {
		if opts.MaterialsPath == "" {
			s.lex.Store(&lexicon{snap})
		}
		s.purge()
	})
	return s, nil
}

// Open loads the dictionaries, model and materials on background
// goroutines. The channel receives the joined load errors (nil when
// everything loaded) and is then closed. Conversions fall back to
// passthrough until the dictionaries are ready.
func (s *Service) Open(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		start := time.Now()
		var dictErr, modelErr error

		var g errgroup.Group
		g.Go(func() error {
			_, dictErr = s.store.Load(ctx, s.opts.Dictionaries...)
			return nil
		})
		g.Go(func() error {
			modelErr = s.loadModel()
			return nil
		})
		_ = g.Wait()

		if dictErr != nil {
			slog.Warn("Dictionaries unavailable", "error", dictErr)
		}
		if modelErr != nil {
			slog.Warn("Segmentation model unavailable", "error", modelErr)
		}
		slog.Debug("Service opened",
			"dictionary_ready", s.store.Ready(),
			"model_ready", s.ModelReady(),
			"duration", time.Since(start))
		done <- errors.Join(dictErr, modelErr)
	}()
	return done
}

func (s *Service) loadModel() error {
	if s.opts.MaterialsPath != "" {
		m, err := dictionary.LoadMaterials(s.opts.MaterialsPath)
		if err != nil {
			slog.Warn("Cannot load decode materials", "path", s.opts.MaterialsPath, "error", err)
		} else {
			s.lex.Store(&lexicon{m})
		}
	}
	if s.opts.ModelPath == "" {
		return segmenter.ErrNoModel
	}
	if _, err := os.Stat(s.opts.ModelPath); err != nil {
		return fmt.Errorf("%w: %w", segmenter.ErrNoModel, err)
	}
	seg, err := segmenter.Load(s.opts.ModelPath)
	if err != nil {
		return err
	}
	s.SetModel(seg)
	return nil
}

// Reload re-reads the dictionaries. The previous snapshot keeps serving
// until the new one is installed.
func (s *Service) Reload(ctx context.Context) (*dictionary.LoadResult, error) {
	return s.store.Load(ctx, s.opts.Dictionaries...)
}

// SetModel installs a segmenter and drops cached predictions.
func (s *Service) SetModel(seg *segmenter.Segmenter) {
	s.seg.Store(NewSegmenter(seg, nil))
	s.purge()
}

func (s *Service) purge() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen++
	if s.cache != nil {
		s.cache.Purge()
	}
}

func (s *Service) generation() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.gen
}

// Ready reports whether the dictionaries are loaded.
func (s *Service) Ready() bool {
	return s.store.Ready()
}

// ModelReady reports whether a segmentation model is installed.
func (s *Service) ModelReady() bool {
	return s.seg.Load() != nil
}

// Lookup returns ranked candidates for reading, or dictionary.ErrNotReady.
func (s *Service) Lookup(reading string) ([]dictionary.Candidate, error) {
	return s.store.Lookup(reading)
}

// Stats describes the current dictionary snapshot.
func (s *Service) Stats() (dictionary.Stats, error) {
	snap, err := s.store.Snapshot()
	if err != nil {
		return dictionary.Stats{}, err
	}
	return snap.Stats(), nil
}

// Predict returns up to n segmentations of reading using the current
// model, serving repeated readings from the cache.
func (s *Service) Predict(reading string, n int) ([]segmenter.Prediction, error) {
	// Read the generation before the model and lexicon: a swap after this
	// point bumps it and the result below is not cached.
	gen := s.generation()
	cur := s.seg.Load()
	if cur == nil {
		return nil, segmenter.ErrNoModel
	}
	key := strconv.Itoa(n) + "\x00" + reading
	if s.cache != nil {
		if preds, ok := s.cache.Get(key); ok {
			return preds, nil
		}
	}
	var lex segmenter.Lexicon
	if l := s.lex.Load(); l != nil {
		lex = l.Lexicon
	}
	preds, err := cur.seg.Segment(reading, lex, n)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cacheMu.Lock()
		if s.gen == gen {
			s.cache.Add(key, preds)
		}
		s.cacheMu.Unlock()
	}
	return preds, nil
}

// NewEngine returns a conversion engine bound to this service.
func (s *Service) NewEngine() *conversion.Engine {
	return conversion.New(s, s, s.opts.NBest)
}
