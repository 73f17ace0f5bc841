package dictionary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotReady is returned by lookups before the first load completes.
	ErrNotReady = errors.New("dictionary: not ready")
	// ErrNoDictionary is returned when no source could be loaded.
	ErrNoDictionary = errors.New("dictionary: no dictionary source could be loaded")
)

// Snapshot is an immutable merged dictionary. It implements
// segmenter.Lexicon through Contains.
type Snapshot struct {
	entries    map[string][]Candidate
	readings   []string // sorted
	maxLen     int
	candidates int
	sources    []string
}

func newSnapshot(t *Table, sources []string) *Snapshot {
	s := &Snapshot{
		entries:    make(map[string][]Candidate, t.Len()),
		readings:   make([]string, 0, t.Len()),
		candidates: t.Candidates(),
		sources:    sources,
	}
	for _, reading := range t.order {
		s.entries[reading] = ranked(t.entries[reading].cands)
		s.readings = append(s.readings, reading)
		s.maxLen = max(s.maxLen, len([]rune(reading)))
	}
	sort.Strings(s.readings)
	return s
}

// Lookup returns the ranked candidates for reading. The slice is a copy.
func (s *Snapshot) Lookup(reading string) []Candidate {
	return append([]Candidate(nil), s.entries[reading]...)
}

// Contains reports whether reading has at least one candidate.
func (s *Snapshot) Contains(reading string) bool {
	_, ok := s.entries[reading]
	return ok
}

// Readings returns every reading in sorted order.
func (s *Snapshot) Readings() []string {
	return append([]string(nil), s.readings...)
}

// Stats summarizes the snapshot.
func (s *Snapshot) Stats() Stats {
	return Stats{
		Readings:   len(s.readings),
		Candidates: s.candidates,
		MaxLength:  s.maxLen,
		Sources:    append([]string(nil), s.sources...),
	}
}

// Stats describes a merged dictionary.
type Stats struct {
	Readings   int      `json:"readings"`
	Candidates int      `json:"candidates"`
	MaxLength  int      `json:"max_length"`
	Sources    []string `json:"sources"`
}

// LoadResult reports a completed load.
type LoadResult struct {
	Stats
	Failed   []string
	Duration time.Duration
}

// Store serves lookups from the current snapshot while reloads build the
// next one. Parsing happens without the lock; the write lock is held only
// to install the merged snapshot. Loads are serialized by loadMu so swaps
// and their hooks run in the same order.
type Store struct {
	policy MergePolicy

	loadMu sync.Mutex

	mu     sync.RWMutex
	snap   *Snapshot
	ready  bool
	onSwap []func(*Snapshot)
}

// NewStore returns an empty, not-ready store.
func NewStore(policy MergePolicy) *Store {
	return &Store{policy: policy}
}

// OnSwap registers fn to run after every snapshot installation.
func (s *Store) OnSwap(fn func(*Snapshot)) {
	s.mu.Lock()
	s.onSwap = append(s.onSwap, fn)
	s.mu.Unlock()
}

// LoadTables parses all sources concurrently and merges them in the
// given order. Sources that fail to load are logged, reported in failed
// and skipped; ErrNoDictionary is returned when none loaded.
func LoadTables(ctx context.Context, policy MergePolicy, sources ...Source) (merged *Table, loaded, failed []string, err error) {
	tables := make([]*Table, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			t, err := src.Load(gctx, policy)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				errs[i] = err
				return nil
			}
			tables[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, fmt.Errorf("dictionary: load: %w", err)
	}

	merged = NewTable(policy)
	for i, src := range sources {
		if errs[i] != nil {
			slog.Warn("Cannot load dictionary", "source", src.Name(), "error", errs[i])
			failed = append(failed, src.Name())
			continue
		}
		merged.Merge(tables[i])
		loaded = append(loaded, src.Name())
	}
	if len(loaded) == 0 {
		return nil, nil, failed, ErrNoDictionary
	}
	return merged, loaded, failed, nil
}

// Load merges the sources with LoadTables and installs the result. The
// previous snapshot keeps serving until the swap. When no source loads
// and nothing was installed yet, an empty snapshot is installed so the
// store still becomes ready; ErrNoDictionary is returned either way.
func (s *Store) Load(ctx context.Context, sources ...Source) (*LoadResult, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	start := time.Now()
	merged, loaded, failed, err := LoadTables(ctx, s.policy, sources...)
	if err != nil {
		if errors.Is(err, ErrNoDictionary) && !s.Ready() {
			s.install(newSnapshot(NewTable(s.policy), nil))
		}
		return &LoadResult{Failed: failed, Duration: time.Since(start)}, err
	}

	snap := newSnapshot(merged, loaded)
	s.install(snap)

	res := &LoadResult{Stats: snap.Stats(), Failed: failed, Duration: time.Since(start)}
	slog.Debug("Dictionary loaded",
		"readings", res.Readings,
		"candidates", res.Candidates,
		"failed", len(failed),
		"duration", res.Duration)
	return res, nil
}

// install swaps snap in and runs the hooks. Callers hold loadMu.
func (s *Store) install(snap *Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.ready = true
	hooks := slices.Clone(s.onSwap)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn(snap)
	}
}

// LoadAsync runs Load on a new goroutine. The channel receives the load
// error (nil on success) and is then closed.
func (s *Store) LoadAsync(ctx context.Context, sources ...Source) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := s.Load(ctx, sources...)
		done <- err
	}()
	return done
}

// Ready reports whether a snapshot has been installed.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Snapshot returns the current snapshot, or ErrNotReady.
func (s *Store) Snapshot() (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return nil, ErrNotReady
	}
	return s.snap, nil
}

// Lookup returns ranked candidates for reading, or ErrNotReady. A miss
// yields an empty result and no error.
func (s *Store) Lookup(reading string) ([]Candidate, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Lookup(reading), nil
}
