// Package store owns the active compiled index and swaps it atomically on
// reload.
package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/wave-shield/internal/index"
	"github.com/bnema/wave-shield/internal/models"
	"github.com/bnema/wave-shield/internal/parser"
	"github.com/bnema/wave-shield/internal/sanitizer"
)

// CompileFunc builds an index from parsed rules
type CompileFunc func(rules []models.FilterRule) (*index.Index, error)

// LoadResult summarizes a reload
type LoadResult struct {
	Accepted    int            `json:"accepted"`
	Skipped     int            `json:"skipped"`
	Duplicates  int            `json:"duplicates"`
	SkipReasons map[string]int `json:"skip_reasons,omitempty"`
	Index       index.Stats    `json:"index"`
	Generation  uint64         `json:"generation"`
	Duration    time.Duration  `json:"duration"`
}

// snapshot is what readers load atomically
type snapshot struct {
	ix         *index.Index
	generation uint64
	loadedAt   time.Time
}

// Store holds the active index. Readers never lock; Load compiles a new
// index privately and publishes it with one pointer swap.
type Store struct {
	active  atomic.Pointer[snapshot]
	writeMu sync.Mutex // serializes the swap between concurrent Load calls
	compile CompileFunc
	log     zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithRegistry sets the tracking parameter registry used to detect
// sanitizing rules
func WithRegistry(params *sanitizer.Registry) Option {
	return func(s *Store) {
		s.compile = func(rules []models.FilterRule) (*index.Index, error) {
			return index.NewCompiler(params).Compile(rules)
		}
	}
}

// WithCompileFunc replaces the compile step, e.g. to inject failures
func WithCompileFunc(fn CompileFunc) Option {
	return func(s *Store) {
		s.compile = fn
	}
}

// WithLogger sets the logger for reload events
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// New creates a store with an empty index installed
func New(opts ...Option) *Store {
	s := &Store{log: zerolog.Nop(), compile: index.Compile}
	for _, opt := range opts {
		opt(s)
	}
	s.active.Store(&snapshot{ix: index.Empty(), loadedAt: time.Now()})
	return s
}

// Active returns the current index. The result stays valid and unchanged for
// as long as the caller holds it, even across reloads.
func (s *Store) Active() *index.Index {
	return s.active.Load().ix
}

// Generation returns how many reloads have been installed
func (s *Store) Generation() uint64 {
	return s.active.Load().generation
}

// LoadedAt returns when the active index was installed
func (s *Store) LoadedAt() time.Time {
	return s.active.Load().loadedAt
}

// Load parses and compiles lines and installs the result. A batch without
// valid rules installs an empty index. On a compilation error the previous
// index stays active.
func (s *Store) Load(lines []string) (LoadResult, error) {
	start := time.Now()

	p := parser.New()
	rules, skipped := p.Parse(lines)

	ix, err := s.compile(rules)
	if err != nil {
		s.log.Error().Err(err).Int("rules", len(rules)).Msg("filter compilation failed, keeping active index")
		return LoadResult{}, fmt.Errorf("compile filters: %w", err)
	}
	if ix == nil {
		ix = index.Empty()
	}

	s.writeMu.Lock()
	gen := s.active.Load().generation + 1
	s.active.Store(&snapshot{ix: ix, generation: gen, loadedAt: time.Now()})
	s.writeMu.Unlock()

	res := LoadResult{
		Accepted:    len(rules),
		Skipped:     skipped,
		Duplicates:  len(rules) - ix.Len(),
		SkipReasons: p.Stats().SkipReasons,
		Index:       ix.Stats(),
		Generation:  gen,
		Duration:    time.Since(start),
	}

	s.log.Info().
		Uint64("generation", gen).
		Int("accepted", res.Accepted).
		Int("skipped", res.Skipped).
		Int("host_keys", res.Index.HostKeys).
		Int("url_keys", res.Index.URLKeys).
		Int("fallback", res.Index.Fallback).
		Dur("took", res.Duration).
		Msg("filters installed")

	return res, nil
}
