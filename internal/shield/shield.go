// Package shield is the entry point used by the navigation pipeline: it loads
// filter lists and answers, for every outgoing request, whether to allow,
// block or sanitize it.
package shield

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/wave-shield/internal/index"
	"github.com/bnema/wave-shield/internal/matcher"
	"github.com/bnema/wave-shield/internal/metrics"
	"github.com/bnema/wave-shield/internal/models"
	"github.com/bnema/wave-shield/internal/parser"
	"github.com/bnema/wave-shield/internal/sanitizer"
	"github.com/bnema/wave-shield/internal/store"
)

// DiagnosticFunc receives requests that were allowed because of a fault
type DiagnosticFunc func(req models.Request, err error)

// Verdict is a decision together with what the caller should load
type Verdict struct {
	Decision models.Decision `json:"decision"`
	URL      string          `json:"url"`            // sanitized on Sanitize, otherwise the input
	Rule     string          `json:"rule,omitempty"` // matching rule in list syntax
	Err      error           `json:"-"`
}

// Stats describes the shield state
type Stats struct {
	Enabled    bool        `json:"enabled"`
	Generation uint64      `json:"generation"`
	LoadedAt   time.Time   `json:"loaded_at"`
	Index      index.Stats `json:"index"`
}

// Shield owns one filter store. Create one per pipeline; there is no global
// instance.
type Shield struct {
	store    *store.Store
	matcher  *matcher.Matcher
	params   *sanitizer.Registry
	metrics  *metrics.Collector
	log      zerolog.Logger
	onFault  DiagnosticFunc
	enabled  atomic.Bool
	policy   matcher.Policy
	storeOps []store.Option
}

// Option configures a Shield
type Option func(*Shield)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Shield) { s.log = l }
}

// WithMetrics records decisions and reloads in c
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Shield) { s.metrics = c }
}

// WithRegistry sets the tracking parameter registry for sanitizing
func WithRegistry(r *sanitizer.Registry) Option {
	return func(s *Shield) { s.params = r }
}

// WithPolicy replaces the default exception-first policy
func WithPolicy(p matcher.Policy) Option {
	return func(s *Shield) { s.policy = p }
}

// WithDiagnostics registers a callback for fail-open faults
func WithDiagnostics(fn DiagnosticFunc) Option {
	return func(s *Shield) { s.onFault = fn }
}

// WithStoreOptions passes options through to the filter store
func WithStoreOptions(opts ...store.Option) Option {
	return func(s *Shield) { s.storeOps = append(s.storeOps, opts...) }
}

// New creates an enabled shield with an empty rule set
func New(opts ...Option) *Shield {
	s := &Shield{
		params: sanitizer.Default(),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.matcher = matcher.New(s.policy)
	s.store = store.New(append([]store.Option{
		store.WithRegistry(s.params),
		store.WithLogger(s.log),
	}, s.storeOps...)...)
	s.enabled.Store(true)
	return s
}

// LoadFilters compiles lines and atomically installs them as the active rule
// set
func (s *Shield) LoadFilters(lines []string) (store.LoadResult, error) {
	res, err := s.store.Load(lines)
	if s.metrics != nil {
		s.metrics.ObserveReload(res.Accepted-res.Duplicates, res.Generation, err)
	}
	return res, err
}

// ShouldAllowRequest decides on one outgoing request
func (s *Shield) ShouldAllowRequest(url, sourceURL string, rt models.ResourceType) models.Decision {
	return s.Filter(url, sourceURL, rt).Decision
}

// Filter decides on one outgoing request and returns the URL to load
func (s *Shield) Filter(url, sourceURL string, rt models.ResourceType) Verdict {
	v := Verdict{Decision: models.Allow, URL: url}
	if !s.enabled.Load() {
		return v
	}

	req := models.Request{URL: url, SourceURL: sourceURL, ResourceType: rt}
	res := s.matcher.Decide(s.store.Active(), req)

	v.Decision = res.Decision
	if res.Rule != nil {
		v.Rule = parser.Format(*res.Rule)
	}
	if res.Err != nil {
		v.Err = res.Err
		s.fault(req, res.Err)
	}
	if v.Decision == models.Sanitize {
		v.URL = s.params.Sanitize(url)
	}

	if s.metrics != nil {
		s.metrics.ObserveDecision(v.Decision)
	}
	return v
}

func (s *Shield) fault(req models.Request, err error) {
	s.log.Debug().Err(err).Str("url", req.URL).Str("source", req.SourceURL).Msg("request allowed on normalization fault")
	if s.metrics != nil {
		s.metrics.IncFault()
	}
	if s.onFault != nil {
		s.onFault(req, err)
	}
}

// Sanitize strips tracking parameters from url
func (s *Shield) Sanitize(url string) string {
	return s.params.Sanitize(url)
}

// SetEnabled switches filtering on or off. A disabled shield allows
// everything.
func (s *Shield) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Enabled reports whether filtering is on
func (s *Shield) Enabled() bool {
	return s.enabled.Load()
}

// Stats returns the shield state
func (s *Shield) Stats() Stats {
	return Stats{
		Enabled:    s.enabled.Load(),
		Generation: s.store.Generation(),
		LoadedAt:   s.store.LoadedAt(),
		Index:      s.store.Active().Stats(),
	}
}
