// Package matcher decides whether a request is allowed, blocked or sanitized
// against a compiled index.
package matcher

import (
	"strings"
	"sync"

	"github.com/bnema/wave-shield/internal/index"
	"github.com/bnema/wave-shield/internal/models"
)

// Result is the outcome of matching one request
type Result struct {
	Decision models.Decision
	Rule     *models.FilterRule // rule that produced the decision, if any
	Err      error              // normalization fault; Decision is Allow
}

// Policy aggregates the rules matching a request into a decision
type Policy interface {
	// Final reports whether a match settles the request, skipping the
	// remaining candidates
	Final(e *index.Entry) bool
	// Resolve turns the matches, in rule order, into a decision and the
	// entry reported for it
	Resolve(matches []*index.Entry) (models.Decision, *index.Entry)
}

// ExceptionFirst is the default policy: any matching exception allows the
// request, otherwise a plain blocking match blocks it, otherwise a
// sanitizing match sanitizes it. Within a kind the first rule wins.
type ExceptionFirst struct{}

// Final implements Policy
func (ExceptionFirst) Final(e *index.Entry) bool {
	return e.Rule.Exception
}

// Resolve implements Policy
func (ExceptionFirst) Resolve(matches []*index.Entry) (models.Decision, *index.Entry) {
	var block, strip *index.Entry
	for _, e := range matches {
		switch {
		case e.Rule.Exception:
			return models.Allow, e
		case e.Sanitize:
			if strip == nil {
				strip = e
			}
		default:
			if block == nil {
				block = e
			}
		}
	}
	if block != nil {
		return models.Block, block
	}
	if strip != nil {
		return models.Sanitize, strip
	}
	return models.Allow, nil
}

// Matcher evaluates requests. It holds no per-request state and is safe for
// concurrent use.
type Matcher struct {
	policy Policy
	bufs   sync.Pool
}

// New creates a matcher. A nil policy selects ExceptionFirst.
func New(policy Policy) *Matcher {
	if policy == nil {
		policy = ExceptionFirst{}
	}
	return &Matcher{
		policy: policy,
		bufs: sync.Pool{New: func() any {
			b := make([]int, 0, 64)
			return &b
		}},
	}
}

var defaultMatcher = New(nil)

// Decide matches req against ix with the default policy
func Decide(ix *index.Index, req models.Request) Result {
	return defaultMatcher.Decide(ix, req)
}

// Decide matches req against ix. It never panics on bad input: a request
// that cannot be normalized is allowed and the fault is returned in
// Result.Err.
func (m *Matcher) Decide(ix *index.Index, req models.Request) Result {
	n, err := Normalize(req)
	if err != nil {
		return Result{Decision: models.Allow, Err: err}
	}
	if ix.Len() == 0 {
		return Result{Decision: models.Allow}
	}

	return m.decide(ix, n)
}

func (m *Matcher) decide(ix *index.Index, n *Normalized) Result {
	bp := m.bufs.Get().(*[]int)
	defer m.bufs.Put(bp)

	*bp = ix.Candidates(n.Host, n.URL, *bp)

	var matches []*index.Entry
	for _, id := range *bp {
		e := ix.Entry(id)
		if !Applies(e, n) {
			continue
		}
		matches = append(matches, e)
		if m.policy.Final(e) {
			break
		}
	}

	d, e := m.policy.Resolve(matches)
	res := Result{Decision: d}
	if e != nil {
		res.Rule = &e.Rule
	}
	return res
}

// Applies evaluates the rule predicates cheapest first: resource type,
// source domain, third-party, then the URL pattern
func Applies(e *index.Entry, n *Normalized) bool {
	r := &e.Rule
	if !r.ResourceTypes.Has(n.Type) {
		return false
	}
	if !domainAllowed(r.Domains, n.SourceHost) {
		return false
	}
	if r.ThirdPartyOnly && !n.ThirdParty {
		return false
	}
	return MatchPattern(e, n)
}

func domainAllowed(dc models.DomainConstraints, host string) bool {
	for _, d := range dc.Excluded {
		if isSubdomain(host, d) {
			return false
		}
	}
	if len(dc.Included) == 0 {
		return true
	}
	for _, d := range dc.Included {
		if isSubdomain(host, d) {
			return true
		}
	}
	return false
}

// isSubdomain reports whether host equals domain or is below it
func isSubdomain(host, domain string) bool {
	return host == domain ||
		(strings.HasSuffix(host, domain) && host[len(host)-len(domain)-1] == '.')
}
