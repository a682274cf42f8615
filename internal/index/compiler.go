package index

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/wave-shield/internal/models"
	"github.com/bnema/wave-shield/internal/sanitizer"
)

// MinURLKeyLen is the shortest literal usable as a URL discriminator
const MinURLKeyLen = 3

// ErrEmptyDiscriminator is returned when a keyed rule ends up without a key
var ErrEmptyDiscriminator = errors.New("empty discriminator for keyed rule")

// Compiler builds an Index from parsed rules
type Compiler struct {
	params *sanitizer.Registry
	stats  Stats
	dupes  int
}

// NewCompiler creates a compiler. params decides which blocking rules
// reference tracking parameters; nil selects the built-in registry.
func NewCompiler(params *sanitizer.Registry) *Compiler {
	if params == nil {
		params = sanitizer.Default()
	}
	return &Compiler{params: params}
}

// Compile builds an index with the built-in tracking parameter registry
func Compile(rules []models.FilterRule) (*Index, error) {
	return NewCompiler(nil).Compile(rules)
}

// Duplicates returns how many rules the last Compile dropped as duplicates
func (c *Compiler) Duplicates() int {
	return c.dupes
}

// Stats returns the statistics of the last compiled index
func (c *Compiler) Stats() Stats {
	return c.stats
}

// Compile transforms parsed rules into an index. The result depends only on
// the rule sequence: rule ids follow input order after duplicates (rules
// with identical matching semantics) are dropped.
func (c *Compiler) Compile(rules []models.FilterRule) (*Index, error) {
	rules, c.dupes = Deduplicate(rules)

	ix := &Index{entries: make([]Entry, 0, len(rules))}
	hostBuckets := make(map[string][]int)
	urlBuckets := make(map[string][]int)

	for _, r := range rules {
		e := Entry{
			ID:       len(ix.entries),
			Rule:     r,
			Segments: splitSegments(r.Tokens),
			Sanitize: c.isSanitizing(r),
		}
		e.Key, e.HostKey = Discriminator(r)
		if e.HostKey && e.Key == "" {
			return nil, fmt.Errorf("rule %q: %w", r.Raw, ErrEmptyDiscriminator)
		}
		ix.entries = append(ix.entries, e)

		switch {
		case e.HostKey:
			hostBuckets[e.Key] = append(hostBuckets[e.Key], e.ID)
		case e.Key != "":
			urlBuckets[e.Key] = append(urlBuckets[e.Key], e.ID)
		default:
			ix.fallback = append(ix.fallback, e.ID)
		}
	}

	ix.host = newTable(hostBuckets)
	ix.url = newTable(urlBuckets)
	c.stats = ix.Stats()

	return ix, nil
}

// isSanitizing marks blocking rules that strip parameters instead of
// blocking: explicit $strip rules and rules aimed at tracking parameters
func (c *Compiler) isSanitizing(r models.FilterRule) bool {
	if r.Exception {
		return false
	}
	if r.Strip {
		return true
	}
	for _, lit := range r.Literals() {
		if c.params.ReferencesParam(lit) {
			return true
		}
	}
	return false
}

// Discriminator derives the lookup key of a rule. Host-anchored rules use the
// host part of the literal right after the anchor and are looked up in the
// request host; other rules use their first literal of at least MinURLKeyLen
// bytes, looked up in the whole URL. An empty key means the fallback bucket.
func Discriminator(r models.FilterRule) (key string, onHost bool) {
	if r.HostAnchor && len(r.Tokens) > 0 && r.Tokens[0].Kind == models.TokenLiteral {
		lit := r.Tokens[0].Text
		if i := strings.IndexAny(lit, "/:?=&"); i >= 0 {
			lit = lit[:i]
		}
		if lit != "" {
			return lit, true
		}
	}

	for _, t := range r.Tokens {
		if t.Kind == models.TokenLiteral && len(t.Text) >= MinURLKeyLen {
			return t.Text, false
		}
	}
	return "", false
}

// splitSegments splits tokens at wildcards. Leading or trailing wildcards
// produce empty segments.
func splitSegments(tokens []models.Token) [][]models.Token {
	segments := [][]models.Token{nil}
	for _, t := range tokens {
		if t.Kind == models.TokenWildcard {
			segments = append(segments, nil)
			continue
		}
		last := len(segments) - 1
		segments[last] = append(segments[last], t)
	}
	return segments
}

// Deduplicate removes rules that match exactly the same requests as an
// earlier rule, keeping the first occurrence
func Deduplicate(rules []models.FilterRule) ([]models.FilterRule, int) {
	seen := make(map[string]bool, len(rules))
	result := make([]models.FilterRule, 0, len(rules))

	for _, r := range rules {
		key := ruleKey(r)
		if !seen[key] {
			seen[key] = true
			result = append(result, r)
		}
	}

	return result, len(rules) - len(result)
}

// ruleKey encodes every field parser.Equivalent compares. Literals are quoted
// so that no two distinct token sequences share a key.
func ruleKey(r models.FilterRule) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%t %t %t %t %d %t %t",
		r.Exception, r.HostAnchor, r.StartAnchor, r.EndAnchor,
		r.ResourceTypes, r.ThirdPartyOnly, r.Strip)
	for _, t := range r.Tokens {
		fmt.Fprintf(&sb, " %d%q", t.Kind, t.Text)
	}
	fmt.Fprintf(&sb, " %q %q", r.Domains.Included, r.Domains.Excluded)
	return sb.String()
}
