// Package index compiles parsed filter rules into an immutable lookup
// structure. Rules are bucketed by a discriminator, a literal fragment that
// must occur in any URL the rule can match, so a request only has to look at
// the rules whose discriminator occurs in it.
package index

import (
	"slices"

	"github.com/cloudflare/ahocorasick"

	"github.com/bnema/wave-shield/internal/models"
)

// Entry is a compiled rule
type Entry struct {
	ID       int // position in the compiled rule order
	Rule     models.FilterRule
	Segments [][]models.Token // pattern split at wildcards
	Sanitize bool             // blocking rule that strips instead of blocks
	Key      string           // discriminator, empty for fallback rules
	HostKey  bool             // Key is matched against the host only
}

// table maps discriminator keys to rule ids and finds every key occurring in
// an input with a single automaton pass
type table struct {
	keys    []string
	buckets [][]int
	ac      *ahocorasick.Matcher
}

func newTable(buckets map[string][]int) table {
	var t table
	if len(buckets) == 0 {
		return t
	}
	t.keys = make([]string, 0, len(buckets))
	for k := range buckets {
		t.keys = append(t.keys, k)
	}
	slices.Sort(t.keys)
	t.buckets = make([][]int, len(t.keys))
	for i, k := range t.keys {
		t.buckets[i] = buckets[k]
	}
	t.ac = ahocorasick.NewStringMatcher(t.keys)
	return t
}

func (t *table) collect(input string, dst []int) []int {
	if t.ac == nil || input == "" {
		return dst
	}
	for _, hit := range t.ac.MatchThreadSafe([]byte(input)) {
		dst = append(dst, t.buckets[hit]...)
	}
	return dst
}

// Index is the compiled, read-only rule set. It is safe for concurrent use.
type Index struct {
	entries  []Entry
	host     table
	url      table
	fallback []int
}

// Stats describes an index
type Stats struct {
	Rules      int `json:"rules"`
	Exceptions int `json:"exceptions"`
	Sanitizing int `json:"sanitizing"`
	HostKeys   int `json:"host_keys"`
	URLKeys    int `json:"url_keys"`
	Fallback   int `json:"fallback"`
}

// Empty returns an index without rules
func Empty() *Index {
	return &Index{}
}

// Len returns the number of compiled rules
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// Entry returns the compiled rule with the given id
func (ix *Index) Entry(id int) *Entry {
	return &ix.entries[id]
}

// Bucket returns the ids of rules keyed by key, in rule order
func (ix *Index) Bucket(key string, onHost bool) []int {
	t := &ix.url
	if onHost {
		t = &ix.host
	}
	if i, ok := slices.BinarySearch(t.keys, key); ok {
		return t.buckets[i]
	}
	return nil
}

// Fallback returns the ids of rules without a discriminator
func (ix *Index) Fallback() []int {
	return ix.fallback
}

// Candidates returns, in rule order, the ids of every rule that may match a
// request with the given lower-cased host and URL. dst is reused if it has
// capacity.
func (ix *Index) Candidates(host, url string, dst []int) []int {
	dst = dst[:0]
	if ix == nil {
		return dst
	}
	dst = ix.host.collect(host, dst)
	dst = ix.url.collect(url, dst)
	dst = append(dst, ix.fallback...)
	slices.Sort(dst)
	return slices.Compact(dst)
}

// Stats returns index statistics
func (ix *Index) Stats() Stats {
	if ix == nil {
		return Stats{}
	}
	s := Stats{
		Rules:    len(ix.entries),
		HostKeys: len(ix.host.keys),
		URLKeys:  len(ix.url.keys),
		Fallback: len(ix.fallback),
	}
	for i := range ix.entries {
		if ix.entries[i].Rule.Exception {
			s.Exceptions++
		}
		if ix.entries[i].Sanitize {
			s.Sanitizing++
		}
	}
	return s
}
