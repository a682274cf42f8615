// Package sanitizer strips known tracking parameters from URLs.
package sanitizer

import (
	"net/url"
	"strings"
)

// Built-in tracking parameters. Names are lower-case.
var (
	defaultParams = []string{
		// click ids
		"fbclid", "gclid", "gclsrc", "dclid", "gbraid", "wbraid", "msclkid",
		"yclid", "twclid", "ttclid", "igshid", "li_fat_id", "epik",
		// mail campaigns
		"mc_cid", "mc_eid", "_hsenc", "_hsmi", "mkt_tok", "oly_anon_id", "oly_enc_id",
		// referral ids
		"ref_src", "ref_url", "spm", "scm", "vero_id", "rb_clickid",
	}
	defaultPrefixes = []string{"utm_", "pk_", "mtm_", "hsa_", "itm_"}
)

// Registry is an immutable set of tracking parameter names and name prefixes
type Registry struct {
	names    map[string]struct{}
	prefixes []string
}

var defaultRegistry = New()

// Default returns the built-in registry
func Default() *Registry {
	return defaultRegistry
}

// New creates a registry with the built-in parameters plus extra names. An
// extra entry ending in '*' is registered as a prefix.
func New(extra ...string) *Registry {
	r := &Registry{
		names:    make(map[string]struct{}, len(defaultParams)+len(extra)),
		prefixes: append([]string(nil), defaultPrefixes...),
	}
	for _, n := range defaultParams {
		r.names[n] = struct{}{}
	}
	for _, n := range extra {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if strings.HasSuffix(n, "*") {
			r.prefixes = append(r.prefixes, strings.TrimSuffix(n, "*"))
			continue
		}
		r.names[n] = struct{}{}
	}
	return r
}

// IsTracking reports whether a query key is a tracking parameter
func (r *Registry) IsTracking(key string) bool {
	if k, err := url.QueryUnescape(key); err == nil {
		key = k
	}
	key = strings.ToLower(key)
	if _, ok := r.names[key]; ok {
		return true
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(key, p) && len(key) > len(p) {
			return true
		}
	}
	return false
}

// ReferencesParam reports whether text contains "<tracking-param>=", e.g. a
// rule literal like "?utm_source=".
func (r *Registry) ReferencesParam(text string) bool {
	text = strings.ToLower(text)
	for {
		eq := strings.IndexByte(text, '=')
		if eq < 0 {
			return false
		}
		start := strings.LastIndexAny(text[:eq], "?&;/")
		if key := text[start+1 : eq]; key != "" && r.IsTracking(key) {
			return true
		}
		text = text[eq+1:]
	}
}

// Sanitize removes tracking parameters with the default registry
func Sanitize(rawURL string) string {
	return defaultRegistry.Sanitize(rawURL)
}

// Sanitize removes tracking query pairs from rawURL. Remaining pairs keep
// their order and encoding; everything outside the query is unchanged.
func (r *Registry) Sanitize(rawURL string) string {
	q := strings.IndexByte(rawURL, '?')
	if q < 0 {
		return rawURL
	}
	end := len(rawURL)
	if h := strings.IndexByte(rawURL, '#'); h >= 0 {
		if h < q {
			return rawURL // '?' belongs to the fragment
		}
		end = h
	}

	query := rawURL[q+1 : end]
	pairs := strings.Split(query, "&")
	kept := pairs[:0:0]
	removed := false
	for _, pair := range pairs {
		key, _, _ := strings.Cut(pair, "=")
		if key != "" && r.IsTracking(key) {
			removed = true
			continue
		}
		kept = append(kept, pair)
	}
	if !removed {
		return rawURL
	}

	var sb strings.Builder
	sb.Grow(len(rawURL))
	sb.WriteString(rawURL[:q])
	if rest := strings.Join(kept, "&"); strings.Trim(rest, "&") != "" {
		sb.WriteByte('?')
		sb.WriteString(rest)
	}
	sb.WriteString(rawURL[end:])
	return sb.String()
}
