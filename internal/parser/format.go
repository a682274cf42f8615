package parser

import (
	"slices"
	"strings"
	"unicode"

	"github.com/bnema/wave-shield/internal/models"
)

// Format serializes a rule back into list syntax. Parsing the result yields a
// rule equivalent to r.
func Format(r models.FilterRule) string {
	var sb strings.Builder

	if r.Exception {
		sb.WriteString("@@")
	}
	if r.HostAnchor {
		sb.WriteString("||")
	} else if r.StartAnchor {
		sb.WriteString("|")
	}

	pattern := formatTokens(r.Tokens)
	if !r.HostAnchor && !r.StartAnchor && needsLeadingWildcard(pattern, r.Exception) {
		pattern = "*" + pattern
	}
	if !r.EndAnchor && needsTrailingWildcard(pattern) {
		pattern += "*"
	}
	sb.WriteString(pattern)

	if r.EndAnchor {
		sb.WriteByte('|')
	}

	opts := formatOptions(r)
	switch {
	case len(opts) > 0:
		sb.WriteByte('$')
		sb.WriteString(strings.Join(opts, ","))
	case strings.Contains(pattern, "$"):
		// empty option list, so the last '$' of the literal is not read as one
		sb.WriteByte('$')
	}

	return sb.String()
}

func formatTokens(tokens []models.Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		switch t.Kind {
		case models.TokenLiteral:
			sb.WriteString(t.Text)
		case models.TokenWildcard:
			sb.WriteByte('*')
		case models.TokenSeparator:
			sb.WriteByte('^')
		}
	}
	return sb.String()
}

// needsLeadingWildcard reports whether an unanchored pattern would be read
// back as an anchor, comment, header or exception marker. Leading wildcards
// are dropped again on parse.
func needsLeadingWildcard(pattern string, exception bool) bool {
	if pattern == "" {
		return false
	}
	switch {
	case pattern[0] == '|', strings.TrimLeftFunc(pattern, unicode.IsSpace) != pattern:
		return true
	case exception:
		return false
	}
	return pattern[0] == '!' || pattern[0] == '[' || strings.HasPrefix(pattern, "@@")
}

// needsTrailingWildcard reports whether a pattern without end anchor would be
// read back as an end anchor, a regex, an escaped option separator or lose
// trailing space. Trailing wildcards are dropped again on parse.
func needsTrailingWildcard(pattern string) bool {
	if pattern == "" {
		return false
	}
	switch last := pattern[len(pattern)-1]; {
	case last == '|', last == '\\', strings.TrimRightFunc(pattern, unicode.IsSpace) != pattern:
		return true
	}
	return isRegex(pattern)
}

func formatOptions(r models.FilterRule) []string {
	var opts []string

	for _, t := range r.ResourceTypes.Types() {
		opts = append(opts, t.String())
	}
	if r.ThirdPartyOnly {
		opts = append(opts, "third-party")
	}
	if r.Strip {
		opts = append(opts, "strip")
	}
	if !r.Domains.IsEmpty() {
		entries := make([]string, 0, len(r.Domains.Included)+len(r.Domains.Excluded))
		entries = append(entries, r.Domains.Included...)
		for _, d := range r.Domains.Excluded {
			entries = append(entries, "~"+d)
		}
		opts = append(opts, "domain="+strings.Join(entries, "|"))
	}

	return opts
}

// Equivalent reports whether two rules have identical matching semantics.
// Raw text is ignored.
func Equivalent(a, b models.FilterRule) bool {
	a.Raw, b.Raw = "", ""
	return slices.Equal(a.Tokens, b.Tokens) &&
		a.Exception == b.Exception &&
		a.HostAnchor == b.HostAnchor &&
		a.StartAnchor == b.StartAnchor &&
		a.EndAnchor == b.EndAnchor &&
		a.ResourceTypes == b.ResourceTypes &&
		a.ThirdPartyOnly == b.ThirdPartyOnly &&
		a.Strip == b.Strip &&
		slices.Equal(a.Domains.Included, b.Domains.Included) &&
		slices.Equal(a.Domains.Excluded, b.Domains.Excluded)
}
