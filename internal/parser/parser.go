package parser

import (
	"bufio"
	"io"
	"slices"
	"strings"

	"github.com/bnema/wave-shield/internal/models"
)

// Parser parses ABP/uBlock network filter lines
type Parser struct {
	stats Stats
}

// Stats tracks parsing statistics
type Stats struct {
	Total       int
	Network     int
	Exception   int
	Comments    int
	Skipped     int
	SkipReasons map[string]int // Detailed breakdown of skipped lines
}

// SkipReason constants
const (
	SkipCosmetic          = "cosmetic (##, #@#, #?#)"
	SkipRegex             = "regex-pattern (/.../)"
	SkipNoLiteral         = "no-literal-token"
	SkipUnsupportedOpt    = "unsupported-option"
	SkipEmptyDomain       = "empty-domain-option"
	SkipConflictingDomain = "conflicting-domain"
)

// lineKind classifies a line before it is counted
type lineKind int

const (
	lineBlank lineKind = iota
	lineComment
	lineRule
	lineSkipped
)

// New creates a new parser
func New() *Parser {
	return &Parser{
		stats: Stats{
			SkipReasons: make(map[string]int),
		},
	}
}

// Stats returns parsing statistics
func (p *Parser) Stats() Stats {
	s := p.stats
	s.SkipReasons = make(map[string]int, len(p.stats.SkipReasons))
	for k, v := range p.stats.SkipReasons {
		s.SkipReasons[k] = v
	}
	return s
}

// Parse is a convenience wrapper that parses lines with a fresh parser
func Parse(lines []string) ([]models.FilterRule, int) {
	return New().Parse(lines)
}

// Parse turns raw list lines into rules. Malformed lines are counted in the
// returned skipped total and never abort the batch.
func (p *Parser) Parse(lines []string) ([]models.FilterRule, int) {
	var rules []models.FilterRule
	skipped := 0

	for _, line := range lines {
		rule, kind := p.add(line)
		switch kind {
		case lineRule:
			rules = append(rules, rule)
		case lineSkipped:
			skipped++
		}
	}

	return rules, skipped
}

// ParseReader reads filter content line by line
func (p *Parser) ParseReader(r io.Reader) ([]models.FilterRule, int, error) {
	var rules []models.FilterRule
	skipped := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		rule, kind := p.add(scanner.Text())
		switch kind {
		case lineRule:
			rules = append(rules, rule)
		case lineSkipped:
			skipped++
		}
	}

	return rules, skipped, scanner.Err()
}

// add parses one line and updates statistics
func (p *Parser) add(line string) (models.FilterRule, lineKind) {
	rule, kind, reason := parseLine(strings.TrimSpace(line))
	if kind == lineBlank {
		return rule, kind
	}
	p.stats.Total++

	switch kind {
	case lineComment:
		p.stats.Comments++
	case lineSkipped:
		p.stats.Skipped++
		p.stats.SkipReasons[reason]++
	case lineRule:
		if rule.Exception {
			p.stats.Exception++
		} else {
			p.stats.Network++
		}
	}
	return rule, kind
}

// ParseLine parses a single line. ok is false for blank, comment and
// malformed lines; reason is set for the latter.
func ParseLine(line string) (rule models.FilterRule, ok bool, reason string) {
	rule, kind, reason := parseLine(strings.TrimSpace(line))
	return rule, kind == lineRule, reason
}

// parseLine parses a single trimmed filter line
func parseLine(line string) (models.FilterRule, lineKind, string) {
	if line == "" {
		return models.FilterRule{}, lineBlank, ""
	}

	// Comments and list headers
	if strings.HasPrefix(line, "!") || strings.HasPrefix(line, "[") {
		return models.FilterRule{}, lineComment, ""
	}

	if isCosmetic(line) {
		return models.FilterRule{}, lineSkipped, SkipCosmetic
	}

	rule := models.FilterRule{Raw: line}
	body := line

	// Exception rules (allowlist)
	if strings.HasPrefix(body, "@@") {
		rule.Exception = true
		body = body[2:]
	}

	pattern := body
	if idx := strings.LastIndex(body, "$"); idx != -1 {
		// Check it's not escaped or part of regex
		if idx == 0 || body[idx-1] != '\\' {
			optPart := body[idx+1:]
			if !strings.HasPrefix(optPart, "/") {
				pattern = body[:idx]
				if reason := parseOptions(optPart, &rule); reason != "" {
					return models.FilterRule{}, lineSkipped, reason
				}
			}
		}
	}

	if isRegex(pattern) {
		return models.FilterRule{}, lineSkipped, SkipRegex
	}

	tokenize(pattern, &rule)
	if len(rule.Literals()) == 0 {
		return models.FilterRule{}, lineSkipped, SkipNoLiteral
	}

	return rule, lineRule, ""
}

// isCosmetic checks for element hiding and snippet separators
func isCosmetic(line string) bool {
	for _, sep := range []string{"##", "#@#", "#?#", "#$#", "#%#"} {
		if strings.Contains(line, sep) {
			return true
		}
	}
	return false
}

// isRegex checks for /.../ patterns
func isRegex(pattern string) bool {
	return len(pattern) > 2 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/")
}

// tokenize splits the pattern into anchors and literal/wildcard/separator tokens
func tokenize(pattern string, rule *models.FilterRule) {
	s := pattern

	// Check for hostname anchor ||
	if strings.HasPrefix(s, "||") {
		rule.HostAnchor = true
		s = s[2:]
	} else if strings.HasPrefix(s, "|") {
		rule.StartAnchor = true
		s = s[1:]
	}

	// Check for right anchor |
	if strings.HasSuffix(s, "|") {
		rule.EndAnchor = true
		s = s[:len(s)-1]
	}

	s = strings.ToLower(s)

	var tokens []models.Token
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			tokens = append(tokens, models.Token{Kind: models.TokenLiteral, Text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*':
			flush()
			if n := len(tokens); n > 0 && tokens[n-1].Kind == models.TokenWildcard {
				continue
			}
			tokens = append(tokens, models.Token{Kind: models.TokenWildcard})
		case '^':
			flush()
			tokens = append(tokens, models.Token{Kind: models.TokenSeparator})
		default:
			lit.WriteByte(s[i])
		}
	}
	flush()

	// Unanchored edges make leading and trailing wildcards redundant
	if !rule.HostAnchor && !rule.StartAnchor {
		for len(tokens) > 0 && tokens[0].Kind == models.TokenWildcard {
			tokens = tokens[1:]
		}
	}
	if !rule.EndAnchor {
		for len(tokens) > 0 && tokens[len(tokens)-1].Kind == models.TokenWildcard {
			tokens = tokens[:len(tokens)-1]
		}
	}

	rule.Tokens = tokens
}

// parseOptions parses network filter options into rule. It returns a skip
// reason when the option list cannot be honoured.
func parseOptions(s string, rule *models.FilterRule) string {
	parts := strings.Split(s, ",")

	for _, part := range parts {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}

		switch {
		case part == "third-party" || part == "3p":
			rule.ThirdPartyOnly = true
		case part == "strip":
			rule.Strip = true
		case strings.HasPrefix(part, "domain="):
			if reason := parseDomainOption(part[len("domain="):], &rule.Domains); reason != "" {
				return reason
			}
		default:
			rt, ok := models.ParseResourceType(part)
			if !ok {
				return SkipUnsupportedOpt
			}
			rule.ResourceTypes = rule.ResourceTypes.Add(rt)
		}
	}

	return ""
}

// parseDomainOption parses domain=example.com|~excluded.com
func parseDomainOption(s string, dc *models.DomainConstraints) string {
	for _, d := range strings.Split(s, "|") {
		d = strings.TrimSpace(d)
		exclude := strings.HasPrefix(d, "~")
		d = strings.TrimSuffix(strings.TrimPrefix(d, "~"), ".")
		if d == "" {
			continue
		}
		if strings.ContainsAny(d, "*/") {
			return SkipUnsupportedOpt
		}
		if exclude {
			if !slices.Contains(dc.Excluded, d) {
				dc.Excluded = append(dc.Excluded, d)
			}
		} else if !slices.Contains(dc.Included, d) {
			dc.Included = append(dc.Included, d)
		}
	}

	if dc.IsEmpty() {
		return SkipEmptyDomain
	}
	for _, d := range dc.Excluded {
		if slices.Contains(dc.Included, d) {
			return SkipConflictingDomain
		}
	}
	return ""
}
