package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wave-shield/internal/models"
)

func lit(s string) models.Token { return models.Token{Kind: models.TokenLiteral, Text: s} }

var (
	wild = models.Token{Kind: models.TokenWildcard}
	sep  = models.Token{Kind: models.TokenSeparator}
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected models.FilterRule
	}{
		{
			name:  "host anchor with separator",
			input: "||ads.badsite.com^",
			expected: models.FilterRule{
				Tokens:     []models.Token{lit("ads.badsite.com"), sep},
				HostAnchor: true,
			},
		},
		{
			name:  "exception with path",
			input: "@@||ads.badsite.com/banner.js^",
			expected: models.FilterRule{
				Tokens:     []models.Token{lit("ads.badsite.com/banner.js"), sep},
				Exception:  true,
				HostAnchor: true,
			},
		},
		{
			name:  "start and end anchors",
			input: "|https://example.com/ad.js|",
			expected: models.FilterRule{
				Tokens:      []models.Token{lit("https://example.com/ad.js")},
				StartAnchor: true,
				EndAnchor:   true,
			},
		},
		{
			name:  "wildcards collapse and unanchored edges are trimmed",
			input: "*/banner**ads/*",
			expected: models.FilterRule{
				Tokens: []models.Token{lit("/banner"), wild, lit("ads/")},
			},
		},
		{
			name:  "pattern is lower-cased",
			input: "/Tracker/Pixel.GIF",
			expected: models.FilterRule{
				Tokens: []models.Token{lit("/tracker/pixel.gif")},
			},
		},
		{
			name:  "resource types and aliases",
			input: "||cdn.example.com^$script,img,css,xmlhttprequest,subdocument",
			expected: models.FilterRule{
				Tokens:     []models.Token{lit("cdn.example.com"), sep},
				HostAnchor: true,
				ResourceTypes: models.ResourceSet(0).
					Add(models.ResourceScript).
					Add(models.ResourceImage).
					Add(models.ResourceStylesheet).
					Add(models.ResourceXHR).
					Add(models.ResourceFrame),
			},
		},
		{
			name:  "third-party and domain constraints",
			input: "/ads/img$3p,domain=Mysite.com|~news.mysite.com.",
			expected: models.FilterRule{
				Tokens:         []models.Token{lit("/ads/img")},
				ThirdPartyOnly: true,
				Domains: models.DomainConstraints{
					Included: []string{"mysite.com"},
					Excluded: []string{"news.mysite.com"},
				},
			},
		},
		{
			name:  "strip option",
			input: "||example.com^$strip",
			expected: models.FilterRule{
				Tokens:     []models.Token{lit("example.com"), sep},
				HostAnchor: true,
				Strip:      true,
			},
		},
		{
			name:  "dollar inside a path is not an option separator when followed by a slash",
			input: "/price$/list",
			expected: models.FilterRule{
				Tokens: []models.Token{lit("/price$/list")},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, ok, reason := ParseLine(tt.input)
			require.True(t, ok, "unexpected skip: %s", reason)
			tt.expected.Raw = tt.input
			assert.Equal(t, tt.expected, rule)
		})
	}
}

func TestParseLineSkips(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason string
	}{
		{"element hiding", "example.com##.ad-banner", SkipCosmetic},
		{"element hiding exception", "example.com#@#.ad-banner", SkipCosmetic},
		{"procedural cosmetic", "example.com#?#div:has(.ad)", SkipCosmetic},
		{"regex pattern", "/banner[0-9]+\\.js/", SkipRegex},
		{"regex pattern with options", "/ad[sx]?\\.js/$script", SkipRegex},
		{"only wildcards", "*", SkipNoLiteral},
		{"only separator", "||^", SkipNoLiteral},
		{"unknown option", "||example.com^$important", SkipUnsupportedOpt},
		{"negated type", "||example.com^$~script", SkipUnsupportedOpt},
		{"redirect option", "||example.com/ads.js$redirect=noopjs", SkipUnsupportedOpt},
		{"wildcard domain", "/ads/img$domain=example.*", SkipUnsupportedOpt},
		{"empty domain list", "/ads/img$domain=", SkipEmptyDomain},
		{"domain both included and excluded", "/ads/img$domain=a.com|~a.com", SkipConflictingDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok, reason := ParseLine(tt.input)
			assert.False(t, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestParseStats(t *testing.T) {
	lines := []string{
		"[Adblock Plus 2.0]",
		"! Title: test list",
		"",
		"||ads.example.com^",
		"@@||ads.example.com/ok.js",
		"example.com##.banner",
		"/banner[0-9]/",
		"||tracker.net^$important",
		"   ",
		"/pixel.gif",
	}

	p := New()
	rules, skipped := p.Parse(lines)

	assert.Len(t, rules, 3)
	assert.Equal(t, 3, skipped)

	stats := p.Stats()
	assert.Equal(t, 8, stats.Total)
	assert.Equal(t, 2, stats.Network)
	assert.Equal(t, 1, stats.Exception)
	assert.Equal(t, 2, stats.Comments)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, map[string]int{
		SkipCosmetic:       1,
		SkipRegex:          1,
		SkipUnsupportedOpt: 1,
	}, stats.SkipReasons)

	// the returned map is a copy
	stats.SkipReasons[SkipCosmetic] = 100
	assert.Equal(t, 1, p.Stats().SkipReasons[SkipCosmetic])
}

func TestParseKeepsOrder(t *testing.T) {
	rules, skipped := Parse([]string{"/one.js", "bad##x", "/two.js", "/three.js"})
	require.Len(t, rules, 3)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "/one.js", rules[0].Raw)
	assert.Equal(t, "/two.js", rules[1].Raw)
	assert.Equal(t, "/three.js", rules[2].Raw)
}

func TestParseReader(t *testing.T) {
	input := "! comment\n||a.example.com^\r\n\n@@||b.example.com^\nfoo##bar\n"

	rules, skipped, err := New().ParseReader(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, rules, 2)
	assert.Equal(t, 1, skipped)
	assert.True(t, rules[1].Exception)
}

func TestFormatRoundTrip(t *testing.T) {
	lines := []string{
		"||ads.badsite.com^",
		"@@||ads.badsite.com/banner.js^",
		"|https://example.com/ad.js|",
		"||cdn.example.com/*/pixel^$image,script,third-party",
		"/track/pixel$domain=a.com|b.org|~c.a.com",
		"?utm_source=$strip",
		"ads*banner^",
		"||*.example.com^",
		"a$b$",
		"foo$script$",
		"/ads$x$",
		"foo$script$image",
		"a\\$b",
		"ab\\*$script",
		"*@@foo",
		"*!foo",
		"*[foo",
		"*|foo",
		"@@*|foo",
		"foo|*",
		"foo||",
		"/foo/*",
		"/foo/*$script",
		"a$/b",
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			rule, ok, reason := ParseLine(line)
			require.True(t, ok, reason)

			formatted := Format(rule)
			again, ok, reason := ParseLine(formatted)
			require.True(t, ok, reason)

			assert.True(t, Equivalent(rule, again), "%q -> %q", line, formatted)
			assert.Equal(t, formatted, Format(again))
		})
	}
}

func TestFormatRoundTripGenerated(t *testing.T) {
	prefixes := []string{"", "@@", "|", "||", "@@|", "@@||"}
	chunks := []string{"a", "$", "\\", "|", "/", "^", "*", " ", "!", "[", "@@", "#", "b.com", "script"}
	suffixes := []string{"", "$", "$script", "$3p,domain=x.com", "|", "$domain=x.com|~y.x.com"}

	var bodies []string
	var grow func(prefix string, depth int)
	grow = func(prefix string, depth int) {
		if depth == 0 {
			return
		}
		for _, c := range chunks {
			bodies = append(bodies, prefix+c)
			grow(prefix+c, depth-1)
		}
	}
	grow("", 3)

	checked, failures := 0, 0
	for _, pre := range prefixes {
		for _, body := range bodies {
			for _, suf := range suffixes {
				line := pre + body + suf
				rule, ok, _ := ParseLine(line)
				if !ok {
					continue
				}
				checked++

				formatted := Format(rule)
				again, ok, reason := ParseLine(formatted)
				if !ok || !Equivalent(rule, again) || Format(again) != formatted {
					failures++
					assert.Failf(t, "round trip", "%q -> %q (ok=%v reason=%q)", line, formatted, ok, reason)
					if failures >= 10 {
						t.FailNow()
					}
				}
			}
		}
	}
	assert.Greater(t, checked, 1000)
}

func TestFormatCanonicalOptions(t *testing.T) {
	rule, ok, _ := ParseLine("/ads/x$domain=a.com,strip,3p,css,script")
	require.True(t, ok)
	assert.Equal(t, "/ads/x$script,stylesheet,third-party,strip,domain=a.com", Format(rule))
}

func TestEquivalentIgnoresRaw(t *testing.T) {
	a, _, _ := ParseLine("||Example.com^$3p")
	b, _, _ := ParseLine("||example.com^$third-party")
	c, _, _ := ParseLine("||example.com^")

	assert.True(t, Equivalent(a, b))
	assert.False(t, Equivalent(a, c))
}
