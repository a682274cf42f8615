package models

import "strings"

// TokenKind identifies the role of a pattern token
type TokenKind int

const (
	TokenLiteral   TokenKind = iota
	TokenWildcard            // *
	TokenSeparator           // ^
)

// Token is one element of a rule pattern
type Token struct {
	Kind TokenKind
	Text string // only set for literals
}

// ResourceType is the closed set of request types a rule can target
type ResourceType uint8

const (
	ResourceOther ResourceType = iota
	ResourceScript
	ResourceImage
	ResourceStylesheet
	ResourceXHR
	ResourceFrame
)

// AllResourceTypes lists every resource type in canonical order
var AllResourceTypes = []ResourceType{
	ResourceScript,
	ResourceImage,
	ResourceStylesheet,
	ResourceXHR,
	ResourceFrame,
	ResourceOther,
}

// String returns the canonical option keyword for the type
func (t ResourceType) String() string {
	switch t {
	case ResourceScript:
		return "script"
	case ResourceImage:
		return "image"
	case ResourceStylesheet:
		return "stylesheet"
	case ResourceXHR:
		return "xhr"
	case ResourceFrame:
		return "frame"
	default:
		return "other"
	}
}

// ParseResourceType maps a request type name (or a rule option alias) to a
// ResourceType
func ParseResourceType(s string) (ResourceType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "script":
		return ResourceScript, true
	case "image", "img":
		return ResourceImage, true
	case "stylesheet", "css":
		return ResourceStylesheet, true
	case "xhr", "xmlhttprequest":
		return ResourceXHR, true
	case "frame", "subdocument":
		return ResourceFrame, true
	case "other":
		return ResourceOther, true
	}
	return ResourceOther, false
}

// ResourceSet is a bit set of resource types. The zero value means all types.
type ResourceSet uint8

// Add returns the set with t included
func (s ResourceSet) Add(t ResourceType) ResourceSet {
	return s | 1<<t
}

// Has reports whether t is a member. An empty set matches everything.
func (s ResourceSet) Has(t ResourceType) bool {
	return s == 0 || s&(1<<t) != 0
}

// IsEmpty returns true if no type was set
func (s ResourceSet) IsEmpty() bool {
	return s == 0
}

// Types returns the members in canonical order
func (s ResourceSet) Types() []ResourceType {
	var types []ResourceType
	for _, t := range AllResourceTypes {
		if s&(1<<t) != 0 {
			types = append(types, t)
		}
	}
	return types
}

// DomainConstraints restricts a rule to some source page domains
type DomainConstraints struct {
	Included []string // rule only applies on these domains and their subdomains
	Excluded []string // rule never applies on these domains
}

// IsEmpty returns true if the rule applies on every source domain
func (d DomainConstraints) IsEmpty() bool {
	return len(d.Included) == 0 && len(d.Excluded) == 0
}

// FilterRule is a parsed network filter. It is never mutated after parsing.
type FilterRule struct {
	Raw            string // original line, for diagnostics
	Tokens         []Token
	Exception      bool
	HostAnchor     bool // ||
	StartAnchor    bool // leading |
	EndAnchor      bool // trailing |
	ResourceTypes  ResourceSet
	Domains        DomainConstraints
	ThirdPartyOnly bool
	Strip          bool // sanitize instead of block
}

// Literals returns the literal tokens of the pattern in order
func (r *FilterRule) Literals() []string {
	var lits []string
	for _, t := range r.Tokens {
		if t.Kind == TokenLiteral {
			lits = append(lits, t.Text)
		}
	}
	return lits
}

// HasOptions returns true if any $-option is set
func (r *FilterRule) HasOptions() bool {
	return !r.ResourceTypes.IsEmpty() ||
		!r.Domains.IsEmpty() ||
		r.ThirdPartyOnly ||
		r.Strip
}
