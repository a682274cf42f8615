package models

// Decision is the verdict for a single outgoing request
type Decision int

const (
	Allow Decision = iota
	Block
	Sanitize // allow, but strip tracking parameters first
)

// String returns the decision name
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Block:
		return "block"
	case Sanitize:
		return "sanitize"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Request is an outgoing request as seen by the navigation pipeline
type Request struct {
	URL          string // target URL
	SourceURL    string // page that issued the request, empty for top-level loads
	ResourceType ResourceType
}
