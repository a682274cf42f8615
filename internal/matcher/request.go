package matcher

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"

	"github.com/bnema/wave-shield/internal/models"
)

// ErrInvalidURL is matched by every request normalization error
var ErrInvalidURL = errors.New("invalid url")

// NormalizeError reports a request URL that has no usable host
type NormalizeError struct {
	Field string // "url" or "source"
	URL   string
	Err   error
}

func (e *NormalizeError) Error() string {
	return fmt.Sprintf("normalize %s %q: %v", e.Field, e.URL, e.Err)
}

func (e *NormalizeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInvalidURL) true for every NormalizeError
func (e *NormalizeError) Is(target error) bool { return target == ErrInvalidURL }

// Normalized is a request prepared for matching
type Normalized struct {
	URL        string // lower-case, default port and fragment stripped
	Host       string
	HostStart  int // Host == URL[HostStart:HostEnd]
	HostEnd    int
	SourceHost string
	ThirdParty bool
	Type       models.ResourceType
}

var defaultPorts = map[string]string{
	"http":  "80",
	"ws":    "80",
	"https": "443",
	"wss":   "443",
}

// Normalize parses and canonicalizes a request
func Normalize(req models.Request) (*Normalized, error) {
	u, host, err := parseURL(req.URL)
	if err != nil {
		return nil, &NormalizeError{Field: "url", URL: req.URL, Err: err}
	}

	n := &Normalized{Host: host, Type: req.ResourceType}
	n.URL, n.HostStart = canonical(u, host)
	n.HostEnd = n.HostStart + len(host)

	if strings.TrimSpace(req.SourceURL) == "" {
		// top-level navigation: the page is the target itself
		n.SourceHost = host
		return n, nil
	}

	_, srcHost, err := parseURL(req.SourceURL)
	if err != nil {
		return nil, &NormalizeError{Field: "source", URL: req.SourceURL, Err: err}
	}
	n.SourceHost = srcHost
	n.ThirdParty = RegistrableDomain(srcHost) != RegistrableDomain(host)

	return n, nil
}

func parseURL(raw string) (*url.URL, string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, "", errors.New("missing scheme or host")
	}
	return u, normalizeHost(u.Hostname()), nil
}

func normalizeHost(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if net.ParseIP(host) != nil {
		return host
	}
	if ascii, err := idna.Lookup.ToASCII(host); err == nil && ascii != "" {
		return ascii
	}
	return host
}

// canonical rebuilds the URL string used for pattern matching and returns
// the offset of the host inside it
func canonical(u *url.URL, host string) (string, int) {
	scheme := strings.ToLower(u.Scheme)

	var sb strings.Builder
	sb.WriteString(scheme)
	sb.WriteString("://")
	hostStart := sb.Len()
	if strings.Contains(host, ":") {
		sb.WriteByte('[')
		hostStart++
		sb.WriteString(host)
		sb.WriteByte(']')
	} else {
		sb.WriteString(host)
	}
	if port := u.Port(); port != "" && port != defaultPorts[scheme] {
		sb.WriteByte(':')
		sb.WriteString(port)
	}
	sb.WriteString(strings.ToLower(u.EscapedPath()))
	if u.RawQuery != "" || u.ForceQuery {
		sb.WriteByte('?')
		sb.WriteString(strings.ToLower(u.RawQuery))
	}

	return sb.String(), hostStart
}

// RegistrableDomain returns the eTLD+1 of host. IP literals and hosts
// without a registrable part are returned unchanged.
func RegistrableDomain(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
