package matcher

import (
	"strings"

	"github.com/bnema/wave-shield/internal/index"
	"github.com/bnema/wave-shield/internal/models"
)

// isSeparator reports whether c matches the ^ placeholder: anything but a
// letter, a digit or one of _ - . %
func isSeparator(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	case c == '_', c == '-', c == '.', c == '%':
		return false
	}
	return true
}

// matchSegmentAt matches a wildcard-free segment at pos and returns the end
// offset. A separator also matches the end of the URL.
func matchSegmentAt(seg []models.Token, s string, pos int) (int, bool) {
	for _, t := range seg {
		switch t.Kind {
		case models.TokenLiteral:
			if !strings.HasPrefix(s[pos:], t.Text) {
				return 0, false
			}
			pos += len(t.Text)
		case models.TokenSeparator:
			if pos == len(s) {
				continue
			}
			if !isSeparator(s[pos]) {
				return 0, false
			}
			pos++
		}
	}
	return pos, true
}

// findSegment returns the leftmost match of seg starting at or after from
func findSegment(seg []models.Token, s string, from int) (start, end int, ok bool) {
	if len(seg) == 0 {
		return from, from, true
	}
	for p := from; p <= len(s); p++ {
		if seg[0].Kind == models.TokenLiteral {
			i := strings.Index(s[p:], seg[0].Text)
			if i < 0 {
				return 0, 0, false
			}
			p += i
		}
		if end, ok := matchSegmentAt(seg, s, p); ok {
			return p, end, true
		}
	}
	return 0, 0, false
}

// findSegmentEnding reports whether seg matches somewhere at or after from
// and ends exactly at the end of s
func findSegmentEnding(seg []models.Token, s string, from int) bool {
	if len(seg) == 0 {
		return true
	}
	for p := from; p <= len(s); {
		start, end, ok := findSegment(seg, s, p)
		if !ok {
			return false
		}
		if end == len(s) {
			return true
		}
		p = start + 1
	}
	return false
}

// matchRest matches the segments that follow a wildcard. Placing every
// segment at its leftmost position is optimal since segments have a fixed
// width, so no backtracking is needed.
func matchRest(segs [][]models.Token, s string, cur int, endAnchor bool) bool {
	for i, seg := range segs {
		if i == len(segs)-1 && endAnchor {
			return findSegmentEnding(seg, s, cur)
		}
		_, end, ok := findSegment(seg, s, cur)
		if !ok {
			return false
		}
		cur = end
	}
	return !endAnchor || cur == len(s)
}

// hostStarts lists the offsets where a || pattern may begin: the host start
// and every label boundary inside the host
func hostStarts(n *Normalized) []int {
	starts := []int{n.HostStart}
	for i := n.HostStart + 1; i < n.HostEnd; i++ {
		if n.URL[i-1] == '.' {
			starts = append(starts, i)
		}
	}
	return starts
}

// MatchPattern reports whether the entry's pattern matches the normalized
// request URL, honouring anchors, separators and wildcard gaps
func MatchPattern(e *index.Entry, n *Normalized) bool {
	r := &e.Rule
	s := n.URL
	first, rest := e.Segments[0], e.Segments[1:]

	if !r.StartAnchor && !r.HostAnchor {
		if len(rest) == 0 {
			if r.EndAnchor {
				return findSegmentEnding(first, s, 0)
			}
			_, _, ok := findSegment(first, s, 0)
			return ok
		}
		_, end, ok := findSegment(first, s, 0)
		return ok && matchRest(rest, s, end, r.EndAnchor)
	}

	starts := []int{0}
	if r.HostAnchor {
		starts = hostStarts(n)
	}
	for _, start := range starts {
		end, ok := matchSegmentAt(first, s, start)
		if !ok {
			continue
		}
		if len(rest) == 0 {
			if !r.EndAnchor || end == len(s) {
				return true
			}
			continue
		}
		if matchRest(rest, s, end, r.EndAnchor) {
			return true
		}
	}
	return false
}
