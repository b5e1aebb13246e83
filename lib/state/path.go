package state

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxEncodedPathLen is the maximum UTF-8 encoded length of a path. It equals
// the size of the fixed, null-padded path field of the request frame.
const MaxEncodedPathLen = 244

var (
	// ErrPathTooLong is returned when a path's encoded form does not fit the
	// wire format's fixed path field.
	ErrPathTooLong = errors.New("path too long")

	// ErrPathNotFound is returned when a path cannot be resolved against a
	// store.
	ErrPathNotFound = errors.New("path not found")
)

// --------------------------------------------------------------------------
// Path Type
// --------------------------------------------------------------------------

// Segment is one step of a path: either a string key into a Map or a
// non-negative integer index into a List.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// String returns the segment as it appears in path text.
func (s Segment) String() string {
	if s.IsIndex {
		return strconv.Itoa(s.Index)
	}
	return s.Key
}

// Path is a validated, ordered sequence of segments addressing a single
// leaf of a store. Construct it with ParsePath; the zero value is invalid.
type Path struct {
	raw      string
	segments []Segment
}

// ParsePath builds a Path from its textual form `base[seg1][seg2]...`.
// A segment consisting only of digits is an integer index, everything else
// is a string key. The encoded length is validated against
// MaxEncodedPathLen so a well-formed Path always fits the wire format.
func ParsePath(s string) (Path, error) {
	if len(s) > MaxEncodedPathLen {
		return Path{}, fmt.Errorf("%w: %d bytes exceeds maximum of %d", ErrPathTooLong, len(s), MaxEncodedPathLen)
	}
	if s == "" {
		return Path{}, fmt.Errorf("invalid path: empty")
	}

	base := s
	rest := ""
	if i := strings.IndexByte(s, '['); i >= 0 {
		base, rest = s[:i], s[i:]
	}
	if base == "" {
		return Path{}, fmt.Errorf("invalid path %q: missing base segment", s)
	}
	if strings.ContainsAny(base, "]") {
		return Path{}, fmt.Errorf("invalid path %q: unmatched ']' in base segment", s)
	}

	segments := []Segment{makeSegment(base)}
	for rest != "" {
		if rest[0] != '[' {
			return Path{}, fmt.Errorf("invalid path %q: expected '[' at %q", s, rest)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return Path{}, fmt.Errorf("invalid path %q: unterminated segment", s)
		}
		seg := rest[1:end]
		if seg == "" {
			return Path{}, fmt.Errorf("invalid path %q: empty segment", s)
		}
		if strings.ContainsAny(seg, "[") {
			return Path{}, fmt.Errorf("invalid path %q: nested '[' in segment", s)
		}
		segments = append(segments, makeSegment(seg))
		rest = rest[end+1:]
	}

	return Path{raw: s, segments: segments}, nil
}

// makeSegment classifies a raw segment as index or key.
func makeSegment(s string) Segment {
	if idx, err := strconv.Atoi(s); err == nil && idx >= 0 {
		return Segment{Index: idx, IsIndex: true}
	}
	return Segment{Key: s}
}

// String returns the canonical textual form used on the wire.
func (p Path) String() string { return p.raw }

// Segments returns the parsed segments.
func (p Path) Segments() []Segment { return p.segments }
