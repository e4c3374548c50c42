package wire

import (
	"errors"
	"fmt"
	"strings"
)

// PathSeparator joins path segments.
const PathSeparator = ":"

// ErrInvalidPath is returned for malformed path strings.
var ErrInvalidPath = errors.New("invalid path")

// Segment is one element of a path.
type Segment struct {
	Name     string
	Index    string
	HasIndex bool
}

// String renders the segment as name or name(index).
func (s Segment) String() string {
	if s.HasIndex {
		return s.Name + "(" + s.Index + ")"
	}
	return s.Name
}

// Path is an ordered list of segments.
type Path []Segment

// ParsePath parses "seg1(idx1):seg2:leaf".
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	parts := strings.Split(s, PathSeparator)
	p := make(Path, 0, len(parts))
	for _, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPath, s, err)
		}
		p = append(p, seg)
	}
	return p, nil
}

func parseSegment(s string) (Segment, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if s == "" {
			return Segment{}, errors.New("empty segment")
		}
		if strings.IndexByte(s, ')') >= 0 {
			return Segment{}, fmt.Errorf("unbalanced ')' in %q", s)
		}
		return Segment{Name: s}, nil
	}
	if open == 0 {
		return Segment{}, fmt.Errorf("segment %q has no name", s)
	}
	if !strings.HasSuffix(s, ")") {
		return Segment{}, fmt.Errorf("segment %q must end with ')'", s)
	}
	index := s[open+1 : len(s)-1]
	if index == "" || strings.ContainsAny(index, "()") {
		return Segment{}, fmt.Errorf("bad index in %q", s)
	}
	return Segment{Name: s[:open], Index: index, HasIndex: true}, nil
}

// String renders the canonical path key.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, seg := range p {
		parts[i] = seg.String()
	}
	return strings.Join(parts, PathSeparator)
}

// Leaf returns the last segment.
func (p Path) Leaf() Segment {
	if len(p) == 0 {
		return Segment{}
	}
	return p[len(p)-1]
}

// Parent returns the path without its last segment.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}

// Child returns a new path extended by seg.
func (p Path) Child(seg Segment) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}

// HasSegment reports whether any segment is named name.
func (p Path) HasSegment(name string) bool {
	for _, seg := range p {
		if seg.Name == name {
			return true
		}
	}
	return false
}

// JoinPath appends a segment to a path string.
func JoinPath(parent string, seg Segment) string {
	if parent == "" {
		return seg.String()
	}
	return parent + PathSeparator + seg.String()
}
