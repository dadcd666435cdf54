package paths

import (
	"path"
	"strings"
)

type patternKind int

const (
	// matches any single segment of the path
	kindSegment patternKind = iota
	// matches the whole path
	kindPath
	// prefix/**/suffix
	kindDoublestar
)

type pattern struct {
	kind   patternKind
	glob   string
	prefix string
	suffix string
}

// ExcludeMatcher decides which scanned paths stay out of an index.
type ExcludeMatcher struct {
	patterns []pattern
}

func NewExcludeMatcher(patterns []string) *ExcludeMatcher {
	m := &ExcludeMatcher{}
	for _, raw := range patterns {
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
		if raw == "" {
			continue
		}
		m.patterns = append(m.patterns, compile(raw))
	}
	return m
}

func compile(raw string) pattern {
	if before, after, ok := strings.Cut(raw, "**"); ok &&
		!strings.Contains(after, "**") {
		return pattern{
			kind:   kindDoublestar,
			glob:   raw,
			prefix: strings.TrimSuffix(before, "/"),
			suffix: strings.TrimPrefix(after, "/"),
		}
	}
	if strings.Contains(raw, "/") {
		return pattern{kind: kindPath, glob: raw}
	}
	return pattern{kind: kindSegment, glob: raw}
}

func (m *ExcludeMatcher) Empty() bool {
	return m == nil || len(m.patterns) == 0
}

func (m *ExcludeMatcher) Match(relPath string) bool {
	if m == nil {
		return false
	}
	for _, p := range m.patterns {
		if p.match(relPath) {
			return true
		}
	}
	return false
}

func (p pattern) match(relPath string) bool {
	switch p.kind {
	case kindSegment:
		for _, part := range strings.Split(relPath, "/") {
			if ok, _ := path.Match(p.glob, part); ok {
				return true
			}
		}
		return false
	case kindPath:
		ok, _ := path.Match(p.glob, relPath)
		return ok
	default:
		return p.matchDoublestar(relPath)
	}
}

func (p pattern) matchDoublestar(relPath string) bool {
	switch {
	case p.prefix == "" && p.suffix == "":
		return true
	case p.prefix == "":
		return matchSuffix(p.suffix, relPath)
	case p.suffix == "":
		return relPath == p.prefix ||
			strings.HasPrefix(relPath, p.prefix+"/")
	}
	rest, ok := strings.CutPrefix(relPath, p.prefix+"/")
	if !ok {
		return false
	}
	return matchSuffix(p.suffix, rest)
}

func matchSuffix(suffix, relPath string) bool {
	parts := strings.Split(relPath, "/")
	for i := range parts {
		tail := strings.Join(parts[i:], "/")
		if ok, _ := path.Match(suffix, tail); ok {
			return true
		}
	}
	return false
}
