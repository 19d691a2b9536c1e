// Package pattern compiles glob-style include/exclude patterns into predicates
// over root-relative paths.
//
// `*` matches any run of characters except a separator, `**` used as a whole
// path segment matches across separators. Everything else follows doublestar
// syntax (`?`, `[a-z]`, `{a,b}`, `\` escaping).
package pattern

import (
	"fmt"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

var ErrEmptyPattern = errors.New("empty pattern")
var ErrBadPattern = doublestar.ErrBadPattern

// ConfigurationError is returned when a pattern can't be compiled.
type ConfigurationError struct {
	Pattern string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *ConfigurationError) Cause() error  { return e.Err }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Matcher is an immutable compiled pattern.
type Matcher struct {
	source     string
	pattern    string
	fold       bool
	everything bool
}

// Compile validates the pattern. Matching never fails afterwards.
func Compile(p string) (*Matcher, error) {
	return compile(p, caseInsensitiveHost())
}

func compile(p string, fold bool) (*Matcher, error) {
	if Everything(p) {
		return &Matcher{source: p, everything: true}, nil
	}

	normalized := Normalize(p)
	if normalized == "" {
		return nil, &ConfigurationError{Pattern: p, Err: ErrEmptyPattern}
	}

	if fold {
		normalized = strings.ToLower(normalized)
	}

	if !doublestar.ValidatePattern(normalized) {
		return nil, &ConfigurationError{Pattern: p, Err: ErrBadPattern}
	}

	return &Matcher{source: p, pattern: normalized, fold: fold}, nil
}

// Match reports whether the root-relative path matches the pattern.
func (m *Matcher) Match(rel string) bool {
	if m.everything {
		return true
	}

	rel = Normalize(rel)
	if m.fold {
		rel = strings.ToLower(rel)
	}

	// Pattern is validated at compile time
	ok, _ := doublestar.Match(m.pattern, rel)
	return ok
}

// Everything reports whether the matcher was compiled from ".", which selects
// the complete top-level listing of the root.
func (m *Matcher) Everything() bool {
	return m.everything
}

func (m *Matcher) String() string {
	return m.source
}

// Set is a list of compiled patterns.
type Set []*Matcher

// CompileAll compiles every pattern and fails on the first bad one.
func CompileAll(patterns []string) (Set, error) {
	set := make(Set, 0, len(patterns))

	for _, p := range patterns {
		m, err := Compile(p)
		if err != nil {
			return nil, err
		}
		set = append(set, m)
	}

	return set, nil
}

func (s Set) MatchAny(rel string) bool {
	for _, m := range s {
		if m.Match(rel) {
			return true
		}
	}
	return false
}

// Normalize converts a path or pattern to forward slashes without leading
// "./" or "/" and without a trailing "/".
func Normalize(p string) string {
	p = filepath.ToSlash(p)

	for {
		switch {
		case strings.HasPrefix(p, "./"):
			p = p[2:]
		case strings.HasPrefix(p, "/"):
			p = p[1:]
		default:
			if p == "." {
				return ""
			}
			return strings.TrimSuffix(p, "/")
		}
	}
}

// Everything reports whether an include pattern means "the whole root".
func Everything(p string) bool {
	switch filepath.ToSlash(strings.TrimSpace(p)) {
	case ".", "./":
		return true
	}
	return false
}

// Literal returns a pattern matching exactly the given root-relative path.
func Literal(rel string) string {
	rel = path.Clean(Normalize(rel))

	var b strings.Builder
	for _, r := range rel {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}

func caseInsensitiveHost() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}
