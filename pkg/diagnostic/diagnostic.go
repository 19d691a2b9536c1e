package diagnostic

import (
	"fmt"
	"sync"
)

type Kind int

const (
	// File or directory disappeared between being listed and being opened
	KindMissing Kind = iota

	// File or directory exists but couldn't be read (permissions, I/O error)
	KindUnreadable

	// File was opened but reading failed midway, entry holds partial content
	KindPartial
)

func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindUnreadable:
		return "unreadable"
	case KindPartial:
		return "partial"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Diagnostic is a non-fatal record of an entry that could not be found or read
// while selecting or archiving.
type Diagnostic struct {
	Path string
	Kind Kind
	Err  error
}

func (d Diagnostic) String() string {
	if d.Err == nil {
		return fmt.Sprintf("%s: %s", d.Kind, d.Path)
	}
	return fmt.Sprintf("%s: %s: %v", d.Kind, d.Path, d.Err)
}

// Sink collects diagnostics. The zero value is ready to use and it is safe for
// concurrent use.
type Sink struct {
	mu    sync.Mutex
	items []Diagnostic
}

func (s *Sink) Add(path string, kind Kind, err error) {
	if s == nil {
		return
	}

	s.mu.Lock()
	s.items = append(s.items, Diagnostic{Path: path, Kind: kind, Err: err})
	s.mu.Unlock()
}

func (s *Sink) Len() int {
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

// Items returns a copy of collected diagnostics in insertion order.
func (s *Sink) Items() []Diagnostic {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Diagnostic, len(s.items))
	copy(result, s.items)

	return result
}
