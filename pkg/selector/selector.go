// Package selector resolves include patterns against a live directory tree.
package selector

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/yurykabanov/srvbackup/pkg/diagnostic"
	"github.com/yurykabanov/srvbackup/pkg/pattern"
)

// RootError is returned when the root directory itself can't be listed.
type RootError struct {
	Root string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("unable to list root directory %s: %v", e.Root, e.Err)
}

func (e *RootError) Cause() error  { return e.Err }
func (e *RootError) Unwrap() error { return e.Err }

// Entry is a selected top-level filesystem entry.
type Entry struct {
	// Absolute path inside root, as it was listed
	Path string

	// Root-relative, forward-slash separated
	Rel string

	IsDir bool
}

// Set holds selected entries keyed by canonical absolute path.
type Set struct {
	entries map[string]Entry
}

func newSet() Set {
	return Set{entries: make(map[string]Entry)}
}

func (s Set) add(e Entry) {
	key, err := filepath.EvalSymlinks(e.Path)
	if err != nil {
		key = e.Path
	}

	if _, ok := s.entries[key]; !ok {
		s.entries[key] = e
	}
}

func (s Set) Len() int {
	return len(s.entries)
}

// Entries returns selected entries ordered by relative path.
func (s Set) Entries() []Entry {
	result := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		result = append(result, e)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Rel < result[j].Rel
	})

	return result
}

// Rels returns relative paths of selected entries ordered lexically.
func (s Set) Rels() []string {
	entries := s.Entries()

	result := make([]string, len(entries))
	for i, e := range entries {
		result[i] = e.Rel
	}

	return result
}

// collapse removes entries that are descendants of another selected directory.
func (s Set) collapse() {
	dirs := make(map[string]struct{})
	for _, e := range s.entries {
		if e.IsDir {
			dirs[e.Rel] = struct{}{}
		}
	}

	for key, e := range s.entries {
		for parent := path.Dir(e.Rel); parent != "." && parent != "/"; parent = path.Dir(parent) {
			if _, ok := dirs[parent]; ok {
				delete(s.entries, key)
				break
			}
		}
	}
}

// Resolve walks root and returns every entry matched by an include pattern.
//
// A matched directory is selected as a whole and isn't descended into.
// Entries matched by an exclude pattern are neither selected nor descended
// into; the archiver applies excludes again while packing. Subdirectories
// that can't be read are skipped and reported to diag.
func Resolve(ctx context.Context, root string, includes, excludes pattern.Set, diag *diagnostic.Sink) (Set, error) {
	set := newSet()

	root, err := filepath.Abs(root)
	if err != nil {
		return set, errors.Wrap(err, "Unable to resolve root directory")
	}

	children, err := os.ReadDir(root)
	if err != nil {
		return set, &RootError{Root: root, Err: err}
	}

	var globs pattern.Set
	everything := false

	for _, m := range includes {
		if m.Everything() {
			everything = true
			continue
		}
		globs = append(globs, m)
	}

	if everything {
		for _, child := range children {
			rel := child.Name()
			if excludes.MatchAny(rel) {
				continue
			}
			set.add(Entry{Path: filepath.Join(root, rel), Rel: rel, IsDir: child.IsDir()})
		}
	}

	if len(globs) > 0 {
		w := &walker{root: root, includes: globs, excludes: excludes, diag: diag, set: set}
		if err := w.walk(ctx, "", children); err != nil {
			return set, err
		}
	}

	set.collapse()

	return set, nil
}

type walker struct {
	root     string
	includes pattern.Set
	excludes pattern.Set
	diag     *diagnostic.Sink
	set      Set
}

func (w *walker) walk(ctx context.Context, rel string, children []os.DirEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, child := range children {
		childRel := child.Name()
		if rel != "" {
			childRel = rel + "/" + child.Name()
		}

		if w.excludes.MatchAny(childRel) {
			continue
		}

		abs := filepath.Join(w.root, filepath.FromSlash(childRel))

		if w.includes.MatchAny(childRel) {
			w.set.add(Entry{Path: abs, Rel: childRel, IsDir: child.IsDir()})
			continue
		}

		// Symlinked directories report IsDir() == false and aren't followed
		if !child.IsDir() {
			continue
		}

		grandChildren, err := os.ReadDir(abs)
		if err != nil {
			w.report(childRel, err)
			continue
		}

		if err := w.walk(ctx, childRel, grandChildren); err != nil {
			return err
		}
	}

	return nil
}

func (w *walker) report(rel string, err error) {
	if os.IsNotExist(err) {
		w.diag.Add(rel, diagnostic.KindMissing, err)
		return
	}
	w.diag.Add(rel, diagnostic.KindUnreadable, err)
}
