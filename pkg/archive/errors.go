package archive

import (
	"fmt"
)

// IOError is returned when the destination archive can't be created, written
// or closed. The destination file must be treated as invalid afterwards.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("archive %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Cause() error  { return e.Err }
func (e *IOError) Unwrap() error { return e.Err }

// StateError is returned when the writer is used after Finish.
type StateError struct {
	Op string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("archive: %s called on finished archive", e.Op)
}

// PathError is returned when an entry lies outside of the archive root.
type PathError struct {
	Root string
	Path string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("archive: %s is outside of root %s", e.Path, e.Root)
}
