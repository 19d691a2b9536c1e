package domain

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/yurykabanov/srvbackup/pkg/diagnostic"
	"github.com/yurykabanov/srvbackup/pkg/pattern"
	"github.com/yurykabanov/srvbackup/pkg/upload"
)

// DefaultExcludes are the files locked by a running game server.
var DefaultExcludes = []string{
	"world/session.lock",
	"world_nether/session.lock",
	"world_the_end/session.lock",
}

// ErrOutputIsRoot is reported for jobs writing archives into the source root.
// Retention would then prune the tree being backed up.
var ErrOutputIsRoot = errors.New("output directory must not be the root directory")

// ConfigurationError is returned for a job that can't be run as configured.
type ConfigurationError struct {
	Job string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("job %q is misconfigured: %v", e.Job, e.Err)
}

func (e *ConfigurationError) Cause() error  { return e.Err }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// Job is a fully validated backup configuration.
type Job struct {
	Name string

	// Absolute source tree and archive directory
	Root   string
	Output string

	Includes pattern.Set
	Excludes pattern.Set

	// Retention budget for Output, in bytes
	MaxSize int64

	CronSpec   string
	Timeout    time.Duration
	RunOnStart bool

	Uploader upload.Uploader
}

// Result describes what a single run managed to do. Every step is
// observable on its own so a failed run is never ambiguous.
type Result struct {
	Archive string
	Size    int64

	Archived     bool
	Uploaded     bool
	RetentionRan bool

	Evictions    int
	Diagnostics  []diagnostic.Diagnostic
	RetentionErr error

	StartedAt  time.Time
	FinishedAt time.Time
}

// UploadError wraps a transport failure. The archive is kept when it happens.
type UploadError struct {
	Archive string
	Err     error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed: %v", e.Archive, e.Err)
}

func (e *UploadError) Cause() error  { return e.Err }
func (e *UploadError) Unwrap() error { return e.Err }

// Validate checks how Root and Output relate. Output may lie inside Root, it
// is excluded from archives then, but it must not be Root itself.
func (j Job) Validate() error {
	if canonical(j.Root) == canonical(j.Output) {
		return &ConfigurationError{Job: j.Name, Err: ErrOutputIsRoot}
	}

	return nil
}

func canonical(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}

	return resolved
}
