package domain

import (
	"context"
	"time"
)

// Run is the stored record of one backup invocation.
type Run struct {
	Id int64

	Job     string
	Archive string
	Size    int64

	Archived     bool
	Uploaded     bool
	RetentionRan bool

	Diagnostics int
	Evictions   int

	// Empty for successful runs
	Error string

	StartedAt  time.Time
	FinishedAt *time.Time
}

// Successful reports whether the archive was both produced and uploaded.
func (r Run) Successful() bool {
	return r.Archived && r.Uploaded && r.Error == ""
}

type RunRepository interface {
	Create(context.Context, Run) (Run, error)
	Update(context.Context, Run) error
}

// apply copies result of a finished invocation into the record.
func (r Run) apply(result Result, err error) Run {
	r.Archive = result.Archive
	r.Size = result.Size
	r.Archived = result.Archived
	r.Uploaded = result.Uploaded
	r.RetentionRan = result.RetentionRan
	r.Diagnostics = len(result.Diagnostics)
	r.Evictions = result.Evictions

	if err != nil {
		r.Error = err.Error()
	}

	finishedAt := result.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now()
	}
	r.FinishedAt = &finishedAt

	return r
}
