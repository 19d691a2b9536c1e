package domain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/srvbackup/pkg/appcontext"
	"github.com/yurykabanov/srvbackup/pkg/archive"
	"github.com/yurykabanov/srvbackup/pkg/diagnostic"
	"github.com/yurykabanov/srvbackup/pkg/pattern"
	"github.com/yurykabanov/srvbackup/pkg/retention"
	"github.com/yurykabanov/srvbackup/pkg/selector"
)

type RetentionEnforcer interface {
	Enforce(ctx context.Context, dir string, maxBytes int64) (retention.Report, error)
}

type BackupService struct {
	logger logrus.FieldLogger

	retention RetentionEnforcer
	options   []archive.Option

	now func() time.Time
}

func NewBackupService(logger logrus.FieldLogger, retention RetentionEnforcer, options ...archive.Option) *BackupService {
	return &BackupService{
		logger:    logger,
		retention: retention,
		options:   options,
		now:       time.Now,
	}
}

// RunBackup selects, archives, uploads and then prunes the output directory.
//
// A non-nil error means the run failed; Result still tells which steps
// completed. Retention failures don't fail the run, they are returned in
// Result.RetentionErr.
func (s *BackupService) RunBackup(ctx context.Context, job Job) (Result, error) {
	result := Result{StartedAt: s.now()}
	diag := &diagnostic.Sink{}

	defer func() {
		result.Diagnostics = diag.Items()
		result.FinishedAt = s.now()
	}()

	logger := appcontext.LoggerFromContext(s.logger, ctx)

	if err := job.Validate(); err != nil {
		return result, err
	}

	err := os.MkdirAll(job.Output, 0755)
	if err != nil {
		return result, &archive.IOError{Op: "mkdir", Path: job.Output, Err: err}
	}

	excludes, err := s.excludeOutput(job)
	if err != nil {
		return result, err
	}

	selection, err := selector.Resolve(ctx, job.Root, job.Includes, excludes, diag)
	if err != nil {
		return result, errors.Wrap(err, "Unable to resolve selection")
	}

	logger.WithField("entries", selection.Len()).Debug("Selection resolved")

	dest := filepath.Join(job.Output, archive.FileName(result.StartedAt, archive.DefaultExtension))

	ctx = appcontext.WithArchive(ctx, dest)
	logger = appcontext.LoggerFromContext(s.logger, ctx)

	size, err := s.archive(ctx, dest, job.Root, selection, excludes, diag)
	if err != nil {
		logger.WithError(err).Error("Archiving failed, partial archive removed")
		return result, err
	}

	result.Archive = dest
	result.Size = size
	result.Archived = true

	logger.WithFields(logrus.Fields{
		"size":        size,
		"diagnostics": diag.Len(),
	}).Info("Archive created")

	if job.Uploader != nil {
		err = job.Uploader.Upload(ctx, dest)
		if err != nil {
			logger.WithError(err).Error("Upload failed, retention skipped")
			return result, &UploadError{Archive: dest, Err: err}
		}
	}

	result.Uploaded = true

	report, err := s.retention.Enforce(ctx, job.Output, job.MaxSize)
	result.Evictions = len(report.Evicted)
	if err != nil {
		logger.WithError(err).Warn("Retention failed")
		result.RetentionErr = err
		return result, nil
	}

	result.RetentionRan = true

	return result, nil
}

func (s *BackupService) archive(
	ctx context.Context,
	dest, root string,
	selection selector.Set,
	excludes pattern.Set,
	diag *diagnostic.Sink,
) (int64, error) {
	w, err := archive.Open(dest, root, s.options...)
	if err != nil {
		return 0, err
	}

	for _, entry := range selection.Entries() {
		err = w.AddEntry(ctx, entry.Path, excludes, diag)
		if err != nil {
			s.discard(ctx, w)
			return 0, err
		}
	}

	err = w.Finish()
	if err != nil {
		s.discard(ctx, w)
		return 0, err
	}

	info, err := os.Stat(dest)
	if err != nil {
		return 0, &archive.IOError{Op: "stat", Path: dest, Err: err}
	}

	return info.Size(), nil
}

func (s *BackupService) discard(ctx context.Context, w *archive.Writer) {
	if err := w.Discard(); err != nil {
		appcontext.LoggerFromContext(s.logger, ctx).WithError(err).Warn("Unable to remove partial archive")
	}
}

// excludeOutput appends a pattern matching the output directory when it lies
// inside root.
func (s *BackupService) excludeOutput(job Job) (pattern.Set, error) {
	excludes := append(pattern.Set{}, job.Excludes...)

	root := canonical(job.Root)
	output := canonical(job.Output)

	rel, err := filepath.Rel(root, output)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return excludes, nil
	}

	if rel == "." {
		return nil, &ConfigurationError{Job: job.Name, Err: ErrOutputIsRoot}
	}

	m, err := pattern.Compile(pattern.Literal(filepath.ToSlash(rel)))
	if err != nil {
		return nil, errors.Wrap(err, "Unable to exclude output directory")
	}

	return append(excludes, m), nil
}
