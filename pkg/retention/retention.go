// Package retention keeps a directory of archives under a byte budget by
// evicting the oldest archives first.
package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/yurykabanov/srvbackup/pkg/appcontext"
	"github.com/yurykabanov/srvbackup/pkg/archive"
)

// DirectoryAccessError is returned when the archive directory can't be listed.
type DirectoryAccessError struct {
	Dir string
	Err error
}

func (e *DirectoryAccessError) Error() string {
	return fmt.Sprintf("unable to list archive directory %s: %v", e.Dir, e.Err)
}

func (e *DirectoryAccessError) Cause() error  { return e.Err }
func (e *DirectoryAccessError) Unwrap() error { return e.Err }

// DeletionError is returned when the oldest archive can't be removed. The
// eviction loop stops at that point.
type DeletionError struct {
	Path string
	Err  error
}

func (e *DeletionError) Error() string {
	return fmt.Sprintf("unable to delete archive %s: %v", e.Path, e.Err)
}

func (e *DeletionError) Cause() error  { return e.Err }
func (e *DeletionError) Unwrap() error { return e.Err }

type Eviction struct {
	Path    string
	Size    int64
	ModTime time.Time
}

type Report struct {
	Evicted []Eviction

	// State of the directory after the last listing
	Remaining  int
	TotalBytes int64
}

func (r Report) Reclaimed() int64 {
	var total int64
	for _, e := range r.Evicted {
		total += e.Size
	}
	return total
}

type file struct {
	path    string
	name    string
	size    int64
	modTime time.Time
}

type Manager struct {
	logger logrus.FieldLogger

	remove func(string) error
}

func New(logger logrus.FieldLogger) *Manager {
	return &Manager{
		logger: logger,
		remove: os.Remove,
	}
}

// Enforce deletes the oldest archives in dir, one at a time, until either
// their total size fits into maxBytes or a single archive is left. The last
// archive is never deleted. Files not named like archives are neither counted
// nor deleted.
func (m *Manager) Enforce(ctx context.Context, dir string, maxBytes int64) (Report, error) {
	logger := appcontext.LoggerFromContext(m.logger, ctx).WithField("directory", dir)

	var report Report

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		// Always list again, the previous iteration changed the directory
		files, total, err := list(dir)
		if err != nil {
			return report, err
		}

		report.Remaining = len(files)
		report.TotalBytes = total

		if len(files) <= 1 || total <= maxBytes {
			return report, nil
		}

		oldest := files[0]

		logger.WithFields(logrus.Fields{
			"file":   oldest.name,
			"size":   humanize.Bytes(uint64(oldest.size)),
			"total":  humanize.Bytes(uint64(total)),
			"budget": humanize.Bytes(uint64(maxBytes)),
		}).Info("Evicting oldest archive")

		if err := m.remove(oldest.path); err != nil {
			return report, &DeletionError{Path: oldest.path, Err: err}
		}

		report.Evicted = append(report.Evicted, Eviction{
			Path:    oldest.path,
			Size:    oldest.size,
			ModTime: oldest.modTime,
		})
	}
}

// list returns archives in dir sorted from oldest to newest, ties broken by
// name, along with their total size.
func list(dir string) ([]file, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, &DirectoryAccessError{Dir: dir, Err: err}
	}

	var files []file
	var total int64

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !archive.IsArchiveName(entry.Name(), archive.DefaultExtension) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed concurrently
			if os.IsNotExist(err) {
				continue
			}
			return nil, 0, &DirectoryAccessError{Dir: dir, Err: err}
		}

		files = append(files, file{
			path:    filepath.Join(dir, entry.Name()),
			name:    entry.Name(),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].name < files[j].name
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	return files, total, nil
}
