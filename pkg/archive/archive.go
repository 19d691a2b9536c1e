// Package archive packs filesystem entries into a single zip archive with
// entry names relative to a root directory.
package archive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/yurykabanov/srvbackup/pkg/diagnostic"
	"github.com/yurykabanov/srvbackup/pkg/pattern"
)

const (
	DefaultExtension = "zip"

	fileNamePrefix = "backup-"
	fileNameLayout = "2006-01-02-15-04"

	bufferSize = 256 * 1024
)

// FileName returns archive file name for the given creation time,
// e.g. backup-2024-03-01-13-05.zip.
func FileName(t time.Time, ext string) string {
	return fmt.Sprintf("%s%s.%s", fileNamePrefix, t.Format(fileNameLayout), ext)
}

// IsArchiveName reports whether name has the FileName layout for ext.
func IsArchiveName(name, ext string) bool {
	suffix := "." + ext

	if len(name) <= len(fileNamePrefix)+len(suffix) ||
		!strings.HasPrefix(name, fileNamePrefix) || !strings.HasSuffix(name, suffix) {
		return false
	}

	_, err := time.Parse(fileNameLayout, name[len(fileNamePrefix):len(name)-len(suffix)])
	return err == nil
}

type Option func(*Writer)

// WithLevel overrides deflate compression level.
func WithLevel(level int) Option {
	return func(w *Writer) {
		w.level = level
	}
}

type Stats struct {
	Entries   int
	BytesRead int64
}

// Writer streams files into a zip archive. It is not safe for concurrent use.
type Writer struct {
	root string
	dest string

	file *os.File
	buf  *bufio.Writer
	zw   *zip.Writer

	level    int
	names    map[string]struct{}
	finished bool
	closed   bool
	stats    Stats
}

// Open creates (or truncates) the destination archive.
func Open(dest, root string, opts ...Option) (*Writer, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, &IOError{Op: "open", Path: root, Err: err}
	}

	absDest, err := filepath.Abs(dest)
	if err != nil {
		return nil, &IOError{Op: "open", Path: dest, Err: err}
	}

	w := &Writer{
		root:  absRoot,
		dest:  absDest,
		level: flate.DefaultCompression,
		names: make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.file, err = os.OpenFile(absDest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &IOError{Op: "create", Path: absDest, Err: err}
	}

	w.buf = bufio.NewWriterSize(w.file, bufferSize)
	w.zw = zip.NewWriter(w.buf)

	level := w.level
	w.zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	return w, nil
}

func (w *Writer) Path() string {
	return w.dest
}

func (w *Writer) Stats() Stats {
	return w.stats
}

// AddEntry packs a file or, recursively, a directory. Every visited node is
// checked against excludes first and pruned on match. Entries that vanish or
// can't be read are reported to diag and skipped.
//
// Context is only checked between entries.
func (w *Writer) AddEntry(ctx context.Context, path string, excludes pattern.Set, diag *diagnostic.Sink) error {
	if w.finished {
		return &StateError{Op: "AddEntry"}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return &PathError{Root: w.root, Path: path}
	}

	rel, err := w.relative(abs)
	if err != nil {
		return err
	}

	return w.add(ctx, abs, rel, excludes, diag)
}

func (w *Writer) relative(abs string) (string, error) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", &PathError{Root: w.root, Path: abs}
	}

	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") || filepath.IsAbs(rel) {
		return "", &PathError{Root: w.root, Path: abs}
	}

	if rel == "." {
		rel = ""
	}

	return rel, nil
}

func (w *Writer) add(ctx context.Context, abs, rel string, excludes pattern.Set, diag *diagnostic.Sink) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The root itself is never matched and never becomes an entry
	if rel != "" && excludes.MatchAny(rel) {
		return nil
	}

	if abs == w.dest {
		return nil
	}

	info, err := os.Lstat(abs)
	if err != nil {
		report(diag, rel, err)
		return nil
	}

	if info.Mode()&os.ModeSymlink != 0 {
		info, err = os.Stat(abs)
		if err != nil {
			report(diag, rel, err)
			return nil
		}

		// Linked directories aren't followed
		if info.IsDir() {
			return nil
		}
	}

	if info.IsDir() {
		children, err := os.ReadDir(abs)
		if err != nil {
			report(diag, rel, err)
			return nil
		}

		for _, child := range children {
			childRel := child.Name()
			if rel != "" {
				childRel = rel + "/" + child.Name()
			}

			err = w.add(ctx, filepath.Join(abs, child.Name()), childRel, excludes, diag)
			if err != nil {
				return err
			}
		}

		return nil
	}

	// Sockets, devices and pipes
	if !info.Mode().IsRegular() {
		return nil
	}

	return w.writeFile(abs, rel, info, diag)
}

func (w *Writer) writeFile(abs, rel string, info os.FileInfo, diag *diagnostic.Sink) error {
	if _, ok := w.names[rel]; ok {
		return nil
	}

	f, err := os.Open(abs)
	if err != nil {
		report(diag, rel, err)
		return nil
	}
	defer f.Close()

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return &IOError{Op: "write", Path: w.dest, Err: err}
	}
	header.Name = rel
	header.Method = zip.Deflate

	entry, err := w.zw.CreateHeader(header)
	if err != nil {
		return &IOError{Op: "write", Path: w.dest, Err: err}
	}

	w.names[rel] = struct{}{}
	w.stats.Entries++

	// Concurrent writers may grow or shrink the file, whatever is read is archived
	out := &trackingWriter{w: entry}
	n, err := io.Copy(out, f)
	w.stats.BytesRead += n

	if err != nil {
		if out.err != nil {
			return &IOError{Op: "write", Path: w.dest, Err: out.err}
		}
		diag.Add(rel, diagnostic.KindPartial, err)
	}

	return nil
}

// Finish flushes and closes the archive. The writer can't be used afterwards.
func (w *Writer) Finish() error {
	if w.finished {
		return &StateError{Op: "Finish"}
	}
	w.finished = true

	if err := w.zw.Close(); err != nil {
		w.file.Close()
		return &IOError{Op: "close", Path: w.dest, Err: err}
	}

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return &IOError{Op: "flush", Path: w.dest, Err: err}
	}

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return &IOError{Op: "sync", Path: w.dest, Err: err}
	}

	if err := w.file.Close(); err != nil {
		return &IOError{Op: "close", Path: w.dest, Err: err}
	}

	w.closed = true

	return nil
}

// Discard closes the underlying file without finishing the archive and
// removes it. A successfully finished archive can't be discarded.
func (w *Writer) Discard() error {
	if w.closed {
		return &StateError{Op: "Discard"}
	}

	if !w.finished {
		w.finished = true
		w.file.Close()
	}

	err := os.Remove(w.dest)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

func report(diag *diagnostic.Sink, rel string, err error) {
	if os.IsNotExist(err) {
		diag.Add(rel, diagnostic.KindMissing, err)
		return
	}
	diag.Add(rel, diagnostic.KindUnreadable, err)
}

type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}
