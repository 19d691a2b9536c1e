package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yurykabanov/srvbackup/pkg/diagnostic"
	"github.com/yurykabanov/srvbackup/pkg/pattern"
)

func writeFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()

	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, content, 0644))
}

func patterns(t *testing.T, pp ...string) pattern.Set {
	t.Helper()

	set, err := pattern.CompileAll(pp)
	require.NoError(t, err)

	return set
}

// readArchive returns archive entries mapped to their content.
func readArchive(t *testing.T, path string) map[string][]byte {
	t.Helper()

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	result := make(map[string][]byte)
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()

		_, dup := result[f.Name]
		require.False(t, dup, "duplicate entry %s", f.Name)

		result[f.Name] = data
	}

	return result
}

func names(entries map[string][]byte) []string {
	result := make([]string, 0, len(entries))
	for name := range entries {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

func TestFileName(t *testing.T) {
	ts := time.Date(2024, 3, 1, 13, 5, 59, 0, time.UTC)

	assert.Equal(t, "backup-2024-03-01-13-05.zip", FileName(ts, DefaultExtension))
}

func TestWriter_RoundTrip(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	a := []byte("0123456789")
	b := []byte("abcdefghijklmnopqrst")

	writeFile(t, root, "a.txt", a)
	writeFile(t, root, "sub/b.txt", b)

	w, err := Open(filepath.Join(out, "test.zip"), root)
	require.NoError(t, err)

	diag := &diagnostic.Sink{}
	ctx := context.Background()

	require.NoError(t, w.AddEntry(ctx, filepath.Join(root, "a.txt"), nil, diag))
	require.NoError(t, w.AddEntry(ctx, filepath.Join(root, "sub"), nil, diag))
	require.NoError(t, w.Finish())

	entries := readArchive(t, filepath.Join(out, "test.zip"))

	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, names(entries))
	assert.Equal(t, a, entries["a.txt"])
	assert.Equal(t, b, entries["sub/b.txt"])
	assert.Equal(t, 0, diag.Len())
	assert.Equal(t, Stats{Entries: 2, BytesRead: 30}, w.Stats())
}

func TestWriter_RootEntryHasNoOwnRecord(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	writeFile(t, root, "server.properties", []byte("motd=hi"))
	writeFile(t, root, "world/level.dat", []byte("level"))

	w, err := Open(filepath.Join(out, "test.zip"), root)
	require.NoError(t, err)

	require.NoError(t, w.AddEntry(context.Background(), root, nil, &diagnostic.Sink{}))
	require.NoError(t, w.Finish())

	entries := readArchive(t, filepath.Join(out, "test.zip"))

	assert.Equal(t, []string{"server.properties", "world/level.dat"}, names(entries))
}

func TestWriter_ExcludePrunesSubtree(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	writeFile(t, root, "a.txt", []byte("a"))
	writeFile(t, root, "logs/latest.log", []byte("log"))
	writeFile(t, root, "logs/old/1.log", []byte("log"))
	writeFile(t, root, "world/session.lock", []byte("lock"))
	writeFile(t, root, "world/level.dat", []byte("level"))

	w, err := Open(filepath.Join(out, "test.zip"), root)
	require.NoError(t, err)

	excludes := patterns(t, "logs", "world/session.lock")

	require.NoError(t, w.AddEntry(context.Background(), root, excludes, &diagnostic.Sink{}))
	require.NoError(t, w.Finish())

	entries := readArchive(t, filepath.Join(out, "test.zip"))

	assert.Equal(t, []string{"a.txt", "world/level.dat"}, names(entries))
}

func TestWriter_ExcludeDominatesExplicitEntry(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	writeFile(t, root, "a.txt", []byte("a"))
	writeFile(t, root, "sub/b.txt", []byte("b"))

	w, err := Open(filepath.Join(out, "test.zip"), root)
	require.NoError(t, err)

	excludes := patterns(t, "sub/**", "a.txt")
	diag := &diagnostic.Sink{}

	require.NoError(t, w.AddEntry(context.Background(), filepath.Join(root, "a.txt"), excludes, diag))
	require.NoError(t, w.AddEntry(context.Background(), filepath.Join(root, "sub", "b.txt"), excludes, diag))
	require.NoError(t, w.Finish())

	assert.Empty(t, readArchive(t, filepath.Join(out, "test.zip")))
}

func TestWriter_SkipsItself(t *testing.T) {
	root := t.TempDir()

	writeFile(t, root, "a.txt", []byte("a"))

	w, err := Open(filepath.Join(root, "self.zip"), root)
	require.NoError(t, err)

	require.NoError(t, w.AddEntry(context.Background(), root, nil, &diagnostic.Sink{}))
	require.NoError(t, w.Finish())

	assert.Equal(t, []string{"a.txt"}, names(readArchive(t, filepath.Join(root, "self.zip"))))
}

func TestWriter_DuplicateEntriesWrittenOnce(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	writeFile(t, root, "sub/b.txt", []byte("b"))

	w, err := Open(filepath.Join(out, "test.zip"), root)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.AddEntry(ctx, filepath.Join(root, "sub"), nil, nil))
	require.NoError(t, w.AddEntry(ctx, filepath.Join(root, "sub", "b.txt"), nil, nil))
	require.NoError(t, w.Finish())

	assert.Equal(t, []string{"sub/b.txt"}, names(readArchive(t, filepath.Join(out, "test.zip"))))
}

func TestWriter_VanishedFileIsDiagnostic(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	writeFile(t, root, "a.txt", []byte("a"))
	writeFile(t, root, "gone.txt", []byte("gone"))

	w, err := Open(filepath.Join(out, "test.zip"), root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))

	diag := &diagnostic.Sink{}
	ctx := context.Background()

	require.NoError(t, w.AddEntry(ctx, filepath.Join(root, "gone.txt"), nil, diag))
	require.NoError(t, w.AddEntry(ctx, filepath.Join(root, "a.txt"), nil, diag))
	require.NoError(t, w.Finish())

	assert.Equal(t, []string{"a.txt"}, names(readArchive(t, filepath.Join(out, "test.zip"))))
	require.Equal(t, 1, diag.Len())
	assert.Equal(t, "gone.txt", diag.Items()[0].Path)
	assert.Equal(t, diagnostic.KindMissing, diag.Items()[0].Kind)
}

func TestWriter_UnreadableFileIsDiagnostic(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}

	root := t.TempDir()
	out := t.TempDir()

	writeFile(t, root, "secret.txt", []byte("secret"))
	require.NoError(t, os.Chmod(filepath.Join(root, "secret.txt"), 0))

	w, err := Open(filepath.Join(out, "test.zip"), root)
	require.NoError(t, err)

	diag := &diagnostic.Sink{}

	require.NoError(t, w.AddEntry(context.Background(), root, nil, diag))
	require.NoError(t, w.Finish())

	assert.Empty(t, readArchive(t, filepath.Join(out, "test.zip")))
	require.Equal(t, 1, diag.Len())
	assert.Equal(t, diagnostic.KindUnreadable, diag.Items()[0].Kind)
}

func TestWriter_SymlinkedDirectoryNotFollowed(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()
	other := t.TempDir()

	writeFile(t, other, "outside.txt", []byte("x"))
	writeFile(t, root, "target.txt", []byte("t"))
	require.NoError(t, os.Symlink(other, filepath.Join(root, "linked")))
	require.NoError(t, os.Symlink(filepath.Join(root, "target.txt"), filepath.Join(root, "alias.txt")))

	w, err := Open(filepath.Join(out, "test.zip"), root)
	require.NoError(t, err)

	require.NoError(t, w.AddEntry(context.Background(), root, nil, &diagnostic.Sink{}))
	require.NoError(t, w.Finish())

	entries := readArchive(t, filepath.Join(out, "test.zip"))

	assert.Equal(t, []string{"alias.txt", "target.txt"}, names(entries))
	assert.Equal(t, []byte("t"), entries["alias.txt"])
}

func TestWriter_OutsideRoot(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	out := t.TempDir()

	writeFile(t, other, "x.txt", []byte("x"))

	w, err := Open(filepath.Join(out, "test.zip"), root)
	require.NoError(t, err)
	defer w.Discard()

	err = w.AddEntry(context.Background(), filepath.Join(other, "x.txt"), nil, nil)

	var pathErr *PathError
	assert.True(t, errors.As(err, &pathErr))
}

func TestWriter_UseAfterFinish(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	w, err := Open(filepath.Join(out, "test.zip"), root)
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	var stateErr *StateError

	err = w.AddEntry(context.Background(), root, nil, nil)
	assert.True(t, errors.As(err, &stateErr))

	err = w.Finish()
	assert.True(t, errors.As(err, &stateErr))

	err = w.Discard()
	assert.True(t, errors.As(err, &stateErr))

	_, err = os.Stat(filepath.Join(out, "test.zip"))
	assert.NoError(t, err)
}

func TestIsArchiveName(t *testing.T) {
	assert.True(t, IsArchiveName(FileName(time.Date(2024, 3, 1, 13, 5, 0, 0, time.UTC), "zip"), "zip"))
	assert.True(t, IsArchiveName("backup-2023-12-31-23-59.zip", "zip"))

	for _, name := range []string{
		"server.jar",
		"backup-.zip",
		"backup-2024-03-01-13-05.tar",
		"backup-2024-13-01-13-05.zip",
		"backup-2024-03-01-13-05.zip.part",
		"mybackup-2024-03-01-13-05.zip",
	} {
		assert.False(t, IsArchiveName(name, "zip"), name)
	}
}

func TestOpen_DestinationNotCreatable(t *testing.T) {
	root := t.TempDir()

	w, err := Open(filepath.Join(root, "missing", "dir", "test.zip"), root)

	assert.Nil(t, w)

	var ioErr *IOError
	require.True(t, errors.As(err, &ioErr))
	assert.Equal(t, "create", ioErr.Op)
}

func TestWriter_Cancelled(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	writeFile(t, root, "a.txt", []byte("a"))

	w, err := Open(filepath.Join(out, "test.zip"), root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = w.AddEntry(ctx, root, nil, nil)
	assert.Equal(t, context.Canceled, err)

	require.NoError(t, w.Discard())

	_, err = os.Stat(filepath.Join(out, "test.zip"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_WithLevelStore(t *testing.T) {
	root := t.TempDir()
	out := t.TempDir()

	content := make([]byte, 4096)
	writeFile(t, root, "zeros.bin", content)

	w, err := Open(filepath.Join(out, "test.zip"), root, WithLevel(0))
	require.NoError(t, err)

	require.NoError(t, w.AddEntry(context.Background(), root, nil, nil))
	require.NoError(t, w.Finish())

	assert.Equal(t, content, readArchive(t, filepath.Join(out, "test.zip"))["zeros.bin"])
}
