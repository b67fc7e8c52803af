package fsutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a", "b", "log.json")
	require.NoError(t, WriteFileAtomic(filePath, func(w io.Writer) error {
		_, err := w.Write([]byte("first"))
		return err
	}))
	contents, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, "first", string(contents))

	// A failing writer leaves the previous version in place and no temporary files behind.
	err = WriteFileAtomic(filePath, func(w io.Writer) error {
		_, _ = w.Write([]byte("partial"))
		return errors.New("boom")
	})
	require.Error(t, err)
	contents, err = os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, "first", string(contents))
	entries, err := os.ReadDir(filepath.Dir(filePath))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestReplaceTildeInDir(t *testing.T) {
	got, err := ReplaceTildeInDir("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", got)

	got, err = ReplaceTildeInDir("~/work")
	require.NoError(t, err)
	assert.NotContains(t, got, "~")
	assert.Equal(t, "work", filepath.Base(got))
}
