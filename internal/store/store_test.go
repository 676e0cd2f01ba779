package store

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenReadRequiresExistingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenRead(filepath.Join(dir, "missing.txt"))
	require.Error(t, err)
}

func TestOpenReadRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := OpenRead(dir)
	require.Error(t, err)
}

func TestOpenReadSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	rc, err := OpenRead(path)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestCreateWriteRejectsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := CreateWrite(path)
	require.Error(t, err)
}

func TestCreateWriteCreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "b.bin")

	wc, err := CreateWrite(path)
	require.NoError(t, err)
	_, err = wc.Write([]byte("B1"))
	require.NoError(t, err)
	require.NoError(t, wc.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "B1", string(data))
}
