package targetsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTargets(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestFileSource_SkipsBlankAndCommentLines(t *testing.T) {
	path := writeTargets(t, "example.com\n\n# a comment\n  \nother.example:8443\n")
	src := NewFileSource(path)

	targets, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"example.com", "other.example:8443"}, targets)
}

func TestFileSource_MissingFileErrors(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "does-not-exist.txt"))
	_, err := src.Fetch(context.Background())
	assert.Error(t, err)
}

func TestTrancoSource_NotImplemented(t *testing.T) {
	src := NewTrancoSource("top-1m", 100)
	_, err := src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestCrUXSource_NotImplemented(t *testing.T) {
	src := NewCrUXSource("US", 100)
	_, err := src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNotImplemented)
}
