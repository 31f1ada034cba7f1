package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspace(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()

	ws, err := New(ctx, base)
	require.NoError(t, err)
	assert.DirExists(t, ws.Dir)

	path, err := ws.WriteFile("../upload.wav", []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, ws.Dir, filepath.Dir(path))
	assert.FileExists(t, path)

	path2, err := ws.WriteFile("upload.wav", []byte("RIFF"))
	require.NoError(t, err)
	assert.NotEqual(t, path, path2)

	// files created by external tools are removed as well
	require.NoError(t, os.WriteFile(ws.Path("ffmpeg.log"), []byte("log"), 0o600))

	require.NoError(t, ws.Close())
	assert.NoDirExists(t, ws.Dir)
	require.NoError(t, ws.Close())

	_, err = ws.WriteFile("late.wav", nil)
	require.Error(t, err)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWorkspaceIsolation(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()

	a, err := New(ctx, base)
	require.NoError(t, err)
	defer a.Close()
	b, err := New(ctx, base)
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.Dir, b.Dir)
	assert.NotEqual(t, a.Path("x"), b.Path("x"))
}
