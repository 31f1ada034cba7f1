// Package workspace provides a per-request scratch directory that is
// removed together with everything inside it.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

type Workspace struct {
	ID  string
	Dir string

	locker sync.Mutex
	closed bool
	files  []string
}

// New creates a fresh directory inside baseDir (os.TempDir() if empty).
func New(ctx context.Context, baseDir string) (*Workspace, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	id := uuid.NewString()
	dir := filepath.Join(baseDir, "qualityscore-"+id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("unable to create the workspace directory '%s': %w", dir, err)
	}
	logger.Tracef(ctx, "created workspace %s", dir)
	return &Workspace{
		ID:  id,
		Dir: dir,
	}, nil
}

// Path returns the path of a file with the given name inside the workspace.
func (ws *Workspace) Path(name string) string {
	return filepath.Join(ws.Dir, filepath.Base(name))
}

// WriteFile stores data under a unique name derived from the given one
// and returns the full path.
func (ws *Workspace) WriteFile(name string, data []byte) (string, error) {
	ws.locker.Lock()
	defer ws.locker.Unlock()
	if ws.closed {
		return "", fmt.Errorf("the workspace is already closed")
	}
	path := ws.Path(fmt.Sprintf("%02d-%s", len(ws.files), filepath.Base(name)))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("unable to write '%s': %w", path, err)
	}
	ws.files = append(ws.files, path)
	return path, nil
}

// Close removes all the files and the directory. It is safe to call
// multiple times.
func (ws *Workspace) Close() error {
	ws.locker.Lock()
	defer ws.locker.Unlock()
	if ws.closed {
		return nil
	}
	ws.closed = true

	var result *multierror.Error
	for _, path := range ws.files {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, fmt.Errorf("unable to remove '%s': %w", path, err))
		}
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		result = multierror.Append(result, fmt.Errorf("unable to remove '%s': %w", ws.Dir, err))
	}
	return result.ErrorOrNil()
}
