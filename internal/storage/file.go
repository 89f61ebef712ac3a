package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rrandiak/altoEditorAPI-sub000/internal/domain"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// FileStore keeps blobs under a root directory using the hashed layout.
type FileStore struct {
	root    string
	pattern string
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root, pattern string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("store root is required")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FileStore{root: root, pattern: pattern}, nil
}

func (s *FileStore) path(pid string, ds domain.Datastream, version int) string {
	return filepath.Join(s.root, filepath.FromSlash(HashPath(s.pattern, Key(pid, ds, version))))
}

// Save writes data through a temp file and rename so readers never see a
// partial blob.
func (s *FileStore) Save(ctx context.Context, pid string, ds domain.Datastream, version int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkKey(pid, version); err != nil {
		return err
	}

	target := s.path(pid, ds, version)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmpName)
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", ds, err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", ds, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", ds, err)
	}
	if err = os.Chmod(tmpName, filePerm); err != nil {
		return fmt.Errorf("chmod %s: %w", ds, err)
	}
	if err = os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("store %s: %w", ds, err)
	}
	return nil
}

// Retrieve returns the blob or an error wrapping domain.ErrNotFound.
func (s *FileStore) Retrieve(ctx context.Context, pid string, ds domain.Datastream, version int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkKey(pid, version); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(pid, ds, version))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(pid, ds, version)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ds, err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, pid string, ds domain.Datastream, version int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := checkKey(pid, version); err != nil {
		return false, err
	}

	_, err := os.Stat(s.path(pid, ds, version))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %s: %w", ds, err)
	}
}
