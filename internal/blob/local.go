package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/54b3r/agrofinder-go/internal/rag"
)

// LocalStore implements Store on a directory. Object names are slash-separated
// paths relative to the directory; names that escape it are rejected.
type LocalStore struct {
	dir  string
	root *os.Root
}

// compile-time interface check
var _ Store = (*LocalStore)(nil)

// NewLocalStore opens dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: local blob store: directory is required", rag.ErrConfig)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("local blob store: create %s: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("local blob store: open %s: %w", dir, err)
	}
	return &LocalStore{dir: dir, root: root}, nil
}

// clean validates an object name.
func clean(name string) (string, error) {
	n := path.Clean(strings.TrimPrefix(name, "/"))
	if n == "." || n == ".." || strings.HasPrefix(n, "../") {
		return "", fmt.Errorf("local blob store: invalid object name %q", name)
	}
	return n, nil
}

// Open opens an object for reading.
func (s *LocalStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	n, err := clean(name)
	if err != nil {
		return nil, err
	}
	f, err := s.root.Open(n)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", rag.ErrNotFound, name)
		}
		return nil, fmt.Errorf("local blob store: open %s: %w", name, err)
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", rag.ErrNotFound, name)
	}
	return f, nil
}

// Download reads an object fully.
func (s *LocalStore) Download(ctx context.Context, name string) ([]byte, error) {
	rc, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("local blob store: read %s: %w", name, err)
	}
	return data, nil
}

// Exists reports whether a regular file exists at name.
func (s *LocalStore) Exists(_ context.Context, name string) (bool, error) {
	n, err := clean(name)
	if err != nil {
		return false, err
	}
	st, err := s.root.Stat(n)
	switch {
	case err == nil:
		return !st.IsDir(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("local blob store: stat %s: %w", name, err)
	}
}

// Upload writes r to name, creating parent directories, and returns a
// file:// URL.
func (s *LocalStore) Upload(_ context.Context, r io.Reader, name string) (string, error) {
	n, err := clean(name)
	if err != nil {
		return "", err
	}
	if dir := path.Dir(n); dir != "." {
		if err := s.root.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("local blob store: mkdir %s: %w", dir, err)
		}
	}
	f, err := s.root.Create(n)
	if err != nil {
		return "", fmt.Errorf("local blob store: create %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("local blob store: write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("local blob store: close %s: %w", name, err)
	}
	return "file://" + path.Join(s.dir, n), nil
}

// List walks the directory and returns the regular files whose names start
// with prefix.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := fs.WalkDir(s.root.FS(), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasPrefix(p, prefix) {
			return nil
		}
		names = append(names, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local blob store: list %q: %w", prefix, err)
	}
	slices.Sort(names)
	return names, nil
}

// Ping checks the directory is still accessible.
func (s *LocalStore) Ping(_ context.Context) error {
	if _, err := s.root.Stat("."); err != nil {
		return fmt.Errorf("local blob store: %w", err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *LocalStore) Name() string { return "local-blob" }

// Close releases the directory handle.
func (s *LocalStore) Close() error { return s.root.Close() }
