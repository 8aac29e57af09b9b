package local

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/datatalk/datatalk/internal/storage"
)

// Store keeps staged datasets as files under a root directory. It is meant
// for single-node deployments and tests where no S3 endpoint is available.
// Object metadata is not persisted.
type Store struct {
	root string
}

var _ storage.ObjectStore = (*Store)(nil)

func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("local store root is required")
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create local store root %q: %w", root, err)
	}
	return &Store{root: root}, nil
}

// Put writes through a temp file in the target directory so readers never
// observe a partially written dataset.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	target, normalized, err := s.resolve(ctx, key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("create parent dir for %q: %w", normalized, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".staging-*")
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put object %q: %w", normalized, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	hash := md5.New()
	size, copyErr := io.Copy(io.MultiWriter(tmp, hash), body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put object %q: %w", normalized, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put object %q: %w", normalized, err)
	}
	return storage.ObjectInfo{Key: normalized, Size: size, ETag: hex.EncodeToString(hash.Sum(nil))}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	target, normalized, err := s.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", normalized, err)
	}
	return file, nil
}

// Delete removes the object and any session directories left empty by it.
// Deleting a missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	target, normalized, err := s.resolve(ctx, key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object %q: %w", normalized, err)
	}
	for dir := filepath.Dir(target); dir != s.root && strings.HasPrefix(dir, s.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (s *Store) HealthCheck(_ context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("stat local store root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local store root %q is not a directory", s.root)
	}
	return nil
}

func (s *Store) resolve(ctx context.Context, key string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	normalized, err := storage.NormalizeKey(key)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(normalized)), normalized, nil
}
