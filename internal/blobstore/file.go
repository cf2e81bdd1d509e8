package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// fileBucket stores objects as files under a root directory. Content types
// are not kept. Directories are only created by Put.
type fileBucket struct {
	root string
}

func openFile(loc Location) (*fileBucket, error) {
	return &fileBucket{root: loc.Bucket}, nil
}

func (b *fileBucket) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *fileBucket) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", b.URL(key), ErrNotExist)
	}
	return data, err
}

func (b *fileBucket) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	p := b.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating bucket directory: %w", err)
	}
	return os.WriteFile(p, data, 0o644)
}

func (b *fileBucket) URL(key string) string {
	return "file://" + filepath.ToSlash(b.path(key))
}

func (b *fileBucket) Close() error {
	return nil
}
