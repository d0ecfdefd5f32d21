package storage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"context"
)

// LocalStorage implements ObjectStorage on the local filesystem. It backs
// single-node deployments and tests.
type LocalStorage struct {
	basePath string
	mu       sync.RWMutex
	etags    map[string]string
}

// NewLocalStorage creates a local filesystem store rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
		etags:    make(map[string]string),
	}, nil
}

// Put writes an object under key.
func (l *LocalStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	destPath := l.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPutFailed, err)
	}

	// Write to a temp file and rename, so readers never see a torn object.
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".put-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPutFailed, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %v", ErrPutFailed, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %v", ErrPutFailed, err)
	}
	if err := os.Rename(tmp.Name(), destPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %v", ErrPutFailed, err)
	}

	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])

	l.mu.Lock()
	l.etags[key] = etag
	l.mu.Unlock()

	return etag, nil
}

// PutConditional writes only if the stored ETag matches.
func (l *LocalStorage) PutConditional(ctx context.Context, key string, data []byte, etag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.RLock()
	current, exists := l.etags[key]
	l.mu.RUnlock()

	if etag == "" {
		if exists {
			return ErrPreconditionFailed
		}
	} else if !exists || current != etag {
		return ErrPreconditionFailed
	}

	_, err := l.Put(ctx, key, data)
	return err
}

// Get reads the object stored under key.
func (l *LocalStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(l.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrGetFailed, err)
	}
	return data, nil
}

// Delete removes the object under key. Idempotent.
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(l.fullPath(key)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}

	l.mu.Lock()
	delete(l.etags, key)
	l.mu.Unlock()

	return nil
}

// Exists reports whether an object is stored under key.
func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, err := os.Stat(l.fullPath(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns all keys under the given prefix.
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []string
	err := filepath.Walk(l.fullPath(prefix), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() && filepath.Base(path)[0] != '.' {
			rel, err := filepath.Rel(l.basePath, path)
			if err != nil {
				return err
			}
			keys = append(keys, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return keys, nil
}

func (l *LocalStorage) fullPath(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}
