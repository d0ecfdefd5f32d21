package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/tabulon/tabulon/internal/storage"
	"github.com/tabulon/tabulon/pkg/table"
	"github.com/tabulon/tabulon/pkg/types"
)

const keyPrefix = "snapshots/"

// Snapshotter writes table snapshots to object storage. Encoding happens on
// the caller's goroutine, so the table is read under the caller's
// serialization; only the upload runs on the worker pool.
type Snapshotter struct {
	store storage.ObjectStorage
	pool  *ants.Pool
	wg    sync.WaitGroup
}

// NewSnapshotter creates a snapshotter with the given number of concurrent
// upload workers.
func NewSnapshotter(store storage.ObjectStorage, workers int) (*Snapshotter, error) {
	if workers <= 0 {
		workers = 2
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, types.NewStorageError(types.CodeSnapshotFailed, "create upload pool", err)
	}
	return &Snapshotter{store: store, pool: pool}, nil
}

// Key returns the storage key for a table's snapshot.
func Key(tableName string) string {
	return keyPrefix + tableName + ".snap"
}

// TableName extracts the table name from a snapshot key, or "" if the key
// is not a snapshot key.
func TableName(key string) string {
	if !strings.HasPrefix(key, keyPrefix) || !strings.HasSuffix(key, ".snap") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), ".snap")
}

// Save encodes the table and uploads it synchronously. Returns the storage
// key and the stored object's ETag.
func (s *Snapshotter) Save(ctx context.Context, t *table.Table) (string, string, error) {
	blob, err := Encode(t)
	if err != nil {
		return "", "", err
	}

	key := Key(t.Name())
	etag, err := s.store.Put(ctx, key, blob)
	if err != nil {
		return "", "", types.NewStorageError(types.CodeSnapshotFailed,
			fmt.Sprintf("store snapshot %s", key), err)
	}
	log.Printf("snapshot: saved %s (%d rows, %d bytes)", key, t.RowCount(), len(blob))
	return key, etag, nil
}

// SaveAsync encodes the table now and uploads on the worker pool, so the
// caller's serialization boundary covers the read but not the upload. The
// done callback runs on a pool worker when the upload finishes; it may be
// nil.
func (s *Snapshotter) SaveAsync(ctx context.Context, t *table.Table, done func(key, etag string, err error)) error {
	blob, err := Encode(t)
	if err != nil {
		return err
	}

	key := Key(t.Name())
	rows := t.RowCount()
	s.wg.Add(1)
	err = s.pool.Submit(func() {
		defer s.wg.Done()
		etag, putErr := s.store.Put(ctx, key, blob)
		if putErr != nil {
			log.Printf("snapshot: save %s failed: %v", key, putErr)
		} else {
			log.Printf("snapshot: saved %s (%d rows, %d bytes)", key, rows, len(blob))
		}
		if done != nil {
			done(key, etag, putErr)
		}
	})
	if err != nil {
		s.wg.Done()
		return types.NewStorageError(types.CodeSnapshotFailed, "submit snapshot upload", err)
	}
	return nil
}

// Load downloads and decodes the named table's snapshot.
func (s *Snapshotter) Load(ctx context.Context, tableName string) (*table.Table, error) {
	key := Key(tableName)
	blob, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, types.NewStorageError(types.CodeTableNotFound,
				fmt.Sprintf("no snapshot for table %q", tableName), err)
		}
		return nil, types.NewStorageError(types.CodeSnapshotFailed,
			fmt.Sprintf("fetch snapshot %s", key), err)
	}
	return Decode(blob)
}

// List returns the names of all tables with a stored snapshot.
func (s *Snapshotter) List(ctx context.Context) ([]string, error) {
	keys, err := s.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, types.NewStorageError(types.CodeSnapshotFailed, "list snapshots", err)
	}
	var names []string
	for _, key := range keys {
		if name := TableName(key); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// Delete removes the named table's snapshot.
func (s *Snapshotter) Delete(ctx context.Context, tableName string) error {
	if err := s.store.Delete(ctx, Key(tableName)); err != nil {
		return types.NewStorageError(types.CodeSnapshotFailed,
			fmt.Sprintf("delete snapshot for %q", tableName), err)
	}
	return nil
}

// Close waits for in-flight uploads and releases the pool.
func (s *Snapshotter) Close() {
	s.wg.Wait()
	s.pool.Release()
}
