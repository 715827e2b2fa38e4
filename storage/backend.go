package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"github.com/gofrs/flock"
	"google.golang.org/api/iterator"
)

// ErrNotExist is returned by a backend that has no state document yet.
var ErrNotExist = errors.New("storage: object doesn't exist")

// Backend reads and writes the whole state document.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Location() string
}

// LocalBackend keeps the state document in a file. A lock file next to it
// serializes access between processes.
type LocalBackend struct {
	lock *flock.Flock
	path string
}

// NewLocalBackend creates a file backend for path.
func NewLocalBackend(path string) *LocalBackend {
	return &LocalBackend{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Location returns the file path.
func (b *LocalBackend) Location() string {
	return b.path
}

// Read returns the file contents.
func (b *LocalBackend) Read(_ context.Context) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	if err := b.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock state file: %w", err)
	}
	defer func() { _ = b.lock.Unlock() }()

	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("read from local storage: %w", err)
	}
	return data, nil
}

// Write replaces the file atomically.
func (b *LocalBackend) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := b.lock.Lock(); err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	defer func() { _ = b.lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write to local storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// GCSBackend keeps the state document as a Cloud Storage object. When
// snapshots is positive every write also stores a timestamped copy under
// snapshots/, keeping the newest ones.
type GCSBackend struct {
	client    *storage.Client
	logger    *slog.Logger
	now       func() time.Time
	bucket    string
	object    string
	snapshots int
}

// NewGCSBackend creates a Cloud Storage backend.
func NewGCSBackend(client *storage.Client, bucket, object string, snapshots int, logger *slog.Logger) *GCSBackend {
	return &GCSBackend{
		client:    client,
		logger:    logger,
		now:       time.Now,
		bucket:    bucket,
		object:    object,
		snapshots: snapshots,
	}
}

// Location returns the gs:// URL of the state object.
func (b *GCSBackend) Location() string {
	return "gs://" + b.bucket + "/" + b.object
}

// Read loads the state object.
func (b *GCSBackend) Read(ctx context.Context) ([]byte, error) {
	var data []byte
	var notFound bool
	err := retry.Do(
		func() error {
			r, openErr := b.client.Bucket(b.bucket).Object(b.object).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					notFound = true
					return retry.Unrecoverable(openErr)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					b.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			b.logger.Info("Retrying load operation after error", "attempt", n, "object", b.object, "error", retryErr)
		}),
	)
	if notFound {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// Write stores the state object and, if enabled, a snapshot.
func (b *GCSBackend) Write(ctx context.Context, data []byte) error {
	if err := b.put(ctx, b.object, data); err != nil {
		return err
	}
	if b.snapshots <= 0 {
		return nil
	}

	name := b.snapshotPrefix() + b.now().UTC().Format("20060102T150405.000000000Z") + ".json"
	if err := b.put(ctx, name, data); err != nil {
		b.logger.Warn("Failed to write state snapshot", "object", name, "error", err)
		return nil
	}
	if err := b.pruneSnapshots(ctx); err != nil {
		b.logger.Warn("Failed to prune state snapshots", "error", err)
	}
	return nil
}

func (b *GCSBackend) snapshotPrefix() string {
	return "snapshots/" + strings.TrimSuffix(b.object, ".json") + "-"
}

func (b *GCSBackend) put(ctx context.Context, name string, data []byte) error {
	err := retry.Do(
		func() error {
			w := b.client.Bucket(b.bucket).Object(name).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					b.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			b.logger.Info("Retrying save operation after error", "attempt", n, "object", name, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

// pruneSnapshots deletes all but the newest snapshots. Snapshot names sort
// chronologically.
func (b *GCSBackend) pruneSnapshots(ctx context.Context) error {
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: b.snapshotPrefix()})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("iterate storage: %w", err)
		}
		names = append(names, attrs.Name)
	}

	stale := staleSnapshots(names, b.snapshots)
	for _, name := range stale {
		if err := b.client.Bucket(b.bucket).Object(name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete snapshot %s: %w", name, err)
		}
	}
	if len(stale) > 0 {
		b.logger.Info("State snapshots pruned", "deleted", len(stale), "kept", b.snapshots)
	}
	return nil
}

// staleSnapshots returns the names to delete so that keep remain.
func staleSnapshots(names []string, keep int) []string {
	if len(names) <= keep {
		return nil
	}
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	return sorted[:len(sorted)-keep]
}
