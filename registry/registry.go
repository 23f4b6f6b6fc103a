// Package registry is the durable list of watched targets for one domain:
// a JSON array file guarded by a mutex.
//
//	reg := registry.New[traffic.Entry]("data/ip_monitor_list.json", registry.WithLogger(logger))
//	if err := reg.Add(traffic.Entry{IP: "1.2.3.4"}); errors.Is(err, registry.ErrDuplicate) { ... }
//
// Every mutation is a read-modify-write under the registry lock followed by
// a whole-file rewrite (temp file, fsync, rename). A file that cannot be
// parsed is reported as ErrCorrupt: reads fail open to an empty list and
// writes are refused until a human repairs the file.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// Keyed is implemented by every registry item. Key must be unique within
// one registry.
type Keyed interface {
	Key() string
}

// Registry stores items of type T in a JSON file.
type Registry[T Keyed] struct {
	path   string
	seed   []T
	logger *slog.Logger

	mu sync.Mutex
}

// Option configures a Registry.
type Option[T Keyed] func(*Registry[T])

// WithLogger sets a custom logger.
func WithLogger[T Keyed](l *slog.Logger) Option[T] {
	return func(r *Registry[T]) { r.logger = l }
}

// WithSeed sets the items written when the file does not exist yet.
func WithSeed[T Keyed](items ...T) Option[T] {
	return func(r *Registry[T]) { r.seed = items }
}

// New creates a Registry backed by path. The file is created lazily on
// first Load.
func New[T Keyed](path string, opts ...Option[T]) *Registry[T] {
	r := &Registry[T]{path: path, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Path returns the backing file path.
func (r *Registry[T]) Path() string { return r.path }

// Load returns every item in file order. A missing file is created (with
// the seed, if any). On parse failure Load logs, returns an empty list and
// an error wrapping ErrCorrupt.
func (r *Registry[T]) Load() ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

// Get returns the item with the given key.
func (r *Registry[T]) Get(key string) (T, error) {
	var zero T
	items, err := r.Load()
	if err != nil {
		return zero, err
	}
	for _, it := range items {
		if it.Key() == key {
			return it, nil
		}
	}
	return zero, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Save replaces the whole collection.
func (r *Registry[T]) Save(items []T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(items)
}

// Add appends item. It returns ErrDuplicate when the key already exists.
func (r *Registry[T]) Add(item T) error {
	return r.Update(func(items []T) ([]T, bool, error) {
		if slices.ContainsFunc(items, func(it T) bool { return it.Key() == item.Key() }) {
			return nil, false, fmt.Errorf("%w: %s", ErrDuplicate, item.Key())
		}
		return append(items, item), true, nil
	})
}

// Remove deletes the item with key and returns it so the caller can clean
// up side-channel resources. It returns ErrNotFound when absent.
func (r *Registry[T]) Remove(key string) (T, error) {
	var removed T
	err := r.Update(func(items []T) ([]T, bool, error) {
		i := slices.IndexFunc(items, func(it T) bool { return it.Key() == key })
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		removed = items[i]
		return slices.Delete(items, i, i+1), true, nil
	})
	return removed, err
}

// Modify applies fn to the item with key and persists the result.
func (r *Registry[T]) Modify(key string, fn func(T) (T, error)) (T, error) {
	var updated T
	err := r.Update(func(items []T) ([]T, bool, error) {
		i := slices.IndexFunc(items, func(it T) bool { return it.Key() == key })
		if i < 0 {
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		next, err := fn(items[i])
		if err != nil {
			return nil, false, err
		}
		items[i], updated = next, next
		return items, true, nil
	})
	return updated, err
}

// Update runs a read-modify-write under the registry lock. fn receives the
// current items and returns the new collection plus whether it changed;
// the file is rewritten only when it did. Update refuses to run against a
// corrupt file.
func (r *Registry[T]) Update(fn func([]T) ([]T, bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, err := r.loadLocked()
	if err != nil {
		return err
	}
	next, dirty, err := fn(items)
	if err != nil || !dirty {
		return err
	}
	return r.saveLocked(next)
}

func (r *Registry[T]) loadLocked() ([]T, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		items := slices.Clone(r.seed)
		if items == nil {
			items = []T{}
		}
		if err := r.saveLocked(items); err != nil {
			return []T{}, err
		}
		r.logger.Info("registry: created", "path", r.path, "items", len(items))
		return items, nil
	}
	if err != nil {
		r.logger.Error("registry: read failed", "path", r.path, "error", err)
		return []T{}, fmt.Errorf("registry: read %s: %w", r.path, err)
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		r.logger.Error("registry: parse failed", "path", r.path, "error", err)
		return []T{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, r.path, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func (r *Registry[T]) saveLocked(items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.MarshalIndent(items, "", "    ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir: %w", err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("registry: create temp: %w", err)
	}
	tmp := f.Name()
	cleanup := func() {
		f.Close()
		os.Remove(tmp)
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		cleanup()
		r.logger.Error("registry: write failed", "path", r.path, "error", err)
		return fmt.Errorf("registry: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("registry: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("registry: close: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		r.logger.Error("registry: rename failed", "path", r.path, "error", err)
		return fmt.Errorf("registry: rename: %w", err)
	}
	return nil
}
