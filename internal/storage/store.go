package storage

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"guichet/pkg/logging"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Store is a persistent key-value store.
//
// Delete of a missing key is a no-op. Keys returns the stored keys in
// lexical order.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Watcher is implemented by stores that can report changes made outside the
// current process.
type Watcher interface {
	// Watch calls onChange after the underlying data changed, until ctx is
	// done.
	Watch(ctx context.Context, onChange func()) error
}

// Namespace prefixes every key of an underlying store.
type Namespace struct {
	store  Store
	prefix string
}

// NewNamespace wraps store so that key k is stored as prefix_k.
func NewNamespace(store Store, prefix string) *Namespace {
	return &Namespace{store: store, prefix: strings.TrimSuffix(prefix, "_") + "_"}
}

// Key returns the fully qualified key.
func (n *Namespace) Key(key string) string {
	return n.prefix + key
}

// Get implements Store.
func (n *Namespace) Get(ctx context.Context, key string) (string, error) {
	return n.store.Get(ctx, n.Key(key))
}

// Set implements Store.
// SECURITY: only the key name is logged.
func (n *Namespace) Set(ctx context.Context, key, value string) error {
	if err := n.store.Set(ctx, n.Key(key), value); err != nil {
		logging.Audit("Storage", "credential write failed",
			slog.String("event", "store_write_failed"),
			slog.String("key", n.Key(key)),
			slog.String("error", err.Error()))
		return err
	}
	logging.Audit("Storage", "credential stored",
		slog.String("event", "store_write"),
		slog.String("key", n.Key(key)))
	return nil
}

// Delete implements Store.
func (n *Namespace) Delete(ctx context.Context, key string) error {
	if err := n.store.Delete(ctx, n.Key(key)); err != nil {
		logging.Audit("Storage", "credential deletion failed",
			slog.String("event", "store_delete_failed"),
			slog.String("key", n.Key(key)),
			slog.String("error", err.Error()))
		return err
	}
	logging.Audit("Storage", "credential deleted",
		slog.String("event", "store_delete"),
		slog.String("key", n.Key(key)))
	return nil
}

// Keys returns the unprefixed keys belonging to this namespace.
func (n *Namespace) Keys(ctx context.Context) ([]string, error) {
	all, err := n.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range all {
		if strings.HasPrefix(k, n.prefix) {
			keys = append(keys, strings.TrimPrefix(k, n.prefix))
		}
	}
	return keys, nil
}

// Watch forwards to the underlying store when it supports watching.
func (n *Namespace) Watch(ctx context.Context, onChange func()) error {
	w, ok := n.store.(Watcher)
	if !ok {
		return ErrWatchUnsupported
	}
	return w.Watch(ctx, onChange)
}

// ErrWatchUnsupported is returned by Namespace.Watch when the backend cannot
// report changes.
var ErrWatchUnsupported = errors.New("storage: backend does not support watching")

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
