package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"
)

// keyringIndexKey lists the keys written through this store. The OS keychain
// cannot enumerate entries of a service.
const keyringIndexKey = "__guichet_index__"

// Keyring stores values in the OS keychain under one service name.
type Keyring struct {
	mu      sync.Mutex
	service string
}

// NewKeyring creates a keychain store for service.
func NewKeyring(service string) (*Keyring, error) {
	if service == "" {
		return nil, errors.New("storage: keyring backend requires a service name")
	}
	return &Keyring{service: service}, nil
}

// Get implements Store.
func (k *Keyring) Get(_ context.Context, key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keyring get: %w", err)
	}
	return v, nil
}

// Set implements Store.
func (k *Keyring) Set(_ context.Context, key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}

	index, err := k.indexLocked()
	if err != nil {
		return err
	}
	if _, ok := index[key]; ok {
		return nil
	}
	index[key] = struct{}{}
	return k.saveIndexLocked(index)
}

// Delete implements Store.
func (k *Keyring) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring delete: %w", err)
	}

	index, err := k.indexLocked()
	if err != nil {
		return err
	}
	if _, ok := index[key]; !ok {
		return nil
	}
	delete(index, key)
	return k.saveIndexLocked(index)
}

// Keys implements Store.
func (k *Keyring) Keys(_ context.Context) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	index, err := k.indexLocked()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(index))
	for key := range index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (k *Keyring) indexLocked() (map[string]struct{}, error) {
	index := make(map[string]struct{})

	raw, err := keyring.Get(k.service, keyringIndexKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring index: %w", err)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("keyring index is corrupt: %w", err)
	}
	for _, key := range keys {
		index[key] = struct{}{}
	}
	return index, nil
}

func (k *Keyring) saveIndexLocked(index map[string]struct{}) error {
	if len(index) == 0 {
		if err := keyring.Delete(k.service, keyringIndexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("keyring index: %w", err)
		}
		return nil
	}

	keys := make([]string, 0, len(index))
	for key := range index {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("keyring index: %w", err)
	}
	if err := keyring.Set(k.service, keyringIndexKey, string(raw)); err != nil {
		return fmt.Errorf("keyring index: %w", err)
	}
	return nil
}
