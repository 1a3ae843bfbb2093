package storage

import (
	"fmt"
	"path/filepath"

	"guichet/internal/config"
)

// Open builds the store selected by cfg, wrapped in its namespace.
func Open(cfg config.StorageConfig) (*Namespace, error) {
	var (
		backend Store
		err     error
	)

	switch cfg.Backend {
	case config.BackendFile, "":
		backend, err = NewFile(cfg.Dir)
	case config.BackendKeyring:
		backend, err = NewKeyring(cfg.KeyringService)
	case config.BackendSQLite:
		backend, err = NewSQLite(filepath.Join(cfg.Dir, DefaultSQLiteFileName))
	case config.BackendMemory:
		backend = NewMemory()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return NewNamespace(backend, prefix(cfg)), nil
}

// OpenCredentials returns the store for password login credentials: main,
// unless cfg sends them to the OS keychain.
func OpenCredentials(cfg config.StorageConfig, main *Namespace) (*Namespace, error) {
	if cfg.Credentials != config.BackendKeyring || cfg.Backend == config.BackendKeyring {
		return main, nil
	}
	kr, err := NewKeyring(cfg.KeyringService)
	if err != nil {
		return nil, err
	}
	return NewNamespace(kr, prefix(cfg)), nil
}

func prefix(cfg config.StorageConfig) string {
	if cfg.Prefix == "" {
		return config.DefaultStoragePrefix
	}
	return cfg.Prefix
}
