// Package storage provides the namespaced key-value credential store that
// backs the session.
//
// Backends:
//   - file: a single JSON document on disk (0600 file in a 0700 directory),
//     rewritten atomically. It implements Watcher so a long running process
//     notices changes made by another one.
//   - keyring: the operating system keychain.
//   - sqlite: a kv_entries table through gorm.
//   - memory: process local, for tests.
//
// Callers normally use Open, which wraps the backend in a Namespace so every
// key is prefixed (ESPACE_CO_ by default) and every write is audit logged.
// Values are never logged.
package storage
