// Package logging provides subsystem-tagged structured logging for guichet,
// built on Go's standard slog package.
//
// # Log Levels
//   - Debug: protocol details (never token values)
//   - Info: state transitions, storage writes
//   - Warn: recoverable failures (best-effort logout, cleanup errors)
//   - Error: failures surfaced to the user
//
// # Usage
//
//	logging.InitForCLI(logging.ParseLevel(cfg.LogLevel), os.Stderr)
//
//	logging.Info("Auth", "Login succeeded for %s", user.Username)
//	logging.Warn("Auth", "Server logout failed, clearing local session")
//	logging.Error("Storage", err, "Failed to persist session")
//
// Packages that accept a *slog.Logger receive one from For:
//
//	client := oauth.NewClient(oauth.WithLogger(logging.For("OAuth")))
//
// Security-relevant writes go through Audit, which emits a SECURITY_AUDIT
// line carrying only key names and metadata.
package logging
