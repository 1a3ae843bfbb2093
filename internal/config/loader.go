package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"guichet/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/guichet"
	configFileName = "config.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GUICHET_"
)

// DefaultConfigPath returns ~/.config/guichet.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads config.yaml from configPath over the defaults, then applies
// GUICHET_* environment overrides. A missing file is not an error.
//
// The result is not validated; callers apply flag overrides first and then
// call Validate.
func LoadConfig(configPath string) (Config, error) {
	cfg := Default()

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("error reading %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = configPath
	}

	return cfg, nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides cfg with GUICHET_* variables.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"ENVIRONMENT":             &cfg.Environment,
		"OAUTH_BASE_URL":          &cfg.OAuth.BaseURL,
		"OAUTH_CLIENT_ID":         &cfg.OAuth.ClientID,
		"OAUTH_ISSUER":            &cfg.OAuth.Issuer,
		"OAUTH_SCOPE":             &cfg.OAuth.Scope,
		"OAUTH_REDIRECT_URI":      &cfg.OAuth.RedirectURI,
		"API_BASE_URL":            &cfg.API.BaseURL,
		"PLATFORM":                &cfg.Platform,
		"LISTEN_ADDRESS":          &cfg.Server.ListenAddress,
		"PUBLIC_URL":              &cfg.Server.PublicURL,
		"STORAGE_BACKEND":         &cfg.Storage.Backend,
		"STORAGE_DIR":             &cfg.Storage.Dir,
		"STORAGE_PREFIX":          &cfg.Storage.Prefix,
		"STORAGE_KEYRING_SERVICE": &cfg.Storage.KeyringService,
		"STORAGE_CREDENTIALS":     &cfg.Storage.Credentials,
		"LOG_LEVEL":               &cfg.LogLevel,
		"LOG_FORMAT":              &cfg.LogFormat,
	}
	for name, target := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*target = v
		}
	}

	if v, ok := lookup(EnvPrefix + "ALLOWED_ORIGINS"); ok {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	durations := map[string]*time.Duration{
		"HTTP_TIMEOUT":     &cfg.Timeouts.HTTP,
		"RESTORE_TIMEOUT":  &cfg.Timeouts.Restore,
		"CALLBACK_TIMEOUT": &cfg.Timeouts.Callback,
		"PKCE_TTL":         &cfg.Timeouts.PKCETTL,
	}
	for name, target := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
		}
		*target = d
	}

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
