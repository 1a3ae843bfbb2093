package config

import "time"

// Config is the top-level configuration structure for guichet.
type Config struct {
	// Environment selects the platform instance: production or qualification.
	Environment string `yaml:"environment,omitempty"`

	OAuth    OAuthConfig   `yaml:"oauth"`
	API      APIConfig     `yaml:"api"`
	Platform string        `yaml:"platform,omitempty"` // auto, native or web
	Server   ServerConfig  `yaml:"server"`
	Storage  StorageConfig `yaml:"storage"`
	Timeouts TimeoutConfig `yaml:"timeouts"`

	LogLevel  string `yaml:"logLevel,omitempty"`
	LogFormat string `yaml:"logFormat,omitempty"`

	// Qualification overrides OAuth and API settings when Environment is
	// "qualification".
	Qualification *EnvironmentOverride `yaml:"qualification,omitempty"`
}

// EnvironmentOverride holds the settings that differ between platform instances.
type EnvironmentOverride struct {
	OAuth OAuthConfig `yaml:"oauth"`
	API   APIConfig   `yaml:"api"`
}

// OAuthConfig configures the identity provider.
type OAuthConfig struct {
	// BaseURL is the OpenID Connect base, e.g.
	// https://sso.example.com/realms/demo/protocol/openid-connect
	BaseURL  string `yaml:"baseURL,omitempty"`
	ClientID string `yaml:"clientID,omitempty"`

	// Issuer enables id_token verification when set.
	Issuer string `yaml:"issuer,omitempty"`

	Scope string `yaml:"scope,omitempty"`

	// RedirectURI is the native redirect URI. It must match what is registered
	// with the identity provider.
	RedirectURI string `yaml:"redirectURI,omitempty"`
}

// APIConfig configures the collaborative platform API.
type APIConfig struct {
	BaseURL string `yaml:"baseURL,omitempty"`
}

// ServerConfig configures web mode.
type ServerConfig struct {
	ListenAddress  string   `yaml:"listenAddress,omitempty"`
	PublicURL      string   `yaml:"publicURL,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// StorageConfig configures the credential store.
type StorageConfig struct {
	Backend        string `yaml:"backend,omitempty"` // file, keyring, sqlite or memory
	Dir            string `yaml:"dir,omitempty"`
	Prefix         string `yaml:"prefix,omitempty"`
	KeyringService string `yaml:"keyringService,omitempty"`

	// Credentials selects where password login credentials are kept: empty
	// for the backend above, or keyring.
	Credentials string `yaml:"credentials,omitempty"`
}

// TimeoutConfig groups the time bounds of the auth flows.
type TimeoutConfig struct {
	HTTP     time.Duration `yaml:"http,omitempty"`
	Restore  time.Duration `yaml:"restore,omitempty"`
	Callback time.Duration `yaml:"callback,omitempty"`
	PKCETTL  time.Duration `yaml:"pkceTTL,omitempty"`
}

// Platform values.
const (
	PlatformAuto   = "auto"
	PlatformNative = "native"
	PlatformWeb    = "web"
)

// Storage backends.
const (
	BackendFile    = "file"
	BackendKeyring = "keyring"
	BackendSQLite  = "sqlite"
	BackendMemory  = "memory"
)

// Environments.
const (
	EnvironmentProduction    = "production"
	EnvironmentQualification = "qualification"
)

// Effective returns the configuration with the qualification override applied
// when the qualification environment is selected.
func (c Config) Effective() Config {
	if c.Environment != EnvironmentQualification || c.Qualification == nil {
		return c
	}

	out := c
	q := c.Qualification
	if q.OAuth.BaseURL != "" {
		out.OAuth.BaseURL = q.OAuth.BaseURL
	}
	if q.OAuth.ClientID != "" {
		out.OAuth.ClientID = q.OAuth.ClientID
	}
	if q.OAuth.Issuer != "" {
		out.OAuth.Issuer = q.OAuth.Issuer
	}
	if q.OAuth.RedirectURI != "" {
		out.OAuth.RedirectURI = q.OAuth.RedirectURI
	}
	if q.API.BaseURL != "" {
		out.API.BaseURL = q.API.BaseURL
	}
	return out
}
