package config

import "time"

const (
	// DefaultAPIBaseURL is the production collaborative platform API.
	DefaultAPIBaseURL = "https://espacecollaboratif.ign.fr/api/"

	// DefaultRedirectURI is the loopback redirect used by the native flow.
	DefaultRedirectURI = "http://127.0.0.1:3000/auth/callback"

	// DefaultStoragePrefix namespaces every persisted key.
	DefaultStoragePrefix = "ESPACE_CO"

	// DefaultKeyringService is the OS keychain service name.
	DefaultKeyringService = "fr.ign.guichet"

	DefaultListenAddress = "127.0.0.1:8080"
)

// Default returns the default configuration.
func Default() Config {
	return Config{
		Environment: EnvironmentProduction,
		OAuth: OAuthConfig{
			Scope:       "openid profile email",
			RedirectURI: DefaultRedirectURI,
		},
		API: APIConfig{
			BaseURL: DefaultAPIBaseURL,
		},
		Platform: PlatformAuto,
		Server: ServerConfig{
			ListenAddress: DefaultListenAddress,
		},
		Storage: StorageConfig{
			Backend:        BackendFile,
			Prefix:         DefaultStoragePrefix,
			KeyringService: DefaultKeyringService,
		},
		Timeouts: TimeoutConfig{
			HTTP:     30 * time.Second,
			Restore:  10 * time.Second,
			Callback: 10 * time.Minute,
			PKCETTL:  10 * time.Minute,
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}
