// Package config provides configuration management for guichet.
//
// Configuration is read from config.yaml in a single directory, by default
// ~/.config/guichet, and layered as follows:
//
//  1. built-in defaults (see Default)
//  2. config.yaml
//  3. GUICHET_* environment variables
//  4. command line flags, applied by the cmd package
//
// Example config.yaml:
//
//	environment: production
//	oauth:
//	  baseURL: https://sso.example.fr/realms/demo/protocol/openid-connect
//	  clientID: guichet
//	api:
//	  baseURL: https://espacecollaboratif.ign.fr/api/
//	storage:
//	  backend: keyring
//	qualification:
//	  oauth:
//	    baseURL: https://sso-qlf.example.fr/realms/demo/protocol/openid-connect
//	  api:
//	    baseURL: https://qlf-collaboratif.example.fr/api/
//
// Validate reports every problem at once as ValidationErrors.
package config
