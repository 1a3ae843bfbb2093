package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// addIfErr appends err when it is a ValidationError.
func (ve *ValidationErrors) addIfErr(err error) {
	if err == nil {
		return
	}
	if v, ok := err.(ValidationError); ok {
		*ve = append(*ve, v)
		return
	}
	*ve = append(*ve, ValidationError{Message: err.Error()})
}

// ValidateRequired checks if a required string field is not empty
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "is required",
		}
	}
	return nil
}

// ValidateOneOf checks if a value is in a list of allowed values
func ValidateOneOf(field, value string, allowed []string) error {
	for _, allowedValue := range allowed {
		if value == allowedValue {
			return nil
		}
	}
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateAbsoluteURL checks that value parses as an absolute http(s) URL.
func ValidateAbsoluteURL(field, value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ValidationError{
			Field:   field,
			Value:   value,
			Message: "must be an absolute http(s) URL",
		}
	}
	return nil
}

// Validate checks the configuration and reports every problem found.
func (c Config) Validate() error {
	var errs ValidationErrors

	errs.addIfErr(ValidateOneOf("environment", c.Environment,
		[]string{EnvironmentProduction, EnvironmentQualification}))
	errs.addIfErr(ValidateOneOf("platform", c.Platform,
		[]string{PlatformAuto, PlatformNative, PlatformWeb}))
	errs.addIfErr(ValidateOneOf("storage.backend", c.Storage.Backend,
		[]string{BackendFile, BackendKeyring, BackendSQLite, BackendMemory}))
	errs.addIfErr(ValidateOneOf("logFormat", c.LogFormat, []string{"text", "json"}))

	if err := ValidateRequired("oauth.baseURL", c.OAuth.BaseURL); err != nil {
		errs.addIfErr(err)
	} else {
		errs.addIfErr(ValidateAbsoluteURL("oauth.baseURL", c.OAuth.BaseURL))
	}
	errs.addIfErr(ValidateRequired("oauth.clientID", c.OAuth.ClientID))

	if c.OAuth.Issuer != "" {
		errs.addIfErr(ValidateAbsoluteURL("oauth.issuer", c.OAuth.Issuer))
	}
	if c.OAuth.RedirectURI != "" {
		if _, err := url.Parse(c.OAuth.RedirectURI); err != nil {
			errs.Add("oauth.redirectURI", "must be a valid URI", c.OAuth.RedirectURI)
		}
	}

	if err := ValidateRequired("api.baseURL", c.API.BaseURL); err != nil {
		errs.addIfErr(err)
	} else {
		errs.addIfErr(ValidateAbsoluteURL("api.baseURL", c.API.BaseURL))
	}

	if c.Platform == PlatformWeb && c.Server.PublicURL == "" {
		errs.Add("server.publicURL", "is required when platform is web")
	}
	if c.Server.PublicURL != "" {
		errs.addIfErr(ValidateAbsoluteURL("server.publicURL", c.Server.PublicURL))
	}

	if strings.TrimSpace(c.Storage.Prefix) == "" {
		errs.Add("storage.prefix", "is required")
	}
	if c.Storage.Credentials != "" {
		errs.addIfErr(ValidateOneOf("storage.credentials", c.Storage.Credentials, []string{BackendKeyring}))
	}
	if (c.Storage.Backend == BackendKeyring || c.Storage.Credentials == BackendKeyring) && c.Storage.KeyringService == "" {
		errs.Add("storage.keyringService", "is required for the keyring backend")
	}

	if c.Timeouts.HTTP <= 0 {
		errs.Add("timeouts.http", "must be positive", c.Timeouts.HTTP)
	}
	if c.Timeouts.Restore <= 0 {
		errs.Add("timeouts.restore", "must be positive", c.Timeouts.Restore)
	}
	if c.Timeouts.Callback <= 0 {
		errs.Add("timeouts.callback", "must be positive", c.Timeouts.Callback)
	}
	if c.Timeouts.PKCETTL <= 0 {
		errs.Add("timeouts.pkceTTL", "must be positive", c.Timeouts.PKCETTL)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
