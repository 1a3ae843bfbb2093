package oauth

import "log/slog"

const redacted = "[REDACTED]"

// RedactedToken wraps a secret so that formatting, logging or marshaling it
// never prints the value. Value returns the secret for use in a request.
type RedactedToken struct {
	value string
}

// Redact wraps value.
func Redact(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the wrapped secret. Never log the result.
func (t RedactedToken) Value() string {
	return t.value
}

// IsEmpty reports whether there is no secret.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

// String implements fmt.Stringer. An empty token prints as "" so that logs
// still tell a missing token from a present one.
func (t RedactedToken) String() string {
	if t.value == "" {
		return ""
	}
	return redacted
}

// GoString implements fmt.GoStringer for %#v.
func (t RedactedToken) GoString() string {
	return "oauth.RedactedToken{" + t.String() + "}"
}

// LogValue implements slog.LogValuer.
func (t RedactedToken) LogValue() slog.Value {
	return slog.StringValue(t.String())
}

// MarshalText implements encoding.TextMarshaler.
func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// LogValue implements slog.LogValuer: the token set is logged with its
// secrets redacted.
func (t *Token) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("access_token", Redact(t.AccessToken)),
		slog.Any("refresh_token", Redact(t.RefreshToken)),
		slog.Any("id_token", Redact(t.IDToken)),
		slog.String("scope", t.Scope),
		slog.Time("expires_at", t.ExpiresAt),
		slog.Time("refresh_expires_at", t.RefreshExpiresAt),
	)
}
