package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"guichet/internal/domain"
	"guichet/internal/storage"
	"guichet/pkg/clock"
	"guichet/pkg/logging"
	"guichet/pkg/oauth"
)

// Store reads and writes the session.
type Store struct {
	kv      storage.Store
	creds   storage.Store
	clock   clock.Clock
	pkceTTL time.Duration

	// tokensMu orders token record writes against Clear.
	tokensMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithCredentialStore keeps password login credentials in kv instead of the
// session store.
func WithCredentialStore(kv storage.Store) Option {
	return func(s *Store) {
		if kv != nil {
			s.creds = kv
		}
	}
}

// WithPKCETTL sets how long a pending PKCE state stays usable.
func WithPKCETTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.pkceTTL = ttl
		}
	}
}

// New creates a session store over kv.
func New(kv storage.Store, opts ...Option) *Store {
	s := &Store{
		kv:      kv,
		creds:   kv,
		clock:   clock.Real{},
		pkceTTL: DefaultPKCETTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store's notion of the current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

// SetTokens replaces the token record.
func (s *Store) SetTokens(ctx context.Context, token *oauth.Token) error {
	if token == nil || token.AccessToken == "" {
		return errors.New("session: refusing to store an empty token")
	}

	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	return s.setJSON(ctx, keyTokens, s.record(token))
}

// ReplaceTokens stores token only if the stored record still holds
// refreshToken. It reports false without writing when the session was
// cleared or replaced in the meantime.
func (s *Store) ReplaceTokens(ctx context.Context, refreshToken string, token *oauth.Token) (bool, error) {
	if token == nil || token.AccessToken == "" {
		return false, errors.New("session: refusing to store an empty token")
	}

	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()

	current, err := s.Tokens(ctx)
	if err != nil {
		return false, err
	}
	if current == nil || current.RefreshToken != refreshToken {
		return false, nil
	}
	return true, s.setJSON(ctx, keyTokens, s.record(token))
}

// record converts token to a Record with absolute expiries.
func (s *Store) record(token *oauth.Token) Record {
	now := s.clock.Now()
	rec := Record{
		AccessToken:           token.AccessToken,
		AccessTokenExpiresAt:  token.ExpiresAt,
		RefreshToken:          token.RefreshToken,
		RefreshTokenExpiresAt: token.RefreshExpiresAt,
		IDToken:               token.IDToken,
		TokenType:             token.TokenType,
		IssuedAt:              token.IssuedAt,
	}
	if rec.IssuedAt.IsZero() {
		rec.IssuedAt = now
	}
	if rec.AccessTokenExpiresAt.IsZero() && token.ExpiresIn > 0 {
		rec.AccessTokenExpiresAt = now.Add(time.Duration(token.ExpiresIn) * time.Second)
	}
	if rec.RefreshTokenExpiresAt.IsZero() && token.RefreshExpiresIn > 0 {
		rec.RefreshTokenExpiresAt = now.Add(time.Duration(token.RefreshExpiresIn) * time.Second)
	}
	return rec
}

// Tokens returns the stored record, or nil when there is none.
func (s *Store) Tokens(ctx context.Context) (*Record, error) {
	var rec Record
	found, err := s.getJSON(ctx, keyTokens, &rec)
	if err != nil || !found {
		return nil, err
	}
	return &rec, nil
}

// tokensOrNil hides read errors behind an empty session.
func (s *Store) tokensOrNil(ctx context.Context) *Record {
	rec, err := s.Tokens(ctx)
	if err != nil {
		logging.Warn("Session", "Ignoring unreadable token record: %v", err)
		return nil
	}
	return rec
}

// AccessToken returns the stored access token or "".
func (s *Store) AccessToken(ctx context.Context) string {
	if rec := s.tokensOrNil(ctx); rec != nil {
		return rec.AccessToken
	}
	return ""
}

// RefreshToken returns the stored refresh token or "".
func (s *Store) RefreshToken(ctx context.Context) string {
	if rec := s.tokensOrNil(ctx); rec != nil {
		return rec.RefreshToken
	}
	return ""
}

// IDToken returns the stored id token or "".
func (s *Store) IDToken(ctx context.Context) string {
	if rec := s.tokensOrNil(ctx); rec != nil {
		return rec.IDToken
	}
	return ""
}

// IsAccessTokenExpired reports whether now >= expiry - buffer. A missing
// token or expiry counts as expired.
func (s *Store) IsAccessTokenExpired(ctx context.Context, buffer time.Duration) bool {
	rec := s.tokensOrNil(ctx)
	if rec == nil || rec.AccessToken == "" || rec.AccessTokenExpiresAt.IsZero() {
		return true
	}
	return !s.clock.Now().Before(rec.AccessTokenExpiresAt.Add(-buffer))
}

// IsRefreshTokenExpired is true only when a refresh expiry is stored and has
// passed.
func (s *Store) IsRefreshTokenExpired(ctx context.Context) bool {
	rec := s.tokensOrNil(ctx)
	if rec == nil || rec.RefreshTokenExpiresAt.IsZero() {
		return false
	}
	return !s.clock.Now().Before(rec.RefreshTokenExpiresAt)
}

// ClearTokens removes the token record.
func (s *Store) ClearTokens(ctx context.Context) error {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()
	return s.kv.Delete(ctx, keyTokens)
}

// SaveUser stores the current user.
func (s *Store) SaveUser(ctx context.Context, user *domain.AppUser) error {
	if user == nil {
		return errors.New("session: refusing to store a nil user")
	}
	return s.setJSON(ctx, keyUser, user)
}

// User returns the stored user, or nil.
func (s *Store) User(ctx context.Context) (*domain.AppUser, error) {
	var user domain.AppUser
	found, err := s.getJSON(ctx, keyUser, &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

// ClearUser removes the stored user.
func (s *Store) ClearUser(ctx context.Context) error {
	return s.kv.Delete(ctx, keyUser)
}

// SaveCredentials stores password login credentials.
func (s *Store) SaveCredentials(ctx context.Context, creds Credentials) error {
	raw, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", keyCredentials, err)
	}
	return s.creds.Set(ctx, keyCredentials, string(raw))
}

// Credentials returns the stored credentials, or nil when none or incomplete.
func (s *Store) Credentials(ctx context.Context) (*Credentials, error) {
	var creds Credentials
	found, err := getJSON(ctx, s.creds, keyCredentials, &creds)
	if err != nil || !found {
		return nil, err
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, nil
	}
	return &creds, nil
}

// ClearCredentials removes the stored credentials.
func (s *Store) ClearCredentials(ctx context.Context) error {
	return s.creds.Delete(ctx, keyCredentials)
}

// SetActiveCommunity selects one of the stored user's communities.
func (s *Store) SetActiveCommunity(ctx context.Context, id int64) error {
	user, err := s.User(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrNoUser
	}
	if _, ok := user.Community(id); !ok {
		return fmt.Errorf("%w: %d", ErrNotMember, id)
	}
	return s.kv.Set(ctx, keyActiveCommunity, strconv.FormatInt(id, 10))
}

// ActiveCommunity returns the selected community, or nil when none is
// selected or the user left it.
func (s *Store) ActiveCommunity(ctx context.Context) (*domain.Community, error) {
	raw, err := s.kv.Get(ctx, keyActiveCommunity)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("session: invalid active community %q", raw)
	}

	user, err := s.User(ctx)
	if err != nil || user == nil {
		return nil, err
	}
	c, ok := user.Community(id)
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// SavePKCE stores the state of a login attempt, replacing any previous one.
func (s *Store) SavePKCE(ctx context.Context, state PKCEState) error {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = s.clock.Now()
	}
	return s.setJSON(ctx, keyPKCE, state)
}

// PKCE returns the pending PKCE state. A state older than the TTL is removed
// and reported as ErrNoPKCE.
func (s *Store) PKCE(ctx context.Context) (*PKCEState, error) {
	var state PKCEState
	found, err := s.getJSON(ctx, keyPKCE, &state)
	if err != nil {
		return nil, err
	}
	if !found || state.CodeVerifier == "" {
		return nil, ErrNoPKCE
	}
	if s.clock.Now().Sub(state.CreatedAt) > s.pkceTTL {
		logging.Debug("Session", "Discarding PKCE state of attempt %s older than %s", state.AttemptID, s.pkceTTL)
		if err := s.DeletePKCE(ctx); err != nil {
			return nil, err
		}
		return nil, ErrNoPKCE
	}
	return &state, nil
}

// DeletePKCE removes the pending PKCE state.
func (s *Store) DeletePKCE(ctx context.Context) error {
	return s.kv.Delete(ctx, keyPKCE)
}

// Clear removes every key the session owns. It is idempotent and attempts
// every key even when one fails.
func (s *Store) Clear(ctx context.Context) error {
	s.tokensMu.Lock()
	defer s.tokensMu.Unlock()

	var errs []error
	for _, key := range ownedKeys {
		if err := s.kv.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	if s.creds != s.kv {
		if err := s.creds.Delete(ctx, keyCredentials); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", keyCredentials, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: marshal %s: %w", key, err)
	}
	return s.kv.Set(ctx, key, string(raw))
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	return getJSON(ctx, s.kv, key, v)
}

func getJSON(ctx context.Context, kv storage.Store, key string, v any) (bool, error) {
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("session: decode %s: %w", key, err)
	}
	return true, nil
}
