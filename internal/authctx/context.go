package authctx

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"guichet/internal/auth"
	"guichet/internal/domain"
	"guichet/internal/storage"
	"guichet/pkg/logging"
)

// Service is the subset of the auth service the context drives.
type Service interface {
	LoginWithPassword(ctx context.Context, email, password string) auth.AuthResult
	LoginWithOAuth(ctx context.Context) auth.AuthResult
	HandleCallbackParams(ctx context.Context, params url.Values) auth.AuthResult
	ContinueWithoutAccount(ctx context.Context) auth.AuthResult
	RestoreSession(ctx context.Context) auth.AuthResult
	RefreshSession(ctx context.Context) auth.AuthResult
	Logout(ctx context.Context) auth.AuthResult
}

// UserSource reads the persisted user.
type UserSource interface {
	User(ctx context.Context) (*domain.AppUser, error)
}

// Snapshot is the observable authentication state.
type Snapshot struct {
	User            *domain.AppUser
	IsAuthenticated bool
	IsAnonymous     bool
	IsLoading       bool
	LastError       error
}

// Context holds the current Snapshot. It is safe for concurrent use.
type Context struct {
	svc   Service
	users UserSource

	mu   sync.RWMutex
	snap Snapshot

	subsMu sync.Mutex
	subs   map[uint64]func(Snapshot)
	nextID uint64
}

// New creates a context in the unauthenticated state.
func New(svc Service, users UserSource) *Context {
	return &Context{
		svc:   svc,
		users: users,
		subs:  make(map[uint64]func(Snapshot)),
	}
}

// Snapshot returns the current state.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Subscribe registers fn to be called with every new snapshot. The returned
// function removes the subscription and may be called more than once.
func (c *Context) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	c.subsMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		delete(c.subs, id)
	}
}

// Login signs in with email and password.
func (c *Context) Login(ctx context.Context, email, password string) auth.AuthResult {
	return c.run(func() auth.AuthResult { return c.svc.LoginWithPassword(ctx, email, password) })
}

// LoginWithOAuth starts an OAuth login. In web mode the result carries the
// authorization URL and the snapshot is left as it was.
func (c *Context) LoginWithOAuth(ctx context.Context) auth.AuthResult {
	return c.run(func() auth.AuthResult { return c.svc.LoginWithOAuth(ctx) })
}

// HandleCallback completes a web login from the callback query parameters.
func (c *Context) HandleCallback(ctx context.Context, params url.Values) auth.AuthResult {
	return c.run(func() auth.AuthResult { return c.svc.HandleCallbackParams(ctx, params) })
}

// ContinueWithoutAccount signs in anonymously.
func (c *Context) ContinueWithoutAccount(ctx context.Context) auth.AuthResult {
	return c.run(func() auth.AuthResult { return c.svc.ContinueWithoutAccount(ctx) })
}

// Restore revalidates the stored session.
func (c *Context) Restore(ctx context.Context) auth.AuthResult {
	return c.run(func() auth.AuthResult { return c.svc.RestoreSession(ctx) })
}

// Refresh refreshes the access token. A failure keeps the user signed in and
// only records the error.
func (c *Context) Refresh(ctx context.Context) auth.AuthResult {
	c.update(func(s *Snapshot) { s.IsLoading = true })
	res := c.svc.RefreshSession(ctx)
	c.update(func(s *Snapshot) {
		s.IsLoading = false
		s.LastError = res.Err
	})
	return res
}

// Logout ends the session.
func (c *Context) Logout(ctx context.Context) auth.AuthResult {
	return c.run(func() auth.AuthResult { return c.svc.Logout(ctx) })
}

func (c *Context) run(op func() auth.AuthResult) auth.AuthResult {
	c.update(func(s *Snapshot) { s.IsLoading = true })
	res := op()
	c.update(func(s *Snapshot) { apply(s, res) })
	return res
}

// apply folds an operation result into s.
func apply(s *Snapshot, res auth.AuthResult) {
	s.IsLoading = false

	switch {
	case res.Success:
		s.User = res.User
		s.IsAuthenticated = res.User != nil
		s.IsAnonymous = res.User != nil && res.User.IsAnonymous
		s.LastError = nil

	case errors.Is(res.Err, auth.RedirectRequired), errors.Is(res.Err, auth.LoginInProgress),
		errors.Is(res.Err, auth.ErrNoPendingLogin):
		// The session did not change.

	default:
		*s = Snapshot{LastError: res.Err}
	}
}

func (c *Context) update(fn func(*Snapshot)) {
	c.mu.Lock()
	fn(&c.snap)
	snap := c.snap
	c.mu.Unlock()

	c.publish(snap)
}

func (c *Context) publish(snap Snapshot) {
	c.subsMu.Lock()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subsMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// WatchStore follows changes made to the session by another process until
// ctx is done. A removed user signs this context out; a different user is
// restored.
func (c *Context) WatchStore(ctx context.Context, watcher storage.Watcher) error {
	return watcher.Watch(ctx, func() { c.Sync(ctx) })
}

// Sync reconciles the snapshot with the stored user.
func (c *Context) Sync(ctx context.Context) {
	snap := c.Snapshot()
	if snap.IsLoading {
		return
	}

	stored, err := c.users.User(ctx)
	if err != nil {
		logging.Warn("AuthContext", "Failed to read stored user: %v", err)
		return
	}

	switch {
	case stored == nil && snap.User != nil:
		logging.Info("AuthContext", "Session removed by another process")
		c.Logout(ctx)

	case stored != nil && (snap.User == nil || stored.ID != snap.User.ID || stored.IsAnonymous != snap.User.IsAnonymous):
		logging.Info("AuthContext", "Session changed by another process")
		c.Restore(ctx)
	}
}
