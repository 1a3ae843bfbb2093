package authctx

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guichet/internal/api"
	"guichet/internal/auth"
	"guichet/internal/domain"
	"guichet/internal/platform"
	"guichet/internal/session"
	"guichet/internal/storage"
	"guichet/internal/testing/mock"
	"guichet/pkg/oauth"
)

type fakeService struct {
	results map[string]auth.AuthResult
	calls   []string
	during  func()
}

func (f *fakeService) result(op string) auth.AuthResult {
	f.calls = append(f.calls, op)
	if f.during != nil {
		f.during()
	}
	return f.results[op]
}

func (f *fakeService) LoginWithPassword(context.Context, string, string) auth.AuthResult {
	return f.result("password")
}
func (f *fakeService) LoginWithOAuth(context.Context) auth.AuthResult { return f.result("oauth") }
func (f *fakeService) HandleCallbackParams(context.Context, url.Values) auth.AuthResult {
	return f.result("callback")
}
func (f *fakeService) ContinueWithoutAccount(context.Context) auth.AuthResult {
	return f.result("anonymous")
}
func (f *fakeService) RestoreSession(context.Context) auth.AuthResult { return f.result("restore") }
func (f *fakeService) RefreshSession(context.Context) auth.AuthResult { return f.result("refresh") }
func (f *fakeService) Logout(context.Context) auth.AuthResult        { return f.result("logout") }

type userFunc func(context.Context) (*domain.AppUser, error)

func (f userFunc) User(ctx context.Context) (*domain.AppUser, error) { return f(ctx) }

var (
	ada       = &domain.AppUser{ID: 42, FirstName: "Ada", Communities: []domain.Community{}}
	noStorage = userFunc(func(context.Context) (*domain.AppUser, error) { return nil, nil })
)

func authError(kind auth.Kind) error {
	return &auth.Error{Kind: kind}
}

func TestContext_LoginReplacesUser(t *testing.T) {
	ctx := context.Background()
	grace := &domain.AppUser{ID: 7, FirstName: "Grace"}
	svc := &fakeService{results: map[string]auth.AuthResult{
		"password": {Success: true, User: ada},
		"oauth":    {Success: true, User: grace},
	}}
	c := New(svc, noStorage)

	c.Login(ctx, "ada@example.fr", "pw")
	assert.Equal(t, Snapshot{User: ada, IsAuthenticated: true}, c.Snapshot())

	c.LoginWithOAuth(ctx)
	assert.Equal(t, Snapshot{User: grace, IsAuthenticated: true}, c.Snapshot())
}

func TestContext_FailureFallsBackToUnauthenticated(t *testing.T) {
	ctx := context.Background()
	failure := authError(auth.InvalidCredentials)
	svc := &fakeService{results: map[string]auth.AuthResult{
		"password": {Err: failure},
		"oauth":    {Success: true, User: ada},
	}}
	c := New(svc, noStorage)
	c.LoginWithOAuth(ctx)

	res := c.Login(ctx, "ada@example.fr", "wrong")
	assert.False(t, res.Success)
	assert.Equal(t, Snapshot{LastError: failure}, c.Snapshot())
}

func TestContext_AnonymousFlag(t *testing.T) {
	svc := &fakeService{results: map[string]auth.AuthResult{
		"anonymous": {Success: true, User: domain.AnonymousUser()},
	}}
	c := New(svc, noStorage)

	c.ContinueWithoutAccount(context.Background())
	snap := c.Snapshot()
	assert.True(t, snap.IsAuthenticated)
	assert.True(t, snap.IsAnonymous)
}

func TestContext_RedirectLeavesStateAlone(t *testing.T) {
	ctx := context.Background()
	redirect := &auth.Error{Kind: auth.RedirectRequired, Err: &platform.RedirectRequiredError{AuthURL: "https://idp/auth"}}
	svc := &fakeService{results: map[string]auth.AuthResult{
		"anonymous": {Success: true, User: domain.AnonymousUser()},
		"oauth":     {Err: redirect},
	}}
	c := New(svc, noStorage)
	c.ContinueWithoutAccount(ctx)
	before := c.Snapshot()

	res := c.LoginWithOAuth(ctx)
	authURL, ok := auth.RedirectURL(res.Err)
	require.True(t, ok)
	assert.Equal(t, "https://idp/auth", authURL)
	assert.Equal(t, before, c.Snapshot())
}

func TestContext_StrayCallbackKeepsUser(t *testing.T) {
	ctx := context.Background()
	stray := &auth.Error{Kind: auth.CodeVerifierMissing, Err: auth.ErrNoPendingLogin}
	svc := &fakeService{results: map[string]auth.AuthResult{
		"restore":  {Success: true, User: ada},
		"callback": {User: ada, Err: stray},
	}}
	c := New(svc, noStorage)
	c.Restore(ctx)
	before := c.Snapshot()

	res := c.HandleCallback(ctx, url.Values{"error": {"access_denied"}})
	assert.ErrorIs(t, res.Err, auth.CodeVerifierMissing)
	assert.Equal(t, before, c.Snapshot())
}

func TestContext_RefreshFailureKeepsUser(t *testing.T) {
	ctx := context.Background()
	failure := authError(auth.TokenRefreshFailed)
	svc := &fakeService{results: map[string]auth.AuthResult{
		"restore": {Success: true, User: ada},
		"refresh": {User: ada, Err: failure},
	}}
	c := New(svc, noStorage)
	c.Restore(ctx)

	c.Refresh(ctx)
	assert.Equal(t, Snapshot{User: ada, IsAuthenticated: true, LastError: failure}, c.Snapshot())
}

func TestContext_RestoreWithoutSession(t *testing.T) {
	c := New(&fakeService{results: map[string]auth.AuthResult{"restore": {}}}, noStorage)
	c.Restore(context.Background())
	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestContext_LogoutClears(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{results: map[string]auth.AuthResult{
		"callback": {Success: true, User: ada},
		"logout":   {Success: true},
	}}
	c := New(svc, noStorage)
	c.HandleCallback(ctx, url.Values{"code": {"x"}})
	require.True(t, c.Snapshot().IsAuthenticated)

	c.Logout(ctx)
	assert.Equal(t, Snapshot{}, c.Snapshot())
}

func TestContext_LoadingIsPublished(t *testing.T) {
	svc := &fakeService{results: map[string]auth.AuthResult{"restore": {Success: true, User: ada}}}
	c := New(svc, noStorage)
	svc.during = func() { assert.True(t, c.Snapshot().IsLoading) }

	var seen []Snapshot
	unsubscribe := c.Subscribe(func(s Snapshot) { seen = append(seen, s) })

	c.Restore(context.Background())
	require.Len(t, seen, 2)
	assert.True(t, seen[0].IsLoading)
	assert.False(t, seen[1].IsLoading)
	assert.Equal(t, ada, seen[1].User)

	unsubscribe()
	unsubscribe()
	c.Restore(context.Background())
	assert.Len(t, seen, 2)
}

func TestContext_Sync(t *testing.T) {
	ctx := context.Background()

	t.Run("stored user removed", func(t *testing.T) {
		svc := &fakeService{results: map[string]auth.AuthResult{
			"restore": {Success: true, User: ada},
			"logout":  {Success: true},
		}}
		c := New(svc, noStorage)
		c.Restore(ctx)

		c.Sync(ctx)
		assert.Equal(t, []string{"restore", "logout"}, svc.calls)
		assert.False(t, c.Snapshot().IsAuthenticated)
	})

	t.Run("stored user appeared", func(t *testing.T) {
		svc := &fakeService{results: map[string]auth.AuthResult{"restore": {Success: true, User: ada}}}
		c := New(svc, userFunc(func(context.Context) (*domain.AppUser, error) { return ada, nil }))

		c.Sync(ctx)
		assert.Equal(t, []string{"restore"}, svc.calls)
		assert.Equal(t, ada, c.Snapshot().User)
	})

	t.Run("unchanged", func(t *testing.T) {
		svc := &fakeService{results: map[string]auth.AuthResult{"restore": {Success: true, User: ada}}}
		c := New(svc, userFunc(func(context.Context) (*domain.AppUser, error) { return ada, nil }))
		c.Restore(ctx)

		c.Sync(ctx)
		assert.Equal(t, []string{"restore"}, svc.calls)
	})
}

// A logout written to the session file by another process signs the
// running context out.
func TestContext_WatchStore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	idp := mock.NewProvider(t, mock.ProviderConfig{})
	dir := t.TempDir()

	newService := func() (*auth.Service, *session.Store, *storage.File) {
		file, err := storage.NewFile(dir)
		require.NoError(t, err)
		sessions := session.New(storage.NewNamespace(file, "ESPACE_CO"))
		transport, err := api.NewClient(api.Config{
			BaseURL:   idp.APIBaseURL(),
			LogoutURL: idp.Endpoints().LogoutURL,
			ClientID:  idp.ClientID(),
		})
		require.NoError(t, err)
		svc, err := auth.New(auth.Config{
			ClientID:    idp.ClientID(),
			Endpoints:   idp.Endpoints(),
			RedirectURI: "http://127.0.0.1:3000/auth/callback",
		}, oauth.NewClient(), transport, sessions, &mock.BrowserLauncher{Provider: idp})
		require.NoError(t, err)
		return svc, sessions, file
	}

	serverSvc, serverSessions, serverFile := newService()
	c := New(serverSvc, serverSessions)
	require.True(t, c.LoginWithOAuth(ctx).Success)
	require.NoError(t, c.WatchStore(ctx, serverFile))

	cliSvc, _, _ := newService()
	require.True(t, cliSvc.Logout(ctx).Success)
	assert.Equal(t, 1, idp.Stats().Logouts)

	require.Eventually(t, func() bool {
		snap := c.Snapshot()
		return !snap.IsLoading && !snap.IsAuthenticated
	}, 5*time.Second, 20*time.Millisecond)
	assert.Nil(t, c.Snapshot().User)
	assert.Equal(t, auth.Unauthenticated, serverSvc.State())
}
