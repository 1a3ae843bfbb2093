package mock

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"guichet/pkg/clock"
	"guichet/pkg/oauth"
)

const realmPath = "/realms/test/protocol/openid-connect"

// Profile is the user resource served on /api/users/me.
type Profile struct {
	ID          int64       `json:"id"`
	Email       string      `json:"email"`
	FirstName   string      `json:"firstName"`
	LastName    string      `json:"lastName"`
	Username    string      `json:"username"`
	Avatar      string      `json:"avatar,omitempty"`
	Communities []Community `json:"communities,omitempty"`
}

// Community is a community reference inside a profile.
type Community struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DefaultProfile is served when ProviderConfig.Profile is nil.
var DefaultProfile = Profile{
	ID:        42,
	Email:     "ada@example.fr",
	FirstName: "Ada",
	LastName:  "Lovelace",
	Username:  "ada",
	Communities: []Community{
		{ID: 1, Name: "Forêt de Fontainebleau"},
		{ID: 2, Name: "Littoral breton"},
	},
}

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	ClientID string

	// AccessTokenLifetime defaults to 300s.
	AccessTokenLifetime time.Duration

	// RefreshTokenLifetime is reported as refresh_expires_in; zero omits it.
	RefreshTokenLifetime time.Duration

	// RotateRefreshTokens issues a new refresh token on every refresh and
	// invalidates the old one.
	RotateRefreshTokens bool

	// Username and Password are accepted as basic credentials by the API.
	Username string
	Password string

	Profile *Profile
	Clock   clock.Clock
}

// Stats counts requests per endpoint.
type Stats struct {
	Authorizations int
	CodeExchanges  int
	Refreshes      int
	Logouts        int
	ProfileFetches int
}

type authCode struct {
	clientID      string
	redirectURI   string
	challenge     string
	used          bool
	issuedAccess  []string
	issuedRefresh []string
}

type failure struct {
	status int
	body   string
}

// Provider is a running mock identity provider and API.
type Provider struct {
	cfg    ProviderConfig
	server *httptest.Server

	mu            sync.Mutex
	codes         map[string]*authCode
	accessTokens  map[string]time.Time
	refreshTokens map[string]time.Time
	stats         Stats
	tokenFailure  *failure
	profileStatus int
	denyNext      string
	lastLogout    url.Values
	gate          chan struct{}
}

// NewProvider starts a provider that is shut down with the test.
func NewProvider(t testing.TB, cfg ProviderConfig) *Provider {
	t.Helper()

	if cfg.ClientID == "" {
		cfg.ClientID = "guichet"
	}
	if cfg.AccessTokenLifetime == 0 {
		cfg.AccessTokenLifetime = 300 * time.Second
	}
	if cfg.Profile == nil {
		p := DefaultProfile
		cfg.Profile = &p
	}
	cfg.Clock = clock.OrReal(cfg.Clock)

	p := &Provider{
		cfg:           cfg,
		codes:         make(map[string]*authCode),
		accessTokens:  make(map[string]time.Time),
		refreshTokens: make(map[string]time.Time),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+realmPath+"/auth", p.handleAuthorize)
	mux.HandleFunc("POST "+realmPath+"/token", p.handleToken)
	mux.HandleFunc("POST "+realmPath+"/logout", p.handleLogout)
	mux.HandleFunc("GET /api/users/me", p.handleProfile)

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

// URL returns the server root.
func (p *Provider) URL() string {
	return p.server.URL
}

// OAuthBaseURL returns the OpenID Connect base URL of the realm.
func (p *Provider) OAuthBaseURL() string {
	return p.server.URL + realmPath
}

// APIBaseURL returns the collaborative API root.
func (p *Provider) APIBaseURL() string {
	return p.server.URL + "/api/"
}

// Endpoints returns the realm endpoints.
func (p *Provider) Endpoints() oauth.Endpoints {
	return oauth.EndpointsFromBaseURL(p.OAuthBaseURL())
}

// ClientID returns the expected client ID.
func (p *Provider) ClientID() string {
	return p.cfg.ClientID
}

// Stats returns a copy of the request counters.
func (p *Provider) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// LastLogout returns the form of the last logout request.
func (p *Provider) LastLogout() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLogout
}

// FailTokenRequests makes the token endpoint answer status with body until
// cleared with status 0.
func (p *Provider) FailTokenRequests(status int, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == 0 {
		p.tokenFailure = nil
		return
	}
	p.tokenFailure = &failure{status: status, body: body}
}

// FailProfile makes the profile endpoint answer status until cleared with 0.
func (p *Provider) FailProfile(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profileStatus = status
}

// DenyNextAuthorization makes the next authorization redirect carry
// error=code instead of a code.
func (p *Provider) DenyNextAuthorization(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denyNext = code
}

// HoldTokenEndpoint blocks token requests until the returned function is
// called.
func (p *Provider) HoldTokenEndpoint() (release func()) {
	gate := make(chan struct{})
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.gate = nil
			p.mu.Unlock()
			close(gate)
		})
	}
}

// RevokeAll invalidates every issued token.
func (p *Provider) RevokeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokens = make(map[string]time.Time)
	p.refreshTokens = make(map[string]time.Time)
}

// Authorize performs the browser side of the authorization request and
// returns the redirect location (the callback URL with code and state).
func (p *Provider) Authorize(authURL string) (string, error) {
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Get(authURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return "", fmt.Errorf("authorization endpoint returned %d", resp.StatusCode)
	}
	return resp.Header.Get("Location"), nil
}

func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("response_type") != "code" {
		http.Error(w, "unsupported_response_type", http.StatusBadRequest)
		return
	}
	if q.Get("client_id") != p.cfg.ClientID {
		http.Error(w, "invalid_client", http.StatusBadRequest)
		return
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != oauth.CodeChallengeMethodS256 {
		http.Error(w, "PKCE with S256 is required", http.StatusBadRequest)
		return
	}
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Scheme == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.stats.Authorizations++
	deny := p.denyNext
	p.denyNext = ""
	var code string
	if deny == "" {
		code = opaqueToken()
		p.codes[code] = &authCode{
			clientID:    q.Get("client_id"),
			redirectURI: q.Get("redirect_uri"),
			challenge:   q.Get("code_challenge"),
		}
	}
	p.mu.Unlock()

	params := redirect.Query()
	if deny != "" {
		params.Set("error", deny)
		params.Set("error_description", "The user denied the request")
	} else {
		params.Set("code", code)
	}
	if state := q.Get("state"); state != "" {
		params.Set("state", state)
	}
	redirect.RawQuery = params.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		tokenError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tokenFailure != nil {
		w.WriteHeader(p.tokenFailure.status)
		_, _ = w.Write([]byte(p.tokenFailure.body))
		return
	}
	if r.PostForm.Get("client_id") != p.cfg.ClientID {
		tokenError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		p.stats.CodeExchanges++
		p.exchangeCodeLocked(w, r.PostForm)
	case "refresh_token":
		p.stats.Refreshes++
		p.refreshLocked(w, r.PostForm)
	default:
		tokenError(w, http.StatusBadRequest, "unsupported_grant_type", r.PostForm.Get("grant_type"))
	}
}

func (p *Provider) exchangeCodeLocked(w http.ResponseWriter, form url.Values) {
	entry, ok := p.codes[form.Get("code")]
	if !ok || entry.used {
		if ok {
			// Replayed code: revoke what it produced.
			for _, t := range entry.issuedAccess {
				delete(p.accessTokens, t)
			}
			for _, t := range entry.issuedRefresh {
				delete(p.refreshTokens, t)
			}
		}
		tokenError(w, http.StatusBadRequest, "invalid_grant", "Code not valid")
		return
	}
	entry.used = true

	if form.Get("redirect_uri") != entry.redirectURI {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "Incorrect redirect_uri")
		return
	}
	hash := sha256.Sum256([]byte(form.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(hash[:]) != entry.challenge {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed: Code verifier invalid")
		return
	}

	access, refresh := p.issueLocked(w, "")
	entry.issuedAccess = append(entry.issuedAccess, access)
	entry.issuedRefresh = append(entry.issuedRefresh, refresh)
}

func (p *Provider) refreshLocked(w http.ResponseWriter, form url.Values) {
	presented := form.Get("refresh_token")
	expiry, ok := p.refreshTokens[presented]
	if !ok || (!expiry.IsZero() && !p.cfg.Clock.Now().Before(expiry)) {
		tokenError(w, http.StatusBadRequest, "invalid_grant", "Token is not active")
		return
	}

	keep := presented
	if p.cfg.RotateRefreshTokens {
		delete(p.refreshTokens, presented)
		keep = ""
	}
	p.issueLocked(w, keep)
}

// issueLocked writes a token response. When keepRefresh is set no new refresh
// token is returned.
func (p *Provider) issueLocked(w http.ResponseWriter, keepRefresh string) (string, string) {
	now := p.cfg.Clock.Now()

	access := opaqueToken()
	p.accessTokens[access] = now.Add(p.cfg.AccessTokenLifetime)

	body := map[string]interface{}{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int64(p.cfg.AccessTokenLifetime / time.Second),
		"scope":        oauth.DefaultScope,
		"id_token":     p.idToken(now),
	}

	refresh := keepRefresh
	if refresh == "" {
		refresh = opaqueToken()
		var expiry time.Time
		if p.cfg.RefreshTokenLifetime > 0 {
			expiry = now.Add(p.cfg.RefreshTokenLifetime)
		}
		p.refreshTokens[refresh] = expiry
		body["refresh_token"] = refresh
	}
	if p.cfg.RefreshTokenLifetime > 0 {
		body["refresh_expires_in"] = int64(p.cfg.RefreshTokenLifetime / time.Second)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(body)
	return access, refresh
}

// idToken returns an unsigned JWT. It is only structurally valid.
func (p *Provider) idToken(now time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	claims, _ := json.Marshal(map[string]interface{}{
		"iss":   p.OAuthBaseURL(),
		"sub":   fmt.Sprint(p.cfg.Profile.ID),
		"aud":   p.cfg.ClientID,
		"iat":   now.Unix(),
		"exp":   now.Add(p.cfg.AccessTokenLifetime).Unix(),
		"email": p.cfg.Profile.Email,
	})
	return header + "." + base64.RawURLEncoding.EncodeToString(claims) + "."
}

func (p *Provider) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Logouts++
	p.lastLogout = r.PostForm
	delete(p.refreshTokens, r.PostForm.Get("refresh_token"))
	w.WriteHeader(http.StatusNoContent)
}

func (p *Provider) handleProfile(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.stats.ProfileFetches++
	status := p.profileStatus
	authorized := p.authorizedLocked(r)
	p.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"message":"simulated failure"}`))
		return
	}
	if !authorized {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Unauthorized"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p.cfg.Profile)
}

func (p *Provider) authorizedLocked(r *http.Request) bool {
	if user, pass, ok := r.BasicAuth(); ok {
		return p.cfg.Username != "" && user == p.cfg.Username && pass == p.cfg.Password
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	expiry, known := p.accessTokens[token]
	return known && p.cfg.Clock.Now().Before(expiry)
}

func tokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": description,
	})
}

func opaqueToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("crypto/rand failed: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
