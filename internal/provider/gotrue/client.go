package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4/jwt"

	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/cookie"
	"github.com/streamcompare/authsync/internal/provider"
	"github.com/streamcompare/authsync/internal/provider/events"
	"github.com/streamcompare/authsync/internal/serviceerr"
)

// SignOutScope selects which sessions a sign out revokes.
type SignOutScope string

const (
	ScopeLocal  SignOutScope = "local"
	ScopeGlobal SignOutScope = "global"
	ScopeOthers SignOutScope = "others"
)

func (s SignOutScope) Valid() bool {
	switch s {
	case ScopeLocal, ScopeGlobal, ScopeOthers:
		return true
	}
	return false
}

// Client is a session source client bound to one cookie store. Server code
// creates one per request, browser-like callers keep one for their lifetime.
type Client struct {
	api      *API
	store    cookie.Store
	events   *events.Broadcaster
	notifier events.Notifier

	// mu serialises token rotation so a refresh token is spent once.
	mu sync.Mutex
}

var _ provider.Client = (*Client)(nil)

type ClientOption func(*Client)

// WithBroadcaster shares a broadcaster between clients.
func WithBroadcaster(b *events.Broadcaster) ClientOption {
	return func(c *Client) {
		c.events = b
	}
}

// WithNotifier forwards sign-ins and sign-outs to other processes.
func WithNotifier(n events.Notifier) ClientOption {
	return func(c *Client) {
		c.notifier = n
	}
}

func (a *API) NewClient(store cookie.Store, opts ...ClientOption) *Client {
	c := &Client{api: a, store: store}
	for _, opt := range opts {
		opt(c)
	}
	if c.events == nil {
		c.events = events.NewBroadcaster()
	}
	return c
}

// GetSession returns the stored session, refreshing it first when the access
// token is about to expire. A session the provider refuses to refresh is
// cleared and reported as absent.
func (c *Client) GetSession(ctx context.Context) (*provider.Session, error) {
	s := c.load(ctx)
	if s == nil {
		return nil, nil
	}

	if s.RefreshToken == "" || !s.ExpiresWithin(c.api.now(), c.api.refreshMargin) {
		return s, nil
	}

	refreshed, err := c.refresh(ctx, s.RefreshToken)
	if errors.Is(err, serviceerr.ErrInvalidSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return refreshed, nil
}

// GetUser revalidates the access token with the provider.
func (c *Client) GetUser(ctx context.Context) (*provider.User, error) {
	s, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	return c.api.user(ctx, s.AccessToken)
}

func (c *Client) RefreshSession(ctx context.Context) (*provider.Session, error) {
	s := c.load(ctx)
	if s == nil || s.RefreshToken == "" {
		return nil, serviceerr.ErrNoSession
	}

	return c.refresh(ctx, s.RefreshToken)
}

func (c *Client) OnAuthStateChange(fn func(provider.Event)) (provider.Subscription, error) {
	if fn == nil {
		return nil, errors.New("nil auth state listener")
	}
	return c.events.Subscribe(fn), nil
}

// SignInWithPassword starts a session from email and password.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error) {
	var s provider.Session
	status, err := c.api.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}},
		map[string]string{"email": email, "password": password}, "", &s)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return nil, serviceerr.ErrInvalidCredentials
	default:
		return nil, fmt.Errorf("%w: sign in returned %d", serviceerr.ErrProviderUnavailable, status)
	}

	c.mu.Lock()
	c.save(ctx, &s)
	c.mu.Unlock()

	c.publish(ctx, provider.EventSignedIn, &s)
	return &s, nil
}

// CodeVerifierCookie is the cookie the sign-in page stores the PKCE
// verifier under.
func (c *Client) CodeVerifierCookie() string {
	return c.api.cookieName + codeVerifierSuffix
}

// ExchangeCodeForSession completes a PKCE flow using the verifier the
// sign-in page stored in a cookie.
func (c *Client) ExchangeCodeForSession(ctx context.Context, code string) (*provider.Session, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing auth code", serviceerr.ErrInvalidSession)
	}

	verifier, ok := c.store.Get(c.CodeVerifierCookie())
	if !ok {
		return nil, fmt.Errorf("%w: missing code verifier", serviceerr.ErrInvalidSession)
	}

	var s provider.Session
	status, err := c.api.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"pkce"}},
		map[string]string{"auth_code": code, "code_verifier": verifier}, "", &s)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, fmt.Errorf("%w: code exchange rejected", serviceerr.ErrInvalidSession)
	default:
		return nil, fmt.Errorf("%w: code exchange returned %d", serviceerr.ErrProviderUnavailable, status)
	}

	c.mu.Lock()
	c.store.Remove(c.CodeVerifierCookie(), c.api.cookieOpts)
	c.save(ctx, &s)
	c.mu.Unlock()

	c.publish(ctx, provider.EventSignedIn, &s)
	return &s, nil
}

// SignOut revokes the session at the provider and clears it locally. The
// local session is cleared even when the provider cannot be reached.
func (c *Client) SignOut(ctx context.Context, scope SignOutScope) error {
	if !scope.Valid() {
		scope = ScopeLocal
	}

	s := c.load(ctx)
	if s == nil {
		return nil
	}

	var revokeErr error
	status, err := c.api.do(ctx, http.MethodPost, "/logout", url.Values{"scope": {string(scope)}}, nil, s.AccessToken, nil)
	switch {
	case err != nil:
		revokeErr = err
	case status >= 200 && status <= 299,
		status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
	default:
		revokeErr = fmt.Errorf("%w: logout returned %d", serviceerr.ErrProviderUnavailable, status)
	}

	if scope != ScopeOthers {
		c.mu.Lock()
		c.clear()
		c.mu.Unlock()

		c.publish(ctx, provider.EventSignedOut, &provider.Session{User: s.User})
	}

	return revokeErr
}

// HandleNotice applies a notice relayed from another process. A sign out of
// the user this client holds a session for clears the local session.
func (c *Client) HandleNotice(ctx context.Context, n events.Notice) {
	if n.Kind != provider.EventSignedOut {
		return
	}

	s := c.load(ctx)
	if s == nil || s.User.ID != n.UserID {
		return
	}

	c.mu.Lock()
	c.clear()
	c.mu.Unlock()

	c.events.Publish(provider.Event{Kind: provider.EventSignedOut})
}

// AutoRefresh keeps the stored session fresh until ctx is done.
func (c *Client) AutoRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.GetSession(ctx); err != nil && ctx.Err() == nil {
				slogctx.Warn(ctx, "Failed to refresh session", "error", err)
			}
		}
	}
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*provider.Session, error) {
	c.mu.Lock()

	// Another caller may have rotated the token while we waited.
	if current := c.load(ctx); current != nil && current.RefreshToken != refreshToken &&
		!current.ExpiresWithin(c.api.now(), c.api.refreshMargin) {
		c.mu.Unlock()
		return current, nil
	}

	var s provider.Session
	status, err := c.api.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}},
		map[string]string{"refresh_token": refreshToken}, "", &s)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}

	switch status {
	case http.StatusOK:
		c.save(ctx, &s)
		c.mu.Unlock()
		c.publish(ctx, provider.EventTokenRefreshed, &s)
		return &s, nil
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		c.clear()
		c.mu.Unlock()
		c.publish(ctx, provider.EventSignedOut, nil)
		return nil, serviceerr.ErrInvalidSession
	default:
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: refresh returned %d", serviceerr.ErrProviderUnavailable, status)
	}
}

// load reads the session from the cookie store. Unreadable values count as
// no session.
func (c *Client) load(ctx context.Context) *provider.Session {
	raw, ok := cookie.ReadChunked(c.store, c.api.cookieName)
	if !ok {
		return nil
	}

	payload, err := cookie.DecodeValue(raw)
	if err != nil {
		slogctx.Debug(ctx, "Ignoring undecodable session cookie", "error", err)
		return nil
	}

	var s provider.Session
	if err := json.Unmarshal(payload, &s); err != nil {
		slogctx.Debug(ctx, "Ignoring malformed session cookie", "error", err)
		return nil
	}

	if s.AccessToken == "" {
		return nil
	}

	if err := c.api.applyClaims(&s); err != nil {
		slogctx.Debug(ctx, "Ignoring session with unreadable access token", "error", err)
		return nil
	}

	return &s
}

func (c *Client) save(ctx context.Context, s *provider.Session) {
	if s.ExpiresAt == 0 && s.ExpiresIn > 0 {
		s.ExpiresAt = c.api.now().Unix() + s.ExpiresIn
	}
	_ = c.api.applyClaims(s)

	payload, err := json.Marshal(s)
	if err != nil {
		slogctx.Error(ctx, "Failed to encode session", "error", err)
		return
	}

	cookie.WriteChunked(c.store, c.api.cookieName, cookie.EncodeValue(payload), c.api.chunkSize, c.api.cookieOpts)
}

func (c *Client) clear() {
	cookie.RemoveChunked(c.store, c.api.cookieName, c.api.cookieOpts)
}

func (c *Client) publish(ctx context.Context, kind provider.EventKind, s *provider.Session) {
	var userID string
	if s != nil {
		userID = s.User.ID
	}

	e := provider.Event{Kind: kind}
	if kind != provider.EventSignedOut && s != nil {
		cp := *s
		e.Session = &cp
	}
	c.events.Publish(e)

	if c.notifier == nil || userID == "" {
		return
	}
	if kind != provider.EventSignedIn && kind != provider.EventSignedOut {
		return
	}

	n := events.Notice{Kind: kind, UserID: userID, At: c.api.now().UTC()}
	if err := c.notifier.Notify(ctx, n); err != nil {
		slogctx.Warn(ctx, "Failed to relay auth event", "kind", kind, "error", err)
	}
}

// user fetches the user for accessToken. Tokens the provider refuses yield
// nil without error; any other non-200 answer is ErrProviderUnavailable.
func (a *API) user(ctx context.Context, accessToken string) (*provider.User, error) {
	var u provider.User
	status, err := a.do(ctx, http.MethodGet, "/user", nil, nil, accessToken, &u)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: user returned %d", serviceerr.ErrProviderUnavailable, status)
	}

	if u.ID == "" {
		return nil, nil
	}

	return &u, nil
}

// applyClaims fills the timing fields from the access token without
// verifying its signature. The signature is the provider's to check.
func (a *API) applyClaims(s *provider.Session) error {
	tok, err := jwt.ParseSigned(s.AccessToken, a.algs)
	if err != nil {
		return fmt.Errorf("parsing access token: %w", err)
	}

	var claims jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return fmt.Errorf("reading access token claims: %w", err)
	}

	if s.User.ID != "" && claims.Subject != "" && claims.Subject != s.User.ID {
		return errors.New("access token subject does not match session user")
	}

	if s.ExpiresAt == 0 && claims.Expiry != nil {
		s.ExpiresAt = claims.Expiry.Time().Unix()
	}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time()
	}

	return nil
}
