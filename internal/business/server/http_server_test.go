package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcompare/authsync/internal/config"
	"github.com/streamcompare/authsync/internal/diagnostics"
	"github.com/streamcompare/authsync/internal/profile"
	"github.com/streamcompare/authsync/internal/profile/profilemock"
	"github.com/streamcompare/authsync/internal/provider"
	"github.com/streamcompare/authsync/internal/provider/gotrue"
	"github.com/streamcompare/authsync/internal/provider/gotrue/gotruetest"
	"github.com/streamcompare/authsync/internal/session"
	"github.com/streamcompare/authsync/internal/verifier"
)

var (
	alice = provider.User{ID: "8d0fd2b3-9ca5-4d2a-9b4c-4c1f3c6a1a11", Email: "alice@example.com"}
	bob   = provider.User{ID: "f54c7a0e-1f55-4f0b-a1c2-2b8e9f3d4c22", Email: "bob@example.com"}
)

type testEnv struct {
	srv     *gotruetest.Server
	handler http.Handler
}

type envOption func(*config.Config, *Services)

func withoutDiagnostics() envOption {
	return func(cfg *config.Config, _ *Services) { cfg.Diagnostics.Enabled = false }
}

func withoutProfiles() envOption {
	return func(_ *config.Config, svc *Services) { svc.Profiles = nil }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	srv := gotruetest.NewServer(t)
	api := srv.API(t)
	holder := provider.NewHolder(func() (*gotrue.API, error) { return api, nil })

	profiles := profilemock.NewInMemRepository(
		profilemock.WithProfile(profile.Profile{UserID: alice.ID, DisplayName: "Alice", Role: profile.RoleAdmin}),
		profilemock.WithProfile(profile.Profile{UserID: bob.ID, DisplayName: "Bob", Role: profile.RoleMember}),
	)

	manager := session.NewManager(holder, session.WithProfiles(profiles))
	v := verifier.New(manager.ProviderClient)

	cfg := &config.Config{
		BaseConfig: commoncfg.BaseConfig{
			Application: commoncfg.Application{Name: "test-app"},
		},
		Verifier: config.Verifier{
			SignInPath:    "/login",
			RedirectParam: "next",
			AdminRole:     profile.RoleAdmin,
		},
		Diagnostics: config.Diagnostics{Enabled: true},
	}
	svc := &Services{
		Sessions: manager,
		Verifier: v,
		Profiles: profiles,
		Probe:    diagnostics.NewProbe(v.CheckStore, "sb-"),
		Health: diagnostics.NewHealth(0,
			diagnostics.WithService(diagnostics.ServiceDatabase, nil),
			diagnostics.WithService(diagnostics.ServiceSessionSource, manager),
		),
	}
	for _, opt := range opts {
		opt(cfg, svc)
	}

	return &testEnv{srv: srv, handler: newHandler(cfg, svc)}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signedIn(t *testing.T, req *http.Request, u provider.User) provider.Session {
	t.Helper()

	sess := e.srv.Issue(t, u)
	req.AddCookie(&http.Cookie{Name: gotruetest.CookieName, Value: gotruetest.CookieValue(t, sess)})
	return sess
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHandler_NoCookies(t *testing.T) {
	env := newTestEnv(t)

	t.Run("protected route redirects to sign in", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/me", nil))

		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login?next=%2Fapi%2Fme", rec.Header().Get("Location"))
	})

	t.Run("diagnostics report anonymous with no cookies", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodPost, "/debug/auth", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.JSONEq(t, `false`, string(body["authenticated"]))
		assert.JSONEq(t, `null`, string(body["userId"]))
		assert.JSONEq(t, `[]`, string(body["cookieNames"]))
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	})

	t.Run("cookie probe counts nothing", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodPost, "/debug/cookies", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var report diagnostics.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.False(t, report.Authenticated)
		assert.Empty(t, report.CookieNames)
		assert.Equal(t, "0 auth cookie(s) present, identity not verified", report.Message)
	})
}

func TestHandler_Me(t *testing.T) {
	tests := []struct {
		name       string
		signedIn   bool
		down       bool
		wantStatus int
		wantBody   string
	}{
		{
			name:       "signed in",
			signedIn:   true,
			wantStatus: http.StatusOK,
			wantBody:   `{"authenticated":true,"userId":"` + alice.ID + `"}`,
		},
		{
			name:       "session source down",
			signedIn:   true,
			down:       true,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "anonymous",
			wantStatus: http.StatusSeeOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.signedIn {
				env.signedIn(t, req, alice)
			}
			env.srv.SetDown(tt.down)

			rec := env.do(req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestHandler_Callback(t *testing.T) {
	tests := []struct {
		name         string
		query        url.Values
		verifier     string
		wantLocation string
		wantSession  bool
	}{
		{
			name:         "success with same-site next",
			query:        url.Values{"code": {"code-1"}, "next": {"/dashboard?tab=plans"}},
			verifier:     "verifier-1",
			wantLocation: "/dashboard?tab=plans",
			wantSession:  true,
		},
		{
			name:         "success without next",
			query:        url.Values{"code": {"code-1"}},
			verifier:     "verifier-1",
			wantLocation: "/",
			wantSession:  true,
		},
		{
			name:         "protocol relative next is ignored",
			query:        url.Values{"code": {"code-1"}, "next": {"//evil.example.com/"}},
			verifier:     "verifier-1",
			wantLocation: "/",
			wantSession:  true,
		},
		{
			name:         "absolute next is ignored",
			query:        url.Values{"code": {"code-1"}, "next": {"https://evil.example.com/"}},
			verifier:     "verifier-1",
			wantLocation: "/",
			wantSession:  true,
		},
		{
			name:         "missing code",
			query:        url.Values{},
			verifier:     "verifier-1",
			wantLocation: "/login?error=auth",
		},
		{
			name:         "provider error",
			query:        url.Values{"error": {"access_denied"}, "error_description": {"denied"}},
			wantLocation: "/login?error=auth",
		},
		{
			name:         "unknown code",
			query:        url.Values{"code": {"code-2"}},
			verifier:     "verifier-1",
			wantLocation: "/login?error=auth",
		},
		{
			name:         "verifier mismatch",
			query:        url.Values{"code": {"code-1"}},
			verifier:     "other",
			wantLocation: "/login?error=auth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.srv.AddCode("code-1", "verifier-1", alice)

			req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+tt.query.Encode(), nil)
			if tt.verifier != "" {
				req.AddCookie(&http.Cookie{Name: gotruetest.CookieName + "-code-verifier", Value: tt.verifier})
			}

			rec := env.do(req)

			assert.Equal(t, http.StatusSeeOther, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))

			c := responseCookie(rec, gotruetest.CookieName)
			if !tt.wantSession {
				assert.Nil(t, c)
				return
			}
			require.NotNil(t, c)
			assert.NotEmpty(t, c.Value)
			assert.True(t, c.HttpOnly)
		})
	}
}

func TestHandler_SignOut(t *testing.T) {
	tests := []struct {
		name         string
		form         string
		down         bool
		wantStatus   int
		wantCleared  bool
		wantLocation string
	}{
		{
			name:         "default scope",
			wantStatus:   http.StatusSeeOther,
			wantCleared:  true,
			wantLocation: "/",
		},
		{
			name:         "global scope",
			form:         "scope=global",
			wantStatus:   http.StatusSeeOther,
			wantCleared:  true,
			wantLocation: "/",
		},
		{
			name:         "session source down still clears locally",
			down:         true,
			wantStatus:   http.StatusSeeOther,
			wantCleared:  true,
			wantLocation: "/",
		},
		{
			name:       "invalid scope",
			form:       "scope=everyone",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			req := httptest.NewRequest(http.MethodPost, "/auth/signout", strings.NewReader(tt.form))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			env.signedIn(t, req, alice)
			env.srv.SetDown(tt.down)

			rec := env.do(req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))

			c := responseCookie(rec, gotruetest.CookieName)
			if !tt.wantCleared {
				assert.Nil(t, c)
				return
			}
			require.NotNil(t, c)
			assert.Equal(t, -1, c.MaxAge)
		})
	}
}

func TestHandler_Admin(t *testing.T) {
	tests := []struct {
		name       string
		user       *provider.User
		opts       []envOption
		wantStatus int
	}{
		{name: "admin", user: &alice, wantStatus: http.StatusOK},
		{name: "member", user: &bob, wantStatus: http.StatusForbidden},
		{name: "unknown profile", user: &provider.User{ID: "0b7f6f0e-0000-4000-8000-000000000000"}, wantStatus: http.StatusForbidden},
		{name: "anonymous", wantStatus: http.StatusSeeOther},
		{name: "no profile store", user: &alice, opts: []envOption{withoutProfiles()}, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.opts...)

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.user != nil {
				env.signedIn(t, req, *tt.user)
			}

			rec := env.do(req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.JSONEq(t, `{"userId":"`+alice.ID+`","displayName":"Alice","role":"admin"}`, rec.Body.String())
			}
		})
	}
}

func TestHandler_DebugAuth(t *testing.T) {
	t.Run("signed in report is redacted", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest(http.MethodPost, "/debug/auth", nil)
		sess := env.signedIn(t, req, alice)

		rec := env.do(req)
		require.Equal(t, http.StatusOK, rec.Code)

		var report diagnostics.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.True(t, report.Authenticated)
		require.NotNil(t, report.UserID)
		assert.Equal(t, diagnostics.Redact(alice.ID), *report.UserID)
		assert.Equal(t, []string{gotruetest.CookieName}, report.CookieNames)

		assert.NotContains(t, rec.Body.String(), sess.AccessToken)
		assert.NotContains(t, rec.Body.String(), sess.RefreshToken)
		assert.NotContains(t, rec.Body.String(), alice.ID)
	})

	t.Run("session source down is a distinct status", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest(http.MethodPost, "/debug/auth", nil)
		env.signedIn(t, req, alice)
		env.srv.SetDown(true)

		rec := env.do(req)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var report diagnostics.Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, diagnostics.StatusError, report.Status)
		assert.False(t, report.Authenticated)
	})

	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, withoutDiagnostics())

		for _, path := range []string{"/debug/auth", "/debug/cookies"} {
			rec := env.do(httptest.NewRequest(http.MethodPost, path, nil))
			assert.Equal(t, http.StatusNotFound, rec.Code, path)
		}
	})
}

func TestHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		down       bool
		wantStatus int
		wantReport string
	}{
		{name: "ok", wantStatus: http.StatusOK, wantReport: diagnostics.StatusOK},
		{name: "session source down", down: true, wantStatus: http.StatusServiceUnavailable, wantReport: diagnostics.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.srv.SetDown(tt.down)

			rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tt.wantStatus, rec.Code)

			var report diagnostics.HealthReport
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, tt.wantReport, report.Status)
			assert.Equal(t, diagnostics.ServiceDisabled, report.Services[diagnostics.ServiceDatabase])
			assert.Equal(t, tt.wantReport, report.Services[diagnostics.ServiceSessionSource])
		})
	}
}

func TestSameSiteTarget(t *testing.T) {
	tests := []struct {
		next string
		want string
	}{
		{next: "", want: "/"},
		{next: "/plans", want: "/plans"},
		{next: "/plans?sort=price#top", want: "/plans?sort=price#top"},
		{next: "plans", want: "/"},
		{next: "//evil.example.com", want: "/"},
		{next: "/\\evil.example.com", want: "/"},
		{next: "https://evil.example.com/plans", want: "/"},
		{next: "javascript:alert(1)", want: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.next, func(t *testing.T) {
			assert.Equal(t, tt.want, sameSiteTarget(tt.next))
		})
	}
}
