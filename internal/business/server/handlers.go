package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/config"
	"github.com/streamcompare/authsync/internal/cookie"
	"github.com/streamcompare/authsync/internal/diagnostics"
	"github.com/streamcompare/authsync/internal/profile"
	"github.com/streamcompare/authsync/internal/provider/gotrue"
	"github.com/streamcompare/authsync/internal/serviceerr"
	"github.com/streamcompare/authsync/internal/session"
	"github.com/streamcompare/authsync/internal/verifier"
)

const (
	defaultLanding = "/"
	authErrorParam = "error"
	authErrorValue = "auth"
)

type handlers struct {
	cfg      *config.Config
	sessions *session.Manager
	probe    *diagnostics.Probe
	health   *diagnostics.Health
}

type meResponse struct {
	Authenticated bool    `json:"authenticated"`
	UserID        *string `json:"userId"`
}

type adminResponse struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// callback finishes the PKCE sign-in redirect.
func (h *handlers) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	if e := query.Get("error"); e != "" {
		slogctx.Warn(ctx, "Session source rejected the sign-in", "error", e, "description", query.Get("error_description"))
		http.Redirect(w, r, h.signInError(), http.StatusSeeOther)
		return
	}

	code := query.Get("code")
	if code == "" {
		http.Redirect(w, r, h.signInError(), http.StatusSeeOther)
		return
	}

	if _, err := h.sessions.FinaliseLogin(ctx, cookie.FromContext(ctx), code); err != nil {
		slogctx.Warn(ctx, "Failed to finalise sign-in", "error", err)
		http.Redirect(w, r, h.signInError(), http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, sameSiteTarget(query.Get(h.cfg.Verifier.RedirectParam)), http.StatusSeeOther)
}

func (h *handlers) signOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scope := gotrue.ScopeLocal
	if s := r.FormValue("scope"); s != "" {
		scope = gotrue.SignOutScope(s)
	}
	if !scope.Valid() {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	err := h.sessions.SignOut(ctx, cookie.FromContext(ctx), scope)
	switch {
	case err == nil:
	case errors.Is(err, serviceerr.ErrProviderUnavailable):
		// local cookies are gone, the grant expires on its own
		slogctx.Warn(ctx, "Signed out locally only", "error", err)
	default:
		slogctx.Error(ctx, "Failed to sign out", "error", err)
		h.unavailable(w, r)
		return
	}

	http.Redirect(w, r, defaultLanding, http.StatusSeeOther)
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	id, _ := verifier.IdentityFromContext(r.Context())

	resp := meResponse{Authenticated: id.Authenticated}
	if id.Authenticated {
		resp.UserID = &id.UserID
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *handlers) admin(w http.ResponseWriter, r *http.Request) {
	p, ok := profile.FromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	writeJSON(w, r, http.StatusOK, adminResponse{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Role:        p.Role,
	})
}

func (h *handlers) debugAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.writeReport(w, r, h.probe.Session(ctx, cookie.FromContext(ctx)))
}

func (h *handlers) debugCookies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.writeReport(w, r, h.probe.Cookies(ctx, cookie.FromContext(ctx)))
}

func (h *handlers) writeReport(w http.ResponseWriter, r *http.Request, report diagnostics.Report) {
	w.Header().Set("Cache-Control", "no-store")

	status := http.StatusOK
	if report.Status == diagnostics.StatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, report)
}

func (h *handlers) healthCheck(w http.ResponseWriter, r *http.Request) {
	report := h.health.Check(r.Context())

	status := http.StatusOK
	if report.Status == diagnostics.StatusError {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, r, status, report)
}

func (h *handlers) unavailable(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
}

func (h *handlers) signInError() string {
	u := url.URL{Path: h.cfg.Verifier.SignInPath}
	u.RawQuery = url.Values{authErrorParam: {authErrorValue}}.Encode()
	return u.String()
}

// sameSiteTarget returns next when it is a local absolute path and the
// default landing page otherwise.
func sameSiteTarget(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return defaultLanding
	}

	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return defaultLanding
	}

	return next
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slogctx.Error(r.Context(), "Failed to write response", "error", err)
	}
}
