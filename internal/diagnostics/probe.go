// Package diagnostics answers "what does the server think about my session"
// without ever exposing cookie values or tokens.
package diagnostics

import (
	"context"
	"fmt"
	"unicode/utf8"

	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/cookie"
	"github.com/streamcompare/authsync/internal/verifier"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Report is the redacted outcome of a probe.
type Report struct {
	Status        string   `json:"status"`
	Authenticated bool     `json:"authenticated"`
	UserID        *string  `json:"userId"`
	CookieNames   []string `json:"cookieNames"`
	Message       string   `json:"message,omitempty"`
}

// CheckFunc verifies the session held by a cookie store.
type CheckFunc func(ctx context.Context, store cookie.Store) (verifier.Identity, error)

type Probe struct {
	check  CheckFunc
	prefix string
}

// NewProbe returns a probe. prefix selects the auth cookies counted in
// messages; every cookie name is listed regardless.
func NewProbe(check CheckFunc, prefix string) *Probe {
	return &Probe{check: check, prefix: prefix}
}

// Cookies reports which cookies the server sees. It never contacts the
// session source and so never claims the request is authenticated.
func (p *Probe) Cookies(_ context.Context, store cookie.Store) Report {
	names := cookieNames(store)

	return Report{
		Status:      StatusOK,
		CookieNames: names,
		Message:     fmt.Sprintf("%d auth cookie(s) present, identity not verified", len(cookie.AuthNames(names, p.prefix))),
	}
}

// Session verifies the session with the session source.
func (p *Probe) Session(ctx context.Context, store cookie.Store) Report {
	names := cookieNames(store)

	id, err := p.check(ctx, store)
	if err != nil {
		slogctx.Warn(ctx, "Session probe could not verify identity", "error", err)
		return Report{
			Status:      StatusError,
			CookieNames: names,
			Message:     "session source unavailable",
		}
	}

	r := Report{
		Status:        StatusOK,
		Authenticated: id.Authenticated,
		CookieNames:   names,
	}
	if id.Authenticated {
		partial := Redact(id.UserID)
		r.UserID = &partial
	}

	return r
}

func cookieNames(store cookie.Store) []string {
	names := store.Names()
	if names == nil {
		return []string{}
	}
	return names
}

// Redact keeps at most the first 8 characters of id, and never more than
// half of it.
func Redact(id string) string {
	n := utf8.RuneCountInString(id)
	if n == 0 {
		return ""
	}

	keep := min(8, n/2)
	runes := []rune(id)
	return string(runes[:keep]) + "…"
}
