// Package verifier establishes the identity of the current request by asking
// the session source to revalidate the session cookie.
//
// The locally decoded session is never used to authorize: it can be stale or
// forged, only the provider round trip is authoritative.
package verifier

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/streamcompare/authsync/internal/cookie"
	"github.com/streamcompare/authsync/internal/provider"
	"github.com/streamcompare/authsync/internal/serviceerr"
)

// ClientFactory returns a session source client bound to store.
type ClientFactory func(ctx context.Context, store cookie.Store) (provider.Client, error)

// Identity is the outcome of a revalidating check.
type Identity struct {
	Authenticated bool
	UserID        string
}

type Verifier struct {
	clients ClientFactory
}

func New(clients ClientFactory) *Verifier {
	return &Verifier{clients: clients}
}

// Verify returns the verified user id, or "" for an anonymous request.
// A non-nil error wraps serviceerr.ErrAuthIndeterminate.
func (v *Verifier) Verify(ctx context.Context) (string, error) {
	id, err := v.Check(ctx)
	return id.UserID, err
}

// VerifyPair is Verify for callers holding the request and response
// explicitly. A nil writer makes cookie refreshes during verification no-ops.
func (v *Verifier) VerifyPair(r *http.Request, w http.ResponseWriter) (string, error) {
	id, err := v.CheckStore(r.Context(), cookie.FromPair(r, w))
	return id.UserID, err
}

// Check is Verify returning the full identity.
func (v *Verifier) Check(ctx context.Context) (Identity, error) {
	return v.CheckStore(ctx, cookie.FromContext(ctx))
}

// CheckStore verifies the session held in store. It shares the request
// memo of ctx with Verify and Check.
func (v *Verifier) CheckStore(ctx context.Context, store cookie.Store) (Identity, error) {
	m, ok := ctx.Value(memoKey).(*memo)
	if !ok {
		return v.check(ctx, store)
	}

	m.once.Do(func() {
		m.id, m.err = v.check(ctx, store)
	})
	return m.id, m.err
}

func (v *Verifier) check(ctx context.Context, store cookie.Store) (Identity, error) {
	client, err := v.clients(ctx, store)
	if err != nil {
		return Identity{}, errors.Join(serviceerr.ErrAuthIndeterminate, err)
	}

	user, err := client.GetUser(ctx)
	switch {
	case errors.Is(err, serviceerr.ErrInvalidSession), errors.Is(err, serviceerr.ErrNoSession):
		return Identity{}, nil
	case err != nil:
		return Identity{}, errors.Join(serviceerr.ErrAuthIndeterminate, err)
	case user == nil || user.ID == "":
		return Identity{}, nil
	}

	return Identity{Authenticated: true, UserID: user.ID}, nil
}

type memo struct {
	once sync.Once
	id   Identity
	err  error
}

type contextKey string

const (
	memoKey     contextKey = "verifier-memo"
	identityKey contextKey = "verifier-identity"
)

// WithRequestMemo scopes a single verification to ctx. Every Verify or Check
// under the returned context reuses the first outcome.
func WithRequestMemo(ctx context.Context) context.Context {
	if _, ok := ctx.Value(memoKey).(*memo); ok {
		return ctx
	}
	return context.WithValue(ctx, memoKey, &memo{})
}

// MemoMiddleware installs a request memo for every request.
func MemoMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequestMemo(r.Context())))
	})
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity RequireUser established.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
