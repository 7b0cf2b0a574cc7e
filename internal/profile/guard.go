package profile

import (
	"context"
	"errors"
	"net/http"

	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/serviceerr"
	"github.com/streamcompare/authsync/internal/verifier"
)

type contextKey string

const profileKey contextKey = "profile"

// FromContext returns the profile RequireRole loaded.
func FromContext(ctx context.Context) (Profile, bool) {
	p, ok := ctx.Value(profileKey).(Profile)
	return p, ok
}

// RequireRole lets a request through only if the verified user's profile
// carries role. It must run behind verifier.RequireUser.
func RequireRole(repo Repository, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id, ok := verifier.IdentityFromContext(ctx)
			if !ok || !id.Authenticated {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			p, err := repo.Get(ctx, id.UserID)
			switch {
			case errors.Is(err, serviceerr.ErrNotFound):
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			case err != nil:
				slogctx.Error(ctx, "Failed to load profile", "error", err)
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}

			if p.Role != role {
				slogctx.Info(ctx, "Denied role protected route", "path", r.URL.Path, "role", role)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, profileKey, p)))
		})
	}
}
