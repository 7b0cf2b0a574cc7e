package verifier

import (
	"net/http"
	"net/url"

	slogctx "github.com/veqryn/slog-context"
)

const unavailableBody = "Sign-in is temporarily unavailable. Please try again shortly.\n"

// RequireUser only lets verified users through. Anonymous requests are sent
// to signInPath with the original location in redirectParam; requests that
// could not be verified get a generic 503 and are never treated as anonymous.
func (v *Verifier) RequireUser(signInPath, redirectParam string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id, err := v.Check(ctx)
			if err != nil {
				slogctx.Error(ctx, "Could not verify request identity", "path", r.URL.Path, "error", err)
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.Header().Set("Retry-After", "5")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(unavailableBody))
				return
			}

			if !id.Authenticated {
				http.Redirect(w, r, SignInURL(signInPath, redirectParam, r.URL.RequestURI()), http.StatusSeeOther)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

// SignInURL builds the sign-in location carrying the page to return to.
func SignInURL(signInPath, redirectParam, next string) string {
	if redirectParam == "" || next == "" {
		return signInPath
	}

	u := url.URL{Path: signInPath}
	u.RawQuery = url.Values{redirectParam: {next}}.Encode()
	return u.String()
}
