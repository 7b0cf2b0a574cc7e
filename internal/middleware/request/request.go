// Package request provides utilities to inject the original *http.Request
// into the context and retrieve it again further down the call chain.
package request

import (
	"context"
	"errors"
	"net/http"
)

// Using an unexported type prevents key collisions from other packages.
type contextKey string

// RequestKey is the context key used to store the original request.
const RequestKey contextKey = "request"

// RequestMiddleware is an http.Handler middleware that injects the original
// *http.Request into the context for later handlers to access.
func RequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), RequestKey, r)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestFromContext is a helper function that retrieves the request
// from the context.
func RequestFromContext(ctx context.Context) (*http.Request, error) {
	r, ok := ctx.Value(RequestKey).(*http.Request)
	if !ok || r == nil {
		return nil, errors.New("request not found in context")
	}
	return r, nil
}

// HostFromContext returns the host of the original request.
func HostFromContext(ctx context.Context) (string, error) {
	r, err := RequestFromContext(ctx)
	if err != nil {
		return "", err
	}
	return r.Host, nil
}
