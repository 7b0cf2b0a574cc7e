// Package cookie adapts request and response cookies to the small
// get/set/remove contract the session source client works against.
//
// Two variants share one contract: FromContext reads the request and the
// response writer that middleware placed in the context, FromPair takes them
// explicitly. Writes that can no longer reach the client are dropped with a
// warning and never returned as errors.
package cookie

import (
	"net/http"
	"strings"
	"time"
)

// Store is the cookie contract consumed by the session source client.
type Store interface {
	// Get returns the value of the named cookie, if present.
	Get(name string) (string, bool)
	// Set writes a cookie. Failures are logged, not returned.
	Set(name, value string, opts Options)
	// Remove expires a cookie. Failures are logged, not returned.
	Remove(name string, opts Options)
	// Names lists the cookie names currently visible, sorted.
	Names() []string
}

// Options are the attributes written alongside a cookie value.
type Options struct {
	Path     string
	Domain   string
	MaxAge   int
	Expires  time.Time
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
}

// AuthTokenMarker is part of every session token cookie name.
const AuthTokenMarker = "-auth-token"

func (o Options) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   o.MaxAge,
		Expires:  o.Expires,
		HttpOnly: o.HTTPOnly,
		Secure:   o.Secure,
		SameSite: o.SameSite,
	}
}

// expired returns opts rewritten so that the browser drops the cookie.
func (o Options) expired() Options {
	o.Expires = time.Unix(0, 0)
	o.MaxAge = -1
	return o
}

// IsAuthCookie reports whether name follows the session token naming
// convention for the given provider prefix. Chunk suffixes are accepted.
func IsAuthCookie(name, prefix string) bool {
	return strings.HasPrefix(name, prefix) && strings.Contains(name, AuthTokenMarker)
}

// AuthNames filters names down to the auth-relevant ones.
func AuthNames(names []string, prefix string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if IsAuthCookie(n, prefix) {
			out = append(out, n)
		}
	}
	return out
}
