package gotruetest

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/streamcompare/authsync/internal/cookie"
	"github.com/streamcompare/authsync/internal/provider"
	"github.com/streamcompare/authsync/internal/provider/gotrue"
)

// CookieName is the session cookie name used against a Server.
const CookieName = "sb-" + ProjectRef + cookie.AuthTokenMarker

// API returns an API pointed at the server. Options may adjust the config.
func (s *Server) API(t *testing.T, opts ...func(*gotrue.Config)) *gotrue.API {
	t.Helper()

	cfg := gotrue.Config{
		URL:           s.URL,
		APIKey:        APIKey,
		CookieOptions: cookie.Options{Path: "/", HTTPOnly: true, SameSite: http.SameSiteLaxMode},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	api, err := gotrue.NewAPI(cfg)
	if err != nil {
		t.Fatalf("creating api: %v", err)
	}
	return api
}

// CookieValue encodes sess the way the client stores it.
func CookieValue(t *testing.T, sess provider.Session) string {
	t.Helper()

	b, err := json.Marshal(sess)
	if err != nil {
		t.Fatalf("encoding session: %v", err)
	}
	return cookie.EncodeValue(b)
}

// Seed stores sess in store under the session cookie name.
func Seed(t *testing.T, store cookie.Store, sess provider.Session) {
	t.Helper()
	cookie.WriteChunked(store, CookieName, CookieValue(t, sess), cookie.DefaultChunkSize, cookie.Options{Path: "/"})
}
