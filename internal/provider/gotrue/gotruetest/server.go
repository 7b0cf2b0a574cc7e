// Package gotruetest runs an in-process auth API for tests.
package gotruetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/streamcompare/authsync/internal/provider"
)

const (
	APIKey = "test-anon-key"
	// ProjectRef is the ref derived from the server URL host 127.0.0.1.
	ProjectRef = "127"
)

var signingKey = []byte("0123456789abcdef0123456789abcdef")

type grant struct {
	user    provider.User
	revoked bool
}

type pkceCode struct {
	verifier string
	user     provider.User
}

// Server is a fake auth API. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	ttl       time.Duration
	down      bool
	forced    map[string]int
	access    map[string]*grant
	refresh   map[string]*grant
	users     map[string]provider.User
	passwords map[string]string
	codes     map[string]pkceCode
	calls     map[string]int
}

// NewServer starts a fake server that is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		ttl:       time.Hour,
		access:    make(map[string]*grant),
		refresh:   make(map[string]*grant),
		users:     make(map[string]provider.User),
		passwords: make(map[string]string),
		codes:     make(map[string]pkceCode),
		calls:     make(map[string]int),
		forced:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/v1/user", s.handleUser)
	mux.HandleFunc("POST /auth/v1/token", s.handleToken)
	mux.HandleFunc("POST /auth/v1/logout", s.handleLogout)
	mux.HandleFunc("GET /auth/v1/health", s.handleHealth)

	s.Server = httptest.NewServer(s.guard(mux))
	t.Cleanup(s.Close)

	return s
}

// SetTTL changes the lifetime of access tokens issued from now on.
func (s *Server) SetTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl = ttl
}

// SetDown makes every endpoint answer 503.
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// SetStatus makes path, e.g. "/auth/v1/user", answer with code. A zero
// code restores normal handling.
func (s *Server) SetStatus(path string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code == 0 {
		delete(s.forced, path)
		return
	}
	s.forced[path] = code
}

// AddUser registers a user that can sign in with password.
func (s *Server) AddUser(u provider.User, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Email] = u
	s.passwords[u.Email] = password
}

// AddCode registers a PKCE auth code.
func (s *Server) AddCode(code, verifier string, u provider.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = pkceCode{verifier: verifier, user: u}
}

// Issue mints a session for u.
func (s *Server) Issue(t *testing.T, u provider.User) provider.Session {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.issueLocked(u)
	if err != nil {
		t.Fatalf("issuing session: %v", err)
	}
	return sess
}

// Revoke invalidates every token of the given user.
func (s *Server) Revoke(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeLocked(userID)
}

// Calls returns how many requests reached path, e.g. "/auth/v1/user".
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		down := s.down
		forced := s.forced[r.URL.Path]
		s.mu.Unlock()

		if down {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"msg": "unavailable"})
			return
		}

		if forced != 0 {
			writeJSON(w, forced, map[string]string{"msg": http.StatusText(forced)})
			return
		}

		if r.Header.Get("apikey") != APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid api key"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"name": "GoTrue"})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	g, ok := s.access[bearer(r)]
	s.mu.Unlock()

	if !ok || g.revoked {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
		return
	}

	writeJSON(w, http.StatusOK, g.user)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var u provider.User
	switch r.URL.Query().Get("grant_type") {
	case "password":
		pw, ok := s.passwords[body["email"]]
		if !ok || pw != body["password"] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		u = s.users[body["email"]]
	case "refresh_token":
		g, ok := s.refresh[body["refresh_token"]]
		if !ok || g.revoked {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		// refresh tokens are single use
		g.revoked = true
		u = g.user
	case "pkce":
		c, ok := s.codes[body["auth_code"]]
		if !ok || c.verifier != body["code_verifier"] {
			writeJSON(w, http.StatusNotFound, map[string]string{"msg": "invalid flow state"})
			return
		}
		delete(s.codes, body["auth_code"])
		u = c.user
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	sess, err := s.issueLocked(u)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"msg": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.access[bearer(r)]
	if !ok || g.revoked {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
		return
	}

	if r.URL.Query().Get("scope") == "global" {
		s.revokeLocked(g.user.ID)
	} else {
		g.revoked = true
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) issueLocked(u provider.User) (provider.Session, error) {
	now := time.Now()
	exp := now.Add(s.ttl)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: signingKey},
		(&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return provider.Session{}, err
	}

	token, err := jwt.Signed(signer).Claims(jwt.Claims{
		Subject:  u.ID,
		Issuer:   "gotruetest",
		ID:       uuid.NewString(),
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(exp),
	}).Serialize()
	if err != nil {
		return provider.Session{}, err
	}

	g := &grant{user: u}
	refresh := uuid.NewString()
	s.access[token] = g
	s.refresh[refresh] = g

	return provider.Session{
		AccessToken:  token,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.ttl.Seconds()),
		ExpiresAt:    exp.Unix(),
		RefreshToken: refresh,
		User:         u,
	}, nil
}

func (s *Server) revokeLocked(userID string) {
	for _, g := range s.access {
		if g.user.ID == userID {
			g.revoked = true
		}
	}
}

func bearer(r *http.Request) string {
	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
