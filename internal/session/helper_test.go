package session_test

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// auditServer accepts audit events and counts them.
type auditServer struct {
	*httptest.Server
	events atomic.Int32
}

func startAuditServer(t *testing.T) *auditServer {
	t.Helper()

	s := &auditServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			s.events.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"success": true}`))
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(s.Close)

	return s
}
