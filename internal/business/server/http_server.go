package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/config"
	"github.com/streamcompare/authsync/internal/diagnostics"
	"github.com/streamcompare/authsync/internal/middleware/request"
	"github.com/streamcompare/authsync/internal/middleware/responsewriter"
	"github.com/streamcompare/authsync/internal/profile"
	"github.com/streamcompare/authsync/internal/session"
	"github.com/streamcompare/authsync/internal/verifier"
)

// Services are the dependencies of the public HTTP API.
// Profiles may be nil, in which case the admin routes are unavailable.
type Services struct {
	Sessions *session.Manager
	Verifier *verifier.Verifier
	Profiles profile.Repository
	Probe    *diagnostics.Probe
	Health   *diagnostics.Health
}

// createHTTPServer creates an API http server using the given config
func createHTTPServer(_ context.Context, cfg *config.Config, svc *Services) *http.Server {
	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: newHandler(cfg, svc),
	}
}

func newHandler(cfg *config.Config, svc *Services) http.Handler {
	h := &handlers{
		cfg:      cfg,
		sessions: svc.Sessions,
		probe:    svc.Probe,
		health:   svc.Health,
	}
	trace := newTraceMiddleware(cfg)
	requireUser := svc.Verifier.RequireUser(cfg.Verifier.SignInPath, cfg.Verifier.RedirectParam)

	mux := http.NewServeMux()
	mux.Handle("GET /auth/callback", trace("AuthCallback", http.HandlerFunc(h.callback)))
	mux.Handle("POST /auth/signout", trace("SignOut", http.HandlerFunc(h.signOut)))
	mux.Handle("GET /api/me", trace("Me", requireUser(http.HandlerFunc(h.me))))
	mux.Handle("GET /health", trace("Health", http.HandlerFunc(h.healthCheck)))

	if svc.Profiles != nil {
		requireAdmin := profile.RequireRole(svc.Profiles, cfg.Verifier.AdminRole)
		mux.Handle("GET /admin", trace("Admin", requireUser(requireAdmin(http.HandlerFunc(h.admin)))))
	} else {
		mux.Handle("GET /admin", trace("Admin", http.HandlerFunc(h.unavailable)))
	}

	if cfg.Diagnostics.Enabled {
		mux.Handle("POST /debug/auth", trace("DebugAuth", http.HandlerFunc(h.debugAuth)))
		mux.Handle("POST /debug/cookies", trace("DebugCookies", http.HandlerFunc(h.debugCookies)))
	}

	handler := verifier.MemoMiddleware(mux)
	handler = responsewriter.ResponseWriterMiddleware(handler)
	handler = request.RequestMiddleware(handler)

	return handler
}

// StartHTTPServer starts the HTTP server using the given config.
func StartHTTPServer(ctx context.Context, cfg *config.Config, svc *Services) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server := createHTTPServer(ctx, cfg, svc)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default. Binding to a unix socket saves
	// integration tests from looking up a free port.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
