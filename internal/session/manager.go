// Package session binds the session source to the HTTP layer: it hands out
// per-request clients and runs the sign-in and sign-out flows.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	otlpaudit "github.com/openkcm/common-sdk/pkg/otlp/audit"
	slogctx "github.com/veqryn/slog-context"

	"github.com/streamcompare/authsync/internal/cookie"
	"github.com/streamcompare/authsync/internal/profile"
	"github.com/streamcompare/authsync/internal/provider"
	"github.com/streamcompare/authsync/internal/provider/events"
	"github.com/streamcompare/authsync/internal/provider/gotrue"
	"github.com/streamcompare/authsync/internal/serviceerr"
)

const auditService = "authsync"

type Manager struct {
	api      *provider.Holder[*gotrue.API]
	profiles profile.Repository
	notifier events.Notifier
	audit    *otlpaudit.AuditLogger
	tenant   string
}

type Option func(*Manager)

// WithProfiles makes sign-ins create the user's profile.
func WithProfiles(repo profile.Repository) Option {
	return func(m *Manager) { m.profiles = repo }
}

// WithNotifier relays sign-ins and sign-outs to other processes.
func WithNotifier(n events.Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithAuditLogger(l *otlpaudit.AuditLogger, tenant string) Option {
	return func(m *Manager) {
		m.audit = l
		m.tenant = tenant
	}
}

func NewManager(api *provider.Holder[*gotrue.API], opts ...Option) *Manager {
	m := &Manager{api: api}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Client returns a session source client over store.
func (m *Manager) Client(_ context.Context, store cookie.Store) (*gotrue.Client, error) {
	api, err := m.api.Get()
	if err != nil {
		return nil, fmt.Errorf("getting session source api: %w", err)
	}

	var opts []gotrue.ClientOption
	if m.notifier != nil {
		opts = append(opts, gotrue.WithNotifier(m.notifier))
	}

	return api.NewClient(store, opts...), nil
}

// ProviderClient is Client behind the provider contract.
func (m *Manager) ProviderClient(ctx context.Context, store cookie.Store) (provider.Client, error) {
	return m.Client(ctx, store)
}

// Ping reports whether the session source answers.
func (m *Manager) Ping(ctx context.Context) error {
	api, err := m.api.Get()
	if err != nil {
		return err
	}
	return api.Ping(ctx)
}

// FinaliseLogin exchanges the auth code of a PKCE redirect for a session and
// writes it to store.
func (m *Manager) FinaliseLogin(ctx context.Context, store cookie.Store, code string) (*provider.Session, error) {
	correlationID := uuid.NewString()
	ctx = slogctx.With(ctx, "correlation_id", correlationID)

	var metadata otlpaudit.EventMetadata
	if m.audit != nil {
		md, err := otlpaudit.NewEventMetadata(auditService, m.tenant, correlationID)
		if err != nil {
			return nil, fmt.Errorf("creating audit metadata: %w", err)
		}
		metadata = md
	}

	client, err := m.Client(ctx, store)
	if err != nil {
		m.sendUserLoginFailureAudit(ctx, metadata, "", "session source misconfigured")
		return nil, err
	}

	sess, err := client.ExchangeCodeForSession(ctx, code)
	if err != nil {
		reason := "code exchange failed"
		if errors.Is(err, serviceerr.ErrProviderUnavailable) {
			reason = "session source unavailable"
		}
		m.sendUserLoginFailureAudit(ctx, metadata, "", reason)
		return nil, fmt.Errorf("exchanging auth code: %w", err)
	}

	userID := sess.User.ID
	ctx = slogctx.With(ctx, "user_id", userID)

	if m.profiles != nil {
		err := m.profiles.Ensure(ctx, profile.Profile{UserID: userID, DisplayName: sess.User.DisplayName()})
		if err != nil {
			slogctx.Warn(ctx, "Failed to ensure profile", "error", err)
		}
	}

	m.sendUserLoginSuccessAudit(ctx, metadata, userID)
	slogctx.Info(ctx, "User signed in")

	return sess, nil
}

// SignOut revokes the session in store. Local cookies are cleared even when
// the session source cannot be reached.
func (m *Manager) SignOut(ctx context.Context, store cookie.Store, scope gotrue.SignOutScope) error {
	client, err := m.Client(ctx, store)
	if err != nil {
		return err
	}

	if err := client.SignOut(ctx, scope); err != nil {
		return fmt.Errorf("signing out: %w", err)
	}

	return nil
}

func (m *Manager) sendUserLoginSuccessAudit(ctx context.Context, metadata otlpaudit.EventMetadata, userID string) {
	if m.audit == nil {
		return
	}

	event, err := otlpaudit.NewUserLoginSuccessEvent(metadata, userID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.MFATYPE_NONE, otlpaudit.USERTYPE_BUSINESS, userID)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := m.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login success", "error", err)
		return
	}
	slogctx.Debug(ctx, "sent audit log for user login success")
}

// sendUserLoginFailureAudit creates the user-login-failure audit event and sends it.
func (m *Manager) sendUserLoginFailureAudit(ctx context.Context, metadata otlpaudit.EventMetadata, objectID, reason string) {
	if m.audit == nil {
		return
	}

	if objectID == "" {
		objectID = m.tenant
	}

	event, err := otlpaudit.NewUserLoginFailureEvent(metadata, objectID, otlpaudit.LOGINMETHOD_OPENIDCONNECT, otlpaudit.FailReason(reason), objectID)
	if err != nil {
		slogctx.Error(ctx, "creating audit log", "error", err)
		return
	}

	if err := m.audit.SendEvent(ctx, event); err != nil {
		slogctx.Error(ctx, "Failed to send audit log for user login failure", "error", err)
		return
	}
	slogctx.Debug(ctx, "sent audit log for user login failure")
}
