// Package provider describes the session source contract consumed by the
// verifier and the client auth store.
package provider

import "context"

// Subscription releases an auth state change listener.
type Subscription interface {
	Unsubscribe()
}

// Client is the session source client contract.
type Client interface {
	// GetSession returns the locally stored session without asking the
	// provider whether it is still valid. Never use it to authorize.
	GetSession(ctx context.Context) (*Session, error)
	// GetUser revalidates the stored access token with the provider.
	// It returns nil without error when there is no valid session.
	GetUser(ctx context.Context) (*User, error)
	// RefreshSession exchanges the refresh token for a new session.
	RefreshSession(ctx context.Context) (*Session, error)
	// OnAuthStateChange registers fn for change notifications.
	OnAuthStateChange(fn func(Event)) (Subscription, error)
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }
