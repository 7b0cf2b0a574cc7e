package provider

import (
	"encoding/json"
	"time"
)

// Metadata is an open set of provider-specific attributes. Values stay raw
// until read through one of the typed accessors.
type Metadata map[string]json.RawMessage

// String returns the value under key when it holds a JSON string.
func (m Metadata) String(key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}

	return s, true
}

// Strings returns the value under key as a string list. A single string is
// returned as a one-element list.
func (m Metadata) Strings(key string) []string {
	raw, ok := m[key]
	if !ok {
		return nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	if s, ok := m.String(key); ok {
		return []string{s}
	}

	return nil
}

// User is the read-only projection of a session subject.
type User struct {
	ID           string   `json:"id"`
	Email        string   `json:"email,omitempty"`
	Role         string   `json:"role,omitempty"`
	AppMetadata  Metadata `json:"app_metadata,omitempty"`
	UserMetadata Metadata `json:"user_metadata,omitempty"`
}

func (u User) DisplayName() string {
	for _, key := range []string{"full_name", "name", "display_name"} {
		if v, ok := u.UserMetadata.String(key); ok && v != "" {
			return v
		}
	}
	return u.Email
}

func (u User) AvatarURL() string {
	v, _ := u.UserMetadata.String("avatar_url")
	return v
}

// Roles returns the role claims granted by the provider, not by the user.
func (u User) Roles() []string {
	if roles := u.AppMetadata.Strings("roles"); len(roles) > 0 {
		return roles
	}
	return u.AppMetadata.Strings("role")
}

// Session is the token bundle issued by the session source.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`

	// IssuedAt is read from the access token claims, never persisted.
	IssuedAt time.Time `json:"-"`
}

// Expiry returns the access token expiry, or the zero time when unknown.
func (s Session) Expiry() time.Time {
	if s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin reports whether the access token expires before now+margin.
// Sessions without a known expiry never report true.
func (s Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	exp := s.Expiry()
	if exp.IsZero() {
		return false
	}
	return !now.Add(margin).Before(exp)
}

type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
)

// Event is a session change notification. Session is nil for sign-outs.
type Event struct {
	Kind    EventKind
	Session *Session
}
