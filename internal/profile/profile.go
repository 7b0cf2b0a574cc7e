// Package profile keeps the application side record of a user: display
// name and role. Roles are granted here, never taken from client claims.
package profile

import (
	"context"
	"time"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

type Profile struct {
	UserID      string
	DisplayName string
	Role        string
	UpdatedAt   time.Time
}

type Repository interface {
	// Get returns serviceerr.ErrNotFound for unknown users.
	Get(ctx context.Context, userID string) (Profile, error)
	// Ensure creates the profile if missing and refreshes the display name.
	// An existing role is never changed.
	Ensure(ctx context.Context, p Profile) error
}
