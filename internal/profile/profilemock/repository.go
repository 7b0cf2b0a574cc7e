package profilemock

import (
	"context"
	"sync"

	"github.com/streamcompare/authsync/internal/profile"
	"github.com/streamcompare/authsync/internal/serviceerr"
)

type RepositoryOption func(*Repository)

type Repository struct {
	mu       sync.Mutex
	profiles map[string]profile.Profile

	getErr, ensureErr error
}

var _ = profile.Repository(&Repository{})

func WithProfile(p profile.Profile) RepositoryOption {
	return func(r *Repository) { r.profiles[p.UserID] = p }
}
func WithGetError(err error) RepositoryOption {
	return func(r *Repository) { r.getErr = err }
}
func WithEnsureError(err error) RepositoryOption {
	return func(r *Repository) { r.ensureErr = err }
}

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{profiles: make(map[string]profile.Profile)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Repository) Get(_ context.Context, userID string) (profile.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.getErr != nil {
		return profile.Profile{}, r.getErr
	}
	if p, ok := r.profiles[userID]; ok {
		return p, nil
	}
	return profile.Profile{}, serviceerr.ErrNotFound
}

func (r *Repository) Ensure(_ context.Context, p profile.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ensureErr != nil {
		return r.ensureErr
	}

	if existing, ok := r.profiles[p.UserID]; ok {
		existing.DisplayName = p.DisplayName
		r.profiles[p.UserID] = existing
		return nil
	}

	if p.Role == "" {
		p.Role = profile.RoleMember
	}
	r.profiles[p.UserID] = p
	return nil
}
