package profile_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamcompare/authsync/internal/profile"
	"github.com/streamcompare/authsync/internal/profile/profilemock"
	"github.com/streamcompare/authsync/internal/verifier"
)

func TestRequireRole(t *testing.T) {
	admin := profile.Profile{UserID: "u1", DisplayName: "Alice", Role: profile.RoleAdmin}
	member := profile.Profile{UserID: "u2", DisplayName: "Bob", Role: profile.RoleMember}

	tests := []struct {
		name       string
		repo       *profilemock.Repository
		identity   *verifier.Identity
		wantStatus int
	}{
		{
			name:       "admin passes",
			repo:       profilemock.NewInMemRepository(profilemock.WithProfile(admin)),
			identity:   &verifier.Identity{Authenticated: true, UserID: "u1"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "member is forbidden",
			repo:       profilemock.NewInMemRepository(profilemock.WithProfile(member)),
			identity:   &verifier.Identity{Authenticated: true, UserID: "u2"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unknown profile is forbidden",
			repo:       profilemock.NewInMemRepository(),
			identity:   &verifier.Identity{Authenticated: true, UserID: "u3"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "no verified identity is forbidden",
			repo:       profilemock.NewInMemRepository(profilemock.WithProfile(admin)),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "repository failure",
			repo:       profilemock.NewInMemRepository(profilemock.WithGetError(errors.New("db down"))),
			identity:   &verifier.Identity{Authenticated: true, UserID: "u1"},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p, ok := profile.FromContext(r.Context())
				assert.True(t, ok)
				assert.Equal(t, admin, p)
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.identity != nil {
				req = req.WithContext(verifier.WithIdentity(req.Context(), *tt.identity))
			}

			rec := httptest.NewRecorder()
			profile.RequireRole(tt.repo, profile.RoleAdmin)(next).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotContains(t, rec.Body.String(), "db down")
		})
	}
}

func TestInMemRepository_EnsureKeepsRole(t *testing.T) {
	repo := profilemock.NewInMemRepository(profilemock.WithProfile(profile.Profile{UserID: "u1", Role: profile.RoleAdmin}))

	assert.NoError(t, repo.Ensure(t.Context(), profile.Profile{UserID: "u1", DisplayName: "Alice", Role: profile.RoleMember}))
	assert.NoError(t, repo.Ensure(t.Context(), profile.Profile{UserID: "u2", DisplayName: "Bob"}))

	p, err := repo.Get(t.Context(), "u1")
	assert.NoError(t, err)
	assert.Equal(t, profile.Profile{UserID: "u1", DisplayName: "Alice", Role: profile.RoleAdmin}, p)

	p, err = repo.Get(t.Context(), "u2")
	assert.NoError(t, err)
	assert.Equal(t, profile.RoleMember, p.Role)
}
