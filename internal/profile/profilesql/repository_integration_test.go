//go:build integration

package profilesql_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcompare/authsync/internal/dbtest/postgrestest"
	"github.com/streamcompare/authsync/internal/profile"
	"github.com/streamcompare/authsync/internal/profile/profilesql"
	"github.com/streamcompare/authsync/internal/serviceerr"
)

func TestRepository_Postgres(t *testing.T) {
	ctx := t.Context()

	pool, _, terminate := postgrestest.Start(ctx)
	t.Cleanup(func() { terminate(ctx) })

	repo := profilesql.NewRepository(pool)

	t.Run("seeded admin", func(t *testing.T) {
		p, err := repo.Get(ctx, postgrestest.AdminUserID)
		require.NoError(t, err)
		assert.Equal(t, profile.RoleAdmin, p.Role)
		assert.Equal(t, "Ada Admin", p.DisplayName)
		assert.False(t, p.UpdatedAt.IsZero())
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := repo.Get(ctx, "00000000-0000-4000-8000-000000000000")
		assert.ErrorIs(t, err, serviceerr.ErrNotFound)
	})

	t.Run("ensure creates a member", func(t *testing.T) {
		const userID = "1f2e3d4c-5b6a-4978-8695-a4b3c2d1e0f9"

		require.NoError(t, repo.Ensure(ctx, profile.Profile{UserID: userID, DisplayName: "New User"}))

		p, err := repo.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, profile.RoleMember, p.Role)
		assert.Equal(t, "New User", p.DisplayName)
	})

	t.Run("ensure keeps the role", func(t *testing.T) {
		require.NoError(t, repo.Ensure(ctx, profile.Profile{UserID: postgrestest.AdminUserID, DisplayName: "Ada"}))

		p, err := repo.Get(ctx, postgrestest.AdminUserID)
		require.NoError(t, err)
		assert.Equal(t, profile.RoleAdmin, p.Role)
		assert.Equal(t, "Ada", p.DisplayName)
	})
}
