//go:build integration

package business

import (
	"testing"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamcompare/authsync/internal/config"
	"github.com/streamcompare/authsync/internal/dbtest/postgrestest"
)

func TestMigrateMain_Postgres(t *testing.T) {
	ctx := t.Context()

	pool, port, terminate := postgrestest.Start(ctx)
	t.Cleanup(func() { terminate(ctx) })

	cfg := &config.Config{
		Database: config.Database{
			Name:     postgrestest.DBName,
			Port:     port.Port(),
			SSLMode:  postgrestest.DBSSLMode,
			Host:     commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBHost},
			User:     commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBUser},
			Password: commoncfg.SourceRef{Source: "embedded", Value: postgrestest.DBPassword},
		},
	}

	// already migrated by the container helper, running again is a no-op
	require.NoError(t, MigrateMain(ctx, cfg))

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM profiles;`).Scan(&count))
	assert.Equal(t, 2, count)
}
