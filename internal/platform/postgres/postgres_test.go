package postgres

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationURL(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/consular?sslmode=disable":   "pgx5://u:p@db:5432/consular?sslmode=disable",
		"postgresql://u:p@db:5432/consular?sslmode=disable": "pgx5://u:p@db:5432/consular?sslmode=disable",
		"pgx5://u:p@db:5432/consular":                       "pgx5://u:p@db:5432/consular",
	}
	for in, want := range cases {
		assert.Equal(t, want, MigrationURL(in))
	}
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrationsFS, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))
}
