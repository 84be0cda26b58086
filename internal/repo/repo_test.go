package repo_test

import (
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/testhelper/docker/resource/postgres"

	"github.com/Informasjonsforvaltning/fdk-resource-service/internal/sqlmw"
	migrator "github.com/Informasjonsforvaltning/fdk-resource-service/services/sql-migrator"
)

func setupDB(t *testing.T) *sqlmw.DB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)

	pgResource, err := postgres.Setup(pool, t)
	require.NoError(t, err)

	err = (&migrator.Migrator{
		Handle:          pgResource.DB,
		MigrationsTable: "migrations_resource_service",
	}).Migrate("resource_service")
	require.NoError(t, err)

	return sqlmw.New(pgResource.DB)
}
