package postgres

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/marcodd23/go-txqueue/pkg/dbx"
	"github.com/marcodd23/go-txqueue/pkg/logx"
	"github.com/marcodd23/go-txqueue/test"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresContainerImage = "docker.io/postgres:16-alpine"
	postgresContainerPort  = "5432/tcp"

	MainDbName     = "main-db"
	MainDbUser     = "postgres"
	MainDbPassword = "password"
)

// PostgresContainer represents the postgres Container type used in the module.
type PostgresContainer struct {
	Container  *postgres.PostgresContainer
	MappedPort nat.Port
	Host       string
	DbName     string
	DbUser     string
	DbPassword string
}

// StartPostgresContainer - start a postgres container initialized with the ACCOUNTS schema.
func StartPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	test.ConfigTestRootPath()

	pg, err := postgres.Run(ctx,
		postgresContainerImage,
		postgres.WithInitScripts(filepath.Join("test/testcontainer/postgres", "init_schema.sql")),
		postgres.WithDatabase(MainDbName),
		postgres.WithUsername(MainDbUser),
		postgres.WithPassword(MainDbPassword),
		postgres.WithSQLDriver("pgx"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(10*time.Second)),
	)

	require.NoError(t, err)
	require.NotNil(t, pg)

	mappedPort, err := pg.MappedPort(ctx, postgresContainerPort)
	require.NoError(t, err)

	host, err := pg.Host(ctx)
	require.NoError(t, err)

	logx.GetLogger().LogInfo(ctx, fmt.Sprintf("Postgres running at %s:%s", host, mappedPort.Port()))

	return &PostgresContainer{
		Container:  pg,
		MappedPort: mappedPort,
		Host:       host,
		DbName:     MainDbName,
		DbUser:     MainDbUser,
		DbPassword: MainDbPassword,
	}
}

func (c *PostgresContainer) StopContainer(ctx context.Context, t *testing.T) error {
	logx.GetLogger().LogInfo(ctx, "Terminating the Container ....")

	timeout := time.Second * 3

	err := c.Container.Stop(ctx, &timeout)
	if err != nil {
		require.NoError(t, err, fmt.Sprintf("error stopping the Container %v", err))
		return err
	}

	return nil
}

// ConnConfig - connection configuration pointing at the container.
func (c *PostgresContainer) ConnConfig() dbx.ConnConfig {
	return dbx.ConnConfig{
		IsLocalEnv: true,
		Host:       c.Host,
		Port:       int32(c.MappedPort.Int()),
		DBName:     c.DbName,
		User:       c.DbUser,
		Password:   c.DbPassword,
		MaxConn:    1,
	}
}
