package pgxdb

import (
	"context"
	"fmt"
	"runtime"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marcodd23/go-txqueue/pkg/configmgr"
	"github.com/marcodd23/go-txqueue/pkg/dbx"
	"github.com/marcodd23/go-txqueue/pkg/errorx"
	"github.com/marcodd23/go-txqueue/pkg/logx"
	"github.com/marcodd23/go-txqueue/pkg/validator"
	"github.com/pkg/errors"
)

// ConnConfigFromConfig - build the connection configuration from the service configuration.
// A serialized driver works on one connection, so MaxConn is 1.
func ConnConfigFromConfig(config configmgr.Config) dbx.ConnConfig {
	dbConf := config.GetDatabaseConfig()
	if dbConf == nil {
		return dbx.ConnConfig{IsLocalEnv: config.IsLocalEnvironment(), MaxConn: 1}
	}

	return dbx.ConnConfig{
		VpcDirectConnection: dbConf.VpcDirectConnection,
		Host:                dbConf.Host,
		Port:                dbConf.Port,
		DBName:              dbConf.Name,
		User:                dbConf.User,
		Password:            dbConf.Password,
		MaxConn:             1,
		IsLocalEnv:          config.IsLocalEnvironment(),
	}
}

func newConnectionPool(ctx context.Context, dbConf dbx.ConnConfig, preparedStatements ...dbx.PreparedStatement) (*pgxpool.Pool, error) {
	poolConfig, err := createConnectionConfiguration(dbConf)
	if err != nil {
		return nil, err
	}

	// Setup prepared statements
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return setupPreparedStatements(ctx, conn, preparedStatements...)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error creating New Connection Pool")
	}

	return pool, nil
}

func createConnectionConfiguration(dbConf dbx.ConnConfig) (*pgxpool.Config, error) {
	if validationErrors := validator.NewValidator().ValidateStruct(dbConf); len(validationErrors) > 0 {
		return nil, errorx.NewDatabaseErrorWrapper(validator.NewValidationError(validationErrors), "Error creating Connection Pool ConnConfig")
	}

	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, errorx.NewDatabaseErrorWrapper(err, "Error parsing Connection Pool ConnConfig")
	}

	maxConn := dbConf.MaxConn
	if maxConn == 0 {
		maxConn = 1
	}

	poolConfig.ConnConfig.Database = dbConf.DBName
	poolConfig.ConnConfig.User = dbConf.User
	poolConfig.ConnConfig.Password = dbConf.Password
	// One connection is held by the serialized worker, the others serve parallel mode.
	poolConfig.MaxConns = int32(runtime.NumCPU())*maxConn + 1
	poolConfig.MinConns = 1

	if dbConf.IsLocalEnv || dbConf.VpcDirectConnection {
		// If local we need to specify the port, if not local
		// the port is defined in the Unix Socket configuration
		// mounted in the container at runtime (5432)
		logx.
			GetLogger().
			LogInfo(context.TODO(), fmt.Sprintf("Connecting to DB on HOST:%s and PORT:%d",
				dbConf.Host,
				uint16(dbConf.Port)))
		poolConfig.ConnConfig.Port = uint16(dbConf.Port)
		poolConfig.ConnConfig.Host = dbConf.Host
	} else {
		logx.GetLogger().LogInfo(context.TODO(), "Connecting to DB trough CLOUD SQL PROXY")
		poolConfig.ConnConfig.Host = fmt.Sprintf("/cloudsql/%s", dbConf.Host)
	}

	return poolConfig, nil
}

func setupPreparedStatements(ctx context.Context, conn *pgx.Conn, preparesStatements ...dbx.PreparedStatement) error {
	for _, stmt := range preparesStatements {
		_, err := conn.Prepare(ctx, stmt.GetName(), stmt.GetQuery())
		if err != nil {
			return errorx.NewDatabaseErrorWrapper(err, "Failed to prepare statement '%s'", stmt.GetName())
		}
	}

	return nil
}

func acquireConnectionFromPool(ctx context.Context, pool *pgxpool.Pool) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		logx.GetLogger().LogError(ctx, "Error acquiring connection from pool", err)
		return nil, errors.Wrap(err, "Error acquiring connection from pool")
	}

	return conn, nil
}
