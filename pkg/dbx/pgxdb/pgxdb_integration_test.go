package pgxdb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marcodd23/go-txqueue/pkg/dbx"
	"github.com/marcodd23/go-txqueue/pkg/dbx/pgxdb"
	"github.com/marcodd23/go-txqueue/pkg/errorx"
	"github.com/marcodd23/go-txqueue/pkg/txqueue"
	"github.com/marcodd23/go-txqueue/test/testcontainer/postgres"
	"github.com/stretchr/testify/require"
)

// Account matches the ACCOUNTS table of the init script.
type Account struct {
	ID       int     `db:"id"`
	Owner    string  `db:"owner"`
	Balance  float64 `db:"balance"`
	IsActive bool    `db:"is_active"`
}

const accountByOwner = "account_by_owner"

// setupTestContainer - start the container and wrap a serialized driver.
func setupTestContainer(ctx context.Context, t *testing.T) (conn *txqueue.Conn, driver *pgxdb.PostgresDriver, teardown func()) {
	container := postgres.StartPostgresContainer(ctx, t)

	driver, err := pgxdb.NewPostgresDriver(ctx, container.ConnConfig(),
		dbx.NewPreparedStatement(accountByOwner, "SELECT * FROM ACCOUNTS WHERE owner = $1"))
	require.NoError(t, err)

	conn = txqueue.New(ctx, driver, txqueue.Config{})

	return conn, driver, func() {
		_ = txqueue.Wait(ctx, conn.Close)
		_ = container.StopContainer(ctx, t)
	}
}

func balanceOf(ctx context.Context, t *testing.T, conn *txqueue.Conn, owner string) float64 {
	row, err := txqueue.WaitResult(ctx, func(done func(dbx.Row, error)) {
		conn.Get(accountByOwner, []any{owner}, done)
	})
	require.NoError(t, err)
	require.NotNil(t, row)

	account, err := dbx.RowToStruct[Account](row, "db")
	require.NoError(t, err)

	return account.Balance
}

func TestPostgresDriverIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, driver, teardown := setupTestContainer(ctx, t)
	defer teardown()

	var (
		eventsMutex sync.Mutex
		events      []string
	)
	conn.Subscribe(func(ev dbx.Event) {
		eventsMutex.Lock()
		defer eventsMutex.Unlock()
		events = append(events, ev.Name)
	})

	t.Run("TestCommittedTransferIsVisible", func(t *testing.T) {
		err := txqueue.ExecTransactionalTask(ctx, conn, func(ctx context.Context, tx *txqueue.Transaction) error {
			for _, step := range []struct {
				owner  string
				amount float64
			}{{"alice", -30}, {"bob", 30}} {
				res, err := txqueue.WaitResult(ctx, func(done func(dbx.Result, error)) {
					tx.Run("UPDATE ACCOUNTS SET balance = balance + $1 WHERE owner = $2", []any{step.amount, step.owner}, done)
				})
				if err != nil {
					return err
				}
				require.Equal(t, int64(1), res.Changes)
			}

			return nil
		})
		require.NoError(t, err)

		require.Equal(t, 70.0, balanceOf(ctx, t, conn, "alice"))
		require.Equal(t, 80.0, balanceOf(ctx, t, conn, "bob"))
	})

	t.Run("TestRolledBackTransactionLeavesNoTrace", func(t *testing.T) {
		err := txqueue.ExecTransactionalTask(ctx, conn, func(ctx context.Context, tx *txqueue.Transaction) error {
			if err := txqueue.Wait(ctx, func(done func(error)) {
				tx.Exec("UPDATE ACCOUNTS SET balance = 0", done)
			}); err != nil {
				return err
			}

			return errorx.NewGeneralError("abort")
		})
		require.Error(t, err)

		require.Equal(t, 70.0, balanceOf(ctx, t, conn, "alice"))
	})

	t.Run("TestQueuedOperationSeesCommittedData", func(t *testing.T) {
		var tx *txqueue.Transaction
		began := make(chan error, 1)
		conn.BeginTransaction(func(got *txqueue.Transaction, err error) {
			tx = got
			began <- err
		})
		require.NoError(t, <-began)

		tx.Run("INSERT INTO ACCOUNTS (owner, balance) VALUES ($1, $2)", []any{"carol", 10.0}, nil)

		type result struct {
			rows []dbx.Row
			err  error
		}
		resultCh := make(chan result, 1)
		conn.All("SELECT owner FROM ACCOUNTS ORDER BY id", nil, func(rows []dbx.Row, err error) {
			resultCh <- result{rows: rows, err: err}
		})
		require.Equal(t, 1, conn.Stats().QueuedOperations)

		require.NoError(t, txqueue.Wait(ctx, tx.Commit))

		res := <-resultCh
		require.NoError(t, res.err)
		rows := res.rows
		require.Len(t, rows, 3)
		require.Equal(t, "carol", rows[2]["owner"])
	})

	t.Run("TestPreparedStatementInsideTransaction", func(t *testing.T) {
		err := txqueue.ExecTransactionalTask(ctx, conn, func(ctx context.Context, tx *txqueue.Transaction) error {
			stmt := tx.Prepare("SELECT owner, balance FROM ACCOUNTS WHERE balance >= $1", nil)
			defer stmt.Finalize(nil)

			byOwner, err := txqueue.WaitResult(ctx, func(done func(map[string]any, error)) {
				stmt.Map([]any{50.0}, done)
			})
			if err != nil {
				return err
			}

			require.Equal(t, map[string]any{"alice": 70.0, "bob": 80.0}, byOwner)

			return nil
		})
		require.NoError(t, err)
	})

	t.Run("TestEachCountsRows", func(t *testing.T) {
		var owners []string
		count, err := txqueue.WaitResult(ctx, func(done func(int, error)) {
			conn.Each("SELECT owner FROM ACCOUNTS ORDER BY id", nil, func(row dbx.Row) {
				owners = append(owners, row["owner"].(string))
			}, done)
		})
		require.NoError(t, err)
		require.Equal(t, 3, count)
		require.Equal(t, []string{"alice", "bob", "carol"}, owners)
	})

	t.Run("TestCommitOfAbortedTransaction", func(t *testing.T) {
		err := txqueue.ExecTransactionalTask(ctx, conn, func(ctx context.Context, tx *txqueue.Transaction) error {
			// A failed statement aborts the transaction: COMMIT then reports a rollback.
			_ = txqueue.Wait(ctx, func(done func(error)) {
				tx.Exec("SELECT * FROM MISSING_TABLE", done)
			})

			return nil
		})
		// PostgreSQL answers COMMIT of an aborted transaction with ROLLBACK, not an error.
		require.NoError(t, err)
		require.Equal(t, "idle", conn.Stats().TransactionState)
	})

	require.Equal(t, postgres.MainDbName, driver.GetConnectionConfig().DBName)

	eventsMutex.Lock()
	defer eventsMutex.Unlock()
	require.Contains(t, events, dbx.EventTrace)
	require.Contains(t, events, dbx.EventProfile)
}
