package txqueue_test

import (
	"context"
	"errors"
	"testing"

	"github.com/marcodd23/go-txqueue/pkg/dbx"
	"github.com/marcodd23/go-txqueue/pkg/errorx"
	"github.com/marcodd23/go-txqueue/pkg/txqueue"
	"github.com/marcodd23/go-txqueue/test/fakedriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newConn(driver dbx.Driver) *txqueue.Conn {
	return txqueue.New(context.Background(), driver, txqueue.Config{})
}

// begin opens a transaction on a driver completing calls inline.
func begin(t *testing.T, conn *txqueue.Conn) *txqueue.Transaction {
	t.Helper()

	var tx *txqueue.Transaction
	conn.BeginTransaction(func(got *txqueue.Transaction, err error) {
		require.NoError(t, err)
		tx = got
	})
	require.NotNil(t, tx, "transaction not started synchronously")

	return tx
}

func TestNew_SerializesDriver(t *testing.T) {
	d := fakedriver.New()
	newConn(d)

	require.True(t, d.Serialized())
}

func TestBegin_WaitsForInFlightOperations(t *testing.T) {
	d := fakedriver.NewManual()
	conn := newConn(d)

	conn.Run("UPDATE a SET x = 1", nil, nil)
	conn.Get("SELECT * FROM b", nil, nil)

	var tx *txqueue.Transaction
	conn.BeginTransaction(func(got *txqueue.Transaction, err error) {
		require.NoError(t, err)
		tx = got
	})

	require.Equal(t, []string{"Run UPDATE a SET x = 1", "Get SELECT * FROM b"}, d.Issued())
	stats := conn.Stats()
	require.Equal(t, 2, stats.PendingLocks)
	require.Equal(t, "beginning", stats.TransactionState)

	// Completions arrive out of issue order.
	pending := d.Pending()
	pending[1].Complete(nil)
	require.NotContains(t, d.Issued(), "Exec BEGIN;")

	pending[0].Complete(nil)
	require.Equal(t, "Exec BEGIN;", d.Issued()[2])
	require.Nil(t, tx)

	d.Pending()[0].Complete(nil)
	require.NotNil(t, tx)
	require.Equal(t, txqueue.StateActive, tx.State())
	require.Equal(t, "active", conn.Stats().TransactionState)
}

func TestOperationsDuringTransaction_RunInIssueOrder(t *testing.T) {
	d := fakedriver.New()
	conn := newConn(d)
	tx := begin(t, conn)

	var order []string
	conn.Run("INSERT INTO t VALUES (1)", nil, func(_ dbx.Result, err error) {
		require.NoError(t, err)
		order = append(order, "run")
	})
	conn.Exec("DELETE FROM t", func(err error) {
		require.NoError(t, err)
		order = append(order, "exec")
	})
	conn.Get("SELECT 1", nil, func(_ dbx.Row, err error) {
		require.NoError(t, err)
		order = append(order, "get")
	})

	require.Equal(t, []string{"Exec BEGIN;"}, d.Issued())
	require.Equal(t, 3, conn.Stats().QueuedOperations)

	tx.Commit(func(err error) {
		require.NoError(t, err)
		order = append(order, "commit")
	})

	require.Equal(t, []string{
		"Exec BEGIN;",
		"Exec COMMIT;",
		"Run INSERT INTO t VALUES (1)",
		"Exec DELETE FROM t",
		"Get SELECT 1",
	}, d.Issued())
	require.Equal(t, []string{"run", "exec", "get", "commit"}, order)
	require.Equal(t, 0, conn.Stats().QueuedOperations)
}

func TestDrain_StopsAtQueuedBegin(t *testing.T) {
	d := fakedriver.New()
	conn := newConn(d)
	tx1 := begin(t, conn)

	var tx2 *txqueue.Transaction
	conn.Run("A", nil, nil)
	conn.Run("B", nil, nil)
	conn.BeginTransaction(func(tx *txqueue.Transaction, err error) {
		require.NoError(t, err)
		tx2 = tx
	})
	conn.Run("C", nil, nil)

	tx1.Commit(nil)

	require.Equal(t, []string{"Exec BEGIN;", "Exec COMMIT;", "Run A", "Run B", "Exec BEGIN;"}, d.Issued())
	require.NotNil(t, tx2)
	require.NotEqual(t, tx1.Id(), tx2.Id())
	require.Equal(t, 1, conn.Stats().QueuedOperations)

	tx2.Commit(nil)

	require.Equal(t, []string{"Exec COMMIT;", "Run C"}, d.Issued()[5:])
	require.Equal(t, 0, conn.Stats().QueuedOperations)
}

func TestCommit_SecondFinishIsRejected(t *testing.T) {
	d := fakedriver.NewManual()
	conn := newConn(d)

	var tx *txqueue.Transaction
	conn.BeginTransaction(func(got *txqueue.Transaction, _ error) { tx = got })
	d.CompleteAll()
	require.NotNil(t, tx)

	var first error = errBoom
	tx.Commit(func(err error) { first = err })

	var second, third error
	tx.Commit(func(err error) { second = err })
	tx.Rollback(func(err error) { third = err })

	var doubleFinish *errorx.DoubleFinishError
	require.ErrorAs(t, second, &doubleFinish)
	require.ErrorAs(t, third, &doubleFinish)
	require.Equal(t, txqueue.StateFinishing, tx.State())

	d.CompleteAll()
	require.NoError(t, first)
	require.Equal(t, txqueue.StateFinished, tx.State())

	var fourth error
	tx.Commit(func(err error) { fourth = err })
	require.ErrorAs(t, fourth, &doubleFinish)

	require.Equal(t, []string{"Exec BEGIN;", "Exec COMMIT;"}, d.Issued())
}

func TestCommit_FailureRollsBackAndReportsCommitError(t *testing.T) {
	d := fakedriver.NewManual()
	conn := newConn(d)

	var tx *txqueue.Transaction
	conn.BeginTransaction(func(got *txqueue.Transaction, _ error) { tx = got })
	d.CompleteAll()

	var commitErr error
	fired := false
	tx.Commit(func(err error) {
		fired = true
		commitErr = err
	})

	d.Pending()[0].Complete(errBoom)
	require.False(t, fired, "commit callback fired before the rollback completed")
	require.Equal(t, []string{"Exec BEGIN;", "Exec COMMIT;", "Exec ROLLBACK;"}, d.Issued())

	rollbackErr := errors.New("rollback failed too")
	d.Pending()[0].Complete(rollbackErr)
	require.True(t, fired)

	var protocolErr *errorx.ProtocolError
	require.ErrorAs(t, commitErr, &protocolErr)
	require.Equal(t, txqueue.CmdCommit, protocolErr.Command())
	require.ErrorIs(t, commitErr, errBoom)
	require.NotErrorIs(t, commitErr, rollbackErr)

	stats := conn.Stats()
	require.Equal(t, "idle", stats.TransactionState)
	require.Equal(t, int64(1), stats.TransactionsFailed)
}

func TestRollback_FinishesEvenOnFailure(t *testing.T) {
	d := fakedriver.New()
	d.FailOn(txqueue.CmdRollback, errBoom)
	conn := newConn(d)
	tx := begin(t, conn)

	conn.Exec("SELECT 1", nil)

	var rollbackErr error
	tx.Rollback(func(err error) { rollbackErr = err })

	var protocolErr *errorx.ProtocolError
	require.ErrorAs(t, rollbackErr, &protocolErr)
	require.Equal(t, txqueue.CmdRollback, protocolErr.Command())
	require.Equal(t, txqueue.StateFinished, tx.State())
	require.Equal(t, []string{"Exec BEGIN;", "Exec ROLLBACK;", "Exec SELECT 1"}, d.Issued())
	require.Equal(t, int64(1), conn.Stats().TransactionsRolledBack)
}

func TestBegin_FailureDrainsQueue(t *testing.T) {
	d := fakedriver.NewManual()
	conn := newConn(d)

	var beginErr error
	called := false
	conn.BeginTransaction(func(tx *txqueue.Transaction, err error) {
		called = true
		require.Nil(t, tx)
		beginErr = err
	})
	conn.Run("A", nil, nil)
	require.Equal(t, []string{"Exec BEGIN;"}, d.Issued())

	d.Pending()[0].Complete(errBoom)

	require.True(t, called)
	var protocolErr *errorx.ProtocolError
	require.ErrorAs(t, beginErr, &protocolErr)
	require.Equal(t, txqueue.CmdBegin, protocolErr.Command())
	require.Equal(t, []string{"Exec BEGIN;", "Run A"}, d.Issued())

	stats := conn.Stats()
	require.Equal(t, "idle", stats.TransactionState)
	require.Equal(t, int64(1), stats.TransactionsStarted)
	require.Equal(t, int64(1), stats.TransactionsFailed)
}

func TestScenario_ExecBeginFetchCommit(t *testing.T) {
	d := fakedriver.NewManual()
	conn := newConn(d)

	conn.Exec("INSERT INTO t VALUES (1)", nil)
	require.Equal(t, 1, conn.Stats().PendingLocks)

	var tx *txqueue.Transaction
	conn.BeginTransaction(func(got *txqueue.Transaction, err error) {
		require.NoError(t, err)
		tx = got
	})
	require.Equal(t, []string{"Exec INSERT INTO t VALUES (1)"}, d.Issued())

	d.Pending()[0].Complete(nil)
	require.Equal(t, 0, conn.Stats().PendingLocks)
	require.Equal(t, "Exec BEGIN;", d.Issued()[1])

	d.Pending()[0].Complete(nil)
	require.NotNil(t, tx)

	var row dbx.Row
	d.SetRows("SELECT * FROM t", dbx.Row{"id": 1})
	tx.Get("SELECT * FROM t", nil, func(got dbx.Row, err error) {
		require.NoError(t, err)
		row = got
	})
	require.Equal(t, "Get SELECT * FROM t", d.Issued()[2])
	require.Equal(t, 0, conn.Stats().QueuedOperations)
	require.Equal(t, 1, conn.Stats().PendingLocks)

	committed := false
	tx.Commit(func(err error) {
		require.NoError(t, err)
		committed = true
	})
	require.Len(t, d.Issued(), 3, "COMMIT issued while the fetch is in flight")

	d.Pending()[0].Complete(nil)
	require.Equal(t, dbx.Row{"id": 1}, row)
	require.Equal(t, "Exec COMMIT;", d.Issued()[3])

	d.Pending()[0].Complete(nil)
	require.True(t, committed)

	stats := conn.Stats()
	require.Equal(t, "idle", stats.TransactionState)
	require.Equal(t, int64(1), stats.TransactionsCommitted)
	require.Equal(t, 0, stats.PendingLocks)
}

func TestScenario_ConcurrentBegins(t *testing.T) {
	d := fakedriver.NewManual()
	conn := newConn(d)

	var tx1 *txqueue.Transaction
	conn.BeginTransaction(func(got *txqueue.Transaction, err error) {
		require.NoError(t, err)
		tx1 = got
	})

	var secondErr error
	secondCalled := false
	conn.BeginTransaction(func(tx *txqueue.Transaction, err error) {
		secondCalled = true
		secondErr = err
	})

	d.Pending()[0].Complete(nil)
	require.NotNil(t, tx1)
	require.Equal(t, 1, conn.Stats().QueuedOperations)
	require.Equal(t, []string{"Exec BEGIN;"}, d.Issued())

	tx1.Commit(nil)
	d.Pending()[0].Complete(nil)
	require.Equal(t, []string{"Exec BEGIN;", "Exec COMMIT;", "Exec BEGIN;"}, d.Issued())
	require.False(t, secondCalled)

	d.Pending()[0].Complete(errBoom)
	require.True(t, secondCalled)
	require.ErrorIs(t, secondErr, errBoom)

	stats := conn.Stats()
	require.Equal(t, int64(2), stats.TransactionsStarted)
	require.Equal(t, int64(1), stats.TransactionsCommitted)
	require.Equal(t, int64(1), stats.TransactionsFailed)
}

func TestTransactionOperations_RejectedOnceFinished(t *testing.T) {
	d := fakedriver.New()
	conn := newConn(d)
	tx := begin(t, conn)
	tx.Commit(nil)

	var runErr, execErr error
	tx.Run("UPDATE t SET x = 1", nil, func(_ dbx.Result, err error) { runErr = err })
	tx.Exec("DELETE FROM t", func(err error) { execErr = err })

	var dbErr *errorx.DatabaseError
	require.ErrorAs(t, runErr, &dbErr)
	require.ErrorAs(t, execErr, &dbErr)
	require.Contains(t, runErr.Error(), "already finished")
	require.Equal(t, []string{"Exec BEGIN;", "Exec COMMIT;"}, d.Issued())
}

func TestTransactionOperations_AllKinds(t *testing.T) {
	d := fakedriver.New()
	d.SetRows("SELECT id FROM t", dbx.Row{"id": 1}, dbx.Row{"id": 2})
	conn := newConn(d)
	tx := begin(t, conn)

	var rows []dbx.Row
	tx.All("SELECT id FROM t", nil, func(got []dbx.Row, err error) {
		require.NoError(t, err)
		rows = got
	})
	require.Len(t, rows, 2)

	seen := 0
	var count int
	tx.Each("SELECT id FROM t", nil, func(dbx.Row) { seen++ }, func(n int, err error) {
		require.NoError(t, err)
		count = n
	})
	require.Equal(t, 2, seen)
	require.Equal(t, 2, count)

	var byId map[string]any
	tx.Map("SELECT id FROM t", nil, func(result map[string]any, err error) {
		require.NoError(t, err)
		byId = result
	})
	require.Contains(t, byId, "1")
	require.Contains(t, byId, "2")

	tx.Commit(nil)
	require.Equal(t, 0, conn.Stats().PendingLocks)
}

func TestAutoRollback_OnConnectionError(t *testing.T) {
	d := fakedriver.New()
	conn := newConn(d)
	tx := begin(t, conn)

	var relayed []dbx.Event
	conn.Subscribe(func(ev dbx.Event) { relayed = append(relayed, ev) })

	d.Emit(dbx.NewEvent(dbx.EventError, errBoom))

	require.Equal(t, []string{"Exec BEGIN;", "Exec ROLLBACK;"}, d.Issued())
	require.Equal(t, txqueue.StateFinished, tx.State())
	require.Len(t, relayed, 1)
	require.ErrorIs(t, relayed[0].Err(), errBoom)

	// No transaction: nothing to roll back.
	d.Emit(dbx.NewEvent(dbx.EventError, errBoom))
	require.Len(t, d.Issued(), 2)
}

func TestAutoRollback_Disabled(t *testing.T) {
	d := fakedriver.New()
	conn := txqueue.New(context.Background(), d, txqueue.Config{DisableAutoRollback: true})
	tx := begin(t, conn)

	d.Emit(dbx.NewEvent(dbx.EventError, errBoom))

	require.Equal(t, []string{"Exec BEGIN;"}, d.Issued())
	require.Equal(t, txqueue.StateActive, tx.State())
}

func TestConfigExec_IssuesTransactionCommands(t *testing.T) {
	d := fakedriver.New()

	var commands []string
	conn := txqueue.New(context.Background(), d, txqueue.Config{
		Exec: func(driver dbx.Driver, sql string, done func(err error)) {
			commands = append(commands, sql)
			driver.Exec(sql, done)
		},
	})

	tx := begin(t, conn)
	tx.Rollback(nil)

	require.Equal(t, []string{txqueue.CmdBegin, txqueue.CmdRollback}, commands)
}

func TestTxState_String(t *testing.T) {
	assert.Equal(t, "beginning", txqueue.StateBeginning.String())
	assert.Equal(t, "active", txqueue.StateActive.String())
	assert.Equal(t, "finishing", txqueue.StateFinishing.String())
	assert.Equal(t, "finished", txqueue.StateFinished.String())
}
