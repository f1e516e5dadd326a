package txqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marcodd23/go-txqueue/pkg/dbx"
	"github.com/marcodd23/go-txqueue/pkg/errorx"
	"github.com/marcodd23/go-txqueue/pkg/logx"
)

// TxState - lifecycle state of a Transaction.
type TxState int32

const (
	// StateBeginning - BEGIN is waiting for in-flight operations or for the driver.
	StateBeginning TxState = iota
	// StateActive - BEGIN succeeded, the transaction accepts operations.
	StateActive
	// StateFinishing - Commit or Rollback was accepted and is in progress.
	StateFinishing
	// StateFinished - the transaction is over.
	StateFinished
)

func (s TxState) String() string {
	switch s {
	case StateBeginning:
		return "beginning"
	case StateActive:
		return "active"
	case StateFinishing:
		return "finishing"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

type txOutcome int

const (
	outcomeCommitted txOutcome = iota
	outcomeRolledBack
	outcomeFailed
)

// Transaction - handle of the transaction currently open on a Conn.
// Operations issued through it run immediately, while the ones issued on the
// Conn wait for it to finish. It can be finished exactly once, with Commit or Rollback.
type Transaction struct {
	conn  *Conn
	id    int64
	mutex sync.Mutex
	state atomic.Int32
}

// Id - random identifier of the transaction, attached to its log entries.
func (tx *Transaction) Id() int64 {
	return tx.id
}

// State - current lifecycle state.
func (tx *Transaction) State() TxState {
	return TxState(tx.state.Load())
}

func (tx *Transaction) setState(state TxState) {
	tx.mutex.Lock()
	tx.state.Store(int32(state))
	tx.mutex.Unlock()
}

// startFinishing - move from Active to Finishing. Only the first caller wins.
func (tx *Transaction) startFinishing(action string) error {
	tx.mutex.Lock()
	defer tx.mutex.Unlock()

	if tx.State() != StateActive {
		return errorx.NewDoubleFinishError(tx.id, action)
	}

	tx.state.Store(int32(StateFinishing))

	return nil
}

// tryExecute runs op right away if the transaction is still active.
// The state check and the lock increment happen while tx.mutex is held, so a
// concurrent Commit either sees the lock or rejects op.
func (tx *Transaction) tryExecute(op pendingOperation) bool {
	c := tx.conn

	tx.mutex.Lock()
	if tx.State() != StateActive {
		tx.mutex.Unlock()
		return false
	}

	c.state.Lock()
	c.state.locks.increment()
	c.state.Unlock()
	tx.mutex.Unlock()

	c.invokeHeld(op)

	return true
}

func (tx *Transaction) finishedError(method string) error {
	return errorx.NewDatabaseError("transaction %d already finished, cannot %s", tx.id, method)
}

func (tx *Transaction) logCtx() context.Context {
	return logx.WithTxId(tx.conn.ctx, tx.id)
}

// BeginTransaction - open a transaction.
//
// BEGIN is issued once every locking operation already dispatched has completed.
// If another transaction is open, or the queue is being drained, the request is
// queued and runs when the drain reaches it.
//
// Arguments:
//   - done: Receives the Transaction, or a *errorx.ProtocolError if BEGIN failed.
//
// Example Usage:
//
//	conn.BeginTransaction(func(tx *txqueue.Transaction, err error) {
//	    if err != nil {
//	        logx.GetLogger().LogError(ctx, "begin failed", err)
//	        return
//	    }
//	    tx.Exec("DELETE FROM sessions", nil)
//	    tx.Commit(nil)
//	})
func (c *Conn) BeginTransaction(done func(tx *Transaction, err error)) {
	done = normalizeDone(done)

	c.state.Lock()
	if c.state.current != nil || c.state.draining {
		c.state.queue.push(pendingOperation{
			kind:    opBegin,
			target:  targetConnection,
			method:  "BeginTransaction",
			onBegin: done,
		})
		queued := c.state.queue.len()
		c.state.Unlock()

		logx.GetLogger().LogDebug(c.ctx, fmt.Sprintf("transaction already open, begin queued behind %d operations", queued-1))
		return
	}

	tx := c.startTransactionLocked()
	c.state.Unlock()

	c.begin(tx, done)
}

// startTransactionLocked - create the next transaction and make it current.
// The caller holds the state mutex.
func (c *Conn) startTransactionLocked() *Transaction {
	tx := &Transaction{conn: c, id: dbx.GenerateRandomInt64Id()}
	tx.state.Store(int32(StateBeginning))

	c.state.current = tx
	c.state.counters.started++

	return tx
}

func (c *Conn) begin(tx *Transaction, done func(*Transaction, error)) {
	c.whenUnlocked(func() {
		c.command(CmdBegin, func(err error) {
			if err != nil {
				perr := errorx.NewProtocolError(CmdBegin, err)
				logx.GetLogger().LogError(tx.logCtx(), "error starting transaction", perr)

				tx.setState(StateFinished)
				c.endTransaction(tx, outcomeFailed)
				done(nil, perr)

				return
			}

			tx.setState(StateActive)
			logx.GetLogger().LogDebug(tx.logCtx(), "transaction started")
			done(tx, nil)
		})
	})
}

// Commit - issue COMMIT once the operations of the transaction have completed.
//
// If COMMIT fails a ROLLBACK is issued before done runs, and done receives
// the COMMIT failure as *errorx.ProtocolError. A second Commit or Rollback
// receives *errorx.DoubleFinishError synchronously.
func (tx *Transaction) Commit(done func(err error)) {
	done = normalizeErrDone(done)

	if err := tx.startFinishing("commit"); err != nil {
		done(err)
		return
	}

	c := tx.conn
	c.whenUnlocked(func() {
		c.command(CmdCommit, func(err error) {
			if err == nil {
				tx.setState(StateFinished)
				logx.GetLogger().LogDebug(tx.logCtx(), "transaction committed")
				c.endTransaction(tx, outcomeCommitted)
				done(nil)

				return
			}

			commitErr := errorx.NewProtocolError(CmdCommit, err)
			logx.GetLogger().LogError(tx.logCtx(), "error during transaction commit, rolling back", commitErr)

			c.command(CmdRollback, func(rbErr error) {
				if rbErr != nil {
					logx.GetLogger().LogError(tx.logCtx(), "error rolling back after a failed commit", rbErr)
				} else {
					logx.GetLogger().LogInfo(tx.logCtx(), "transaction rolled back after a failed commit")
				}

				tx.setState(StateFinished)
				c.endTransaction(tx, outcomeFailed)
				done(commitErr)
			})
		})
	})
}

// Rollback - issue ROLLBACK once the operations of the transaction have completed.
// The transaction is finished whatever the outcome; a ROLLBACK failure is
// reported to done as *errorx.ProtocolError.
func (tx *Transaction) Rollback(done func(err error)) {
	done = normalizeErrDone(done)

	if err := tx.startFinishing("rollback"); err != nil {
		done(err)
		return
	}

	c := tx.conn
	c.whenUnlocked(func() {
		c.command(CmdRollback, func(err error) {
			tx.setState(StateFinished)
			c.endTransaction(tx, outcomeRolledBack)

			if err != nil {
				perr := errorx.NewProtocolError(CmdRollback, err)
				logx.GetLogger().LogError(tx.logCtx(), "error rolling back transaction", perr)
				done(perr)

				return
			}

			logx.GetLogger().LogDebug(tx.logCtx(), "transaction rolled back")
			done(nil)
		})
	})
}

// endTransaction - clear the current transaction and drain the queue.
// draining is set under the same lock, so calls issued from now on keep
// queueing behind the ones already waiting.
func (c *Conn) endTransaction(tx *Transaction, outcome txOutcome) {
	c.state.Lock()
	if c.state.current == tx {
		c.state.current = nil
	}
	c.state.draining = true

	switch outcome {
	case outcomeCommitted:
		c.state.counters.committed++
	case outcomeRolledBack:
		c.state.counters.rolledBack++
	case outcomeFailed:
		c.state.counters.failed++
	}
	c.state.Unlock()

	c.drain()
}

// Exec runs sql inside the transaction. Locking.
func (tx *Transaction) Exec(sql string, done func(err error)) {
	done = normalizeErrDone(done)
	d := tx.conn.driver

	if !tx.tryExecute(lockingErrOp(targetTransaction, "Exec", []any{sql}, func(cb func(error)) {
		d.Exec(sql, cb)
	}, done)) {
		done(tx.finishedError("Exec"))
	}
}

// Run executes a statement that doesn't return rows inside the transaction. Locking.
func (tx *Transaction) Run(sql string, args []any, done func(res dbx.Result, err error)) {
	done = normalizeDone(done)
	d := tx.conn.driver

	if !tx.tryExecute(lockingOp(targetTransaction, "Run", withSQL(sql, args), func(cb func(dbx.Result, error)) {
		d.Run(sql, args, cb)
	}, done)) {
		failWith(done)(tx.finishedError("Run"))
	}
}

// Get fetches the first row of the query inside the transaction. Locking.
func (tx *Transaction) Get(sql string, args []any, done func(row dbx.Row, err error)) {
	done = normalizeDone(done)
	d := tx.conn.driver

	if !tx.tryExecute(lockingOp(targetTransaction, "Get", withSQL(sql, args), func(cb func(dbx.Row, error)) {
		d.Get(sql, args, cb)
	}, done)) {
		failWith(done)(tx.finishedError("Get"))
	}
}

// All fetches every row of the query inside the transaction. Locking.
func (tx *Transaction) All(sql string, args []any, done func(rows []dbx.Row, err error)) {
	done = normalizeDone(done)
	d := tx.conn.driver

	if !tx.tryExecute(lockingOp(targetTransaction, "All", withSQL(sql, args), func(cb func([]dbx.Row, error)) {
		d.All(sql, args, cb)
	}, done)) {
		failWith(done)(tx.finishedError("All"))
	}
}

// Each calls onRow for every row of the query inside the transaction. Locking.
func (tx *Transaction) Each(sql string, args []any, onRow func(row dbx.Row), done func(count int, err error)) {
	onRow = normalizeRowFn(onRow)
	done = normalizeDone(done)
	d := tx.conn.driver

	if !tx.tryExecute(lockingOp(targetTransaction, "Each", withSQL(sql, args), func(cb func(int, error)) {
		d.Each(sql, args, onRow, cb)
	}, done)) {
		failWith(done)(tx.finishedError("Each"))
	}
}

// Map fetches the query as a map keyed by the first column, inside the transaction. Locking.
func (tx *Transaction) Map(sql string, args []any, done func(result map[string]any, err error)) {
	done = normalizeDone(done)
	d := tx.conn.driver

	if !tx.tryExecute(lockingOp(targetTransaction, "Map", withSQL(sql, args), func(cb func(map[string]any, error)) {
		d.Map(sql, args, cb)
	}, done)) {
		failWith(done)(tx.finishedError("Map"))
	}
}

// Prepare prepares sql for use inside the transaction. The returned statement
// bypasses the queue while the transaction is active and behaves like a Conn
// statement afterwards.
func (tx *Transaction) Prepare(sql string, done func(err error)) *Stmt {
	return tx.conn.prepare(tx, sql, done)
}
