package txqueue

import (
	"context"
	"sync"

	"github.com/marcodd23/go-txqueue/pkg/dbx"
	"github.com/marcodd23/go-txqueue/pkg/logx"
)

// Transaction control commands, issued through the raw execution path.
const (
	CmdBegin    = "BEGIN;"
	CmdCommit   = "COMMIT;"
	CmdRollback = "ROLLBACK;"
)

// ExecFunc issues a transaction control command on the driver.
type ExecFunc func(driver dbx.Driver, sql string, done func(err error))

// Config - Conn configuration.
//
// Fields:
//   - Exec: Issues BEGIN/COMMIT/ROLLBACK. When nil the driver's own Exec is used.
//   - DisableAutoRollback: Don't roll back the open transaction when the driver emits an error event.
type Config struct {
	Exec                ExecFunc
	DisableAutoRollback bool
}

// connState is the mutable state exclusively owned by a Conn.
// No driver call and no user callback is made while it is locked.
type connState struct {
	sync.Mutex
	locks    lockCounter
	queue    operationQueue
	current  *Transaction
	draining bool
	counters txCounters
}

type txCounters struct {
	started    int64
	committed  int64
	rolledBack int64
	failed     int64
}

// Conn wraps a dbx.Driver and adds transaction semantics on top of it.
//
// While a transaction is current every operation issued on the Conn (or on a
// Stmt prepared from it) is queued and runs, in issue order, once the
// transaction finishes. Operations issued through the Transaction itself run
// immediately. BEGIN, COMMIT and ROLLBACK wait until every locking operation
// already dispatched has completed.
//
// All the methods are asynchronous: results are delivered to the completion
// callbacks, which may be nil.
type Conn struct {
	ctx    context.Context
	driver dbx.Driver
	config Config
	state  connState
	relay  *eventRelay
}

// New wraps driver. The driver is switched to ordered execution and its events are
// relayed to the Conn subscribers from now on.
//
// Example Usage:
//
//	conn := txqueue.New(ctx, driver, txqueue.Config{})
//	conn.BeginTransaction(func(tx *txqueue.Transaction, err error) {
//	    if err != nil {
//	        return
//	    }
//	    tx.Run("UPDATE accounts SET balance = balance - $1 WHERE id = $2", []any{10, 1}, nil)
//	    tx.Commit(func(err error) { ... })
//	})
func New(ctx context.Context, driver dbx.Driver, config Config) *Conn {
	c := &Conn{
		ctx:    ctx,
		driver: driver,
		config: config,
	}

	driver.Serialize()
	c.relay = newEventRelay(driver.Events(), c.onDriverEvent)

	return c
}

// Driver - returns the wrapped driver.
func (c *Conn) Driver() dbx.Driver {
	return c.driver
}

// Events - returns the source of the events relayed from the driver.
func (c *Conn) Events() dbx.EventSource {
	return &c.relay.hub
}

// Subscribe - register handler for the events relayed from the driver.
func (c *Conn) Subscribe(handler func(ev dbx.Event)) (unsubscribe func()) {
	return c.relay.hub.Subscribe(handler)
}

// Exec runs one or more raw SQL statements. Locking.
func (c *Conn) Exec(sql string, done func(err error)) {
	c.dispatch(lockingErrOp(targetConnection, "Exec", []any{sql}, func(d func(error)) {
		c.driver.Exec(sql, d)
	}, done))
}

// Run executes a statement that doesn't return rows. Locking.
func (c *Conn) Run(sql string, args []any, done func(res dbx.Result, err error)) {
	c.dispatch(lockingOp(targetConnection, "Run", withSQL(sql, args), func(d func(dbx.Result, error)) {
		c.driver.Run(sql, args, d)
	}, done))
}

// Get fetches the first row of the query, or nil. Locking.
func (c *Conn) Get(sql string, args []any, done func(row dbx.Row, err error)) {
	c.dispatch(lockingOp(targetConnection, "Get", withSQL(sql, args), func(d func(dbx.Row, error)) {
		c.driver.Get(sql, args, d)
	}, done))
}

// All fetches every row of the query. Locking.
func (c *Conn) All(sql string, args []any, done func(rows []dbx.Row, err error)) {
	c.dispatch(lockingOp(targetConnection, "All", withSQL(sql, args), func(d func([]dbx.Row, error)) {
		c.driver.All(sql, args, d)
	}, done))
}

// Each calls onRow for every row of the query, then done with the row count. Locking.
// done may be nil even when onRow is given.
func (c *Conn) Each(sql string, args []any, onRow func(row dbx.Row), done func(count int, err error)) {
	onRow = normalizeRowFn(onRow)
	c.dispatch(lockingOp(targetConnection, "Each", withSQL(sql, args), func(d func(int, error)) {
		c.driver.Each(sql, args, onRow, d)
	}, done))
}

// Map fetches the query as a map keyed by the first column. Locking.
func (c *Conn) Map(sql string, args []any, done func(result map[string]any, err error)) {
	c.dispatch(lockingOp(targetConnection, "Map", withSQL(sql, args), func(d func(map[string]any, error)) {
		c.driver.Map(sql, args, d)
	}, done))
}

// Prepare prepares sql on the driver right away and returns the statement handle.
// The statement's own calls go through the queue like any other Conn call.
func (c *Conn) Prepare(sql string, done func(err error)) *Stmt {
	return c.prepare(nil, sql, done)
}

// Close closes the driver connection once every queued operation has run.
func (c *Conn) Close(done func(err error)) {
	done = normalizeErrDone(done)
	c.dispatch(pendingOperation{
		kind:   opSimple,
		target: targetConnection,
		method: "Close",
		invoke: func(_ func()) {
			c.driver.Close(func(err error) {
				done(err)
			})
		},
	})
}

// Stats - snapshot of the connection state.
type Stats struct {
	PendingLocks           int    `json:"pendingLocks"`
	QueuedOperations       int    `json:"queuedOperations"`
	TransactionState       string `json:"transactionState"`
	TransactionsStarted    int64  `json:"transactionsStarted"`
	TransactionsCommitted  int64  `json:"transactionsCommitted"`
	TransactionsRolledBack int64  `json:"transactionsRolledBack"`
	TransactionsFailed     int64  `json:"transactionsFailed"`
}

// Stats - returns a snapshot of the connection state.
func (c *Conn) Stats() Stats {
	c.state.Lock()
	defer c.state.Unlock()

	txState := "idle"
	if c.state.current != nil {
		txState = c.state.current.State().String()
	}

	return Stats{
		PendingLocks:           c.state.locks.count,
		QueuedOperations:       c.state.queue.len(),
		TransactionState:       txState,
		TransactionsStarted:    c.state.counters.started,
		TransactionsCommitted:  c.state.counters.committed,
		TransactionsRolledBack: c.state.counters.rolledBack,
		TransactionsFailed:     c.state.counters.failed,
	}
}

// command - issue a transaction control command through the configured exec path.
func (c *Conn) command(sql string, done func(err error)) {
	if c.config.Exec != nil {
		c.config.Exec(c.driver, sql, done)
		return
	}

	c.driver.Exec(sql, done)
}

func (c *Conn) onDriverEvent(ev dbx.Event) {
	if ev.Name != dbx.EventError {
		return
	}

	c.state.Lock()
	tx := c.state.current
	c.state.Unlock()

	if tx == nil || tx.State() != StateActive {
		return
	}

	txCtx := logx.WithTxId(c.ctx, tx.Id())
	if c.config.DisableAutoRollback {
		logx.GetLogger().LogWarning(txCtx, "connection error while a transaction is open, auto rollback disabled", ev.Err())
		return
	}

	logx.GetLogger().LogWarning(txCtx, "connection error while a transaction is open, rolling back", ev.Err())
	tx.Rollback(func(err error) {
		if err != nil {
			logx.GetLogger().LogError(txCtx, "automatic rollback failed", err)
		}
	})
}
