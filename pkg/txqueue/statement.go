package txqueue

import (
	"sync"

	"github.com/marcodd23/go-txqueue/pkg/dbx"
)

// Stmt - prepared statement handle tracked by its Conn.
//
// Its calls are queued like the Conn ones while a transaction is open. A Stmt
// prepared through a Transaction runs immediately as long as that transaction
// is active.
type Stmt struct {
	conn  *Conn
	tx    *Transaction
	stmt  dbx.Statement
	relay *eventRelay

	closeOnce sync.Once
}

// prepare - prepare sql on the driver now, outside the queue and the lock accounting.
func (c *Conn) prepare(tx *Transaction, sql string, done func(err error)) *Stmt {
	done = normalizeErrDone(done)

	stmt := c.driver.Prepare(sql, done)

	return &Stmt{
		conn:  c,
		tx:    tx,
		stmt:  stmt,
		relay: newEventRelay(stmt.Events(), nil),
	}
}

// SQL - the statement text.
func (s *Stmt) SQL() string {
	return s.stmt.SQL()
}

// Events - source of the events relayed from the driver statement.
func (s *Stmt) Events() dbx.EventSource {
	return &s.relay.hub
}

// Subscribe - register handler for the events relayed from the driver statement.
func (s *Stmt) Subscribe(handler func(ev dbx.Event)) (unsubscribe func()) {
	return s.relay.hub.Subscribe(handler)
}

func (s *Stmt) target() string {
	if s.tx != nil {
		return targetTransaction
	}

	return targetStatement
}

func (s *Stmt) dispatch(op pendingOperation) {
	if s.tx != nil && s.tx.tryExecute(op) {
		return
	}

	s.conn.dispatch(op)
}

// Bind - bind args to the statement.
func (s *Stmt) Bind(args []any, done func(err error)) {
	done = normalizeErrDone(done)

	s.dispatch(pendingOperation{
		kind:   opSimple,
		target: s.target(),
		method: "Bind",
		args:   args,
		invoke: func(_ func()) {
			s.stmt.Bind(args, done)
		},
	})
}

// Run - execute the statement. Locking.
func (s *Stmt) Run(args []any, done func(res dbx.Result, err error)) {
	s.dispatch(lockingOp(s.target(), "Run", args, func(d func(dbx.Result, error)) {
		s.stmt.Run(args, d)
	}, done))
}

// Get - fetch the first row. Locking.
func (s *Stmt) Get(args []any, done func(row dbx.Row, err error)) {
	s.dispatch(lockingOp(s.target(), "Get", args, func(d func(dbx.Row, error)) {
		s.stmt.Get(args, d)
	}, done))
}

// All - fetch every row. Locking.
func (s *Stmt) All(args []any, done func(rows []dbx.Row, err error)) {
	s.dispatch(lockingOp(s.target(), "All", args, func(d func([]dbx.Row, error)) {
		s.stmt.All(args, d)
	}, done))
}

// Each - call onRow for every row, then done with the count. Locking.
func (s *Stmt) Each(args []any, onRow func(row dbx.Row), done func(count int, err error)) {
	onRow = normalizeRowFn(onRow)
	s.dispatch(lockingOp(s.target(), "Each", args, func(d func(int, error)) {
		s.stmt.Each(args, onRow, d)
	}, done))
}

// Map - fetch the rows keyed by the first column. Locking.
func (s *Stmt) Map(args []any, done func(result map[string]any, err error)) {
	s.dispatch(lockingOp(s.target(), "Map", args, func(d func(map[string]any, error)) {
		s.stmt.Map(args, d)
	}, done))
}

// Reset - reset the statement cursor. Locking.
func (s *Stmt) Reset(done func(err error)) {
	s.dispatch(lockingErrOp(s.target(), "Reset", nil, func(d func(error)) {
		s.stmt.Reset(d)
	}, done))
}

// Finalize - release the statement. Locking. The event relay is detached once
// the driver has finalized the statement.
func (s *Stmt) Finalize(done func(err error)) {
	done = normalizeErrDone(done)

	s.dispatch(lockingErrOp(s.target(), "Finalize", nil, func(d func(error)) {
		s.stmt.Finalize(d)
	}, func(err error) {
		s.closeOnce.Do(s.relay.close)
		done(err)
	}))
}
