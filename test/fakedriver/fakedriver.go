// Package fakedriver provides a scriptable dbx.Driver for tests.
//
// Every call is recorded in issue order. In auto mode calls complete inline,
// before the driver method returns; in manual mode they stay pending until the
// test completes them, in any order.
package fakedriver

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/marcodd23/go-txqueue/pkg/dbx"
)

// Call - a recorded driver call.
type Call struct {
	Method string
	SQL    string
	Args   []any

	failure   error
	finish    func(err error)
	completed atomic.Bool
}

// String - "Method SQL", the format used by Driver.Issued.
func (c *Call) String() string {
	return c.Method + " " + c.SQL
}

// Complete - fire the call completion. A nil err falls back to the failure
// configured with FailOn. Completing a call twice is a no-op.
func (c *Call) Complete(err error) {
	if !c.completed.CompareAndSwap(false, true) {
		return
	}

	if err == nil {
		err = c.failure
	}

	c.finish(err)
}

// Completed - true once the completion fired.
func (c *Call) Completed() bool {
	return c.completed.Load()
}

// Driver - fake dbx.Driver.
type Driver struct {
	mutex      sync.Mutex
	manual     bool
	serialized bool
	closed     bool
	calls      []*Call
	failures   map[string]error
	rows       map[string][]dbx.Row
	statements []*Statement
	hub        dbx.EventHub
}

var _ dbx.Driver = (*Driver)(nil)

// New - driver completing every call inline.
func New() *Driver {
	return &Driver{
		failures: make(map[string]error),
		rows:     make(map[string][]dbx.Row),
	}
}

// NewManual - driver leaving every call pending until the test completes it.
func NewManual() *Driver {
	d := New()
	d.manual = true

	return d
}

// FailOn - make every call on sql complete with err.
func (d *Driver) FailOn(sql string, err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.failures[sql] = err
}

// SetRows - rows returned by the queries on sql.
func (d *Driver) SetRows(sql string, rows ...dbx.Row) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.rows[sql] = rows
}

// Emit - emit ev on the driver event source.
func (d *Driver) Emit(ev dbx.Event) {
	d.hub.Emit(ev)
}

// Serialized - true once Serialize was called.
func (d *Driver) Serialized() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.serialized
}

// Closed - true once Close was called.
func (d *Driver) Closed() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.closed
}

// Issued - every recorded call, as "Method SQL", in issue order.
func (d *Driver) Issued() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	issued := make([]string, 0, len(d.calls))
	for _, c := range d.calls {
		issued = append(issued, c.String())
	}

	return issued
}

// Calls - every recorded call, in issue order.
func (d *Driver) Calls() []*Call {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]*Call(nil), d.calls...)
}

// Pending - the calls not completed yet, in issue order.
func (d *Driver) Pending() []*Call {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var pending []*Call
	for _, c := range d.calls {
		if !c.Completed() {
			pending = append(pending, c)
		}
	}

	return pending
}

// CompleteAll - complete the pending calls, oldest first, until none is left.
// Calls issued by the completions are completed too.
func (d *Driver) CompleteAll() {
	for {
		pending := d.Pending()
		if len(pending) == 0 {
			return
		}

		pending[0].Complete(nil)
	}
}

func (d *Driver) record(method, sql string, args []any, inline bool, finish func(err error)) {
	c := &Call{Method: method, SQL: sql, Args: args, finish: finish}

	d.mutex.Lock()
	c.failure = d.failures[sql]
	d.calls = append(d.calls, c)
	manual := d.manual
	d.mutex.Unlock()

	if !manual || inline {
		c.Complete(nil)
	}
}

func (d *Driver) rowsOf(sql string) []dbx.Row {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.rows[sql]
}

// Serialize - switch to ordered execution.
func (d *Driver) Serialize() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.serialized = true
}

func (d *Driver) Exec(sql string, done func(err error)) {
	d.record("Exec", sql, nil, false, done)
}

func (d *Driver) Run(sql string, args []any, done func(res dbx.Result, err error)) {
	d.record("Run", sql, args, false, runFinisher(done))
}

func (d *Driver) Get(sql string, args []any, done func(row dbx.Row, err error)) {
	d.record("Get", sql, args, false, d.getFinisher(sql, done))
}

func (d *Driver) All(sql string, args []any, done func(rows []dbx.Row, err error)) {
	d.record("All", sql, args, false, d.allFinisher(sql, done))
}

func (d *Driver) Each(sql string, args []any, onRow func(row dbx.Row), done func(count int, err error)) {
	d.record("Each", sql, args, false, d.eachFinisher(sql, onRow, done))
}

func (d *Driver) Map(sql string, args []any, done func(result map[string]any, err error)) {
	d.record("Map", sql, args, false, d.mapFinisher(sql, done))
}

// Prepare - completes inline in both modes.
func (d *Driver) Prepare(sql string, done func(err error)) dbx.Statement {
	stmt := &Statement{driver: d, sql: sql}

	d.mutex.Lock()
	d.statements = append(d.statements, stmt)
	d.mutex.Unlock()

	d.record("Prepare", sql, nil, true, done)

	return stmt
}

// Statements - the statements prepared so far, in order.
func (d *Driver) Statements() []*Statement {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]*Statement(nil), d.statements...)
}

// Close - completes inline in both modes.
func (d *Driver) Close(done func(err error)) {
	d.mutex.Lock()
	d.closed = true
	d.mutex.Unlock()

	d.hub.Emit(dbx.NewEvent(dbx.EventClose))
	d.record("Close", "", nil, true, done)
}

func (d *Driver) Events() dbx.EventSource {
	return &d.hub
}

func runFinisher(done func(dbx.Result, error)) func(error) {
	return func(err error) {
		if err != nil {
			done(dbx.Result{}, err)
			return
		}

		done(dbx.Result{Changes: 1}, nil)
	}
}

func (d *Driver) getFinisher(sql string, done func(dbx.Row, error)) func(error) {
	return func(err error) {
		if err != nil {
			done(nil, err)
			return
		}

		rows := d.rowsOf(sql)
		if len(rows) == 0 {
			done(nil, nil)
			return
		}

		done(rows[0], nil)
	}
}

func (d *Driver) allFinisher(sql string, done func([]dbx.Row, error)) func(error) {
	return func(err error) {
		if err != nil {
			done(nil, err)
			return
		}

		done(d.rowsOf(sql), nil)
	}
}

func (d *Driver) eachFinisher(sql string, onRow func(dbx.Row), done func(int, error)) func(error) {
	return func(err error) {
		if err != nil {
			done(0, err)
			return
		}

		rows := d.rowsOf(sql)
		for _, row := range rows {
			onRow(row)
		}

		done(len(rows), nil)
	}
}

// mapFinisher keys the rows by their "id" column.
func (d *Driver) mapFinisher(sql string, done func(map[string]any, error)) func(error) {
	return func(err error) {
		if err != nil {
			done(nil, err)
			return
		}

		result := make(map[string]any)
		for _, row := range d.rowsOf(sql) {
			result[fmt.Sprint(row["id"])] = row
		}

		done(result, nil)
	}
}

// Statement - fake dbx.Statement, recording its calls on the owning Driver
// with a "Stmt." method prefix.
type Statement struct {
	driver *Driver
	sql    string
	hub    dbx.EventHub
}

var _ dbx.Statement = (*Statement)(nil)

// Emit - emit ev on the statement event source.
func (s *Statement) Emit(ev dbx.Event) {
	s.hub.Emit(ev)
}

// Bind - completes inline in both modes.
func (s *Statement) Bind(args []any, done func(err error)) {
	s.driver.record("Stmt.Bind", s.sql, args, true, done)
}

func (s *Statement) Run(args []any, done func(res dbx.Result, err error)) {
	s.driver.record("Stmt.Run", s.sql, args, false, runFinisher(done))
}

func (s *Statement) Get(args []any, done func(row dbx.Row, err error)) {
	s.driver.record("Stmt.Get", s.sql, args, false, s.driver.getFinisher(s.sql, done))
}

func (s *Statement) All(args []any, done func(rows []dbx.Row, err error)) {
	s.driver.record("Stmt.All", s.sql, args, false, s.driver.allFinisher(s.sql, done))
}

func (s *Statement) Each(args []any, onRow func(row dbx.Row), done func(count int, err error)) {
	s.driver.record("Stmt.Each", s.sql, args, false, s.driver.eachFinisher(s.sql, onRow, done))
}

func (s *Statement) Map(args []any, done func(result map[string]any, err error)) {
	s.driver.record("Stmt.Map", s.sql, args, false, s.driver.mapFinisher(s.sql, done))
}

func (s *Statement) Reset(done func(err error)) {
	s.driver.record("Stmt.Reset", s.sql, nil, false, done)
}

func (s *Statement) Finalize(done func(err error)) {
	s.driver.record("Stmt.Finalize", s.sql, nil, false, done)
}

func (s *Statement) SQL() string {
	return s.sql
}

func (s *Statement) Events() dbx.EventSource {
	return &s.hub
}
