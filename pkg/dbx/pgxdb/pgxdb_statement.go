package pgxdb

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/marcodd23/go-txqueue/pkg/dbx"
	"github.com/marcodd23/go-txqueue/pkg/errorx"
)

// PostgresStatement - dbx.Statement on PostgresDriver.
//
// Arguments given to Bind are used by the calls that pass nil args.
type PostgresStatement struct {
	driver *PostgresDriver
	sql    string
	name   string
	hub    dbx.EventHub

	mutex    sync.Mutex
	bound    []any
	prepared *pgx.Conn
}

var _ dbx.Statement = (*PostgresStatement)(nil)

func newPostgresStatement(d *PostgresDriver, sql string) *PostgresStatement {
	return &PostgresStatement{
		driver: d,
		sql:    sql,
		name:   "stmt_" + uuid.NewString(),
	}
}

func (s *PostgresStatement) prepare(ctx context.Context, sess session) error {
	if sess.conn == nil {
		return nil
	}

	if _, err := sess.conn.Prepare(ctx, s.name, s.sql); err != nil {
		s.hub.Emit(dbx.NewEvent(dbx.EventError, err))
		return errorx.NewDatabaseErrorWrapper(err, "Failed to prepare statement '%s'", s.sql)
	}

	s.mutex.Lock()
	s.prepared = sess.conn
	s.mutex.Unlock()

	return nil
}

// text - what to send to pgx: the statement name when prepared on the
// connection running the call, the SQL otherwise.
func (s *PostgresStatement) text(sess session) string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.prepared != nil && s.prepared == sess.conn {
		return s.name
	}

	return s.sql
}

func (s *PostgresStatement) argsOr(args []any) func() []any {
	return func() []any {
		if args != nil {
			return args
		}

		s.mutex.Lock()
		defer s.mutex.Unlock()

		return s.bound
	}
}

// withText - run build with the text matching the session the job lands on.
func (s *PostgresStatement) withText(build func(text string) job, fail func(error)) job {
	return job{
		run: func(ctx context.Context, sess session) {
			s.hub.Emit(dbx.NewEvent(dbx.EventTrace, s.sql))
			build(s.text(sess)).run(ctx, sess)
		},
		fail: fail,
	}
}

// SQL - the statement text.
func (s *PostgresStatement) SQL() string {
	return s.sql
}

// Events - the statement event source.
func (s *PostgresStatement) Events() dbx.EventSource {
	return &s.hub
}

func (s *PostgresStatement) Bind(args []any, done func(err error)) {
	s.mutex.Lock()
	s.bound = args
	s.mutex.Unlock()

	done(nil)
}

func (s *PostgresStatement) Run(args []any, done func(res dbx.Result, err error)) {
	d := s.driver
	get := s.argsOr(args)

	d.submit(s.withText(func(text string) job {
		return job{run: func(ctx context.Context, sess session) {
			done(d.exec(ctx, sess, text, get()))
		}}
	}, func(err error) { done(dbx.Result{}, err) }))
}

func (s *PostgresStatement) Get(args []any, done func(row dbx.Row, err error)) {
	s.driver.submit(s.withText(func(text string) job {
		return getJob(s.driver, text, s.argsOr(args), done)
	}, func(err error) { done(nil, err) }))
}

func (s *PostgresStatement) All(args []any, done func(rows []dbx.Row, err error)) {
	s.driver.submit(s.withText(func(text string) job {
		return allJob(s.driver, text, s.argsOr(args), done)
	}, func(err error) { done(nil, err) }))
}

func (s *PostgresStatement) Each(args []any, onRow func(row dbx.Row), done func(count int, err error)) {
	s.driver.submit(s.withText(func(text string) job {
		return eachJob(s.driver, text, s.argsOr(args), onRow, done)
	}, func(err error) { done(0, err) }))
}

func (s *PostgresStatement) Map(args []any, done func(result map[string]any, err error)) {
	s.driver.submit(s.withText(func(text string) job {
		return mapJob(s.driver, text, s.argsOr(args), done)
	}, func(err error) { done(nil, err) }))
}

// Reset - forget the bound arguments. pgx keeps no cursor between calls.
func (s *PostgresStatement) Reset(done func(err error)) {
	s.driver.submit(job{
		run: func(context.Context, session) {
			s.mutex.Lock()
			s.bound = nil
			s.mutex.Unlock()

			done(nil)
		},
		fail: done,
	})
}

// Finalize - deallocate the statement from the connection it was prepared on.
func (s *PostgresStatement) Finalize(done func(err error)) {
	s.driver.submit(job{
		run: func(ctx context.Context, sess session) {
			s.mutex.Lock()
			conn := s.prepared
			s.prepared = nil
			s.mutex.Unlock()

			if conn == nil || conn != sess.conn {
				done(nil)
				return
			}

			if err := conn.Deallocate(ctx, s.name); err != nil {
				done(errorx.NewDatabaseErrorWrapper(err, "Failed to deallocate statement '%s'", s.sql))
				return
			}

			s.hub.Emit(dbx.NewEvent(dbx.EventClose))
			done(nil)
		},
		fail: done,
	})
}
