package pgxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marcodd23/go-txqueue/pkg/dbx"
	"github.com/marcodd23/go-txqueue/pkg/errorx"
	"github.com/marcodd23/go-txqueue/pkg/logx"
)

//###################################
//#    Postgres asynchronous driver  #
//###################################

// querier is the query surface shared by *pgxpool.Pool and *pgxpool.Conn.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// session is where a job runs: the dedicated connection once serialized,
// the pool otherwise (conn is nil then).
type session struct {
	q    querier
	conn *pgx.Conn
}

type job struct {
	run  func(ctx context.Context, s session)
	fail func(err error)
}

// PostgresDriver - asynchronous dbx.Driver on PostgreSQL.
//
// Until Serialize is called every call runs on its own goroutine on a pooled
// connection, and completions arrive in no particular order. Serialize moves
// every later call onto one dedicated connection served by a single worker,
// in submission order. Completions run on the goroutine that executed the call.
type PostgresDriver struct {
	ctx        context.Context
	pool       *pgxpool.Pool
	conn       *pgxpool.Conn
	dbConf     dbx.ConnConfig
	hub        dbx.EventHub
	jobs       jobQueue
	serialized atomic.Bool
	closed     atomic.Bool
	inFlight   sync.WaitGroup
	serialize  sync.Once
}

var _ dbx.Driver = (*PostgresDriver)(nil)

// NewPostgresDriver - open the pool and the dedicated connection.
//
// Arguments:
//   - ctx: Context of every query issued by the driver.
//   - dbConf: Connection configuration, validated before use.
//   - preparesStatements: Statements prepared on every new connection.
//
// Example Usage:
//
//	driver, err := pgxdb.NewPostgresDriver(ctx, pgxdb.ConnConfigFromConfig(cfg))
//	if err != nil {
//	    logx.GetLogger().LogFatal(ctx, "database unavailable", err)
//	}
//	conn := txqueue.New(ctx, driver, txqueue.Config{})
func NewPostgresDriver(ctx context.Context, dbConf dbx.ConnConfig, preparesStatements ...dbx.PreparedStatement) (*PostgresDriver, error) {
	pool, err := newConnectionPool(ctx, dbConf, preparesStatements...)
	if err != nil {
		logx.GetLogger().LogError(ctx, "connection Pool Error", err)
		return nil, err
	}

	conn, err := acquireConnectionFromPool(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	logx.
		GetLogger().
		LogInfo(ctx, fmt.Sprintf("Opened Postgres driver: DB=%s, HOST=%s, PORT=%d",
			pool.Config().ConnConfig.Database,
			pool.Config().ConnConfig.Host,
			pool.Config().ConnConfig.Port))

	d := &PostgresDriver{
		ctx:    ctx,
		pool:   pool,
		conn:   conn,
		dbConf: dbConf,
	}
	d.jobs.init()
	d.hub.Emit(dbx.NewEvent(dbx.EventOpen, dbConf.DBName))

	return d, nil
}

// GetConnectionConfig - get Db Connection config.
func (d *PostgresDriver) GetConnectionConfig() dbx.ConnConfig {
	return d.dbConf
}

// Events - the driver event source.
func (d *PostgresDriver) Events() dbx.EventSource {
	return &d.hub
}

// Serialize - switch to ordered execution on the dedicated connection.
// Calls already running in parallel mode are not waited for.
func (d *PostgresDriver) Serialize() {
	d.serialize.Do(func() {
		d.serialized.Store(true)
		go d.work()
		logx.GetLogger().LogDebug(d.ctx, "Postgres driver switched to serialized execution")
	})
}

func (d *PostgresDriver) work() {
	s := session{q: d.conn, conn: d.conn.Conn()}

	for {
		j, ok := d.jobs.pop()
		if !ok {
			return
		}

		j.run(d.ctx, s)
	}
}

func (d *PostgresDriver) submit(j job) {
	if d.closed.Load() {
		j.fail(errorx.NewDatabaseError("driver closed"))
		return
	}

	if d.serialized.Load() {
		if !d.jobs.push(j) {
			j.fail(errorx.NewDatabaseError("driver closed"))
		}
		return
	}

	d.inFlight.Add(1)
	go func() {
		defer d.inFlight.Done()
		j.run(d.ctx, session{q: d.pool})
	}()
}

// observe emits the profile event of a finished query and, for connection
// level failures, the error event.
func (d *PostgresDriver) observe(s session, sql string, start time.Time, err error) {
	d.hub.Emit(dbx.NewEvent(dbx.EventProfile, sql, time.Since(start)))

	if err != nil && isConnectionError(s, err) {
		logx.GetLogger().LogError(d.ctx, "Postgres connection error", err)
		d.hub.Emit(dbx.NewEvent(dbx.EventError, err))
	}
}

func isConnectionError(s session, err error) bool {
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return s.conn != nil && s.conn.IsClosed()
}

// query runs sql and hands the open rows to read. Rows are closed afterwards.
func (d *PostgresDriver) query(ctx context.Context, s session, sql string, args []any, read func(rows pgx.Rows) error) error {
	d.hub.Emit(dbx.NewEvent(dbx.EventTrace, sql))
	start := time.Now()

	rows, err := s.q.Query(ctx, sql, args...)
	if err == nil {
		err = read(rows)
		rows.Close()
		if err == nil {
			err = rows.Err()
		}
	}

	d.observe(s, sql, start, err)
	if err != nil {
		return errorx.NewDatabaseErrorWrapper(err, "Error executing query '%s'", sql)
	}

	return nil
}

func (d *PostgresDriver) exec(ctx context.Context, s session, sql string, args []any) (dbx.Result, error) {
	d.hub.Emit(dbx.NewEvent(dbx.EventTrace, sql))
	start := time.Now()

	tag, err := s.q.Exec(ctx, sql, args...)

	d.observe(s, sql, start, err)
	if err != nil {
		return dbx.Result{}, errorx.NewDatabaseErrorWrapper(err, "Error executing query '%s'", sql)
	}

	return dbx.Result{Changes: tag.RowsAffected()}, nil
}

// Exec - run one or more statements. Without arguments pgx uses the simple
// protocol, so sql may hold several statements.
func (d *PostgresDriver) Exec(sql string, done func(err error)) {
	d.submit(job{
		run: func(ctx context.Context, s session) {
			_, err := d.exec(ctx, s, sql, nil)
			done(err)
		},
		fail: done,
	})
}

// Run - execute a statement; Result.Changes holds the affected rows.
// PostgreSQL has no last insert id: use RETURNING with Get.
func (d *PostgresDriver) Run(sql string, args []any, done func(res dbx.Result, err error)) {
	d.submit(job{
		run: func(ctx context.Context, s session) {
			done(d.exec(ctx, s, sql, args))
		},
		fail: func(err error) { done(dbx.Result{}, err) },
	})
}

func (d *PostgresDriver) Get(sql string, args []any, done func(row dbx.Row, err error)) {
	d.submit(getJob(d, sql, func() []any { return args }, done))
}

func (d *PostgresDriver) All(sql string, args []any, done func(rows []dbx.Row, err error)) {
	d.submit(allJob(d, sql, func() []any { return args }, done))
}

func (d *PostgresDriver) Each(sql string, args []any, onRow func(row dbx.Row), done func(count int, err error)) {
	d.submit(eachJob(d, sql, func() []any { return args }, onRow, done))
}

func (d *PostgresDriver) Map(sql string, args []any, done func(result map[string]any, err error)) {
	d.submit(mapJob(d, sql, func() []any { return args }, done))
}

func getJob(d *PostgresDriver, sql string, args func() []any, done func(dbx.Row, error)) job {
	return job{
		run: func(ctx context.Context, s session) {
			var row dbx.Row
			err := d.query(ctx, s, sql, args(), func(rows pgx.Rows) error {
				if !rows.Next() {
					return nil
				}

				m, err := pgx.RowToMap(rows)
				row = m

				return err
			})
			done(row, err)
		},
		fail: func(err error) { done(nil, err) },
	}
}

func allJob(d *PostgresDriver, sql string, args func() []any, done func([]dbx.Row, error)) job {
	return job{
		run: func(ctx context.Context, s session) {
			var result []dbx.Row
			err := d.query(ctx, s, sql, args(), func(rows pgx.Rows) error {
				maps, err := pgx.CollectRows(rows, pgx.RowToMap)
				for _, m := range maps {
					result = append(result, m)
				}

				return err
			})
			done(result, err)
		},
		fail: func(err error) { done(nil, err) },
	}
}

func eachJob(d *PostgresDriver, sql string, args func() []any, onRow func(dbx.Row), done func(int, error)) job {
	return job{
		run: func(ctx context.Context, s session) {
			count := 0
			err := d.query(ctx, s, sql, args(), func(rows pgx.Rows) error {
				for rows.Next() {
					m, err := pgx.RowToMap(rows)
					if err != nil {
						return err
					}

					count++
					onRow(m)
				}

				return nil
			})
			done(count, err)
		},
		fail: func(err error) { done(0, err) },
	}
}

// mapJob keys the rows by their first column. With exactly two columns the
// value is the second column, otherwise the whole row.
func mapJob(d *PostgresDriver, sql string, args func() []any, done func(map[string]any, error)) job {
	return job{
		run: func(ctx context.Context, s session) {
			result := make(map[string]any)
			err := d.query(ctx, s, sql, args(), func(rows pgx.Rows) error {
				fields := rows.FieldDescriptions()
				for rows.Next() {
					values, err := rows.Values()
					if err != nil {
						return err
					}

					if len(values) == 0 {
						continue
					}

					key := fmt.Sprint(values[0])
					if len(values) == 2 {
						result[key] = values[1]
						continue
					}

					row := make(dbx.Row, len(values))
					for i, field := range fields {
						row[field.Name] = values[i]
					}
					result[key] = row
				}

				return nil
			})
			done(result, err)
		},
		fail: func(err error) { done(nil, err) },
	}
}

// Prepare - prepare sql. Once serialized the statement is prepared on the
// dedicated connection under a generated name; in parallel mode pgx's
// statement cache does the work on whichever connection runs the query.
func (d *PostgresDriver) Prepare(sql string, done func(err error)) dbx.Statement {
	stmt := newPostgresStatement(d, sql)

	d.submit(job{
		run: func(ctx context.Context, s session) {
			done(stmt.prepare(ctx, s))
		},
		fail: done,
	})

	return stmt
}

// Close - wait for the submitted calls, release the dedicated connection and
// close the pool.
func (d *PostgresDriver) Close(done func(err error)) {
	if !d.closed.CompareAndSwap(false, true) {
		done(errorx.NewDatabaseError("driver already closed"))
		return
	}

	finish := func() {
		d.inFlight.Wait()
		d.conn.Release()
		d.pool.Close()
		logx.GetLogger().LogInfo(d.ctx, "DB Connection Pool Successfully Closed!")
		d.hub.Emit(dbx.NewEvent(dbx.EventClose))
		done(nil)
	}

	if d.serialized.Load() {
		d.jobs.closeWith(job{
			run:  func(context.Context, session) { finish() },
			fail: done,
		})
		return
	}

	d.jobs.closeWith(job{})
	go finish()
}

// jobQueue is an unbounded FIFO. Completions run on the worker and may
// submit more work, so pushing must never block.
type jobQueue struct {
	mutex  sync.Mutex
	cond   *sync.Cond
	jobs   []job
	closed bool
}

func (q *jobQueue) init() {
	q.cond = sync.NewCond(&q.mutex)
}

func (q *jobQueue) push(j job) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, j)
	q.cond.Signal()

	return true
}

// closeWith appends last, when it has a run function, and refuses any later push.
func (q *jobQueue) closeWith(last job) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if last.run != nil {
		q.jobs = append(q.jobs, last)
	}
	q.closed = true
	q.cond.Broadcast()
}

func (q *jobQueue) pop() (job, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	for len(q.jobs) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.jobs) == 0 {
		return job{}, false
	}

	j := q.jobs[0]
	q.jobs[0] = job{}
	q.jobs = q.jobs[1:]

	return j, true
}
