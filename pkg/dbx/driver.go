package dbx

// Row is a single result row, keyed by column name.
type Row map[string]any

// Result is the outcome of a statement that does not return rows.
//
// Fields:
//   - LastID: The id of the last inserted row, when the driver can report it (0 otherwise).
//   - Changes: The number of rows affected.
type Result struct {
	LastID  int64
	Changes int64
}

// Driver defines the contract of a single asynchronous database connection.
//
// Every method returns immediately: the outcome is delivered to the completion
// callback, possibly on another goroutine and, unless Serialize has been called,
// in an order not determined by the order the calls were issued in.
//
// Responsibilities of a Driver include:
//   - Switching the connection into strictly ordered execution (Serialize).
//   - Executing raw SQL (Exec) and parametrized statements (Run, Get, All, Each, Map).
//   - Preparing statements, returning a Statement handle synchronously.
//   - Publishing connection events ("open", "trace", "profile", "error", "close") through Events.
//
// Every completion callback passed to a Driver is non-nil and must be invoked exactly once.
type Driver interface {
	Serialize()
	Exec(sql string, done func(err error))
	Run(sql string, args []any, done func(res Result, err error))
	Get(sql string, args []any, done func(row Row, err error))
	All(sql string, args []any, done func(rows []Row, err error))
	Each(sql string, args []any, onRow func(row Row), done func(count int, err error))
	Map(sql string, args []any, done func(result map[string]any, err error))
	Prepare(sql string, done func(err error)) Statement
	Close(done func(err error))
	Events() EventSource
}

// Statement defines the contract of a prepared statement created by a Driver.
//
// When args is nil the arguments set by the last Bind are used.
type Statement interface {
	Bind(args []any, done func(err error))
	Run(args []any, done func(res Result, err error))
	Get(args []any, done func(row Row, err error))
	All(args []any, done func(rows []Row, err error))
	Each(args []any, onRow func(row Row), done func(count int, err error))
	Map(args []any, done func(result map[string]any, err error))
	Reset(done func(err error))
	Finalize(done func(err error))
	SQL() string
	Events() EventSource
}
