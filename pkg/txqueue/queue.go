package txqueue

// opKind classifies an intercepted call.
type opKind int

const (
	// opSimple calls are deferred during a transaction but not counted.
	opSimple opKind = iota
	// opLocking calls are deferred during a transaction and counted until their completion fires.
	opLocking
	// opBegin is a BeginTransaction issued while another transaction was current.
	opBegin
)

func (k opKind) String() string {
	switch k {
	case opSimple:
		return "simple"
	case opLocking:
		return "locking"
	case opBegin:
		return "begin"
	default:
		return "unknown"
	}
}

// pendingOperation is a call captured for later execution.
// It's consumed exactly once and never modified after creation.
type pendingOperation struct {
	kind   opKind
	target string
	method string
	args   []any

	// invoke performs the call. For opLocking, release must be called exactly
	// once from the completion; for opSimple the dispatcher releases after invoke returns.
	invoke func(release func())

	// onBegin is the BeginTransaction callback of an opBegin.
	onBegin func(tx *Transaction, err error)
}

// operationQueue is a FIFO of pending operations.
// It is not safe for concurrent use: it's guarded by the connState mutex.
type operationQueue struct {
	ops []pendingOperation
}

func (q *operationQueue) push(op pendingOperation) {
	q.ops = append(q.ops, op)
}

func (q *operationQueue) pop() (pendingOperation, bool) {
	if len(q.ops) == 0 {
		return pendingOperation{}, false
	}

	op := q.ops[0]
	q.ops[0] = pendingOperation{}
	q.ops = q.ops[1:]

	if len(q.ops) == 0 {
		q.ops = nil
	}

	return op, true
}

func (q *operationQueue) len() int {
	return len(q.ops)
}
