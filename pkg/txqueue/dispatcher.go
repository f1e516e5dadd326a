package txqueue

import (
	"fmt"

	"github.com/marcodd23/go-txqueue/pkg/dbx"
	"github.com/marcodd23/go-txqueue/pkg/logx"
)

const (
	targetConnection  = "connection"
	targetStatement   = "statement"
	targetTransaction = "transaction"
)

// dispatch executes op now when no transaction is current, otherwise it appends
// op to the queue. The idle check and the lock increment happen under the same
// critical section, so a BEGIN can't slip in between.
func (c *Conn) dispatch(op pendingOperation) {
	c.state.Lock()
	if c.state.current != nil || c.state.draining {
		c.state.queue.push(op)
		queued := c.state.queue.len()
		c.state.Unlock()

		logx.GetLogger().LogDebug(c.ctx, fmt.Sprintf("queued %s.%s (%s), %d operations waiting", op.target, op.method, op.kind, queued))
		return
	}

	c.state.locks.increment()
	c.state.Unlock()

	c.invokeHeld(op)
}

// invokeHeld runs op, whose lock has already been taken. Locking operations
// give it back from their completion, simple ones as soon as the driver call returns.
func (c *Conn) invokeHeld(op pendingOperation) {
	release := c.newRelease(op.target + "." + op.method)

	if op.kind == opLocking {
		op.invoke(release)
		return
	}

	op.invoke(nil)
	release()
}

// drain walks the queue from the head. A queued BeginTransaction becomes the
// current transaction and stops the walk; every other operation is executed.
func (c *Conn) drain() {
	drained := 0

	for {
		c.state.Lock()
		op, ok := c.state.queue.pop()
		if !ok {
			c.state.draining = false
			c.state.Unlock()

			if drained > 0 {
				logx.GetLogger().LogDebug(c.ctx, fmt.Sprintf("queue drained, %d operations executed", drained))
			}
			return
		}

		if op.kind == opBegin {
			tx := c.startTransactionLocked()
			c.state.draining = false
			remaining := c.state.queue.len()
			c.state.Unlock()

			logx.GetLogger().LogDebug(c.ctx, fmt.Sprintf("queue drain stopped at a queued transaction, %d operations executed, %d still queued", drained, remaining))
			c.begin(tx, op.onBegin)
			return
		}

		c.state.locks.increment()
		c.state.Unlock()

		drained++
		c.invokeHeld(op)
	}
}

// lockingOp builds a locking operation: call is the driver call, and its
// completion gives the lock back before done runs. A nil done is replaced by a no-op.
func lockingOp[T any](target, method string, args []any, call func(done func(T, error)), done func(T, error)) pendingOperation {
	done = normalizeDone(done)

	return pendingOperation{
		kind:   opLocking,
		target: target,
		method: method,
		args:   args,
		invoke: func(release func()) {
			call(func(v T, err error) {
				release()
				done(v, err)
			})
		},
	}
}

// lockingErrOp is lockingOp for calls whose completion only reports an error.
func lockingErrOp(target, method string, args []any, call func(done func(error)), done func(error)) pendingOperation {
	done = normalizeErrDone(done)

	return pendingOperation{
		kind:   opLocking,
		target: target,
		method: method,
		args:   args,
		invoke: func(release func()) {
			call(func(err error) {
				release()
				done(err)
			})
		},
	}
}

func normalizeDone[T any](done func(T, error)) func(T, error) {
	if done == nil {
		return func(T, error) {}
	}

	return done
}

// failWith adapts done to report err alone, with the zero value as result.
func failWith[T any](done func(T, error)) func(error) {
	return func(err error) {
		var zero T
		done(zero, err)
	}
}

func normalizeErrDone(done func(error)) func(error) {
	if done == nil {
		return func(error) {}
	}

	return done
}

func normalizeRowFn(onRow func(dbx.Row)) func(dbx.Row) {
	if onRow == nil {
		return func(dbx.Row) {}
	}

	return onRow
}

func withSQL(sql string, args []any) []any {
	return append([]any{sql}, args...)
}
