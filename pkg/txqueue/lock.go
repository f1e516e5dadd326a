package txqueue

import (
	"fmt"
	"sync/atomic"

	"github.com/marcodd23/go-txqueue/pkg/errorx"
	"github.com/marcodd23/go-txqueue/pkg/logx"
)

// lockCounter counts the in-flight locking operations of a connection and
// keeps the continuations waiting for the count to drop to zero.
// It is not safe for concurrent use: it's guarded by the connState mutex.
type lockCounter struct {
	count   int
	waiters []func()
}

func (l *lockCounter) increment() {
	l.count++
}

// decrement - release one lock. When the count reaches zero the waiting
// continuations are handed back to the caller, which must run them after
// releasing the state mutex.
func (l *lockCounter) decrement() ([]func(), error) {
	if l.count <= 0 {
		return nil, errorx.NewLockImbalanceError("lock counter would go negative (count=%d)", l.count)
	}

	l.count--
	if l.count > 0 || len(l.waiters) == 0 {
		return nil, nil
	}

	waiters := l.waiters
	l.waiters = nil

	return waiters, nil
}

// whenZero - register fn to run when the count reaches zero.
// Returns true, without registering, if the count is already zero.
func (l *lockCounter) whenZero(fn func()) (runNow bool) {
	if l.count == 0 {
		return true
	}

	l.waiters = append(l.waiters, fn)

	return false
}

// whenUnlocked suspends fn until no locking operation is in flight.
// fn runs immediately when the counter is already zero, otherwise on the
// goroutine whose completion brings the counter to zero.
func (c *Conn) whenUnlocked(fn func()) {
	c.state.Lock()
	runNow := c.state.locks.whenZero(fn)
	pending := c.state.locks.count
	c.state.Unlock()

	if runNow {
		fn()
		return
	}

	logx.GetLogger().LogDebug(c.ctx, fmt.Sprintf("waiting for %d in-flight operations to settle", pending))
}

// newRelease - build the function that gives back the lock taken for method.
// It must be called exactly once: a second call is a lock imbalance.
func (c *Conn) newRelease(method string) func() {
	var released atomic.Bool

	return func() {
		if !released.CompareAndSwap(false, true) {
			c.lockImbalance(errorx.NewLockImbalanceError("completion of %s fired more than once", method))
		}

		c.state.Lock()
		waiters, err := c.state.locks.decrement()
		c.state.Unlock()

		if err != nil {
			c.lockImbalance(err)
		}

		for _, waiter := range waiters {
			waiter()
		}
	}
}

// lockImbalance - a broken completion contract can't be recovered locally.
func (c *Conn) lockImbalance(err error) {
	logx.GetLogger().LogPanic(c.ctx, "lock imbalance detected", err)
	panic(err)
}
