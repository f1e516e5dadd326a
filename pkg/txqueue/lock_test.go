package txqueue

import (
	"testing"

	"github.com/marcodd23/go-txqueue/pkg/errorx"
	"github.com/stretchr/testify/require"
)

func TestLockCounter_WaitersRunAtZero(t *testing.T) {
	var l lockCounter
	l.increment()
	l.increment()

	fired := 0
	require.False(t, l.whenZero(func() { fired++ }))

	waiters, err := l.decrement()
	require.NoError(t, err)
	require.Empty(t, waiters)

	waiters, err = l.decrement()
	require.NoError(t, err)
	require.Len(t, waiters, 1)

	waiters[0]()
	require.Equal(t, 1, fired)
	require.Empty(t, l.waiters)
}

func TestLockCounter_WhenZeroOnIdleCounter(t *testing.T) {
	var l lockCounter

	require.True(t, l.whenZero(func() {}))
	require.Empty(t, l.waiters)
}

func TestLockCounter_Underflow(t *testing.T) {
	var l lockCounter

	_, err := l.decrement()

	var imbalance *errorx.LockImbalanceError
	require.ErrorAs(t, err, &imbalance)
	require.Equal(t, 0, l.count)
}

func TestOperationQueue_FIFO(t *testing.T) {
	var q operationQueue

	_, ok := q.pop()
	require.False(t, ok)

	q.push(pendingOperation{kind: opLocking, method: "Run"})
	q.push(pendingOperation{kind: opBegin, method: "BeginTransaction"})
	q.push(pendingOperation{kind: opSimple, method: "Bind"})
	require.Equal(t, 3, q.len())

	var methods []string
	for {
		op, ok := q.pop()
		if !ok {
			break
		}
		methods = append(methods, op.method)
	}

	require.Equal(t, []string{"Run", "BeginTransaction", "Bind"}, methods)
	require.Equal(t, 0, q.len())
}

func TestOpKind_String(t *testing.T) {
	require.Equal(t, "simple", opSimple.String())
	require.Equal(t, "locking", opLocking.String())
	require.Equal(t, "begin", opBegin.String())
	require.Equal(t, "unknown", opKind(42).String())
}
