package txqueue

import (
	"context"

	"github.com/marcodd23/go-txqueue/pkg/logx"
	"github.com/pkg/errors"
)

// Wait - block until the asynchronous call completes or ctx is done.
// The call is never withdrawn: on ctx expiry it still runs to completion.
//
// Example Usage:
//
//	err := txqueue.Wait(ctx, func(done func(error)) {
//	    conn.Exec("VACUUM", done)
//	})
func Wait(ctx context.Context, call func(done func(err error))) error {
	res := make(chan error, 1)

	call(func(err error) {
		res <- err
	})

	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitResult - like Wait, for calls that also deliver a value.
func WaitResult[T any](ctx context.Context, call func(done func(v T, err error))) (T, error) {
	type result struct {
		v   T
		err error
	}

	res := make(chan result, 1)

	call(func(v T, err error) {
		res <- result{v: v, err: err}
	})

	select {
	case r := <-res:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ExecTransactionalTask - Executes a task within a transaction.
//
// It begins a transaction, runs the task and commits. If the task returns an
// error or panics the transaction is rolled back.
//
// The task runs while its transaction is current, so it must only use tx:
// waiting on a call issued on conn would block until the transaction ends.
//
// Arguments:
//   - ctx: Bounds the waits. If it ends while waiting for BEGIN, the
//     transaction is rolled back as soon as it's obtained.
//   - conn: The connection.
//   - task: The work to run inside the transaction.
//
// Example Usage:
//
//	err := txqueue.ExecTransactionalTask(ctx, conn, func(ctx context.Context, tx *txqueue.Transaction) error {
//	    _, err := txqueue.WaitResult(ctx, func(done func(dbx.Result, error)) {
//	        tx.Run("UPDATE accounts SET balance = 0 WHERE id = $1", []any{1}, done)
//	    })
//	    return err
//	})
func ExecTransactionalTask(ctx context.Context, conn *Conn, task func(ctx context.Context, tx *Transaction) error) (err error) {
	type beginResult struct {
		tx  *Transaction
		err error
	}

	began := make(chan beginResult, 1)
	conn.BeginTransaction(func(tx *Transaction, err error) {
		began <- beginResult{tx: tx, err: err}
	})

	var tx *Transaction
	select {
	case r := <-began:
		if r.err != nil {
			return errors.Wrap(r.err, "error starting transaction")
		}
		tx = r.tx
	case <-ctx.Done():
		go func() {
			if r := <-began; r.err == nil {
				r.tx.Rollback(nil)
			}
		}()
		return errors.Wrap(ctx.Err(), "error starting transaction")
	}

	txCtx := logx.WithTxId(ctx, tx.Id())

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(nil)
			panic(p)
		}
	}()

	err = task(txCtx, tx)
	if err != nil {
		if rbErr := Wait(ctx, tx.Rollback); rbErr != nil {
			logx.GetLogger().LogError(txCtx, "error rolling back transactional task", rbErr)
		}

		return errors.Wrap(err, "error executing transactional task")
	}

	if err = Wait(ctx, tx.Commit); err != nil {
		return errors.Wrap(err, "error committing transaction")
	}

	return nil
}
