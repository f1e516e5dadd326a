package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcodd23/go-txqueue/pkg/logx"
)

// WaitForShutdown waits for SIGINT or SIGTERM, then runs cleanupCallback within
// a context that expires after timeoutMilli milliseconds.
//
// Usage:
//
//	shutdown.WaitForShutdown(ctx, 5000, func(timeoutCtx context.Context) {
//	    _ = txqueue.Wait(timeoutCtx, conn.Close)
//	})
func WaitForShutdown(rootCtx context.Context, timeoutMilli int64, cleanupCallback func(timeoutCtx context.Context)) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	waitForShutdown(rootCtx, signals, time.Duration(timeoutMilli)*time.Millisecond, cleanupCallback)
}

func waitForShutdown(rootCtx context.Context, signals <-chan os.Signal, timeout time.Duration, cleanupCallback func(timeoutCtx context.Context)) {
	signalCaptured := <-signals
	logx.GetLogger().LogDebug(rootCtx, fmt.Sprintf("Interrupt signal captured: %s", signalCaptured.String()))

	timeoutCtx, cancel := context.WithTimeout(rootCtx, timeout)
	defer cancel()

	cleanUp(timeoutCtx, cleanupCallback)
}

// cleanUp runs the callback and returns when it completes or timeoutCtx expires,
// whichever happens first.
func cleanUp(timeoutCtx context.Context, cleanupCallback func(timeoutCtx context.Context)) {
	logx.GetLogger().LogInfo(timeoutCtx, "Cleaning up all resources ....")

	ch := make(chan string, 1)

	go func() {
		defer close(ch)
		if cleanupCallback != nil {
			cleanupCallback(timeoutCtx)
		}
		ch <- "All resources cleaned up"
	}()

	select {
	case <-timeoutCtx.Done():
		logx.GetLogger().LogError(timeoutCtx, "Deadline exceeded during context cancellation", timeoutCtx.Err())
	case result := <-ch:
		logx.GetLogger().LogInfo(timeoutCtx, result)
	}
}

// RunTaskWithContextCancellationCheck runs task and, on SIGINT or SIGTERM, closes
// terminateSignal and waits for the task to return before cancelling its context.
//
// Usage:
//
//	shutdown.RunTaskWithContextCancellationCheck(ctx, func(cancelCtx context.Context, terminateSignal chan struct{}) error {
//	    for {
//	        select {
//	        case <-cancelCtx.Done():
//	            return cancelCtx.Err()
//	        case <-terminateSignal:
//	            return nil
//	        case <-ticker.C:
//	            conn.Run("DELETE FROM SESSIONS WHERE expires_at < now()", nil, nil)
//	        }
//	    }
//	})
func RunTaskWithContextCancellationCheck(rootCtx context.Context, task func(cancelCtx context.Context, terminateSignal chan struct{}) error) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	runTask(rootCtx, sigs, task)
}

func runTask(rootCtx context.Context, sigs <-chan os.Signal, task func(cancelCtx context.Context, terminateSignal chan struct{}) error) {
	cancelCtx, cancel := context.WithCancel(rootCtx)
	defer cancel()

	terminateSignal := make(chan struct{})
	taskCompleted := make(chan error, 1)

	go func() {
		taskCompleted <- task(cancelCtx, terminateSignal)
	}()

	select {
	case sig := <-sigs:
		logx.GetLogger().LogInfo(cancelCtx, fmt.Sprintf("Received signal: %s", sig))
		close(terminateSignal)
		if err := <-taskCompleted; err != nil {
			logx.GetLogger().LogError(cancelCtx, "Task error", err)
		}
	case err := <-taskCompleted:
		if err != nil {
			logx.GetLogger().LogError(cancelCtx, "Task error", err)
		}
	}
}
