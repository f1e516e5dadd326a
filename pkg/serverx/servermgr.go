package serverx

import (
	"context"
)

// Server - lifecycle of an HTTP server wrapping an app of type T.
// Routes are mounted through Setup before RunSync or RunAsync.
type Server[T any] interface {
	Setup(ctx context.Context, setupFunc func(server T))
	GetServer() T
	RunSync()
	RunAsync()
	// Shutdown waits for in-flight requests until ctx ends.
	Shutdown(ctx context.Context)
}
