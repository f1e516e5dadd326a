//nolint:gochecknoglobals
package logx

import (
	"context"
	"log"
	"sync"
)

type ServiceContext struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
}

// Logger - logger interface.
type Logger interface {
	// LogInfo logs a message at Info level.
	LogInfo(ctx context.Context, msg string)
	// LogDebug logs a message at Debug level.
	LogDebug(ctx context.Context, msg string)
	// LogWarning logs a message at Warning level.
	LogWarning(ctx context.Context, msg string, errs ...error)
	// LogError logs a message at Error level.
	LogError(ctx context.Context, msg string, errs ...error)
	// LogPanic logs a message at Panic level.
	LogPanic(ctx context.Context, msg string, errs ...error)
	// LogFatal logs a message at Fatal Level.
	// The logger then calls os.Exit(1), even if logging at FatalLevel is
	// disabled.
	LogFatal(ctx context.Context, msg string, errs ...error)

	GetLogger() interface{}
}

var (
	lock   sync.RWMutex
	logger Logger
)

type contextKey string

const txIdKey contextKey = "txId"

// WithTxId - return a copy of ctx carrying the transaction id, logged as "txId".
func WithTxId(ctx context.Context, txId int64) context.Context {
	return context.WithValue(ctx, txIdKey, txId)
}

// TxIdFromContext - extract the transaction id set by WithTxId.
func TxIdFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}

	txId, ok := ctx.Value(txIdKey).(int64)

	return txId, ok
}

// DefaultLogger - Logger implementation based on the standard log package.
type DefaultLogger struct{}

// GetLogger - returns an instance of the Logger.
// If called before SetupLogger a DefaultLogger will be returned.
func GetLogger() Logger {
	lock.RLock()
	defer lock.RUnlock()

	if logger == nil {
		return &DefaultLogger{}
	}

	return logger
}

func setLogger(l Logger) {
	lock.Lock()
	defer lock.Unlock()

	logger = l
}

// LogInfo std log.
func (nl *DefaultLogger) LogInfo(ctx context.Context, msg string) {
	log.Println("INFO " + msg)
}

// LogDebug std log.
func (nl *DefaultLogger) LogDebug(ctx context.Context, msg string) {
	log.Println("DEBUG " + msg)
}

// LogWarning std log.
func (nl *DefaultLogger) LogWarning(ctx context.Context, msg string, errs ...error) {
	log.Println("WARN "+msg, errs)
}

// LogError std log.
func (nl *DefaultLogger) LogError(ctx context.Context, msg string, errs ...error) {
	log.Println("ERROR "+msg, errs)
}

// LogPanic std log.
func (nl *DefaultLogger) LogPanic(ctx context.Context, msg string, errs ...error) {
	log.Println("PANIC "+msg, errs)
}

// LogFatal std log, then exit.
func (nl *DefaultLogger) LogFatal(ctx context.Context, msg string, errs ...error) {
	log.Fatalln("FATAL "+msg, errs)
}

// GetLogger noop.
func (nl *DefaultLogger) GetLogger() interface{} { return nil }
