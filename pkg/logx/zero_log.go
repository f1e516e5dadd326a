package logx

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/marcodd23/go-txqueue/pkg/configmgr"
	"github.com/rs/zerolog"
)

type ZeroLogWrapper struct {
	zeroLog            *zerolog.Logger
	serviceName        string
	isLocalEnvironment bool
}

// SetupLogger sets up a new zerolog Logger, writing to stdout, and installs it as the global Logger.
func SetupLogger(config configmgr.Config) Logger {
	return SetupLoggerWithWriter(config, os.Stdout)
}

// SetupLoggerWithWriter sets up a new zerolog Logger writing to out, and installs it as the global Logger.
func SetupLoggerWithWriter(config configmgr.Config, out io.Writer) Logger {
	logLevel := zerolog.InfoLevel
	switch strings.ToLower(config.GetLoggingConfig().Level) {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	var zLog zerolog.Logger

	isLocalEnvironment := config.IsLocalEnvironment()
	if isLocalEnvironment {
		zLog = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		zLog = zerolog.New(out).With().Timestamp().Logger()
	}

	// Add common fields
	zLog = zLog.With().
		Str("service", config.GetServiceName()).
		Interface("serviceContext", ServiceContext{Environment: config.GetEnvironment(), Version: config.GetVersion()}).
		Logger()

	wrapper := &ZeroLogWrapper{
		zeroLog:            &zLog,
		serviceName:        config.GetServiceName(),
		isLocalEnvironment: isLocalEnvironment,
	}
	setLogger(wrapper)

	return wrapper
}

func (lm *ZeroLogWrapper) logWithContext(ctx context.Context, level zerolog.Level, errs []error, msg string) {
	logEvent := lm.zeroLog.WithLevel(level)

	switch level {
	case zerolog.DebugLevel:
		logEvent = logEvent.Str("severity", "DEBUG")
	case zerolog.InfoLevel:
		logEvent = logEvent.Str("severity", "INFO")
	case zerolog.WarnLevel:
		logEvent = logEvent.Str("severity", "WARNING")
	case zerolog.ErrorLevel:
		logEvent = logEvent.Str("severity", "ERROR")
	case zerolog.FatalLevel:
		logEvent = logEvent.Str("severity", "CRITICAL")
	case zerolog.PanicLevel:
		logEvent = logEvent.Str("severity", "CRITICAL")
	}

	if txId, ok := TxIdFromContext(ctx); ok {
		logEvent = logEvent.Int64("txId", txId)
	}

	for _, err := range errs {
		if err != nil {
			logEvent = logEvent.Err(err)
		}
	}

	logEvent.Msg(msg)
}

func (lm *ZeroLogWrapper) LogInfo(ctx context.Context, msg string) {
	lm.logWithContext(ctx, zerolog.InfoLevel, nil, msg)
}

func (lm *ZeroLogWrapper) LogDebug(ctx context.Context, msg string) {
	lm.logWithContext(ctx, zerolog.DebugLevel, nil, msg)
}

func (lm *ZeroLogWrapper) LogWarning(ctx context.Context, msg string, errs ...error) {
	lm.logWithContext(ctx, zerolog.WarnLevel, errs, msg)
}

func (lm *ZeroLogWrapper) LogError(ctx context.Context, msg string, errs ...error) {
	lm.logWithContext(ctx, zerolog.ErrorLevel, errs, msg)
}

// LogPanic logs at panic level. Like the other levels it only writes the entry:
// callers raise the panic themselves.
func (lm *ZeroLogWrapper) LogPanic(ctx context.Context, msg string, errs ...error) {
	lm.logWithContext(ctx, zerolog.PanicLevel, errs, msg)
}

func (lm *ZeroLogWrapper) LogFatal(ctx context.Context, msg string, errs ...error) {
	lm.logWithContext(ctx, zerolog.FatalLevel, errs, msg)
	os.Exit(1)
}

// GetLogger - returns the underlying logger.
func (lm *ZeroLogWrapper) GetLogger() interface{} {
	return lm.zeroLog
}
