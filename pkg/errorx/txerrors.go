package errorx

import (
	"fmt"
)

// PROTOCOL ERROR

// ProtocolError - a transaction control command (BEGIN, COMMIT, ROLLBACK) failed.
type ProtocolError struct {
	command string
	err     error
}

// NewProtocolError - ProtocolError constructor. The err is the driver failure of the command.
func NewProtocolError(command string, err error) *ProtocolError {
	return &ProtocolError{command: command, err: err}
}

// Command - the failed command, e.g. "COMMIT;".
func (pe *ProtocolError) Command() string {
	return pe.command
}

// Error - return the error string.
func (pe *ProtocolError) Error() string {
	if pe.err != nil {
		return fmt.Sprintf("error executing %s: %v", pe.command, pe.err)
	}

	return fmt.Sprintf("error executing %s", pe.command)
}

// Unwrap - return the driver error.
func (pe *ProtocolError) Unwrap() error {
	return pe.err
}

// DOUBLE FINISH ERROR

// DoubleFinishError - commit or rollback called on a transaction that is already finishing or finished.
type DoubleFinishError struct {
	txId   int64
	action string
}

// NewDoubleFinishError - DoubleFinishError constructor.
func NewDoubleFinishError(txId int64, action string) *DoubleFinishError {
	return &DoubleFinishError{txId: txId, action: action}
}

// Error - return the error string.
func (de *DoubleFinishError) Error() string {
	return fmt.Sprintf("transaction %d already finished, cannot %s", de.txId, de.action)
}

// LOCK IMBALANCE ERROR

// LockImbalanceError - the in-flight operation counter would go negative,
// or an operation completion fired more than once.
// It is a programmer error and it's raised through panic.
type LockImbalanceError struct {
	message string
}

// NewLockImbalanceError - LockImbalanceError constructor.
func NewLockImbalanceError(msg string, args ...any) *LockImbalanceError {
	return &LockImbalanceError{message: fmt.Sprintf(msg, args...)}
}

// Error - return the error string.
func (le *LockImbalanceError) Error() string {
	return le.message
}
