package block

import "fmt"

// Kind tags the four failure kinds a block may report (spec §7). All
// are recoverable by the engine: it records them and continues
// best-effort rather than aborting the whole execution.
type Kind string

const (
	KindInvalidParameter  Kind = "invalid_parameter"
	KindInvalidInput      Kind = "invalid_input"
	KindInitializationErr Kind = "initialization_error"
	KindExecutionErr      Kind = "execution_error"
)

// Error is the error type every block-contract failure is wrapped in.
// Reason carries the human-readable detail; Kind lets callers (the
// engine, the host façade) branch on the taxonomy from §7 without
// string-matching.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// InvalidParameter reports a parameter rejected at Initialize: wrong
// type, out of range, or unknown variant. Blocks never silently clamp.
func InvalidParameter(reasonFmt string, args ...any) *Error {
	return &Error{Kind: KindInvalidParameter, Reason: fmt.Sprintf(reasonFmt, args...)}
}

// InvalidInput reports a PortValue of the wrong shape delivered to an
// input port. Always fatal to the block's Execute call.
func InvalidInput(reasonFmt string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Reason: fmt.Sprintf(reasonFmt, args...)}
}

// InitializationError reports a failure to bring up internal state
// during Initialize.
func InitializationError(reasonFmt string, args ...any) *Error {
	return &Error{Kind: KindInitializationErr, Reason: fmt.Sprintf(reasonFmt, args...)}
}

// ExecutionError reports an algorithmic failure during Execute (e.g. a
// unique-constraint violation). Non-fatal: the engine appends it to the
// per-record error list and the block continues.
func ExecutionError(reasonFmt string, args ...any) *Error {
	return &Error{Kind: KindExecutionErr, Reason: fmt.Sprintf(reasonFmt, args...)}
}
