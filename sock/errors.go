package sock

import "fmt"

// Code is a stable error code, usable both as a transaction completion
// status and as a log field.
type Code int

const (
	// CodeOK indicates success.
	CodeOK Code = iota
	// CodeOutOfMemory is an allocation failure.
	CodeOutOfMemory
	// CodeAlreadyExists is a duplicate peer or transaction id.
	CodeAlreadyExists
	// CodeTimeout is a connect poll expiry or transaction deadline.
	CodeTimeout
	// CodeConnectionRefused means connect reported an error.
	CodeConnectionRefused
	// CodeConnectionReset means recv/send reported zero or a hangup.
	CodeConnectionReset
	// CodeWouldBlock is internal and must never be surfaced to a caller.
	CodeWouldBlock
	// CodeInvalidArgument is an address family mismatch or undersized buffer.
	CodeInvalidArgument
	// CodeNotFound is a reply for an unknown transaction.
	CodeNotFound
	// CodeFatal is a lock init failure or syscall contract violation.
	CodeFatal
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeOutOfMemory:
		return "out_of_memory"
	case CodeAlreadyExists:
		return "already_exists"
	case CodeTimeout:
		return "timeout"
	case CodeConnectionRefused:
		return "connection_refused"
	case CodeConnectionReset:
		return "connection_reset"
	case CodeWouldBlock:
		return "would_block"
	case CodeInvalidArgument:
		return "invalid_argument"
	case CodeNotFound:
		return "not_found"
	case CodeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error pairs a Code with an optional underlying cause.
type Error struct {
	Code  Code
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Cause)
	}
	return e.Code.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	se, ok := err.(*Error)
	return ok && se.Code == code
}

// NewError wraps cause under code.
func NewError(code Code, cause error) *Error {
	return &Error{Code: code, Cause: cause}
}
