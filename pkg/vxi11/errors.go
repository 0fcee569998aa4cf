package vxi11

import "fmt"

// Device error codes (VXI-11 Table B.2).
const (
	ErrCodeSyntax             = 1
	ErrCodeNotAccessible      = 3
	ErrCodeInvalidLink        = 4
	ErrCodeParameter          = 5
	ErrCodeChannelNotOpen     = 6
	ErrCodeNotSupported       = 8
	ErrCodeOutOfResources     = 9
	ErrCodeLockedByAnother    = 11
	ErrCodeNoLockHeld         = 12
	ErrCodeIOTimeout          = 15
	ErrCodeIOError            = 17
	ErrCodeInvalidAddress     = 21
	ErrCodeAbort              = 23
	ErrCodeChannelEstablished = 29
)

var errorMessages = map[uint32]string{
	0:  "no error",
	1:  "syntax error",
	3:  "device not accessible",
	4:  "invalid link identifier",
	5:  "parameter error",
	6:  "channel not established",
	8:  "operation not supported",
	9:  "out of resources",
	11: "device locked by another link",
	12: "no lock held by this link",
	15: "I/O timeout",
	17: "I/O error",
	21: "invalid address",
	23: "abort",
	29: "channel already established",
}

// Error is a non-zero device error code returned by a Core or Async
// channel procedure. It is raised immediately and never retried; retry
// policy belongs to the caller.
type Error struct {
	Code uint32
}

func (e *Error) Error() string {
	msg, ok := errorMessages[e.Code]
	if !ok {
		msg = "undefined error"
	}
	return fmt.Sprintf("%s [error=%d]", msg, e.Code)
}

// IsTimeout reports whether the device signalled an I/O timeout.
func (e *Error) IsTimeout() bool { return e.Code == ErrCodeIOTimeout }
