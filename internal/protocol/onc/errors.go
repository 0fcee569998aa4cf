package onc

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected indicates an operation on a client whose socket is
	// not open.
	ErrNotConnected = errors.New("rpc client is not connected")

	// errXIDMismatch marks a reply whose transaction id does not match the
	// most recently sent call. The read loop discards such replies and
	// keeps reading; it never escapes to callers.
	errXIDMismatch = errors.New("rpc reply xid does not match the last call")
)

// ReplyKind classifies a fatal RPC reply outcome.
type ReplyKind int

const (
	// KindBadMsgType means the reply's message type was not REPLY.
	KindBadMsgType ReplyKind = iota

	// KindBadReply means the reply was malformed or carried a reply state
	// that is neither MSG_ACCEPTED nor MSG_DENIED, or a reject state that
	// is neither RPC_MISMATCH nor AUTH_ERROR.
	KindBadReply

	// KindRPCMismatch means the server rejected the RPC protocol version.
	// Low and High carry the supported version bounds.
	KindRPCMismatch

	// KindAuthError means the server rejected the call's authentication.
	// AuthStat carries the reason.
	KindAuthError

	// KindProgUnavail means the program is not exported by the server.
	KindProgUnavail

	// KindProgMismatch means the program version is unsupported.
	// Low and High carry the supported version bounds.
	KindProgMismatch

	// KindProcUnavail means the procedure is not part of the program.
	KindProcUnavail

	// KindGarbageArgs means the server could not decode the arguments.
	KindGarbageArgs

	// KindSystemErr means the server hit an internal failure.
	KindSystemErr
)

func (k ReplyKind) String() string {
	switch k {
	case KindBadMsgType:
		return "BAD_MSG_TYPE"
	case KindBadReply:
		return "BAD_REPLY"
	case KindRPCMismatch:
		return "RPC_MISMATCH"
	case KindAuthError:
		return "AUTH_ERROR"
	case KindProgUnavail:
		return "PROG_UNAVAIL"
	case KindProgMismatch:
		return "PROG_MISMATCH"
	case KindProcUnavail:
		return "PROC_UNAVAIL"
	case KindGarbageArgs:
		return "GARBAGE_ARGS"
	case KindSystemErr:
		return "SYSTEM_ERR"
	default:
		return fmt.Sprintf("ReplyKind(%d)", int(k))
	}
}

// ReplyError is a fatal RPC-level failure: a protocol violation or a
// server-side rejection of the call. It is never retried; it indicates a
// transport or compatibility fault, not a transient condition.
type ReplyError struct {
	Kind ReplyKind

	// Low and High are the supported version bounds reported with
	// RPC_MISMATCH and PROG_MISMATCH.
	Low  uint32
	High uint32

	// AuthStat is the authentication failure reason reported with
	// AUTH_ERROR.
	AuthStat uint32

	// Detail optionally describes a malformed reply.
	Detail string
}

func (e *ReplyError) Error() string {
	switch e.Kind {
	case KindRPCMismatch, KindProgMismatch:
		return fmt.Sprintf("rpc call failed: %s: low=%d, high=%d", e.Kind, e.Low, e.High)
	case KindAuthError:
		return fmt.Sprintf("rpc authentication failed: auth_stat=%d", e.AuthStat)
	default:
		if e.Detail != "" {
			return fmt.Sprintf("rpc call failed: %s: %s", e.Kind, e.Detail)
		}
		return fmt.Sprintf("rpc call failed: %s", e.Kind)
	}
}
