package onc

// RPC protocol version (RFC 1057).
const RPCVersion = 2

// RPC message types.
const (
	// MsgTypeCall indicates an RPC call message
	MsgTypeCall = 0

	// MsgTypeReply indicates an RPC reply message
	MsgTypeReply = 1
)

// RPC reply states.
const (
	// MsgAccepted indicates the RPC call was accepted
	MsgAccepted = 0

	// MsgDenied indicates the RPC call was denied
	MsgDenied = 1
)

// RPC accept status.
const (
	// AcceptSuccess indicates successful RPC execution
	AcceptSuccess = 0

	// AcceptProgUnavail indicates the program is not exported
	AcceptProgUnavail = 1

	// AcceptProgMismatch indicates a program version mismatch
	AcceptProgMismatch = 2

	// AcceptProcUnavail indicates the procedure is unavailable
	AcceptProcUnavail = 3

	// AcceptGarbageArgs indicates the server could not decode the arguments
	AcceptGarbageArgs = 4

	// AcceptSystemErr indicates a memory allocation or similar server failure
	AcceptSystemErr = 5
)

// RPC reject status.
const (
	// RejectRPCMismatch indicates the RPC version is not supported
	RejectRPCMismatch = 0

	// RejectAuthError indicates the call's authentication was rejected
	RejectAuthError = 1
)

// AuthNone is the null authentication flavor. VXI-11 (Section B.4.5)
// never authenticates, so it is the only flavor this client sends.
const AuthNone = 0

// Port Mapper program (RFC 1833).
const (
	// PortmapProgram is the port mapper program number
	PortmapProgram = 100000

	// PortmapVersion is the port mapper protocol version
	PortmapVersion = 2

	// PortmapPort is the well-known TCP/UDP port of the port mapper
	PortmapPort = 111

	// PortmapProcGetPort resolves a program/version pair to its port
	PortmapProcGetPort = 3
)

// Socket protocol identifiers used in GETPORT arguments.
const (
	ProtoTCP = 6
	ProtoUDP = 17
)

// Record-marking fragment header (RFC 1057, Section 10).
const (
	lastFragmentBit = 0x80000000
	fragmentLenMask = 0x7FFFFFFF
)
