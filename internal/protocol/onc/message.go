package onc

// OpaqueAuth is the authentication field carried by every call and reply
// (RFC 1057, Section 8).
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte `xdr:"opaque"`
}

// CallHeader is the fixed header of an RPC call message. Procedure-specific
// arguments follow it on the wire.
type CallHeader struct {
	XID        uint32
	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       OpaqueAuth
	Verf       OpaqueAuth
}

func newCallHeader(xid, program, version, procedure uint32) *CallHeader {
	return &CallHeader{
		XID:        xid,
		MsgType:    MsgTypeCall,
		RPCVersion: RPCVersion,
		Program:    program,
		Version:    version,
		Procedure:  procedure,
		Cred:       OpaqueAuth{Flavor: AuthNone},
		Verf:       OpaqueAuth{Flavor: AuthNone},
	}
}
