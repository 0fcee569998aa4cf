// Package onc implements a minimal ONC RPC (RFC 1057) client: XDR call
// framing, TCP record marking, reply classification, and a Port Mapper
// lookup. It carries opaque procedure payloads for higher layers such as
// the VXI-11 Core and Async channels.
package onc

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	xdr2 "github.com/rasky/go-xdr/xdr2"

	"github.com/calmetro/instrument/internal/protocol/xdr"
)

// DefaultChunkSize is the maximum number of bytes requested from the
// socket per read while reassembling a fragment.
const DefaultChunkSize = 4096

// Client issues RPC calls to one remote host over a single TCP
// connection. It is not safe for concurrent use: the socket, the
// transaction id and the outgoing buffer are owned by exactly one caller
// at a time.
type Client struct {
	host      string
	conn      net.Conn
	xid       uint32
	buf       bytes.Buffer
	chunkSize int
	timeout   time.Duration
	log       *slog.Logger
}

// NewClient returns a client for the given host. The logger may be nil.
func NewClient(host string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{
		host:      host,
		chunkSize: DefaultChunkSize,
		log:       log,
	}
}

// Host returns the remote hostname or IP address.
func (c *Client) Host() string { return c.host }

// SetChunkSize sets the maximum number of bytes to receive at a time
// from the socket.
func (c *Client) SetChunkSize(size int) {
	if size > 0 {
		c.chunkSize = size
	}
}

// Connect opens a TCP connection to the given port on the client's host
// and applies timeout to the dial and to subsequent socket operations.
// A timeout of zero means block indefinitely. Any previous connection is
// closed first.
func (c *Client) Connect(port uint16, timeout time.Duration) error {
	c.Close()

	addr := net.JoinHostPort(c.host, strconv.Itoa(int(port)))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}

	c.conn = conn
	c.timeout = timeout
	c.log.Debug("rpc connected", "addr", addr, "timeout", timeout)
	return nil
}

// SetTimeout updates the socket timeout on a live connection. A timeout
// of zero means block indefinitely.
func (c *Client) SetTimeout(timeout time.Duration) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.timeout = timeout
	return nil
}

// Close closes the socket, if one is open. It is safe to call multiple
// times.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Init starts a new RPC call: it increments the transaction id and
// serializes the call header into the outgoing buffer, replacing any
// previous message. Procedure-specific arguments are appended afterwards
// and the message is sent with Write.
func (c *Client) Init(program, version, procedure uint32) error {
	xid := c.xid + 1 // wraps on uint32 overflow

	c.buf.Reset()
	if _, err := xdr2.Marshal(&c.buf, newCallHeader(xid, program, version, procedure)); err != nil {
		return fmt.Errorf("marshal call header: %w", err)
	}

	c.xid = xid
	return nil
}

// Append appends raw bytes to the body of the current call.
func (c *Client) Append(data []byte) {
	c.buf.Write(data)
}

// AppendUint32 appends a big-endian uint32 to the body of the current call.
func (c *Client) AppendUint32(v uint32) {
	xdr.AppendUint32(&c.buf, v)
}

// AppendInt32 appends a big-endian int32 to the body of the current call.
func (c *Client) AppendInt32(v int32) {
	xdr.AppendInt32(&c.buf, v)
}

// AppendOpaque appends a variable-length opaque to the body of the
// current call. Empty data appends nothing.
func (c *Client) AppendOpaque(data []byte) {
	xdr.AppendOpaque(&c.buf, data)
}

// Buffer returns the current outgoing message without record marking.
// The discovery broadcaster sends it over UDP, where fragment headers
// are not used.
func (c *Client) Buffer() []byte {
	return c.buf.Bytes()
}

// XID returns the transaction id of the most recently initialized call.
func (c *Client) XID() uint32 { return c.xid }

// Write sends the message in the outgoing buffer, split into
// record-marking fragments (RFC 1057, Section 10). Messages shorter than
// 2^31-1 bytes, which is every VXI-11 message in practice, go out as a
// single last fragment.
func (c *Client) Write() error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.applyDeadline(); err != nil {
		return err
	}

	message := c.buf.Bytes()
	remaining := len(message)
	for {
		size := remaining
		header := uint32(size)
		if size <= fragmentLenMask {
			header |= lastFragmentBit
		} else {
			size = fragmentLenMask
			header = fragmentLenMask
		}

		fragment := make([]byte, 4+size)
		fragment[0] = byte(header >> 24)
		fragment[1] = byte(header >> 16)
		fragment[2] = byte(header >> 8)
		fragment[3] = byte(header)
		copy(fragment[4:], message[:size])

		if _, err := c.conn.Write(fragment); err != nil {
			return fmt.Errorf("write rpc fragment: %w", err)
		}

		message = message[size:]
		remaining -= size
		if remaining == 0 {
			return nil
		}
	}
}

// Read reads one RPC reply, reassembling record-marking fragments, and
// returns the procedure-specific payload. Replies whose transaction id
// does not match the last call are discarded and the read repeats; such
// stray replies are typically leftovers from an aborted operation.
func (c *Client) Read() ([]byte, error) {
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	for {
		message, err := c.readMessage()
		if err != nil {
			return nil, err
		}

		payload, err := c.CheckReply(message)
		if err == errXIDMismatch {
			c.log.Debug("discarding rpc reply with stale xid", "want", c.xid)
			continue
		}
		return payload, err
	}
}

// readMessage reads and concatenates record-marking fragments until one
// arrives with the last-fragment bit set.
func (c *Client) readMessage() ([]byte, error) {
	if err := c.applyDeadline(); err != nil {
		return nil, err
	}

	var message []byte
	for {
		var header [4]byte
		if _, err := io.ReadFull(c.conn, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("rpc reply header is incomplete: %w", io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("read fragment header: %w", err)
		}

		h := uint32(header[0])<<24 | uint32(header[1])<<16 | uint32(header[2])<<8 | uint32(header[3])
		last := h&lastFragmentBit != 0
		size := int(h & fragmentLenMask)

		fragment := make([]byte, size)
		for read := 0; read < size; {
			request := min(c.chunkSize, size-read)
			n, err := c.conn.Read(fragment[read : read+request])
			read += n
			if err != nil {
				if err == io.EOF {
					return nil, fmt.Errorf("rpc fragment is incomplete: %w", io.ErrUnexpectedEOF)
				}
				return nil, fmt.Errorf("read fragment: %w", err)
			}
		}

		message = append(message, fragment...)
		if last {
			return message, nil
		}
	}
}

// CheckReply classifies an RPC reply message and returns the
// procedure-specific payload on MSG_ACCEPTED/SUCCESS. Every other
// outcome is a fatal *ReplyError. A transaction-id mismatch yields a
// sentinel error that Read discards internally; direct callers (the UDP
// discovery path) treat any error as "not a usable reply".
func (c *Client) CheckReply(message []byte) ([]byte, error) {
	xid, rest, err := xdr.Uint32(message)
	if err != nil {
		return nil, &ReplyError{Kind: KindBadReply, Detail: "reply shorter than header"}
	}
	if xid != c.xid {
		return nil, errXIDMismatch
	}

	msgType, rest, err := xdr.Uint32(rest)
	if err != nil {
		return nil, &ReplyError{Kind: KindBadReply, Detail: "reply shorter than header"}
	}
	if msgType != MsgTypeReply {
		return nil, &ReplyError{Kind: KindBadMsgType, Detail: fmt.Sprintf("msg_type=%d", msgType)}
	}

	replyState, rest, err := xdr.Uint32(rest)
	if err != nil {
		return nil, &ReplyError{Kind: KindBadReply, Detail: "reply shorter than header"}
	}

	switch replyState {
	case MsgAccepted:
		return c.checkAccepted(rest)
	case MsgDenied:
		return nil, c.checkDenied(rest)
	default:
		return nil, &ReplyError{
			Kind:   KindBadReply,
			Detail: fmt.Sprintf("reply state %d is neither MSG_ACCEPTED nor MSG_DENIED", replyState),
		}
	}
}

func (c *Client) checkAccepted(data []byte) ([]byte, error) {
	// Skip the verifier. VXI-11 servers always send AUTH_NONE with an
	// empty body, but the length field is honored regardless.
	_, rest, err := xdr.Uint32(data) // flavor
	if err != nil {
		return nil, &ReplyError{Kind: KindBadReply, Detail: "truncated verifier"}
	}
	verfLen, rest, err := xdr.Uint32(rest)
	if err != nil {
		return nil, &ReplyError{Kind: KindBadReply, Detail: "truncated verifier"}
	}
	skip := int(verfLen+3) &^ 3
	if len(rest) < skip {
		return nil, &ReplyError{Kind: KindBadReply, Detail: "truncated verifier body"}
	}
	rest = rest[skip:]

	acceptState, rest, err := xdr.Uint32(rest)
	if err != nil {
		return nil, &ReplyError{Kind: KindBadReply, Detail: "missing accept state"}
	}

	switch acceptState {
	case AcceptSuccess:
		return rest, nil
	case AcceptProgMismatch:
		low, rest, err := xdr.Uint32(rest)
		if err != nil {
			return nil, &ReplyError{Kind: KindProgMismatch}
		}
		high, _, err := xdr.Uint32(rest)
		if err != nil {
			return nil, &ReplyError{Kind: KindProgMismatch, Low: low}
		}
		return nil, &ReplyError{Kind: KindProgMismatch, Low: low, High: high}
	case AcceptProgUnavail:
		return nil, &ReplyError{Kind: KindProgUnavail}
	case AcceptProcUnavail:
		return nil, &ReplyError{Kind: KindProcUnavail}
	case AcceptGarbageArgs:
		return nil, &ReplyError{Kind: KindGarbageArgs}
	case AcceptSystemErr:
		return nil, &ReplyError{Kind: KindSystemErr}
	default:
		return nil, &ReplyError{
			Kind:   KindBadReply,
			Detail: fmt.Sprintf("unknown accept state %d", acceptState),
		}
	}
}

func (c *Client) checkDenied(data []byte) error {
	rejectState, rest, err := xdr.Uint32(data)
	if err != nil {
		return &ReplyError{Kind: KindBadReply, Detail: "missing reject state"}
	}

	switch rejectState {
	case RejectRPCMismatch:
		low, rest, err := xdr.Uint32(rest)
		if err != nil {
			return &ReplyError{Kind: KindRPCMismatch}
		}
		high, _, err := xdr.Uint32(rest)
		if err != nil {
			return &ReplyError{Kind: KindRPCMismatch, Low: low}
		}
		return &ReplyError{Kind: KindRPCMismatch, Low: low, High: high}
	case RejectAuthError:
		stat, _, err := xdr.Uint32(rest)
		if err != nil {
			return &ReplyError{Kind: KindAuthError}
		}
		return &ReplyError{Kind: KindAuthError, AuthStat: stat}
	default:
		return &ReplyError{
			Kind:   KindBadReply,
			Detail: fmt.Sprintf("reject state %d is neither RPC_MISMATCH nor AUTH_ERROR", rejectState),
		}
	}
}

func (c *Client) applyDeadline() error {
	if c.timeout <= 0 {
		return c.conn.SetDeadline(time.Time{})
	}
	return c.conn.SetDeadline(time.Now().Add(c.timeout))
}
