package onc

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame prepends a record-marking header with the last-fragment bit set.
func frame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, lastFragmentBit|uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// partialFrame prepends a record-marking header without the
// last-fragment bit.
func partialFrame(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

func u32(vs ...uint32) []byte {
	buf := new(bytes.Buffer)
	for _, v := range vs {
		binary.Write(buf, binary.BigEndian, v)
	}
	return buf.Bytes()
}

// acceptedReply builds xid | REPLY | MSG_ACCEPTED | null verifier |
// accept_stat | data.
func acceptedReply(xid, acceptStat uint32, data []byte) []byte {
	reply := u32(xid, MsgTypeReply, MsgAccepted, AuthNone, 0, acceptStat)
	return append(reply, data...)
}

// deniedReply builds xid | REPLY | MSG_DENIED | reject_stat | data.
func deniedReply(xid, rejectStat uint32, data []byte) []byte {
	reply := u32(xid, MsgTypeReply, MsgDenied, rejectStat)
	return append(reply, data...)
}

// serve starts a listener that hands each accepted connection to
// handler and returns the port.
func serve(t *testing.T, handler func(net.Conn)) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handler(conn)
			}()
		}
	}()

	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

// readCall reads one record-marked call from the connection and returns
// its xid and full message.
func readCall(t *testing.T, conn net.Conn) (uint32, []byte) {
	t.Helper()
	var header [4]byte
	_, err := io.ReadFull(conn, header[:])
	require.NoError(t, err)
	size := binary.BigEndian.Uint32(header[:]) & fragmentLenMask

	message := make([]byte, size)
	_, err = io.ReadFull(conn, message)
	require.NoError(t, err)
	return binary.BigEndian.Uint32(message[:4]), message
}

func TestInit(t *testing.T) {
	t.Run("IncrementsXIDPerCall", func(t *testing.T) {
		c := NewClient("127.0.0.1", nil)
		for want := uint32(1); want <= 5; want++ {
			require.NoError(t, c.Init(PortmapProgram, PortmapVersion, PortmapProcGetPort))
			assert.Equal(t, want, c.XID())
		}
	})

	t.Run("WrapsXIDOnOverflow", func(t *testing.T) {
		c := NewClient("127.0.0.1", nil)
		c.xid = math.MaxUint32
		require.NoError(t, c.Init(PortmapProgram, PortmapVersion, PortmapProcGetPort))
		assert.Equal(t, uint32(0), c.XID())
	})

	t.Run("SerializesCallHeaderWithNullAuth", func(t *testing.T) {
		c := NewClient("127.0.0.1", nil)
		require.NoError(t, c.Init(100024, 7, 3))

		expected := u32(
			1,          // xid
			MsgTypeCall,
			RPCVersion,
			100024, 7, 3,
			AuthNone, 0, // credentials
			AuthNone, 0, // verifier
		)
		assert.Equal(t, expected, c.Buffer())
	})

	t.Run("ResetsBufferBetweenCalls", func(t *testing.T) {
		c := NewClient("127.0.0.1", nil)
		require.NoError(t, c.Init(1, 1, 1))
		c.AppendOpaque([]byte("leftover"))
		require.NoError(t, c.Init(1, 1, 2))
		assert.Len(t, c.Buffer(), 40)
	})
}

func TestCheckReply(t *testing.T) {
	newInitialized := func(t *testing.T) *Client {
		c := NewClient("127.0.0.1", nil)
		require.NoError(t, c.Init(1, 1, 1)) // xid is now 1
		return c
	}

	t.Run("SuccessReturnsExactPayload", func(t *testing.T) {
		c := newInitialized(t)
		payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
		got, err := c.CheckReply(acceptedReply(1, AcceptSuccess, payload))
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})

	t.Run("XIDMismatchIsNotFatal", func(t *testing.T) {
		c := newInitialized(t)
		_, err := c.CheckReply(acceptedReply(99, AcceptSuccess, nil))
		require.Error(t, err)
		var replyErr *ReplyError
		assert.NotErrorAs(t, err, &replyErr, "a stale xid must not classify as a fatal reply")
	})

	t.Run("WrongMsgType", func(t *testing.T) {
		c := newInitialized(t)
		_, err := c.CheckReply(u32(1, MsgTypeCall, MsgAccepted))
		var replyErr *ReplyError
		require.ErrorAs(t, err, &replyErr)
		assert.Equal(t, KindBadMsgType, replyErr.Kind)
	})

	t.Run("DeniedRPCMismatchCarriesBounds", func(t *testing.T) {
		c := newInitialized(t)
		_, err := c.CheckReply(deniedReply(1, RejectRPCMismatch, u32(2, 3)))
		var replyErr *ReplyError
		require.ErrorAs(t, err, &replyErr)
		assert.Equal(t, KindRPCMismatch, replyErr.Kind)
		assert.Equal(t, uint32(2), replyErr.Low)
		assert.Equal(t, uint32(3), replyErr.High)
	})

	t.Run("DeniedAuthErrorCarriesStatus", func(t *testing.T) {
		c := newInitialized(t)
		_, err := c.CheckReply(deniedReply(1, RejectAuthError, u32(5)))
		var replyErr *ReplyError
		require.ErrorAs(t, err, &replyErr)
		assert.Equal(t, KindAuthError, replyErr.Kind)
		assert.Equal(t, uint32(5), replyErr.AuthStat)
	})

	t.Run("DeniedUnknownRejectState", func(t *testing.T) {
		c := newInitialized(t)
		_, err := c.CheckReply(deniedReply(1, 7, nil))
		var replyErr *ReplyError
		require.ErrorAs(t, err, &replyErr)
		assert.Equal(t, KindBadReply, replyErr.Kind)
	})

	t.Run("AcceptedProgMismatchCarriesBounds", func(t *testing.T) {
		c := newInitialized(t)
		_, err := c.CheckReply(acceptedReply(1, AcceptProgMismatch, u32(1, 4)))
		var replyErr *ReplyError
		require.ErrorAs(t, err, &replyErr)
		assert.Equal(t, KindProgMismatch, replyErr.Kind)
		assert.Equal(t, uint32(1), replyErr.Low)
		assert.Equal(t, uint32(4), replyErr.High)
	})

	t.Run("AcceptedFatalStates", func(t *testing.T) {
		cases := []struct {
			stat uint32
			kind ReplyKind
		}{
			{AcceptProgUnavail, KindProgUnavail},
			{AcceptProcUnavail, KindProcUnavail},
			{AcceptGarbageArgs, KindGarbageArgs},
			{AcceptSystemErr, KindSystemErr},
		}
		for _, tc := range cases {
			c := newInitialized(t)
			_, err := c.CheckReply(acceptedReply(1, tc.stat, nil))
			var replyErr *ReplyError
			require.ErrorAs(t, err, &replyErr, "accept_stat %d", tc.stat)
			assert.Equal(t, tc.kind, replyErr.Kind)
		}
	})

	t.Run("UnknownReplyState", func(t *testing.T) {
		c := newInitialized(t)
		_, err := c.CheckReply(u32(1, MsgTypeReply, 9))
		var replyErr *ReplyError
		require.ErrorAs(t, err, &replyErr)
		assert.Equal(t, KindBadReply, replyErr.Kind)
	})

	t.Run("SkipsNonEmptyVerifier", func(t *testing.T) {
		c := newInitialized(t)
		reply := u32(1, MsgTypeReply, MsgAccepted, 1, 5)
		reply = append(reply, []byte{1, 2, 3, 4, 5, 0, 0, 0}...) // 5 bytes + 3 padding
		reply = append(reply, u32(AcceptSuccess)...)
		reply = append(reply, 0xAB)
		got, err := c.CheckReply(reply)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xAB}, got)
	})
}

func TestWrite(t *testing.T) {
	received := make(chan []byte, 1)
	port := serve(t, func(conn net.Conn) {
		_, msg := readCall(t, conn)
		received <- msg
	})

	c := NewClient("127.0.0.1", nil)
	require.NoError(t, c.Connect(port, 2*time.Second))
	defer c.Close()

	require.NoError(t, c.Init(PortmapProgram, PortmapVersion, PortmapProcGetPort))
	c.AppendOpaque([]byte("abc"))
	require.NoError(t, c.Write())

	select {
	case msg := <-received:
		assert.Equal(t, c.Buffer(), msg, "record marking must carry the buffer verbatim")
		assert.Len(t, msg, 40+8) // header + length-prefixed padded opaque
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the call")
	}
}

func TestRead(t *testing.T) {
	t.Run("ReassemblesFragments", func(t *testing.T) {
		port := serve(t, func(conn net.Conn) {
			_, _ = readCall(t, conn)
			reply := acceptedReply(1, AcceptSuccess, []byte("HELLOWORLD"))
			conn.Write(partialFrame(reply[:12]))
			conn.Write(frame(reply[12:]))
		})

		c := NewClient("127.0.0.1", nil)
		require.NoError(t, c.Connect(port, 2*time.Second))
		defer c.Close()

		require.NoError(t, c.Init(1, 1, 1))
		require.NoError(t, c.Write())
		payload, err := c.Read()
		require.NoError(t, err)
		assert.Equal(t, []byte("HELLOWORLD"), payload)
	})

	t.Run("DiscardsStaleXID", func(t *testing.T) {
		port := serve(t, func(conn net.Conn) {
			_, _ = readCall(t, conn)
			conn.Write(frame(acceptedReply(77, AcceptSuccess, []byte("stale"))))
			conn.Write(frame(acceptedReply(1, AcceptSuccess, []byte("fresh"))))
		})

		c := NewClient("127.0.0.1", nil)
		require.NoError(t, c.Connect(port, 2*time.Second))
		defer c.Close()

		require.NoError(t, c.Init(1, 1, 1))
		require.NoError(t, c.Write())
		payload, err := c.Read()
		require.NoError(t, err)
		assert.Equal(t, []byte("fresh"), payload)
	})

	t.Run("FailsOnTruncatedHeader", func(t *testing.T) {
		port := serve(t, func(conn net.Conn) {
			_, _ = readCall(t, conn)
			conn.Write([]byte{0x80, 0x00})
		})

		c := NewClient("127.0.0.1", nil)
		require.NoError(t, c.Connect(port, 2*time.Second))
		defer c.Close()

		require.NoError(t, c.Init(1, 1, 1))
		require.NoError(t, c.Write())
		_, err := c.Read()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("FailsOnTruncatedFragment", func(t *testing.T) {
		port := serve(t, func(conn net.Conn) {
			_, _ = readCall(t, conn)
			conn.Write(frame(acceptedReply(1, AcceptSuccess, nil))[:10])
		})

		c := NewClient("127.0.0.1", nil)
		require.NoError(t, c.Connect(port, 2*time.Second))
		defer c.Close()

		require.NoError(t, c.Init(1, 1, 1))
		require.NoError(t, c.Write())
		_, err := c.Read()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("ChunkedFragmentReads", func(t *testing.T) {
		payload := bytes.Repeat([]byte{0x5A}, 1000)
		port := serve(t, func(conn net.Conn) {
			_, _ = readCall(t, conn)
			conn.Write(frame(acceptedReply(1, AcceptSuccess, payload)))
		})

		c := NewClient("127.0.0.1", nil)
		c.SetChunkSize(64)
		require.NoError(t, c.Connect(port, 2*time.Second))
		defer c.Close()

		require.NoError(t, c.Init(1, 1, 1))
		require.NoError(t, c.Write())
		got, err := c.Read()
		require.NoError(t, err)
		assert.Equal(t, payload, got)
	})
}

func TestSetTimeout(t *testing.T) {
	c := NewClient("127.0.0.1", nil)
	assert.ErrorIs(t, c.SetTimeout(time.Second), ErrNotConnected)

	port := serve(t, func(conn net.Conn) {
		io.Copy(io.Discard, conn)
	})
	require.NoError(t, c.Connect(port, time.Second))
	defer c.Close()
	assert.NoError(t, c.SetTimeout(5*time.Second))
}

func TestClose(t *testing.T) {
	c := NewClient("127.0.0.1", nil)
	c.Close() // never connected
	c.Close() // idempotent
}

func TestGetPort(t *testing.T) {
	t.Run("ResolvesPort", func(t *testing.T) {
		args := make(chan []byte, 1)
		port := serve(t, func(conn net.Conn) {
			xid, msg := readCall(t, conn)
			args <- msg[40:]
			conn.Write(frame(acceptedReply(xid, AcceptSuccess, u32(713))))
		})

		c := NewClient("127.0.0.1", nil)
		got, err := c.GetPort(port, 0x0607AF, 1, ProtoTCP, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint16(713), got)
		assert.Equal(t, u32(0x0607AF, 1, ProtoTCP, 0), <-args)
	})

	t.Run("RejectsZeroPort", func(t *testing.T) {
		port := serve(t, func(conn net.Conn) {
			xid, _ := readCall(t, conn)
			conn.Write(frame(acceptedReply(xid, AcceptSuccess, u32(0))))
		})

		c := NewClient("127.0.0.1", nil)
		_, err := c.GetPort(port, 0x0607AF, 1, ProtoTCP, 2*time.Second)
		assert.Error(t, err)
	})
}
