// Package xdr implements the small subset of the External Data
// Representation standard (RFC 1014) needed by the ONC RPC and VXI-11
// protocol layers: big-endian fixed-width integers and variable-length
// opaque data padded to a 4-byte boundary.
package xdr

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// AppendUint32 appends v in big-endian byte order.
func AppendUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// AppendInt32 appends v in big-endian byte order.
func AppendInt32(buf *bytes.Buffer, v int32) {
	AppendUint32(buf, uint32(v))
}

// AppendOpaque appends a variable-length opaque: a 4-byte big-endian
// length, the data, and 0-3 zero bytes so the total length appended is
// a multiple of 4.
//
// Appending empty data is a no-op. VXI-11 argument lists treat a missing
// opaque element and an empty one the same way, so no zero-length field
// is written.
func AppendOpaque(buf *bytes.Buffer, data []byte) {
	n := len(data)
	if n == 0 {
		return
	}

	AppendUint32(buf, uint32(n))
	buf.Write(data)

	padding := (4 - (n % 4)) % 4
	for range padding {
		buf.WriteByte(0)
	}
}

// Uint32 reads a big-endian uint32 from the front of data and returns
// the remaining bytes.
func Uint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("xdr: need 4 bytes for uint32, have %d", len(data))
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], nil
}

// Opaque reads a variable-length opaque from the front of data: a 4-byte
// length followed by exactly that many data bytes. Trailing padding is
// ignored. Empty input yields an empty result.
//
// A declared length that exceeds the bytes actually present is an error;
// it means the sender's length prefix does not match what was transferred.
func Opaque(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	n, rest, err := Uint32(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(rest)) < n {
		return nil, fmt.Errorf("xdr: opaque declares %d bytes, only %d available", n, len(rest))
	}
	return rest[:n], nil
}
