// Package connection provides the transport backends that carry opaque
// command/response payloads to instruments. A backend is selected by the
// resource address grammar at configuration time; the VXI-11 backend is
// implemented here, others (serial, raw socket, HiSLIP) plug in behind
// the same interface.
package connection

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/calmetro/instrument/pkg/equipment"
)

// Connection is the capability set every transport backend satisfies.
// Implementations are not safe for concurrent use: all calls on one
// connection must be serialized by the caller. The one sanctioned
// exception is an out-of-band abort, which backends expose separately.
type Connection interface {
	// Write sends one complete message to the device and returns the
	// number of bytes written.
	Write(data []byte) (int, error)

	// Read receives one complete message from the device.
	Read() ([]byte, error)

	// SetTimeout updates the I/O timeout for subsequent operations.
	// A non-positive value means block indefinitely.
	SetTimeout(timeout time.Duration) error

	// Disconnect releases the device and closes the transport. It is
	// safe to call multiple times.
	Disconnect() error
}

// Dial selects a backend by the record's address grammar, opens it, and
// returns the live connection.
func Dial(record equipment.Record, log *slog.Logger) (Connection, error) {
	address := record.Connection.Address

	if addr, err := ParseTCPIP(address); err == nil {
		return DialVXI11(addr, record.Connection, log)
	}

	return nil, fmt.Errorf("no transport backend accepts address %q", address)
}
