package vxi11

import (
	"log/slog"

	"github.com/calmetro/instrument/internal/protocol/onc"
)

// AsyncClient speaks to the Device Async program on a remote device. It
// runs on a separate TCP connection, dialed to the abort port returned
// by create_link, so it can cancel an operation while the Core channel
// is blocked waiting on a reply.
type AsyncClient struct {
	*onc.Client
}

// NewAsyncClient returns an Async channel client for the given host. The
// logger may be nil.
func NewAsyncClient(host string, log *slog.Logger) *AsyncClient {
	return &AsyncClient{Client: onc.NewClient(host, log)}
}

// DeviceAbort stops an in-progress Core channel call on the given link
// (procedure 1).
func (c *AsyncClient) DeviceAbort(lid uint32) error {
	if err := c.Init(AsyncProgram, AsyncVersion, ProcDeviceAbort); err != nil {
		return err
	}
	c.AppendUint32(lid)
	if err := c.Write(); err != nil {
		return err
	}
	_, err := readReply(c.Client)
	return err
}
