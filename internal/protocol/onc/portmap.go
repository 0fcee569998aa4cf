package onc

import (
	"fmt"
	"time"

	"github.com/calmetro/instrument/internal/protocol/xdr"
)

// GetPort asks the Port Mapper on the client's host which TCP or UDP
// port serves the given program and version (RFC 1057, Appendix A). The
// connection to the Port Mapper is opened and closed by this call;
// pmapPort overrides the well-known port 111 when non-zero.
func (c *Client) GetPort(pmapPort uint16, program, version, proto uint32, timeout time.Duration) (uint16, error) {
	if pmapPort == 0 {
		pmapPort = PortmapPort
	}

	if err := c.Connect(pmapPort, timeout); err != nil {
		return 0, err
	}
	defer c.Close()

	if err := c.Init(PortmapProgram, PortmapVersion, PortmapProcGetPort); err != nil {
		return 0, err
	}
	c.AppendUint32(program)
	c.AppendUint32(version)
	c.AppendUint32(proto)
	c.AppendUint32(0) // port, ignored for GETPORT

	if err := c.Write(); err != nil {
		return 0, err
	}
	reply, err := c.Read()
	if err != nil {
		return 0, err
	}

	port, _, err := xdr.Uint32(reply)
	if err != nil {
		return 0, fmt.Errorf("parse GETPORT reply: %w", err)
	}
	if port == 0 || port > 0xFFFF {
		return 0, fmt.Errorf("port mapper returned no usable port for program %d (got %d)", program, port)
	}

	c.log.Debug("port mapper lookup", "program", program, "version", version, "port", port)
	return uint16(port), nil
}
