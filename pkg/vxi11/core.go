package vxi11

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/calmetro/instrument/internal/protocol/onc"
	"github.com/calmetro/instrument/internal/protocol/xdr"
)

// Link is the server-assigned session handle produced by create_link.
// The server keys every subsequent Core channel request on ID, so a Link
// belongs to exactly one client and is never shared or copied; it must
// not outlive the client that created it.
type Link struct {
	// ID binds subsequent Core channel calls to the opened device.
	ID uint32

	// AbortPort is the TCP port of the Device Async program on the
	// server, used to abort an in-flight operation out-of-band.
	AbortPort uint16

	// MaxRecvSize is the largest payload the device accepts in a single
	// device_write.
	MaxRecvSize uint32
}

// CoreClient speaks to the Device Core program on a remote device. All
// calls are synchronous: one RPC call, one RPC reply.
type CoreClient struct {
	*onc.Client
}

// NewCoreClient returns a Core channel client for the given host. The
// logger may be nil.
func NewCoreClient(host string, log *slog.Logger) *CoreClient {
	return &CoreClient{Client: onc.NewClient(host, log)}
}

// GetCorePort resolves the dynamic TCP port of the Device Core program
// via the Port Mapper. pmapPort overrides the well-known port 111 when
// non-zero.
func (c *CoreClient) GetCorePort(pmapPort uint16, timeout time.Duration) (uint16, error) {
	return c.GetPort(pmapPort, CoreProgram, CoreVersion, onc.ProtoTCP, timeout)
}

// readReply reads the RPC reply, extracts the leading VXI-11 error code,
// and returns the remaining procedure-specific data. A non-zero error
// code translates to *Error.
func (c *CoreClient) readReply() ([]byte, error) {
	return readReply(c.Client)
}

func readReply(c *onc.Client) ([]byte, error) {
	reply, err := c.Read()
	if err != nil {
		return nil, err
	}
	code, rest, err := xdr.Uint32(reply)
	if err != nil {
		return nil, fmt.Errorf("parse device error code: %w", err)
	}
	if code != 0 {
		return nil, &Error{Code: code}
	}
	return rest, nil
}

// CreateLink opens a link to the named device (procedure 10).
// lockTimeout is how long, in milliseconds, the server waits for the
// device lock when lockDevice is set.
func (c *CoreClient) CreateLink(clientID int32, lockDevice bool, lockTimeout uint32, device string) (Link, error) {
	if err := c.Init(CoreProgram, CoreVersion, ProcCreateLink); err != nil {
		return Link{}, err
	}
	c.AppendInt32(clientID)
	if lockDevice {
		c.AppendUint32(1)
	} else {
		c.AppendUint32(0)
	}
	c.AppendUint32(lockTimeout)
	c.AppendOpaque([]byte(device))
	if err := c.Write(); err != nil {
		return Link{}, err
	}

	reply, err := c.readReply()
	if err != nil {
		return Link{}, err
	}

	id, rest, err := xdr.Uint32(reply)
	if err != nil {
		return Link{}, fmt.Errorf("parse create_link reply: %w", err)
	}
	abortPort, rest, err := xdr.Uint32(rest)
	if err != nil {
		return Link{}, fmt.Errorf("parse create_link reply: %w", err)
	}
	maxRecvSize, _, err := xdr.Uint32(rest)
	if err != nil {
		return Link{}, fmt.Errorf("parse create_link reply: %w", err)
	}

	return Link{ID: id, AbortPort: uint16(abortPort), MaxRecvSize: maxRecvSize}, nil
}

// DeviceWrite sends data to the device (procedure 11) and returns the
// number of bytes the device accepted. Callers are responsible for
// splitting data at Link.MaxRecvSize and setting FlagEnd on the final
// chunk.
func (c *CoreClient) DeviceWrite(lid uint32, ioTimeout, lockTimeout uint32, flags Flag, data []byte) (uint32, error) {
	if err := c.Init(CoreProgram, CoreVersion, ProcDeviceWrite); err != nil {
		return 0, err
	}
	c.AppendUint32(lid)
	c.AppendUint32(ioTimeout)
	c.AppendUint32(lockTimeout)
	c.AppendUint32(uint32(flags))
	c.AppendOpaque(data)
	if err := c.Write(); err != nil {
		return 0, err
	}

	reply, err := c.readReply()
	if err != nil {
		return 0, err
	}
	size, _, err := xdr.Uint32(reply)
	if err != nil {
		return 0, fmt.Errorf("parse device_write reply: %w", err)
	}
	return size, nil
}

// DeviceRead asks the device for up to requestSize bytes (procedure 12).
// It returns the reason bit set explaining why the read completed
// (ReasonReqCnt, ReasonChr, ReasonEnd) along with the data. termChar is
// honored only when flags contains FlagTermChrSet.
func (c *CoreClient) DeviceRead(lid, requestSize, ioTimeout, lockTimeout uint32, flags Flag, termChar byte) (uint32, []byte, error) {
	if err := c.Init(CoreProgram, CoreVersion, ProcDeviceRead); err != nil {
		return 0, nil, err
	}
	c.AppendUint32(lid)
	c.AppendUint32(requestSize)
	c.AppendUint32(ioTimeout)
	c.AppendUint32(lockTimeout)
	c.AppendUint32(uint32(flags))
	c.AppendUint32(uint32(termChar))
	if err := c.Write(); err != nil {
		return 0, nil, err
	}

	reply, err := c.readReply()
	if err != nil {
		return 0, nil, err
	}
	reason, rest, err := xdr.Uint32(reply)
	if err != nil {
		return 0, nil, fmt.Errorf("parse device_read reply: %w", err)
	}
	data, err := xdr.Opaque(rest)
	if err != nil {
		return 0, nil, fmt.Errorf("parse device_read data: %w", err)
	}
	return reason, data, nil
}

// DeviceReadSTB reads the device's status byte (procedure 13).
func (c *CoreClient) DeviceReadSTB(lid uint32, flags Flag, lockTimeout, ioTimeout uint32) (byte, error) {
	if err := c.Init(CoreProgram, CoreVersion, ProcDeviceReadSTB); err != nil {
		return 0, err
	}
	c.AppendUint32(lid)
	c.AppendUint32(uint32(flags))
	c.AppendUint32(lockTimeout)
	c.AppendUint32(ioTimeout)
	if err := c.Write(); err != nil {
		return 0, err
	}

	reply, err := c.readReply()
	if err != nil {
		return 0, err
	}
	stb, _, err := xdr.Uint32(reply)
	if err != nil {
		return 0, fmt.Errorf("parse device_readstb reply: %w", err)
	}
	return byte(stb), nil
}

// DeviceTrigger sends a group-execute trigger (procedure 14).
func (c *CoreClient) DeviceTrigger(lid uint32, flags Flag, lockTimeout, ioTimeout uint32) error {
	return c.genericCall(ProcDeviceTrigger, lid, uint32(flags), lockTimeout, ioTimeout)
}

// DeviceClear clears the device (procedure 15).
func (c *CoreClient) DeviceClear(lid uint32, flags Flag, lockTimeout, ioTimeout uint32) error {
	return c.genericCall(ProcDeviceClear, lid, uint32(flags), lockTimeout, ioTimeout)
}

// DeviceRemote disables the device's local controls (procedure 16).
func (c *CoreClient) DeviceRemote(lid uint32, flags Flag, lockTimeout, ioTimeout uint32) error {
	return c.genericCall(ProcDeviceRemote, lid, uint32(flags), lockTimeout, ioTimeout)
}

// DeviceLocal re-enables the device's local controls (procedure 17).
func (c *CoreClient) DeviceLocal(lid uint32, flags Flag, lockTimeout, ioTimeout uint32) error {
	return c.genericCall(ProcDeviceLocal, lid, uint32(flags), lockTimeout, ioTimeout)
}

// DeviceLock acquires the device's lock (procedure 18).
func (c *CoreClient) DeviceLock(lid uint32, flags Flag, lockTimeout uint32) error {
	return c.genericCall(ProcDeviceLock, lid, uint32(flags), lockTimeout)
}

// DeviceUnlock releases a lock acquired by DeviceLock (procedure 19).
func (c *CoreClient) DeviceUnlock(lid uint32) error {
	return c.genericCall(ProcDeviceUnlock, lid)
}

// DeviceEnableSRQ enables or disables device_intr_srq interrupts
// (procedure 20). handle is host-specific data of at most MaxSRQHandle
// bytes, echoed back with each interrupt.
func (c *CoreClient) DeviceEnableSRQ(lid uint32, enable bool, handle []byte) error {
	if len(handle) > MaxSRQHandle {
		return fmt.Errorf("srq handle is %d bytes, maximum is %d", len(handle), MaxSRQHandle)
	}
	if err := c.Init(CoreProgram, CoreVersion, ProcDeviceEnableSRQ); err != nil {
		return err
	}
	c.AppendUint32(lid)
	if enable {
		c.AppendUint32(1)
	} else {
		c.AppendUint32(0)
	}
	c.AppendOpaque(handle)
	if err := c.Write(); err != nil {
		return err
	}
	_, err := c.readReply()
	return err
}

// DeviceDoCmd executes a device-specific command (procedure 22) and
// returns its result bytes.
func (c *CoreClient) DeviceDoCmd(lid uint32, flags Flag, ioTimeout, lockTimeout uint32, cmd int32, networkOrder bool, dataSize uint32, dataIn []byte) ([]byte, error) {
	if err := c.Init(CoreProgram, CoreVersion, ProcDeviceDoCmd); err != nil {
		return nil, err
	}
	c.AppendUint32(lid)
	c.AppendUint32(uint32(flags))
	c.AppendUint32(ioTimeout)
	c.AppendUint32(lockTimeout)
	c.AppendInt32(cmd)
	if networkOrder {
		c.AppendUint32(1)
	} else {
		c.AppendUint32(0)
	}
	c.AppendUint32(dataSize)
	c.AppendOpaque(dataIn)
	if err := c.Write(); err != nil {
		return nil, err
	}

	reply, err := c.readReply()
	if err != nil {
		return nil, err
	}
	out, err := xdr.Opaque(reply)
	if err != nil {
		return nil, fmt.Errorf("parse device_docmd reply: %w", err)
	}
	return out, nil
}

// DestroyLink closes the link (procedure 23). The server releases the
// link id and any device lock held by it.
func (c *CoreClient) DestroyLink(lid uint32) error {
	return c.genericCall(ProcDestroyLink, lid)
}

// CreateIntrChan asks the server to establish an interrupt channel back
// to the client (procedure 25).
func (c *CoreClient) CreateIntrChan(hostAddr uint32, hostPort uint16, program, version, protoFamily uint32) error {
	return c.genericCall(ProcCreateIntrChan, hostAddr, uint32(hostPort), program, version, protoFamily)
}

// DestroyIntrChan asks the server to close its interrupt channel
// (procedure 26).
func (c *CoreClient) DestroyIntrChan() error {
	return c.genericCall(ProcDestroyIntrChan)
}

// genericCall issues a Core procedure whose arguments are plain uint32
// fields and whose reply carries only the device error code.
func (c *CoreClient) genericCall(procedure uint32, args ...uint32) error {
	if err := c.Init(CoreProgram, CoreVersion, procedure); err != nil {
		return err
	}
	for _, arg := range args {
		c.AppendUint32(arg)
	}
	if err := c.Write(); err != nil {
		return err
	}
	_, err := c.readReply()
	return err
}
