package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jpillora/backoff"

	"github.com/calmetro/instrument/pkg/equipment"
	"github.com/calmetro/instrument/pkg/vxi11"
)

// ErrShortWrite indicates the device accepted fewer bytes than were sent
// in a non-final device_write chunk.
var ErrShortWrite = errors.New("device accepted fewer bytes than were written")

// maxRecvCeiling caps the per-write chunk size regardless of what the
// device advertises.
const maxRecvCeiling = 1 << 16

// VXI11 is a message-based connection to one device over the VXI-11
// Core channel. It moves between exactly two states: linked (after a
// successful dial or reconnect) and disconnected. All Core channel calls
// must be serialized by one caller; Abort is the only method that may be
// invoked from another goroutine while a read or write is in flight,
// since it runs on its own TCP connection.
type VXI11 struct {
	log   *slog.Logger
	addr  ParsedAddress
	props equipment.Properties

	timeouts TimeoutPolicy
	pmapPort uint16

	core     *vxi11.CoreClient
	async    *vxi11.AsyncClient
	link     *vxi11.Link
	corePort uint16

	// maxRecvSize is the device's advertised write chunk limit, capped
	// at maxRecvCeiling.
	maxRecvSize uint32
}

// DialVXI11 opens a VXI-11 connection to the parsed address: it resolves
// the Core channel port via the Port Mapper (unless the record supplies
// one), connects, and creates the link. The logger may be nil.
func DialVXI11(addr ParsedAddress, record equipment.ConnectionRecord, log *slog.Logger) (*VXI11, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	props, err := record.DecodeProperties()
	if err != nil {
		return nil, err
	}

	c := &VXI11{
		log:      log.With("address", addr.String()),
		addr:     addr,
		props:    props,
		corePort: props.Port,
		timeouts: timeoutsFromProperties(props),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetPortmapPort overrides the well-known Port Mapper port 111. It only
// affects later reconnects, since the dial already resolved the Core
// port.
func (c *VXI11) SetPortmapPort(port uint16) { c.pmapPort = port }

func timeoutsFromProperties(props equipment.Properties) TimeoutPolicy {
	p := TimeoutPolicy{}

	if props.Timeout == nil || *props.Timeout < 0 {
		p.IO = 0 // block indefinitely
	} else {
		p.IO = time.Duration(*props.Timeout * float64(time.Second))
	}

	if props.LockTimeout == nil {
		p.Lock = 0
	} else if *props.LockTimeout < 0 {
		p.Lock = -1 // wait forever for the lock
	} else {
		p.Lock = time.Duration(*props.LockTimeout * float64(time.Second))
	}

	return p
}

// connect performs the full sequence: Port Mapper lookup (when needed),
// Core channel connect, create_link. It is also the body of Reconnect.
func (c *VXI11) connect() error {
	socketTimeout := c.timeouts.Socket()

	if c.corePort == 0 {
		resolver := vxi11.NewCoreClient(c.addr.Host, c.log)
		port, err := resolver.GetCorePort(c.pmapPort, socketTimeout)
		if err != nil {
			return fmt.Errorf("resolve core channel port: %w", err)
		}
		c.corePort = port
	}

	core := vxi11.NewCoreClient(c.addr.Host, c.log)
	if err := core.Connect(c.corePort, socketTimeout); err != nil {
		return err
	}

	// A fresh 31-bit client id per link; servers use it to tell
	// overlapping clients apart.
	clientID := rand.Int32()
	link, err := core.CreateLink(clientID, false, c.timeouts.LockMillis(), c.addr.Device)
	if err != nil {
		core.Close()
		return fmt.Errorf("create link to %s: %w", c.addr.Device, err)
	}

	maxRecv := min(link.MaxRecvSize, maxRecvCeiling)
	if maxRecv == 0 {
		maxRecv = 1024
	}

	c.core = core
	c.link = &link
	c.maxRecvSize = maxRecv
	c.log.Debug("link created",
		"link_id", link.ID, "abort_port", link.AbortPort, "max_recv_size", maxRecv)
	return nil
}

// SetTimeout updates the I/O timeout. A non-positive value means block
// indefinitely. The socket timeout on both channels is re-derived so it
// always exceeds the VXI-11-level budgets.
func (c *VXI11) SetTimeout(timeout time.Duration) error {
	c.timeouts.IO = timeout
	return c.applySocketTimeout()
}

// SetLockTimeout updates the lock timeout. Negative means wait forever.
func (c *VXI11) SetLockTimeout(timeout time.Duration) error {
	c.timeouts.Lock = timeout
	return c.applySocketTimeout()
}

func (c *VXI11) applySocketTimeout() error {
	socketTimeout := c.timeouts.Socket()
	if c.core != nil {
		if err := c.core.SetTimeout(socketTimeout); err != nil {
			return err
		}
	}
	if c.async != nil {
		if err := c.async.SetTimeout(socketTimeout); err != nil {
			return err
		}
	}
	return nil
}

// initFlag returns the base operation flags for a request: WAITLOCK when
// a lock timeout is configured.
func (c *VXI11) initFlag() vxi11.Flag {
	if c.timeouts.LockMillis() > 0 {
		return vxi11.FlagWaitLock
	}
	return vxi11.FlagNull
}

// Write sends one complete message to the device. Messages longer than
// the device's max_recv_size are split into consecutive device_write
// calls; only the final chunk carries the END flag. A short write on a
// non-final chunk is fatal.
func (c *VXI11) Write(data []byte) (int, error) {
	if c.link == nil {
		return 0, errNotLinked()
	}

	flags := c.initFlag()
	ioTimeout := c.timeouts.IOMillis()
	lockTimeout := c.timeouts.LockMillis()

	written := 0
	remaining := data
	for len(remaining) > 0 {
		chunk := remaining
		if uint32(len(chunk)) > c.maxRecvSize {
			chunk = chunk[:c.maxRecvSize]
		} else {
			flags |= vxi11.FlagEnd
		}

		size, err := c.core.DeviceWrite(c.link.ID, ioTimeout, lockTimeout, flags, chunk)
		if err != nil {
			return written, err
		}
		if int(size) < len(chunk) {
			return written, fmt.Errorf("device_write sent %d of %d bytes: %w", size, len(chunk), ErrShortWrite)
		}

		written += int(size)
		remaining = remaining[size:]
	}
	return written, nil
}

// Read receives one complete message: it issues device_read calls until
// the device reports end-of-message or the termination character, and
// concatenates the chunks. The I/O budget shrinks across continuation
// reads so the total wait honors the configured timeout.
func (c *VXI11) Read() ([]byte, error) {
	if c.link == nil {
		return nil, errNotLinked()
	}

	flags := c.initFlag()
	var termChar byte
	if c.props.ReadTermination != "" {
		termChar = c.props.ReadTermination[0]
		flags |= vxi11.FlagTermChrSet
	}

	ioBudget := c.timeouts.IOMillis()
	lockTimeout := c.timeouts.LockMillis()
	ioTimeout := ioBudget

	var message []byte
	start := time.Now()
	const done = vxi11.ReasonEnd | vxi11.ReasonChr

	for reason := uint32(0); reason&done == 0; {
		var data []byte
		var err error
		reason, data, err = c.core.DeviceRead(
			c.link.ID, c.props.BufferSize, ioTimeout, lockTimeout, flags, termChar)
		if err != nil {
			return nil, err
		}
		message = append(message, data...)

		if uint32(len(message)) > c.props.MaxReadSize {
			return nil, fmt.Errorf("message length %d exceeds max_read_size %d",
				len(message), c.props.MaxReadSize)
		}

		if ioBudget > 0 {
			elapsed := uint32(time.Since(start) / time.Millisecond)
			if elapsed >= ioBudget {
				ioTimeout = 0
			} else {
				ioTimeout = ioBudget - elapsed
			}
		}
	}
	return message, nil
}

// Query writes a command and reads the response.
func (c *VXI11) Query(command string) (string, error) {
	if _, err := c.Write([]byte(command)); err != nil {
		return "", err
	}
	response, err := c.Read()
	if err != nil {
		return "", err
	}
	return string(response), nil
}

// Abort stops an in-progress Core channel call. It runs over the Async
// channel, a separate TCP connection dialed on first use, so it may be
// called from another goroutine while Read or Write blocks.
func (c *VXI11) Abort() error {
	if c.link == nil {
		return errNotLinked()
	}
	if c.async == nil {
		async := vxi11.NewAsyncClient(c.addr.Host, c.log)
		if err := async.Connect(c.link.AbortPort, c.timeouts.Socket()); err != nil {
			return fmt.Errorf("connect abort channel: %w", err)
		}
		c.async = async
	}
	return c.async.DeviceAbort(c.link.ID)
}

// Reconnect tears down any existing state and repeats the full
// connect/create_link sequence, backing off between attempts. Link ids
// never survive a reconnect. maxAttempts < 1 means keep trying until a
// connection succeeds.
func (c *VXI11) Reconnect(maxAttempts int) error {
	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; ; attempt++ {
		c.teardown()
		err := c.connect()
		if err == nil {
			return nil
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return fmt.Errorf("reconnect failed after %d attempts: %w", attempt, err)
		}
		d := b.Duration()
		c.log.Warn("reconnect attempt failed", "attempt", attempt, "retry_in", d, "error", err)
		time.Sleep(d)
	}
}

// Disconnect destroys the link and closes both channels. destroy_link is
// always attempted, even after a failed operation, so the server
// releases the link and any device lock deterministically. Safe to call
// multiple times.
func (c *VXI11) Disconnect() error {
	c.teardown()
	return nil
}

func (c *VXI11) teardown() {
	if c.async != nil {
		c.async.Close()
		c.async = nil
	}

	if c.link != nil && c.core != nil {
		if err := c.core.DestroyLink(c.link.ID); err != nil {
			c.log.Debug("destroy_link failed", "link_id", c.link.ID, "error", err)
		}
	}
	c.link = nil

	if c.core != nil {
		c.core.Close()
		c.core = nil
		c.log.Debug("disconnected")
	}
}

// ReadSTB reads the device's status byte.
func (c *VXI11) ReadSTB() (byte, error) {
	if c.link == nil {
		return 0, errNotLinked()
	}
	return c.core.DeviceReadSTB(c.link.ID, c.initFlag(), c.timeouts.LockMillis(), c.timeouts.IOMillis())
}

// Trigger sends a group-execute trigger to the device.
func (c *VXI11) Trigger() error {
	if c.link == nil {
		return errNotLinked()
	}
	return c.core.DeviceTrigger(c.link.ID, c.initFlag(), c.timeouts.LockMillis(), c.timeouts.IOMillis())
}

// Clear sends the clear command to the device.
func (c *VXI11) Clear() error {
	if c.link == nil {
		return errNotLinked()
	}
	return c.core.DeviceClear(c.link.ID, c.initFlag(), c.timeouts.LockMillis(), c.timeouts.IOMillis())
}

// Remote disables the device's local controls.
func (c *VXI11) Remote() error {
	if c.link == nil {
		return errNotLinked()
	}
	return c.core.DeviceRemote(c.link.ID, c.initFlag(), c.timeouts.LockMillis(), c.timeouts.IOMillis())
}

// Local re-enables the device's local controls.
func (c *VXI11) Local() error {
	if c.link == nil {
		return errNotLinked()
	}
	return c.core.DeviceLocal(c.link.ID, c.initFlag(), c.timeouts.LockMillis(), c.timeouts.IOMillis())
}

// Lock acquires the device's lock.
func (c *VXI11) Lock() error {
	if c.link == nil {
		return errNotLinked()
	}
	return c.core.DeviceLock(c.link.ID, c.initFlag(), c.timeouts.LockMillis())
}

// Unlock releases a lock acquired by Lock.
func (c *VXI11) Unlock() error {
	if c.link == nil {
		return errNotLinked()
	}
	return c.core.DeviceUnlock(c.link.ID)
}

// EnableSRQ enables or disables service-request interrupts from the
// device.
func (c *VXI11) EnableSRQ(enable bool, handle []byte) error {
	if c.link == nil {
		return errNotLinked()
	}
	return c.core.DeviceEnableSRQ(c.link.ID, enable, handle)
}

// Link returns the live link, or nil when disconnected. Exposed for the
// registry layer's diagnostics.
func (c *VXI11) Link() *vxi11.Link { return c.link }

func errNotLinked() error {
	return errors.New("no link: connection is disconnected")
}
