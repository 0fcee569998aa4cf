// Package discovery finds VXI-11 devices on the local network by
// broadcasting a Port Mapper GETPORT request for the Device Core program
// over UDP (RFC 1057, Appendix A) and collecting the hosts that answer
// with a usable port.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/calmetro/instrument/internal/protocol/onc"
	"github.com/calmetro/instrument/pkg/vxi11"
)

// Device is one responding VXI-11 host.
type Device struct {
	// IP is the address the reply came from.
	IP string

	// CorePort is the Device Core channel port the host reported.
	CorePort uint16

	// Address is the candidate resource string for the host.
	Address string
}

// Options configure a discovery sweep.
type Options struct {
	// Hosts are the local interface addresses to broadcast from. Empty
	// means every IPv4 interface on the machine.
	Hosts []string

	// Timeout bounds how long each interface waits for replies.
	// Defaults to one second.
	Timeout time.Duration

	// Port overrides the well-known Port Mapper port 111.
	Port uint16

	// Logger may be nil.
	Logger *slog.Logger
}

// Find broadcasts on every requested interface in parallel and returns
// the responding devices sorted by IP address.
func Find(opts Options) ([]Device, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	port := opts.Port
	if port == 0 {
		port = onc.PortmapPort
	}

	hosts := opts.Hosts
	if len(hosts) == 0 {
		var err error
		hosts, err = ipv4Addresses()
		if err != nil {
			return nil, err
		}
	}
	log.Debug("broadcasting VXI-11 discovery", "interfaces", hosts, "timeout", timeout)

	// One GETPORT message serves every interface; the xid only has to
	// match between this message and the replies. The probe is read-only
	// once built, so the broadcast goroutines can share it.
	probe := onc.NewClient("", log)
	if err := probe.Init(onc.PortmapProgram, onc.PortmapVersion, onc.PortmapProcGetPort); err != nil {
		return nil, err
	}
	probe.AppendUint32(vxi11.CoreProgram)
	probe.AppendUint32(vxi11.CoreVersion)
	probe.AppendUint32(onc.ProtoTCP)
	probe.AppendUint32(0)

	devices := xsync.NewMapOf[string, Device]()

	var wg sync.WaitGroup
	for _, host := range hosts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := broadcast(host, port, probe, devices, timeout); err != nil {
				log.Debug("discovery broadcast failed", "interface", host, "error", err)
			}
		}()
	}
	wg.Wait()

	found := make([]Device, 0, devices.Size())
	devices.Range(func(_ string, d Device) bool {
		found = append(found, d)
		return true
	})
	sort.Slice(found, func(i, j int) bool { return found[i].IP < found[j].IP })
	return found, nil
}

// broadcast sends the probe from one local address and records every
// host that answers with a non-zero port before the deadline.
func broadcast(host string, port uint16, probe *onc.Client, devices *xsync.MapOf[string, Device], timeout time.Duration) error {
	conn, err := net.ListenPacket("udp4", net.JoinHostPort(host, "0"))
	if err != nil {
		return fmt.Errorf("bind %s: %w", host, err)
	}
	defer conn.Close()

	dest := &net.UDPAddr{IP: net.IPv4bcast, Port: int(port)}
	deadline := time.Now().Add(timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}
	if _, err := conn.WriteTo(probe.Buffer(), dest); err != nil {
		return fmt.Errorf("broadcast from %s: %w", host, err)
	}

	buf := make([]byte, 1024)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			// The deadline expiring is the normal way a sweep ends.
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil
			}
			return err
		}

		udpAddr, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}

		device, ok := parseReply(probe, buf[:n], udpAddr.IP.String())
		if !ok {
			continue
		}
		devices.Store(device.IP, device)
	}
}

// parseReply validates one UDP reply against the probe's transaction id
// and extracts the advertised Core channel port. Malformed or foreign
// replies are dropped silently; a broadcast invites noise.
func parseReply(probe *onc.Client, reply []byte, ip string) (Device, bool) {
	payload, err := probe.CheckReply(reply)
	if err != nil {
		return Device{}, false
	}
	if len(payload) < 4 {
		return Device{}, false
	}
	port := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	if port == 0 || port > 0xFFFF {
		return Device{}, false
	}

	return Device{
		IP:       ip,
		CorePort: uint16(port),
		Address:  fmt.Sprintf("TCPIP::%s::inst0::INSTR", ip),
	}, true
}

// ipv4Addresses lists the machine's non-loopback IPv4 interface
// addresses.
func ipv4Addresses() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}

	var hosts []string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() {
			continue
		}
		hosts = append(hosts, ip.String())
	}
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no IPv4 interfaces available for broadcast")
	}
	return hosts, nil
}
