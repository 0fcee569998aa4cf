package connection

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrAddressNoMatch indicates an address string that does not follow the
// TCPIP resource grammar. Backend selection treats it as "try another
// backend", not as a failure.
var ErrAddressNoMatch = errors.New("address does not match the TCPIP resource grammar")

// DefaultDeviceName is the LAN device name used when the address omits
// one.
const DefaultDeviceName = "inst0"

// tcpipAddress matches TCPIP[<board>]::<host>[::<device-name>][::INSTR].
// The device name must end in a digit, optionally followed by a
// bracketed suffix (e.g. "gpib0,5" is not valid, "inst0" and
// "gpib0,5[abc]" follow the VISA grammar this toolkit accepts).
var tcpipAddress = regexp.MustCompile(
	`(?i)^TCPIP(?P<board>\d*)` +
		`::(?P<host>[^\s:]+)` +
		`(?:::(?P<name>[^\s:]+\d+(?:\[.+\])?))?` +
		`(?:::INSTR)?$`)

// ParsedAddress is the decomposed form of a TCPIP resource string. It is
// produced once per connection attempt and never mutated.
type ParsedAddress struct {
	// Board is the interface board number. It is carried for registry
	// compatibility; the VXI-11 transport does not use it.
	Board int

	// Host is the hostname or IP address of the device.
	Host string

	// Device is the LAN device name, "inst0" unless the address names
	// another.
	Device string
}

func (a ParsedAddress) String() string {
	return fmt.Sprintf("TCPIP%d::%s::%s::INSTR", a.Board, a.Host, a.Device)
}

// ParseTCPIP parses a VXI-11 resource string. The board defaults to 0
// and the device name to "inst0" when omitted. Addresses whose device
// name starts with "hislip" share the TCPIP grammar but belong to the
// HiSLIP backend, so they do not match here.
func ParseTCPIP(address string) (ParsedAddress, error) {
	m := tcpipAddress.FindStringSubmatch(address)
	if m == nil {
		return ParsedAddress{}, fmt.Errorf("%q: %w", address, ErrAddressNoMatch)
	}

	board := 0
	if m[1] != "" {
		b, err := strconv.Atoi(m[1])
		if err != nil {
			return ParsedAddress{}, fmt.Errorf("%q: %w", address, ErrAddressNoMatch)
		}
		board = b
	}

	name := m[3]
	if name == "" {
		name = DefaultDeviceName
	} else if strings.HasPrefix(strings.ToLower(name), "hislip") {
		return ParsedAddress{}, fmt.Errorf("%q is a HiSLIP address: %w", address, ErrAddressNoMatch)
	}

	return ParsedAddress{Board: board, Host: m[2], Device: name}, nil
}
