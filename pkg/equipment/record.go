// Package equipment holds the instrument records the connection layer
// consumes: an address string identifying the transport plus free-form
// connection properties decoded into typed values. A registry provides
// thread-safe lookup of records by alias.
package equipment

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Record describes one piece of equipment.
type Record struct {
	Manufacturer string
	Model        string
	Serial       string
	Connection   ConnectionRecord
}

// ConnectionRecord describes how to communicate with a piece of
// equipment: the VISA-style resource address and backend-specific
// properties.
type ConnectionRecord struct {
	// Address is the resource string, e.g. "TCPIP::10.0.0.5::inst0::INSTR".
	Address string

	// Properties holds backend-specific key/value settings. Keys are
	// lowercase snake_case; see Properties for the keys the VXI-11
	// backend understands.
	Properties map[string]any
}

// Properties are the typed connection settings decoded from a
// ConnectionRecord's free-form map. Durations are expressed in seconds
// so records read naturally in configuration files.
type Properties struct {
	// BufferSize is the maximum number of bytes requested per device_read.
	BufferSize uint32 `mapstructure:"buffer_size"`

	// LockTimeout is the time, in seconds, to wait for the device lock.
	// Negative means wait forever; nil defaults to 0 (do not wait).
	LockTimeout *float64 `mapstructure:"lock_timeout"`

	// MaxReadSize caps the total size of one read message.
	MaxReadSize uint32 `mapstructure:"max_read_size"`

	// Port is the Core channel TCP port. When non-zero the Port Mapper
	// lookup is skipped.
	Port uint16 `mapstructure:"port"`

	// ReadTermination, when non-empty, is the single character a read
	// stops at.
	ReadTermination string `mapstructure:"read_termination"`

	// Timeout is the I/O timeout in seconds. Negative or nil means block
	// indefinitely.
	Timeout *float64 `mapstructure:"timeout"`
}

// Default property values.
const (
	DefaultBufferSize  = 4096
	DefaultMaxReadSize = 1 << 20 // 1 MB
)

// DecodeProperties converts the record's free-form property map into
// typed Properties, applying defaults for anything unset. Values are
// weakly typed: "4096" and 4096 both work, since records often come from
// XML or spreadsheet registries.
func (r ConnectionRecord) DecodeProperties() (Properties, error) {
	props := Properties{
		BufferSize:  DefaultBufferSize,
		MaxReadSize: DefaultMaxReadSize,
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &props,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Properties{}, fmt.Errorf("build properties decoder: %w", err)
	}
	if err := decoder.Decode(r.Properties); err != nil {
		return Properties{}, fmt.Errorf("decode connection properties: %w", err)
	}

	if props.BufferSize == 0 {
		props.BufferSize = DefaultBufferSize
	}
	if props.MaxReadSize == 0 {
		props.MaxReadSize = DefaultMaxReadSize
	}
	if len(props.ReadTermination) > 1 {
		return Properties{}, fmt.Errorf("read_termination must be a single character, got %q", props.ReadTermination)
	}

	return props, nil
}
