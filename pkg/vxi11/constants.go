// Package vxi11 implements the client side of the VXI-11 TCP/IP
// Instrument Protocol (VXIbus Consortium, Revision 1.0): the Device Core
// channel for link management and message I/O, and the Device Async
// channel for aborting an in-flight operation. Messages ride on ONC RPC
// with XDR encoding.
package vxi11

// VXI-11 program numbers.
const (
	// CoreProgram is the Device Core channel program number
	CoreProgram = 0x0607AF

	// AsyncProgram is the Device Async (abort) channel program number
	AsyncProgram = 0x0607B0

	// IntrProgram is the Device Intr (interrupt) channel program number
	IntrProgram = 0x0607B1
)

// VXI-11 program versions.
const (
	CoreVersion  = 1
	AsyncVersion = 1
	IntrVersion  = 1
)

// Device Core channel procedures.
const (
	ProcCreateLink      = 10
	ProcDeviceWrite     = 11
	ProcDeviceRead      = 12
	ProcDeviceReadSTB   = 13
	ProcDeviceTrigger   = 14
	ProcDeviceClear     = 15
	ProcDeviceRemote    = 16
	ProcDeviceLocal     = 17
	ProcDeviceLock      = 18
	ProcDeviceUnlock    = 19
	ProcDeviceEnableSRQ = 20
	ProcDeviceDoCmd     = 22
	ProcDestroyLink     = 23
	ProcCreateIntrChan  = 25
	ProcDestroyIntrChan = 26
)

// Device Async channel procedures.
const (
	ProcDeviceAbort = 1
)

// Flag carries additional information about how a request is carried
// out (VXI-11 Section B.5.3).
type Flag uint32

const (
	// FlagNull requests default behavior.
	FlagNull Flag = 0x00

	// FlagWaitLock makes the server wait up to the lock timeout for the
	// device lock instead of failing immediately.
	FlagWaitLock Flag = 0x01

	// FlagEnd marks the final chunk of a device_write as the end of the
	// message.
	FlagEnd Flag = 0x08

	// FlagTermChrSet makes device_read stop at the supplied termination
	// character.
	FlagTermChrSet Flag = 0x80
)

// Reasons a device_read completed, reported as a bit set.
const (
	// ReasonReqCnt means the requested byte count was reached.
	ReasonReqCnt = 1

	// ReasonChr means the termination character was matched.
	ReasonChr = 2

	// ReasonEnd means the device signalled the end of the message.
	ReasonEnd = 4
)

// MaxSRQHandle is the longest host-specific handle accepted by
// device_enable_srq.
const MaxSRQHandle = 40
