package connection

import "time"

// Blocking is the sentinel for "wait forever". The wire protocol carries
// timeouts in a bounded 32-bit millisecond field and cannot express true
// infinity, so one day stands in for it, exactly as VXI-11 servers
// expect.
const Blocking = 24 * time.Hour // 86400000 ms

// TimeoutPolicy is the pair of independent VXI-11 timeout budgets: IO
// bounds device I/O completion, Lock bounds waiting for the device lock.
//
// A non-positive IO means block indefinitely. A negative Lock means
// block indefinitely; zero means do not wait for the lock at all.
type TimeoutPolicy struct {
	IO   time.Duration
	Lock time.Duration
}

func (p TimeoutPolicy) effectiveIO() time.Duration {
	if p.IO <= 0 || p.IO > Blocking {
		return Blocking
	}
	return p.IO
}

func (p TimeoutPolicy) effectiveLock() time.Duration {
	if p.Lock < 0 || p.Lock > Blocking {
		return Blocking
	}
	return p.Lock
}

// IOMillis returns the io_timeout wire value in milliseconds.
func (p TimeoutPolicy) IOMillis() uint32 {
	return uint32(p.effectiveIO() / time.Millisecond)
}

// LockMillis returns the lock_timeout wire value in milliseconds.
func (p TimeoutPolicy) LockMillis() uint32 {
	return uint32(p.effectiveLock() / time.Millisecond)
}

// Socket returns the socket-level timeout: one second of slack plus both
// budgets. The slack absorbs RPC and Port Mapper round-trip latency so
// the socket never times out before the VXI-11-level timeout legitimately
// fires server-side.
func (p TimeoutPolicy) Socket() time.Duration {
	return time.Second + p.effectiveIO() + p.effectiveLock()
}
