// Package status defines the completion status values reported by the
// go-chardev driver to asynchronous completion handlers.
package status

import "errors"

// Sentinel errors matching the non-success status values. Err() maps a
// Status onto these so callers can use errors.Is on the result.
var (
	// ErrBufferOverflow indicates a read-until request exhausted its buffer
	// without the predicate matching.
	ErrBufferOverflow = errors.New("buffer overflow")

	// ErrAborted indicates the operation was cancelled by an explicit
	// cancel call.
	ErrAborted = errors.New("operation aborted")

	// ErrOverrun indicates the hardware receive buffer overran.
	ErrOverrun = errors.New("hardware overrun")

	// ErrParity indicates a parity error on the wire.
	ErrParity = errors.New("parity error")

	// ErrFraming indicates a framing error on the wire.
	ErrFraming = errors.New("framing error")

	// ErrBreak indicates a break condition on the line.
	ErrBreak = errors.New("break condition")

	// ErrDevice indicates an unspecified device-level failure.
	ErrDevice = errors.New("device error")
)

// Status is the terminal outcome of one asynchronous read or write request.
// It is delivered exactly once per request through the completion handler,
// never as a propagated error.
type Status uint8

const (
	// Success means the operation's termination condition was satisfied:
	// buffer filled for plain reads and writes, predicate matched for
	// read-until.
	Success Status = iota

	// BufferOverflow means a read-until request filled its buffer without
	// the predicate matching.
	BufferOverflow

	// Aborted means the operation was cancelled.
	Aborted

	// Overrun, ParityError, FramingError and BreakError are hardware
	// conditions reported by the device on completion and passed through
	// to the handler.
	Overrun
	ParityError
	FramingError
	BreakError

	// DeviceError is any other device-level failure.
	DeviceError
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case BufferOverflow:
		return "buffer overflow"
	case Aborted:
		return "aborted"
	case Overrun:
		return "overrun"
	case ParityError:
		return "parity error"
	case FramingError:
		return "framing error"
	case BreakError:
		return "break"
	case DeviceError:
		return "device error"
	default:
		return "unknown"
	}
}

// IsError reports whether the status represents anything but Success.
func (s Status) IsError() bool {
	return s != Success
}

// Err returns the sentinel error matching the status, or nil for Success.
func (s Status) Err() error {
	switch s {
	case Success:
		return nil
	case BufferOverflow:
		return ErrBufferOverflow
	case Aborted:
		return ErrAborted
	case Overrun:
		return ErrOverrun
	case ParityError:
		return ErrParity
	case FramingError:
		return ErrFraming
	case BreakError:
		return ErrBreak
	default:
		return ErrDevice
	}
}
