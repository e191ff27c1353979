package chardev

import "github.com/luhtfiimanal/go-chardev/status"

// Device is the register-level peripheral control object the driver runs
// on top of. Implementations deliver bytes one at a time and raise the
// registered callbacks from interrupt context.
//
// Execution-context discipline is encoded in method names rather than a
// marker parameter: methods with a FromISR suffix are the interrupt-context
// entry points, their unsuffixed counterparts are normal-context only, and
// the polling/transfer methods (CanRead, CanWrite, ReadByte, WriteByte) are
// interrupt-context only. Calling an entry point from the wrong context is
// a contract violation the driver does not detect.
type Device interface {
	// SetCanReadHandler registers the callback raised whenever at least one
	// byte is available to read. The callback polls CanRead/ReadByte until
	// CanRead reports false, and may be raised repeatedly within one
	// interrupt. Registration happens in normal context at driver
	// construction; a nil callback clears the slot at teardown.
	SetCanReadHandler(fn func())

	// SetReadCompleteHandler registers the callback raised when the device
	// terminates a read transfer, successfully or otherwise. After it is
	// raised no further can-read callbacks occur until the next StartRead.
	SetReadCompleteHandler(fn func(status.Status))

	// SetCanWriteHandler registers the callback raised whenever there is
	// space for at least one byte. Same lifecycle as SetCanReadHandler.
	SetCanWriteHandler(fn func())

	// SetWriteCompleteHandler registers the callback raised when the device
	// terminates a write transfer.
	SetWriteCompleteHandler(fn func(status.Status))

	// StartRead begins a read transfer of n bytes and enables read
	// interrupts. Normal context.
	StartRead(n int)

	// StartReadFromISR is StartRead for interrupt context. Used by the
	// queued configuration to chain the next request without returning to
	// normal context.
	StartReadFromISR(n int)

	// CancelRead cancels an in-flight read transfer from normal context.
	// It reports whether a transfer was actually in flight and cancelled;
	// once the device has committed completion it reports false.
	CancelRead() bool

	// CancelReadFromISR is CancelRead for interrupt context. Raised when a
	// read-until predicate matches mid-transfer.
	CancelReadFromISR() bool

	// StartWrite begins a write transfer of n bytes and enables write
	// interrupts. Normal context.
	StartWrite(n int)

	// CancelWrite cancels an in-flight write transfer. Normal context.
	CancelWrite() bool

	// CanRead reports whether at least one byte is available. Interrupt
	// context only; polled in a loop, may report true several times per
	// interrupt. Devices must stop reporting true once the current
	// StartRead length has been delivered.
	CanRead() bool

	// CanWrite reports whether there is space for at least one byte.
	// Interrupt context only. Devices must stop reporting true once the
	// current StartWrite length has been consumed.
	CanWrite() bool

	// ReadByte reads one byte. Interrupt context only; precondition is a
	// preceding true result from CanRead.
	ReadByte() byte

	// WriteByte writes one byte. Interrupt context only; precondition is a
	// preceding true result from CanWrite.
	WriteByte(b byte)

	// Suspend masks read interrupts so normal context can mutate the
	// pending-read queue without interleaving with the interrupt consumer.
	// It reports whether a transfer was in flight (and is now paused);
	// false means the device was idle. Implementations must not return
	// while a read callback is in flight: a false result also promises
	// that no read callback is running or can start before the next
	// StartRead. Normal context; used only by the queued read
	// configuration.
	Suspend() bool

	// Resume unmasks read interrupts after Suspend reported true.
	Resume()
}

// Executor is the event-loop collaborator that runs deferred completion
// handlers in normal context. Both submission paths are non-blocking and
// report whether the handler was accepted; the driver treats a rejected
// post as fatal, since executor capacity is an external provisioning
// contract.
type Executor interface {
	// Post submits a deferred invocation from normal context.
	Post(fn func()) bool

	// PostFromISR submits a deferred invocation from interrupt context.
	PostFromISR(fn func()) bool
}
