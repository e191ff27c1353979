// Package simdev provides an in-memory, scriptable implementation of the
// chardev Device interface. It exists so driver users can unit-test
// protocol code without hardware: tests feed receive bytes, grant transmit
// space and inject completion statuses, and the device raises the driver's
// interrupt callbacks synchronously on the calling goroutine.
//
// The goroutine calling Feed, GrantWrite, FailRead or FailWrite plays the
// interrupt context; whatever drains the executor plays the normal
// context. Deterministic single-goroutine tests can play both.
package simdev

import (
	"sync"

	"github.com/luhtfiimanal/go-chardev/status"
)

// Device is a simulated character peripheral. The zero value is ready to
// use.
type Device struct {
	// cbMu serializes read callback delivery against the Suspend/Resume
	// bracket, so Suspend never returns while a read callback is in
	// flight even when another goroutine plays the interrupt context.
	cbMu sync.Mutex

	mu sync.Mutex

	canRead       func()
	readComplete  func(status.Status)
	canWrite      func()
	writeComplete func(status.Status)

	rx            []byte // received bytes not yet consumed by the driver
	readRemaining int    // bytes left in the current read transfer
	readActive    bool
	suspended     bool

	written        []byte // bytes the driver has transmitted
	writeRemaining int    // bytes left in the current write transfer
	writeWindow    int    // transmit space granted by GrantWrite
	writeActive    bool
}

// SetCanReadHandler implements chardev.Device.
func (d *Device) SetCanReadHandler(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canRead = fn
}

// SetReadCompleteHandler implements chardev.Device.
func (d *Device) SetReadCompleteHandler(fn func(status.Status)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readComplete = fn
}

// SetCanWriteHandler implements chardev.Device.
func (d *Device) SetCanWriteHandler(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.canWrite = fn
}

// SetWriteCompleteHandler implements chardev.Device.
func (d *Device) SetWriteCompleteHandler(fn func(status.Status)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeComplete = fn
}

// StartRead arms a read transfer of n bytes. Bytes already fed and not yet
// consumed are delivered immediately, the way a hardware FIFO with pending
// characters interrupts as soon as interrupts are enabled.
func (d *Device) StartRead(n int) {
	d.startRead(n)
	d.deliverRead()
}

// StartReadFromISR arms the next read transfer from within an interrupt
// callback. Pending bytes keep flowing without returning to normal
// context.
func (d *Device) StartReadFromISR(n int) {
	d.startRead(n)
	// Delivery continues inside the enclosing deliverRead loop; starting a
	// nested one here would re-enter the driver's interrupt handler.
}

func (d *Device) startRead(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 {
		panic("simdev: read transfer length must be positive")
	}
	if d.readActive {
		panic("simdev: read transfer already active")
	}
	d.readActive = true
	d.readRemaining = n
}

// CancelRead implements the normal-context cancel. It reports true only
// when a transfer was genuinely in flight.
func (d *Device) CancelRead() bool {
	return d.cancelRead()
}

// CancelReadFromISR implements the interrupt-context cancel used on
// predicate matches. A transfer whose final byte has already been consumed
// is complete at the hardware level and can no longer be cancelled.
func (d *Device) CancelReadFromISR() bool {
	return d.cancelRead()
}

func (d *Device) cancelRead() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.readActive || d.readRemaining == 0 {
		// Idle, or the final byte is already consumed and completion is
		// committed.
		return false
	}
	d.readActive = false
	d.readRemaining = 0
	return true
}

// CanRead implements chardev.Device. Interrupt context only.
func (d *Device) CanRead() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readActive && !d.suspended && d.readRemaining > 0 && len(d.rx) > 0
}

// ReadByte implements chardev.Device. Interrupt context only; precondition
// is a preceding true result from CanRead.
func (d *Device) ReadByte() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.readActive || d.readRemaining == 0 || len(d.rx) == 0 {
		panic("simdev: ReadByte without CanRead")
	}
	b := d.rx[0]
	d.rx = d.rx[1:]
	d.readRemaining--
	return b
}

// Suspend masks read interrupt delivery. Reports whether a transfer was in
// flight and is now paused. It does not return while a read callback is in
// flight; a true result keeps delivery excluded until Resume.
func (d *Device) Suspend() bool {
	d.cbMu.Lock()
	d.mu.Lock()
	if !d.readActive {
		d.mu.Unlock()
		d.cbMu.Unlock()
		return false
	}
	d.suspended = true
	d.mu.Unlock()
	return true
}

// Resume unmasks read interrupt delivery and re-raises the interrupt if
// bytes are waiting.
func (d *Device) Resume() {
	d.mu.Lock()
	d.suspended = false
	d.mu.Unlock()
	d.cbMu.Unlock()
	d.deliverRead()
}

// StartWrite arms a write transfer of n bytes. No byte moves until
// GrantWrite provides transmit space.
func (d *Device) StartWrite(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 {
		panic("simdev: write transfer length must be positive")
	}
	if d.writeActive {
		panic("simdev: write transfer already active")
	}
	d.writeActive = true
	d.writeRemaining = n
	d.writeWindow = 0
}

// CancelWrite implements chardev.Device.
func (d *Device) CancelWrite() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.writeActive || d.writeRemaining == 0 {
		return false
	}
	d.writeActive = false
	d.writeRemaining = 0
	d.writeWindow = 0
	return true
}

// CanWrite implements chardev.Device. Interrupt context only. Space stops
// being reported once the armed transfer length has been consumed.
func (d *Device) CanWrite() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeActive && d.writeRemaining > 0 && d.writeWindow > 0
}

// WriteByte implements chardev.Device. Interrupt context only.
func (d *Device) WriteByte(b byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.writeActive || d.writeRemaining == 0 || d.writeWindow == 0 {
		panic("simdev: WriteByte without CanWrite")
	}
	d.written = append(d.written, b)
	d.writeRemaining--
	d.writeWindow--
}

// Feed appends received bytes and raises the can-read interrupt. Split
// across several Feed calls to simulate bytes arriving over several
// interrupts.
func (d *Device) Feed(p []byte) {
	d.mu.Lock()
	d.rx = append(d.rx, p...)
	d.mu.Unlock()
	d.deliverRead()
}

// Buffered returns the number of fed bytes not yet consumed.
func (d *Device) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.rx)
}

// GrantWrite grants transmit FIFO space for n bytes and raises the
// can-write interrupt. When the granted space completes the armed transfer
// length, the write-complete interrupt follows.
func (d *Device) GrantWrite(n int) {
	d.mu.Lock()
	active := d.writeActive
	if active {
		d.writeWindow += n
	}
	fn := d.canWrite
	d.mu.Unlock()
	if !active || fn == nil {
		return
	}
	fn()

	d.mu.Lock()
	done := d.writeActive && d.writeRemaining == 0
	if done {
		d.writeActive = false
	}
	cb := d.writeComplete
	d.mu.Unlock()
	if done && cb != nil {
		cb(status.Success)
	}
}

// FailRead terminates the in-flight read transfer with the given status,
// raising the read-complete interrupt. Reports false if no transfer was
// active.
func (d *Device) FailRead(st status.Status) bool {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	d.mu.Lock()
	if !d.readActive {
		d.mu.Unlock()
		return false
	}
	d.readActive = false
	d.readRemaining = 0
	cb := d.readComplete
	d.mu.Unlock()
	if cb != nil {
		cb(st)
	}
	return true
}

// FailWrite terminates the in-flight write transfer with the given status,
// raising the write-complete interrupt. Reports false if no transfer was
// active.
func (d *Device) FailWrite(st status.Status) bool {
	d.mu.Lock()
	if !d.writeActive {
		d.mu.Unlock()
		return false
	}
	d.writeActive = false
	d.writeRemaining = 0
	cb := d.writeComplete
	d.mu.Unlock()
	if cb != nil {
		cb(st)
	}
	return true
}

// Written returns a copy of everything the driver has transmitted.
func (d *Device) Written() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.written))
	copy(out, d.written)
	return out
}

// ReadActive reports whether a read transfer is armed.
func (d *Device) ReadActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readActive
}

// WriteActive reports whether a write transfer is armed.
func (d *Device) WriteActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeActive
}

// HandlersInstalled reports whether any interrupt-callback slot is still
// occupied. Driver teardown clears all four.
func (d *Device) HandlersInstalled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.canRead != nil || d.readComplete != nil ||
		d.canWrite != nil || d.writeComplete != nil
}

// deliverRead raises the can-read interrupt while bytes remain deliverable,
// firing read-complete whenever a transfer's length is exhausted. The loop
// covers interrupt-context continuations: a completion handler that starts
// the next queued transfer gets its bytes in the same "interrupt".
func (d *Device) deliverRead() {
	for {
		// A masked device pends the interrupt: the bytes stay buffered and
		// Resume re-raises. Checked before cbMu so feeding a suspended
		// device never blocks on the bracket.
		d.mu.Lock()
		masked := d.suspended
		d.mu.Unlock()
		if masked {
			return
		}

		d.cbMu.Lock()
		d.mu.Lock()
		deliverable := d.readActive && !d.suspended && d.readRemaining > 0 && len(d.rx) > 0
		fn := d.canRead
		d.mu.Unlock()
		if !deliverable || fn == nil {
			d.cbMu.Unlock()
			return
		}
		fn()

		d.mu.Lock()
		done := d.readActive && d.readRemaining == 0
		if done {
			d.readActive = false
		}
		cb := d.readComplete
		d.mu.Unlock()
		if done && cb != nil {
			cb(status.Success)
		}
		d.cbMu.Unlock()
	}
}
