// Package portdev implements the chardev Device interface over any
// byte-stream transport: a go.bug.st/serial port on any platform, an
// io.Pipe in tests, or whatever else exposes io.ReadWriter.
//
// A reader goroutine drains the transport into a small receive buffer (the
// analog of a hardware FIFO) and a dispatcher goroutine plays the
// interrupt context, raising the driver's callbacks as armed transfers
// make progress.
package portdev

import (
	"io"
	"log/slog"
	"sync"

	"go.bug.st/serial"

	"github.com/luhtfiimanal/go-chardev/status"
)

// Device adapts a byte stream to the chardev Device interface.
type Device struct {
	rw     io.ReadWriter
	closer io.Closer
	log    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	notify    chan struct{} // reader -> dispatcher: bytes arrived
	wakeCh    chan struct{} // API -> dispatcher: interest changed

	// cbMu serializes the dispatcher's read callbacks against the
	// Suspend/Resume bracket. Suspend acquires it, so it cannot return
	// while a read callback is in flight; Resume releases it.
	cbMu sync.Mutex

	mu sync.Mutex

	canRead       func()
	readComplete  func(status.Status)
	canWrite      func()
	writeComplete func(status.Status)

	rx            []byte
	rxErr         bool
	readRemaining int
	readActive    bool
	suspended     bool

	writeRemaining int
	writeWindow    int
	writeActive    bool
	writeErr       bool
}

// New wraps an existing byte stream. If rw also implements io.Closer it is
// closed by Close. A nil logger disables logging.
func New(rw io.ReadWriter, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Device{
		rw:     rw,
		log:    logger,
		done:   make(chan struct{}),
		notify: make(chan struct{}, 1),
		wakeCh: make(chan struct{}, 1),
	}
	if c, ok := rw.(io.Closer); ok {
		d.closer = c
	}
	go d.reader()
	go d.dispatcher()
	return d
}

// Open opens a serial port at the given path and baud rate and wraps it.
func Open(path string, baud int, logger *slog.Logger) (*Device, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return New(port, logger), nil
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

// StartRead implements chardev.Device.
func (d *Device) StartRead(n int) {
	d.startRead(n)
	d.wake()
}

// StartReadFromISR implements chardev.Device.
func (d *Device) StartReadFromISR(n int) {
	d.startRead(n)
	d.wake()
}

func (d *Device) startRead(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 {
		panic("portdev: read transfer length must be positive")
	}
	if d.readActive {
		panic("portdev: read transfer already active")
	}
	d.readActive = true
	d.readRemaining = n
}

// CancelRead implements chardev.Device.
func (d *Device) CancelRead() bool { return d.cancelRead() }

// CancelReadFromISR implements chardev.Device.
func (d *Device) CancelReadFromISR() bool { return d.cancelRead() }

func (d *Device) cancelRead() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.readActive || d.readRemaining == 0 {
		// Idle, or completion already committed.
		return false
	}
	d.readActive = false
	d.readRemaining = 0
	return true
}

// CanRead implements chardev.Device.
func (d *Device) CanRead() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readActive && !d.suspended && d.readRemaining > 0 && len(d.rx) > 0
}

// ReadByte implements chardev.Device.
func (d *Device) ReadByte() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.readActive || d.readRemaining == 0 || len(d.rx) == 0 {
		panic("portdev: ReadByte without CanRead")
	}
	b := d.rx[0]
	d.rx = d.rx[1:]
	d.readRemaining--
	return b
}

// Suspend implements chardev.Device. It rendezvouses with the dispatcher:
// by the time it returns, no read callback is in flight, so a false result
// means the read side is idle and settled. A true result keeps the
// dispatcher excluded until Resume.
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

// Resume implements chardev.Device.
func (d *Device) Resume() {
	d.mu.Lock()
	d.suspended = false
	d.mu.Unlock()
	d.cbMu.Unlock()
	d.wake()
}

// StartWrite implements chardev.Device.
func (d *Device) StartWrite(n int) {
	d.mu.Lock()
	if n <= 0 {
		d.mu.Unlock()
		panic("portdev: write transfer length must be positive")
	}
	if d.writeActive {
		d.mu.Unlock()
		panic("portdev: write transfer already active")
	}
	d.writeActive = true
	d.writeRemaining = n
	d.writeWindow = 0
	d.writeErr = false
	d.mu.Unlock()
	d.wake()
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

// CanWrite implements chardev.Device.
func (d *Device) CanWrite() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeActive && d.writeRemaining > 0 && d.writeWindow > 0 && !d.writeErr
}

// WriteByte implements chardev.Device.
func (d *Device) WriteByte(b byte) {
	d.mu.Lock()
	if !d.writeActive || d.writeRemaining == 0 || d.writeWindow == 0 {
		d.mu.Unlock()
		panic("portdev: WriteByte without CanWrite")
	}
	d.mu.Unlock()

	// The transport write may block (io.Pipe does until the peer reads),
	// so it happens outside the lock. Only the dispatcher goroutine calls
	// WriteByte, so the unlocked window cannot interleave with another
	// write.
	buf := [1]byte{b}
	_, err := d.rw.Write(buf[:])

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.writeErr = true
		return
	}
	d.writeRemaining--
	d.writeWindow--
}

// Close stops both goroutines and closes the transport if it is closable.
// Safe to call multiple times.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		if d.closer != nil {
			err = d.closer.Close()
		}
	})
	return err
}

// reader drains the transport into the receive buffer.
func (d *Device) reader() {
	buf := make([]byte, 64)
	for {
		n, err := d.rw.Read(buf)
		if n > 0 {
			d.mu.Lock()
			d.rx = append(d.rx, buf[:n]...)
			d.mu.Unlock()
			d.signal()
		}
		if err != nil {
			d.mu.Lock()
			d.rxErr = true
			d.mu.Unlock()
			d.signal()
			return
		}
		select {
		case <-d.done:
			return
		default:
		}
	}
}

func (d *Device) signal() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Device) wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

// dispatcher is the interrupt context.
func (d *Device) dispatcher() {
	for {
		select {
		case <-d.done:
			return
		case <-d.notify:
		case <-d.wakeCh:
		}
		d.cbMu.Lock()
		d.serviceRead()
		d.cbMu.Unlock()
		d.serviceWrite()
	}
}

func (d *Device) serviceRead() {
	for {
		d.mu.Lock()
		deliverable := d.readActive && !d.suspended && d.readRemaining > 0 && len(d.rx) > 0
		failed := d.readActive && d.rxErr && len(d.rx) == 0
		fn := d.canRead
		d.mu.Unlock()

		if failed {
			d.mu.Lock()
			d.readActive = false
			d.readRemaining = 0
			cb := d.readComplete
			d.mu.Unlock()
			d.log.Debug("portdev read failed")
			if cb != nil {
				cb(status.DeviceError)
			}
			return
		}
		if !deliverable || fn == nil {
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
	}
}

func (d *Device) serviceWrite() {
	d.mu.Lock()
	if !d.writeActive {
		d.mu.Unlock()
		return
	}
	d.writeWindow = d.writeRemaining
	fn := d.canWrite
	d.mu.Unlock()
	if fn != nil {
		fn()
	}

	d.mu.Lock()
	var (
		cb   func(status.Status)
		st   status.Status
		fire bool
	)
	switch {
	case d.writeActive && d.writeErr:
		fire, st = true, status.DeviceError
	case d.writeActive && d.writeRemaining == 0:
		fire, st = true, status.Success
	}
	if fire {
		d.writeActive = false
		d.writeRemaining = 0
		d.writeWindow = 0
		cb = d.writeComplete
	}
	d.mu.Unlock()
	if fire {
		if st.IsError() {
			d.log.Debug("portdev write failed")
		}
		if cb != nil {
			cb(st)
		}
	}
}
