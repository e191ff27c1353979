// Package serialdev implements the chardev Device interface on top of a
// Linux serial port, using raw termios configuration and a poll(2)-driven
// pump goroutine. The pump goroutine plays the interrupt context: it
// raises the driver's can-read/can-write callbacks when the port is ready
// and the completion callbacks when an armed transfer length is exhausted.
//
// This package does not support Windows.
package serialdev

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/luhtfiimanal/go-chardev/status"
)

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device   string
	BaudRate int

	// Logger receives debug records for open/close/cancel and transfer
	// failures, never per-byte events. Nil disables logging.
	Logger *slog.Logger
}

// Device adapts a Linux serial port to the chardev Device interface.
// It is created by Open and torn down by Close.
type Device struct {
	fd        int
	file      *os.File
	cfg       Config
	log       *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
	pipeR     int // self-pipe read fd, wakes the pump
	pipeW     int

	// cbMu serializes the pump's read callbacks against the Suspend/Resume
	// bracket. Suspend acquires it, so it cannot return while a read
	// callback is in flight; Resume releases it.
	cbMu sync.Mutex

	mu sync.Mutex

	canRead       func()
	readComplete  func(status.Status)
	canWrite      func()
	writeComplete func(status.Status)

	readRemaining int
	readActive    bool
	suspended     bool
	hold          byte // one-byte lookahead taken from the kernel buffer
	holdValid     bool
	readErr       bool

	writeRemaining int
	writeWindow    int
	writeActive    bool
	writeErr       bool
}

// Open opens a serial port using the provided Config, puts it in raw,
// low-latency mode and starts the interrupt pump. The returned Device is
// idle until a driver arms a transfer.
func Open(cfg Config) (*Device, error) {
	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cflag |= unix.CS8

	// Baud rate
	baud := baudToUnix(cfg.BaudRate)
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud

	// VMIN=1, VTIME=0 for immediate, non-buffered reads
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("set termios: %w", err)
	}

	// Back to blocking mode now that config is done
	syscall.SetNonblock(fd, false)

	// Self-pipe: wakes the pump on interest changes and teardown
	pipeFds := make([]int, 2)
	if err := unix.Pipe(pipeFds); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pipe: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	d := &Device{
		fd:    fd,
		file:  os.NewFile(uintptr(fd), cfg.Device),
		cfg:   cfg,
		log:   log,
		done:  make(chan struct{}),
		pipeR: pipeFds[0],
		pipeW: pipeFds[1],
	}
	d.log.Debug("serialdev open", "device", cfg.Device, "baud", cfg.BaudRate)
	go d.pump()
	return d, nil
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

// StartRead arms a read transfer of n bytes and enables read interest in
// the pump.
func (d *Device) StartRead(n int) {
	d.startRead(n)
	d.wake()
}

// StartReadFromISR arms the next read transfer from within a pump
// callback.
func (d *Device) StartReadFromISR(n int) {
	d.startRead(n)
	d.wake()
}

func (d *Device) startRead(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 {
		panic("serialdev: read transfer length must be positive")
	}
	if d.readActive {
		panic("serialdev: read transfer already active")
	}
	d.readActive = true
	d.readRemaining = n
	d.readErr = false
}

// CancelRead implements the normal-context cancel.
func (d *Device) CancelRead() bool { return d.cancelRead() }

// CancelReadFromISR implements the interrupt-context cancel raised on
// predicate matches.
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
	d.holdValid = false
	d.log.Debug("serialdev read cancelled", "device", d.cfg.Device)
	return true
}

// CanRead implements chardev.Device. It maintains a one-byte lookahead so
// a positive answer guarantees the following ReadByte cannot block.
func (d *Device) CanRead() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.readActive || d.suspended || d.readRemaining == 0 || d.readErr {
		return false
	}
	if d.holdValid {
		return true
	}
	avail, err := unix.IoctlGetInt(d.fd, unix.TIOCINQ)
	if err != nil || avail == 0 {
		d.readErr = err != nil
		return false
	}
	var b [1]byte
	n, err := unix.Read(d.fd, b[:])
	if err != nil || n != 1 {
		d.readErr = true
		return false
	}
	d.hold = b[0]
	d.holdValid = true
	return true
}

// ReadByte implements chardev.Device. Precondition: CanRead reported true.
func (d *Device) ReadByte() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.holdValid || d.readRemaining == 0 {
		panic("serialdev: ReadByte without CanRead")
	}
	d.holdValid = false
	d.readRemaining--
	return d.hold
}

// Suspend masks read interrupt delivery for the queue-mutation bracket. It
// rendezvouses with the pump: by the time it returns, no read callback is
// in flight, so a false result means the read side is idle and settled.
// A true result keeps the pump excluded until Resume.
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

// Resume unmasks read interrupt delivery and releases the pump.
func (d *Device) Resume() {
	d.mu.Lock()
	d.suspended = false
	d.mu.Unlock()
	d.cbMu.Unlock()
	d.wake()
}

// StartWrite arms a write transfer of n bytes and enables write interest
// in the pump.
func (d *Device) StartWrite(n int) {
	d.mu.Lock()
	if n <= 0 {
		d.mu.Unlock()
		panic("serialdev: write transfer length must be positive")
	}
	if d.writeActive {
		d.mu.Unlock()
		panic("serialdev: write transfer already active")
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
	d.log.Debug("serialdev write cancelled", "device", d.cfg.Device)
	return true
}

// CanWrite implements chardev.Device.
func (d *Device) CanWrite() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeActive && d.writeRemaining > 0 && d.writeWindow > 0 && !d.writeErr
}

// WriteByte implements chardev.Device. Precondition: CanWrite reported
// true.
func (d *Device) WriteByte(b byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.writeActive || d.writeRemaining == 0 || d.writeWindow == 0 {
		panic("serialdev: WriteByte without CanWrite")
	}
	buf := [1]byte{b}
	n, err := unix.Write(d.fd, buf[:])
	if err != nil || n != 1 {
		d.writeErr = true
		return
	}
	d.writeRemaining--
	d.writeWindow--
}

// Close tears the pump down and closes the port. Safe to call multiple
// times; subsequent calls are no-ops.
func (d *Device) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.done)
		// Wake the pump via the self-pipe
		if d.pipeW > 0 {
			unix.Write(d.pipeW, []byte{1})
		}
		if d.file != nil {
			err = d.file.Close()
		}
		if d.pipeR > 0 {
			unix.Close(d.pipeR)
		}
		if d.pipeW > 0 {
			unix.Close(d.pipeW)
		}
		d.log.Debug("serialdev closed", "device", d.cfg.Device)
	})
	return err
}

// pump is the interrupt context. It polls the port for readiness matching
// the armed transfers and raises the registered callbacks. One goroutine,
// one level of "interrupt" at a time.
func (d *Device) pump() {
	for {
		d.mu.Lock()
		var events int16
		// No read interest without a registered consumer; a readable port
		// with cleared handlers would otherwise spin the pump.
		if d.readActive && !d.suspended && d.readRemaining > 0 && !d.readErr && d.canRead != nil {
			events |= unix.POLLIN
		}
		if d.writeActive && d.writeRemaining > 0 && !d.writeErr {
			events |= unix.POLLOUT
		}
		held := d.holdValid
		d.mu.Unlock()

		pfd := []unix.PollFd{
			{Fd: int32(d.fd), Events: events},
			{Fd: int32(d.pipeR), Events: unix.POLLIN},
		}
		// A held lookahead byte is already readable without polling.
		timeout := -1
		if held && events&unix.POLLIN != 0 {
			timeout = 0
		}
		if _, err := unix.Poll(pfd, timeout); err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}

		select {
		case <-d.done:
			return
		default:
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			// Drain the wake byte and re-evaluate interest.
			var b [1]byte
			unix.Read(d.pipeR, b[:])
			continue
		}

		hup := pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0
		if events&unix.POLLIN != 0 && (pfd[0].Revents&unix.POLLIN != 0 || held || hup) {
			d.cbMu.Lock()
			d.serviceRead(hup)
			d.cbMu.Unlock()
		}
		if events&unix.POLLOUT != 0 && (pfd[0].Revents&unix.POLLOUT != 0 || hup) {
			d.serviceWrite(hup)
		}
	}
}

// serviceRead raises one can-read interrupt and resolves any completion it
// produced.
func (d *Device) serviceRead(hup bool) {
	d.mu.Lock()
	if hup {
		d.readErr = true
	}
	fn := d.canRead
	d.mu.Unlock()
	if fn != nil && !hup {
		fn()
	}

	d.mu.Lock()
	var (
		cb   func(status.Status)
		st   status.Status
		fire bool
	)
	switch {
	case d.readActive && d.readErr:
		fire, st = true, status.DeviceError
	case d.readActive && d.readRemaining == 0:
		fire, st = true, status.Success
	}
	if fire {
		d.readActive = false
		d.readRemaining = 0
		cb = d.readComplete
	}
	d.mu.Unlock()
	if fire {
		if st.IsError() {
			d.log.Debug("serialdev read failed", "device", d.cfg.Device, "status", st)
		}
		if cb != nil {
			cb(st)
		}
	}
}

// serviceWrite raises one can-write interrupt and resolves any completion
// it produced.
func (d *Device) serviceWrite(hup bool) {
	d.mu.Lock()
	if hup {
		d.writeErr = true
	}
	if d.writeActive {
		d.writeWindow = d.writeRemaining
	}
	fn := d.canWrite
	d.mu.Unlock()
	if fn != nil && !hup {
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
			d.log.Debug("serialdev write failed", "device", d.cfg.Device, "status", st)
		}
		if cb != nil {
			cb(st)
		}
	}
}

// wake forces the pump out of poll so it re-evaluates interest.
func (d *Device) wake() {
	select {
	case <-d.done:
		return
	default:
	}
	unix.Write(d.pipeW, []byte{0})
}

func baudToUnix(baud int) uint32 {
	switch baud {
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	default:
		return unix.B115200 // fallback
	}
}
