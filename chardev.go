package chardev

// Config selects the driver's request-storage footprint. Capacities are
// fixed at construction; the interrupt path never branches on them.
type Config struct {
	// ReadQueue is the maximum number of pending asynchronous reads.
	// 0 removes read support entirely (no interrupt handlers installed),
	// 1 is a single inline request slot, larger values use a bounded FIFO.
	ReadQueue int

	// WriteQueue is the maximum number of pending asynchronous writes.
	// Only 0 (support removed) and 1 (single slot) exist; writes are never
	// queued.
	WriteQueue int
}

// DefaultConfig returns the common configuration: one pending read, one
// pending write.
func DefaultConfig() Config {
	return Config{ReadQueue: 1, WriteQueue: 1}
}

// noCopy triggers go vet's copylocks check; Driver registers itself with
// the device through callback closures, so a copied value would leave the
// device calling back into the original.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Driver composes the read and write engines over one Device/Executor pair
// and exposes the asynchronous character I/O API. Submission methods
// return immediately; completion handlers run later on the executor's
// normal context, exactly once per request and in submission order per
// direction. Driver must not be copied after construction.
type Driver struct {
	noCopy noCopy

	dev  Device
	exec Executor
	r    readSupport
	w    writeSupport
}

// New wires a driver to the device's four interrupt-callback slots and
// returns it. Engines elided by the configuration install no callbacks.
// Negative capacities and write capacities above one panic.
func New(dev Device, exec Executor, cfg Config) *Driver {
	d := &Driver{dev: dev, exec: exec}

	switch {
	case cfg.ReadQueue < 0:
		panic("chardev: negative Config.ReadQueue")
	case cfg.ReadQueue == 0:
		d.r = readNone{}
	case cfg.ReadQueue == 1:
		d.r = newReadSingle(dev, exec)
	default:
		d.r = newReadQueue(dev, exec, cfg.ReadQueue)
	}

	switch {
	case cfg.WriteQueue < 0:
		panic("chardev: negative Config.WriteQueue")
	case cfg.WriteQueue == 0:
		d.w = writeNone{}
	case cfg.WriteQueue == 1:
		d.w = newWriteSingle(dev, exec)
	default:
		panic("chardev: write queueing beyond one request is not supported")
	}

	return d
}

// AsyncRead reads until the buffer is full. The handler fires exactly once
// with the final status and byte count. The caller keeps ownership of buf
// and must leave it untouched until the handler has run.
//
// Precondition for ReadQueue <= 1: no read outstanding. For larger
// configurations the queue must not be full; submitting past capacity is a
// programming error and panics.
func (d *Driver) AsyncRead(buf []byte, fn CompletionHandler) {
	d.r.asyncReadUntil(buf, nil, fn)
}

// AsyncReadUntil reads until the predicate matches a received byte
// (Success, with the matching byte included in the count), the buffer
// fills without a match (BufferOverflow), or the read is cancelled
// (Aborted). Same preconditions and buffer contract as AsyncRead.
func (d *Driver) AsyncReadUntil(buf []byte, until ReadPredicate, fn CompletionHandler) {
	if until == nil {
		panic("chardev: nil read-until predicate")
	}
	d.r.asyncReadUntil(buf, until, fn)
}

// AsyncReadUntilByte is AsyncReadUntil with an equality predicate on delim.
func (d *Driver) AsyncReadUntilByte(buf []byte, delim byte, fn CompletionHandler) {
	d.AsyncReadUntil(buf, func(b byte) bool { return b == delim }, fn)
}

// CancelRead cancels the current read operation. With no read outstanding
// it is a no-op returning false. Otherwise the device is asked to cancel;
// if it confirms, the front request's handler fires with Aborted and
// CancelRead returns true. A device that already committed completion
// reports false and the completion arrives normally.
func (d *Driver) CancelRead() bool {
	return d.r.cancelRead()
}

// AsyncWrite writes the whole buffer. The handler fires exactly once with
// the final status and byte count. Precondition: no write outstanding.
// The caller keeps ownership of buf and must leave it untouched until the
// handler has run.
func (d *Driver) AsyncWrite(buf []byte, fn CompletionHandler) {
	d.w.asyncWrite(buf, fn)
}

// CancelWrite cancels the current write operation, with the same contract
// shape as CancelRead.
func (d *Driver) CancelWrite() bool {
	return d.w.cancelWrite()
}

// Device returns the underlying device control object.
func (d *Driver) Device() Device { return d.dev }

// Executor returns the event-loop executor completions are posted to.
func (d *Driver) Executor() Executor { return d.exec }

// Close clears all four interrupt-callback slots so no interrupt can fire
// against the driver afterwards. Outstanding requests are not completed;
// cancel them first if their handlers must run.
func (d *Driver) Close() {
	d.r.teardown()
	d.w.teardown()
}
