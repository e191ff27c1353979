package chardev

import (
	"github.com/luhtfiimanal/go-chardev/internal/queue"
	"github.com/luhtfiimanal/go-chardev/status"
)

// readSupport is the read-side capability of the driver. Three
// implementations exist, selected once at construction by Config.ReadQueue,
// so the interrupt path never branches on capacity: readNone (support
// elided), readSingle (one inline request slot) and readQueue (bounded
// FIFO of requests).
type readSupport interface {
	asyncReadUntil(buf []byte, until ReadPredicate, fn CompletionHandler)
	cancelRead() bool
	teardown()
}

// completeStatus resolves the final status for a device-terminated read.
// Without a predicate the device status passes through unchanged. With a
// predicate, a non-error completion whose last byte satisfied the
// predicate is a Success (a delimiter on the very last byte of the buffer
// beats the overflow determination); anything else is a BufferOverflow.
func completeStatus(req *request, st status.Status) status.Status {
	if req.until == nil {
		return st
	}
	if !st.IsError() && req.pos > 0 && req.matched(req.buf[req.pos-1]) {
		return status.Success
	}
	return status.BufferOverflow
}

// zeroSizeStatus is the immediate resolution for a zero-length read: there
// is no byte to test a predicate against, yet no room to hold one either.
func zeroSizeStatus(until ReadPredicate) status.Status {
	if until != nil {
		return status.BufferOverflow
	}
	return status.Success
}

// readNone is the zero-capacity configuration: no request storage, no
// interrupt handlers installed, zero footprint.
type readNone struct{}

func (readNone) asyncReadUntil([]byte, ReadPredicate, CompletionHandler) {
	panic("chardev: read support disabled (Config.ReadQueue is 0)")
}

func (readNone) cancelRead() bool {
	panic("chardev: read support disabled (Config.ReadQueue is 0)")
}

func (readNone) teardown() {}

// readSingle holds at most one pending read in an inline record. Its
// precondition (no submission while one read is outstanding) makes the
// submit/interrupt race impossible by contract, so no suspend/resume
// bracket is needed.
type readSingle struct {
	dev  Device
	exec Executor
	info request
}

func newReadSingle(dev Device, exec Executor) *readSingle {
	r := &readSingle{dev: dev, exec: exec}
	dev.SetCanReadHandler(r.onCanRead)
	dev.SetReadCompleteHandler(r.onReadComplete)
	return r
}

func (r *readSingle) asyncReadUntil(buf []byte, until ReadPredicate, fn CompletionHandler) {
	if r.info.handler != nil {
		panic("chardev: read already outstanding")
	}
	r.info.reset(buf, fn, until)
	if len(buf) == 0 {
		r.info.complete(r.exec, zeroSizeStatus(until), false)
		return
	}
	r.dev.StartRead(len(buf))
}

func (r *readSingle) cancelRead() bool {
	if !r.dev.CancelRead() {
		return false
	}
	r.info.complete(r.exec, status.Aborted, false)
	return true
}

func (r *readSingle) onCanRead() {
	for r.dev.CanRead() {
		if r.info.pos >= len(r.info.buf) {
			panic("chardev: device delivered bytes past the requested read length")
		}
		b := r.dev.ReadByte()
		r.info.buf[r.info.pos] = b
		r.info.pos++

		if r.info.matched(b) {
			if r.dev.CancelReadFromISR() {
				r.info.complete(r.exec, status.Success, true)
			}
			// Cancel failure means the transfer already committed
			// completion; onReadComplete will resolve it.
		}
	}
}

func (r *readSingle) onReadComplete(st status.Status) {
	r.info.complete(r.exec, completeStatus(&r.info, st), true)
}

func (r *readSingle) teardown() {
	r.dev.SetCanReadHandler(nil)
	r.dev.SetReadCompleteHandler(nil)
}

// readQueue holds up to Cap pending reads in a bounded FIFO. The front
// request is the one with a hardware transfer in flight; completions chain
// the next request directly from interrupt context.
type readQueue struct {
	dev  Device
	exec Executor
	q    *queue.Queue[request]
}

func newReadQueue(dev Device, exec Executor, capacity int) *readQueue {
	r := &readQueue{dev: dev, exec: exec, q: queue.New[request](capacity)}
	dev.SetCanReadHandler(r.onCanRead)
	dev.SetReadCompleteHandler(r.onReadComplete)
	return r
}

func (r *readQueue) asyncReadUntil(buf []byte, until ReadPredicate, fn CompletionHandler) {
	// Mask read interrupts while the queue is mutated from normal context.
	// A true result means a transfer is genuinely in flight and merely
	// paused: append only, it will drain the queue itself. A false result
	// means the device was idle: the new request is the sole entry and the
	// transfer starts here.
	suspended := r.dev.Suspend()
	if r.q.Full() {
		panic("chardev: read queue full")
	}
	var req request
	req.reset(buf, fn, until)
	r.q.PushBack(req)

	if suspended {
		r.dev.Resume()
		return
	}

	if r.q.Len() != 1 {
		panic("chardev: read queue not empty with no transfer in flight")
	}
	r.startNext(false)
}

func (r *readQueue) cancelRead() bool {
	if !r.dev.CancelRead() {
		return false
	}
	if r.q.Empty() {
		panic("chardev: device cancelled a read but no request is pending")
	}
	// Only the current operation is addressed; queued requests behind it
	// stay pending and the next one starts immediately.
	req := *r.q.Front()
	r.q.PopFront()
	req.complete(r.exec, status.Aborted, false)
	r.startNext(false)
	return true
}

// startNext starts a hardware transfer for the front request, resolving
// zero-length requests immediately along the way.
func (r *readQueue) startNext(fromISR bool) {
	for !r.q.Empty() {
		req := r.q.Front()
		if len(req.buf) == 0 {
			req.complete(r.exec, zeroSizeStatus(req.until), fromISR)
			r.q.PopFront()
			continue
		}
		if fromISR {
			r.dev.StartReadFromISR(len(req.buf))
		} else {
			r.dev.StartRead(len(req.buf))
		}
		break
	}
}

func (r *readQueue) onCanRead() {
	if r.q.Empty() {
		panic("chardev: can-read interrupt with no pending read")
	}
	for r.dev.CanRead() {
		if r.q.Empty() {
			panic("chardev: device kept delivering after the last pending read")
		}
		req := r.q.Front()
		if req.pos >= len(req.buf) {
			panic("chardev: device delivered bytes past the requested read length")
		}
		b := r.dev.ReadByte()
		req.buf[req.pos] = b
		req.pos++

		if req.matched(b) {
			if r.dev.CancelReadFromISR() {
				done := *req
				r.q.PopFront()
				done.complete(r.exec, status.Success, true)
				r.startNext(true)
			}
		}
	}
}

func (r *readQueue) onReadComplete(st status.Status) {
	if r.q.Empty() {
		panic("chardev: read-complete interrupt with no pending read")
	}
	// The finished request leaves the queue before its completion is
	// posted, so a handler that runs straight away can never find its own
	// request still at the front.
	req := *r.q.Front()
	r.q.PopFront()
	req.complete(r.exec, completeStatus(&req, st), true)
	r.startNext(true)
}

func (r *readQueue) teardown() {
	r.dev.SetCanReadHandler(nil)
	r.dev.SetReadCompleteHandler(nil)
}
