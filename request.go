package chardev

import "github.com/luhtfiimanal/go-chardev/status"

// CompletionHandler receives the terminal outcome of one asynchronous
// request: the status and the number of bytes actually transferred. It is
// invoked exactly once per request, always from the executor's normal
// context, never inline from a submission call.
type CompletionHandler func(st status.Status, n int)

// ReadPredicate is the per-byte early-termination test for read-until
// requests. Returning true completes the read with Success.
type ReadPredicate func(b byte) bool

// request is the state of one in-flight read or write operation. The
// engine owning it is the only mutator: pos advances exclusively in
// interrupt context, population happens in the submitting context, and the
// record is dead the moment its completion is dispatched.
type request struct {
	buf     []byte
	pos     int
	handler CompletionHandler
	until   ReadPredicate // reads only; nil means fill until buffer full
}

func (r *request) reset(buf []byte, handler CompletionHandler, until ReadPredicate) {
	if handler == nil {
		panic("chardev: nil completion handler")
	}
	r.buf = buf
	r.pos = 0
	r.handler = handler
	r.until = until
}

// matched reports whether b satisfies the request's predicate. Always
// false for plain reads and writes.
func (r *request) matched(b byte) bool {
	return r.until != nil && r.until(b)
}

// complete binds the stored handler with the final status and byte count
// and hands it to the executor, via the interrupt-safe path when fromISR
// is set. The handler slot is emptied before posting so a record can never
// be dispatched twice; dispatching an empty record or overrunning the
// executor is a broken-collaborator contract and panics.
func (r *request) complete(exec Executor, st status.Status, fromISR bool) {
	if r.pos < 0 || r.pos > len(r.buf) {
		panic("chardev: request cursor outside buffer bounds")
	}
	handler := r.handler
	if handler == nil {
		panic("chardev: completion dispatched with no handler")
	}
	r.handler = nil
	n := r.pos

	var posted bool
	bound := func() { handler(st, n) }
	if fromISR {
		posted = exec.PostFromISR(bound)
	} else {
		posted = exec.Post(bound)
	}
	if !posted {
		panic("chardev: executor rejected completion, queue under-provisioned")
	}
}
