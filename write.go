package chardev

import "github.com/luhtfiimanal/go-chardev/status"

// writeSupport is the write-side capability of the driver. Only two
// configurations exist: elided (writeNone) and a single slot (writeSingle).
// There is deliberately no queued variant; a second write may not be
// submitted until the first completes or is cancelled.
type writeSupport interface {
	asyncWrite(buf []byte, fn CompletionHandler)
	cancelWrite() bool
	teardown()
}

// writeNone is the zero-capacity configuration: no interrupt handlers
// installed, zero footprint.
type writeNone struct{}

func (writeNone) asyncWrite([]byte, CompletionHandler) {
	panic("chardev: write support disabled (Config.WriteQueue is 0)")
}

func (writeNone) cancelWrite() bool {
	panic("chardev: write support disabled (Config.WriteQueue is 0)")
}

func (writeNone) teardown() {}

// writeSingle holds at most one pending write in an inline record.
type writeSingle struct {
	dev  Device
	exec Executor
	info request
}

func newWriteSingle(dev Device, exec Executor) *writeSingle {
	w := &writeSingle{dev: dev, exec: exec}
	dev.SetCanWriteHandler(w.onCanWrite)
	dev.SetWriteCompleteHandler(w.onWriteComplete)
	return w
}

func (w *writeSingle) asyncWrite(buf []byte, fn CompletionHandler) {
	if w.info.handler != nil {
		panic("chardev: write already outstanding")
	}
	w.info.reset(buf, fn, nil)
	if len(buf) == 0 {
		w.info.complete(w.exec, status.Success, false)
		return
	}
	w.dev.StartWrite(len(buf))
}

func (w *writeSingle) cancelWrite() bool {
	if !w.dev.CancelWrite() {
		return false
	}
	w.info.complete(w.exec, status.Aborted, false)
	return true
}

func (w *writeSingle) onCanWrite() {
	for w.dev.CanWrite() {
		if w.info.pos >= len(w.info.buf) {
			panic("chardev: device signalled write space past the requested length")
		}
		w.dev.WriteByte(w.info.buf[w.info.pos])
		w.info.pos++
	}
}

func (w *writeSingle) onWriteComplete(st status.Status) {
	// No predicate logic on the write side; the device status stands.
	w.info.complete(w.exec, st, true)
}

func (w *writeSingle) teardown() {
	w.dev.SetCanWriteHandler(nil)
	w.dev.SetWriteCompleteHandler(nil)
}
