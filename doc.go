// Package chardev implements an asynchronous, callback-driven I/O driver
// for character-oriented peripherals such as UARTs.
//
// The driver sits between a byte-at-a-time device control object (the
// Device interface) and application code that wants non-blocking reads and
// writes with "read until delimiter" early termination. Bytes move one at
// a time inside the device's interrupt callbacks; completion handlers are
// posted to an event-loop executor and only ever run in its normal
// context. There are no locks and no per-byte allocation in the transfer
// path: correctness comes from static configuration and an explicit
// suspend/resume bracket around queue mutation.
//
// Features:
//   - Asynchronous reads and writes with exactly-once completion handlers
//   - Read-until: per-byte predicate or single-delimiter early termination
//   - Compile-style capacity configuration: read support elided, single
//     slot, or bounded FIFO of pending reads; writes never queue
//   - Device-confirmed cancellation with Aborted completions
//   - Linux serial backend (serialdev), portable stream backend (portdev)
//     and a scripted in-memory device (simdev) for tests
//
// Example usage:
//
//	loop := eventloop.New(16)
//	dev, err := serialdev.Open(serialdev.Config{Device: "/dev/ttyUSB0", BaudRate: 115200})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	drv := chardev.New(dev, loop, chardev.DefaultConfig())
//	defer drv.Close()
//
//	line := make([]byte, 256)
//	drv.AsyncReadUntilByte(line, '\n', func(st status.Status, n int) {
//	    fmt.Printf("got %d bytes, status %v\n", n, st)
//	})
//
//	go loop.Run(context.Background())
//
// The caller owns every buffer it submits and must keep it valid and
// unmodified until the matching handler has run.
package chardev
