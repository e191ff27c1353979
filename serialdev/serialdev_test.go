package serialdev

import (
	"context"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/require"

	chardev "github.com/luhtfiimanal/go-chardev"
	"github.com/luhtfiimanal/go-chardev/eventloop"
	"github.com/luhtfiimanal/go-chardev/status"
)

type result struct {
	st status.Status
	n  int
}

// openDriver builds the full stack over a PTY slave: serial device, event
// loop running on its own goroutine, driver wired to both.
func openDriver(t *testing.T, slaveName string, cfg chardev.Config) (*Device, *eventloop.Loop, *chardev.Driver) {
	t.Helper()

	dev, err := Open(Config{Device: slaveName, BaudRate: 115200})
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })

	loop := eventloop.New(16)
	ctx, cancel := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(loopDone)
	}()
	t.Cleanup(func() {
		cancel()
		<-loopDone
	})

	drv := chardev.New(dev, loop, cfg)
	t.Cleanup(drv.Close)
	return dev, loop, drv
}

func TestDriverBasicRead(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	_, _, drv := openDriver(t, slave.Name(), chardev.DefaultConfig())

	buf := make([]byte, 5)
	results := make(chan result, 1)
	drv.AsyncRead(buf, func(st status.Status, n int) {
		results <- result{st, n}
	})

	_, err = master.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case res := <-results:
		require.Equal(t, status.Success, res.st)
		require.Equal(t, 5, res.n)
		require.Equal(t, "hello", string(buf))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for read completion")
	}
}

func TestDriverReadUntilDelimiter(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	_, _, drv := openDriver(t, slave.Name(), chardev.DefaultConfig())

	buf := make([]byte, 16)
	results := make(chan result, 1)
	drv.AsyncReadUntilByte(buf, '\n', func(st status.Status, n int) {
		results <- result{st, n}
	})

	_, err = master.Write([]byte("ping\n"))
	require.NoError(t, err)

	select {
	case res := <-results:
		require.Equal(t, status.Success, res.st)
		require.Equal(t, 5, res.n)
		require.Equal(t, "ping\n", string(buf[:res.n]))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for delimiter")
	}
}

func TestDriverWrite(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	_, _, drv := openDriver(t, slave.Name(), chardev.DefaultConfig())

	fromSlave := make(chan string, 1)
	readErrs := make(chan error, 1)
	go func() {
		buf := make([]byte, 128)
		n, err := master.Read(buf)
		if err != nil {
			readErrs <- err
			return
		}
		fromSlave <- string(buf[:n])
	}()

	results := make(chan result, 1)
	drv.AsyncWrite([]byte("pong\n"), func(st status.Status, n int) {
		results <- result{st, n}
	})

	select {
	case res := <-results:
		require.Equal(t, status.Success, res.st)
		require.Equal(t, 5, res.n)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for write completion")
	}

	select {
	case msg := <-fromSlave:
		require.Equal(t, "pong\n", msg)
	case err := <-readErrs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for master to receive")
	}
}

func TestDriverChatMasterSlave(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	_, _, drv := openDriver(t, slave.Name(), chardev.DefaultConfig())

	// The reply is submitted from the read completion handler, which runs
	// on the loop goroutine, the same place application code would do it.
	buf := make([]byte, 16)
	received := make(chan result, 1)
	replied := make(chan result, 1)
	drv.AsyncReadUntilByte(buf, '\n', func(st status.Status, n int) {
		received <- result{st, n}
		drv.AsyncWrite([]byte("pong\n"), func(st status.Status, n int) {
			replied <- result{st, n}
		})
	})

	fromSlave := make(chan string, 1)
	readErrs := make(chan error, 1)
	go func() {
		buf := make([]byte, 128)
		n, err := master.Read(buf)
		if err != nil {
			readErrs <- err
			return
		}
		fromSlave <- string(buf[:n])
	}()

	_, err = master.Write([]byte("ping\n"))
	require.NoError(t, err)

	select {
	case res := <-received:
		require.Equal(t, status.Success, res.st)
		require.Equal(t, "ping\n", string(buf[:res.n]))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for ping")
	}

	select {
	case res := <-replied:
		require.Equal(t, status.Success, res.st)
		require.Equal(t, 5, res.n)
	case err := <-readErrs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for reply completion")
	}

	select {
	case msg := <-fromSlave:
		require.Equal(t, "pong\n", msg)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for master to receive pong")
	}
}

func TestDriverCancelRead(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	_, loop, drv := openDriver(t, slave.Name(), chardev.DefaultConfig())

	buf := make([]byte, 8)
	results := make(chan result, 1)
	drv.AsyncRead(buf, func(st status.Status, n int) {
		results <- result{st, n}
	})

	// Cancel from the loop goroutine, keeping all driver calls in normal
	// context.
	cancelled := make(chan bool, 1)
	require.True(t, loop.Post(func() { cancelled <- drv.CancelRead() }))

	select {
	case ok := <-cancelled:
		require.True(t, ok)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for cancel")
	}

	select {
	case res := <-results:
		require.Equal(t, status.Aborted, res.st)
		require.Equal(t, 0, res.n)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for aborted completion")
	}

	// Nothing left to cancel.
	require.True(t, loop.Post(func() { cancelled <- drv.CancelRead() }))
	select {
	case ok := <-cancelled:
		require.False(t, ok)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for second cancel")
	}
}

func TestDriverDisconnectFailsRead(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	_, _, drv := openDriver(t, slave.Name(), chardev.DefaultConfig())

	buf := make([]byte, 8)
	results := make(chan result, 1)
	drv.AsyncRead(buf, func(st status.Status, n int) {
		results <- result{st, n}
	})

	// Give the pump a chance to block on the port before disconnecting.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, master.Close())

	select {
	case res := <-results:
		require.Equal(t, status.DeviceError, res.st)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for error after device disconnect")
	}
}

func TestDriverQueuedReads(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	_, loop, drv := openDriver(t, slave.Name(), chardev.Config{ReadQueue: 4, WriteQueue: 1})

	// All submissions run on the loop goroutine. The later ones land while
	// the pump is streaming bytes into the earlier transfers, which is
	// exactly what the suspend bracket has to survive.
	results := make(chan result, 4)
	b1 := make([]byte, 3)
	b2 := make([]byte, 8)
	b3 := make([]byte, 2)
	b4 := make([]byte, 8)
	require.True(t, loop.Post(func() {
		drv.AsyncRead(b1, func(st status.Status, n int) { results <- result{st, n} })
		drv.AsyncReadUntilByte(b2, '\n', func(st status.Status, n int) {
			// Resubmit from the completion handler while delivery is
			// still running.
			drv.AsyncReadUntilByte(b4, '\n', func(st status.Status, n int) {
				results <- result{st, n}
			})
			results <- result{st, n}
		})
		drv.AsyncRead(b3, func(st status.Status, n int) { results <- result{st, n} })
	}))

	_, err = master.Write([]byte("abcde\nfghi\n"))
	require.NoError(t, err)

	var got []result
	for i := 0; i < 4; i++ {
		select {
		case res := <-results:
			got = append(got, res)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for completion %d of 4", i+1)
		}
	}
	require.Equal(t, []result{
		{status.Success, 3},
		{status.Success, 3},
		{status.Success, 2},
		{status.Success, 3},
	}, got, "completions arrive in submission order")
	require.Equal(t, "abc", string(b1))
	require.Equal(t, "de\n", string(b2[:3]))
	require.Equal(t, "fg", string(b3))
	require.Equal(t, "hi\n", string(b4[:3]))
}

func TestDriverCloseWhileArmed(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	dev, err := Open(Config{Device: slave.Name(), BaudRate: 115200})
	require.NoError(t, err)

	loop := eventloop.New(16)
	drv := chardev.New(dev, loop, chardev.DefaultConfig())

	drv.AsyncRead(make([]byte, 8), func(status.Status, int) {})
	drv.Close() // clears the handler slots with the transfer still armed

	// Bytes arriving with no consumer registered leave the pump parked
	// and must not block teardown.
	_, err = master.Write([]byte("late"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- dev.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for close")
	}
}

func TestDeviceCloseIdempotent(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	t.Cleanup(func() { master.Close(); slave.Close() })

	dev, err := Open(Config{Device: slave.Name(), BaudRate: 115200})
	require.NoError(t, err)

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
}
