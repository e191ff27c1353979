package eventloop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostOrdering(t *testing.T) {
	loop := New(8)

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		require.True(t, loop.Post(func() { order = append(order, i) }))
	}
	assert.Equal(t, 5, loop.Pending())

	ran := loop.RunOnce()
	assert.Equal(t, 5, ran)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, loop.Pending())
}

func TestPostRejectsWhenFull(t *testing.T) {
	loop := New(2)

	require.True(t, loop.Post(func() {}))
	require.True(t, loop.PostFromISR(func() {}))
	require.False(t, loop.Post(func() {}))
	require.False(t, loop.PostFromISR(func() {}))

	loop.RunOnce()
	require.True(t, loop.Post(func() {}), "capacity frees up after draining")
}

func TestPostNilPanics(t *testing.T) {
	loop := New(1)
	require.Panics(t, func() { loop.Post(nil) })
}

func TestRunStopsOnContextCancel(t *testing.T) {
	loop := New(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	ran := make(chan struct{})
	require.True(t, loop.Post(func() { close(ran) }))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for posted handler")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Run to return")
	}
}

func TestStopUnblocksRun(t *testing.T) {
	loop := New(4)

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	loop.Stop()
	loop.Stop() // idempotent

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Run to return after Stop")
	}
}

func TestInvalidCapacityPanics(t *testing.T) {
	require.Panics(t, func() { New(0) })
}
