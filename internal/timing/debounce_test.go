package timing

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDebouncer_Basic(t *testing.T) {
	clock := NewFake(epoch)
	var callCount atomic.Int32

	d := NewDebouncer(clock, 50*time.Millisecond, func() {
		callCount.Add(1)
	})

	for i := 0; i < 10; i++ {
		d.Call()
		clock.Advance(10 * time.Millisecond)
	}
	assert.Equal(t, int32(0), callCount.Load())

	clock.Advance(50 * time.Millisecond)
	assert.Equal(t, int32(1), callCount.Load())
	assert.False(t, d.IsPending())
}

func TestDebouncer_SpacedCalls(t *testing.T) {
	clock := NewFake(epoch)
	var callCount atomic.Int32

	d := NewDebouncer(clock, 50*time.Millisecond, func() {
		callCount.Add(1)
	})

	for i := 0; i < 3; i++ {
		d.Call()
		clock.Advance(100 * time.Millisecond)
	}

	assert.Equal(t, int32(3), callCount.Load())
}

func TestDebouncer_Cancel(t *testing.T) {
	clock := NewFake(epoch)
	var callCount atomic.Int32

	d := NewDebouncer(clock, 50*time.Millisecond, func() {
		callCount.Add(1)
	})

	d.Call()
	require.True(t, d.IsPending())
	d.Cancel()
	clock.Advance(time.Second)

	assert.Equal(t, int32(0), callCount.Load())
	assert.Equal(t, 0, clock.Pending())
}

func TestDebouncer_Flush(t *testing.T) {
	clock := NewFake(epoch)
	var callCount atomic.Int32

	d := NewDebouncer(clock, 100*time.Millisecond, func() {
		callCount.Add(1)
	})

	d.Call()
	d.Flush()
	assert.Equal(t, int32(1), callCount.Load())

	// The scheduled call was consumed by Flush.
	clock.Advance(time.Second)
	assert.Equal(t, int32(1), callCount.Load())

	// Flush without a pending call is a no-op.
	d.Flush()
	assert.Equal(t, int32(1), callCount.Load())
}

func TestDebouncer_RealClock(t *testing.T) {
	done := make(chan struct{})
	d := NewDebouncer(nil, 10*time.Millisecond, func() {
		close(done)
	})

	d.Call()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced callback never ran")
	}
}
