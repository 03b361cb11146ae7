package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	clock := NewFake(epoch)
	var order []string

	clock.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	clock.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	clock.AfterFunc(20*time.Millisecond, func() { order = append(order, "b") })

	clock.Advance(25 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, epoch.Add(25*time.Millisecond), clock.Now())

	clock.Advance(5 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, 0, clock.Pending())
}

func TestFake_NowDuringCallback(t *testing.T) {
	clock := NewFake(epoch)
	var seen time.Time

	clock.AfterFunc(10*time.Millisecond, func() { seen = clock.Now() })
	clock.Advance(time.Second)

	assert.Equal(t, epoch.Add(10*time.Millisecond), seen)
	assert.Equal(t, epoch.Add(time.Second), clock.Now())
}

func TestFake_RescheduleFromCallback(t *testing.T) {
	clock := NewFake(epoch)
	fired := 0

	var tick func()
	tick = func() {
		fired++
		if fired < 3 {
			clock.AfterFunc(10*time.Millisecond, tick)
		}
	}
	clock.AfterFunc(10*time.Millisecond, tick)

	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 3, fired)
}

func TestFake_Stop(t *testing.T) {
	clock := NewFake(epoch)
	fired := false

	timer := clock.AfterFunc(10*time.Millisecond, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	clock.Advance(time.Second)
	assert.False(t, fired)
}
