package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMockClock_AfterFuncFiresOnAdvance(t *testing.T) {
	c := NewMockClock(epoch)
	fired := 0
	c.AfterFunc(3*time.Second, func() { fired++ })

	c.Advance(2999 * time.Millisecond)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, c.PendingTimers())

	c.Advance(time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, c.PendingTimers())

	c.Advance(10 * time.Second)
	assert.Equal(t, 1, fired, "timer must fire once")
}

func TestMockClock_StoppedTimerDoesNotFire(t *testing.T) {
	c := NewMockClock(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestMockClock_TimersFireInDeadlineOrder(t *testing.T) {
	c := NewMockClock(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestMockClock_TimerMayScheduleAnother(t *testing.T) {
	c := NewMockClock(epoch)
	fired := 0
	c.AfterFunc(time.Second, func() {
		c.AfterFunc(time.Second, func() { fired++ })
	})

	c.Advance(time.Second)
	assert.Equal(t, 0, fired)
	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
}

func TestMockClock_Ticker(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(100 * time.Millisecond)

	c.Advance(50 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(50 * time.Millisecond)
	select {
	case now := <-tk.C():
		assert.Equal(t, epoch.Add(100*time.Millisecond), now)
	default:
		t.Fatal("ticker did not fire")
	}

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_SleepRecorded(t *testing.T) {
	c := NewMockClock(epoch)
	c.Sleep(time.Second)
	c.Sleep(2 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, c.Sleeps())
	assert.Equal(t, epoch, c.Now(), "sleep must not move the clock")
}

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	done := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AfterFunc did not fire")
	}
	assert.GreaterOrEqual(t, c.Since(start), time.Millisecond)
}
