package clock

import (
	"testing"
	"time"

	. "github.com/JonasDure/Allied-Mastercomputer/internal/helpers"

	"github.com/stretchr/testify/assert"
)

const tolerance = 200 * time.Millisecond

func assertRoughly(t *testing.T, expected time.Duration, actual time.Duration) {
	t.Helper()
	diff := expected - actual
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, tolerance, "expected %v, got %v", expected, actual)
}

func (c *Clock) setBudgets(white time.Duration, black time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.white = white
	c.black = black
}

func TestConfigure(t *testing.T) {
	c := NewClock(WithLogger(&SilentLogger))
	c.Configure(5, 2)

	white, black := c.Times()
	assert.Equal(t, 300*time.Second, white)
	assert.Equal(t, 300*time.Second, black)
	assert.False(t, c.Running())
}

func TestTickDecrementsActiveSideOnly(t *testing.T) {
	c := NewClock(WithLogger(&SilentLogger))
	c.Configure(1, 0)

	c.Start()
	time.Sleep(500 * time.Millisecond)
	c.Stop()

	white, black := c.Times()
	assertRoughly(t, time.Minute-500*time.Millisecond, white)
	assert.Equal(t, time.Minute, black)
}

func TestStopAppliesRemainder(t *testing.T) {
	c := NewClock(WithLogger(&SilentLogger))
	c.Configure(1, 0)

	// Stop between ticks: the partial tick still has to be charged.
	c.Start()
	time.Sleep(150 * time.Millisecond)
	c.Stop()

	white, _ := c.Times()
	assertRoughly(t, time.Minute-150*time.Millisecond, white)
	assert.False(t, c.Running())
}

func TestStartIsIdempotent(t *testing.T) {
	c := NewClock(WithLogger(&SilentLogger))
	c.Configure(1, 0)

	c.Start()
	c.Start()
	assert.True(t, c.Running())

	c.Stop()
	c.Stop()
	assert.False(t, c.Running())
}

func TestSwitchSideAppliesIncrementToMover(t *testing.T) {
	c := NewClock(WithLogger(&SilentLogger))
	c.Configure(5, 2)

	assert.Equal(t, White, c.Active())

	active := c.SwitchSide()
	assert.Equal(t, Black, active)

	white, black := c.Times()
	assert.Equal(t, 302*time.Second, white)
	assert.Equal(t, 300*time.Second, black)

	active = c.SwitchSide()
	assert.Equal(t, White, active)

	white, black = c.Times()
	assert.Equal(t, 302*time.Second, white)
	assert.Equal(t, 302*time.Second, black)
}

func TestSwitchSideWhileStoppedDoesNotCountDown(t *testing.T) {
	c := NewClock(WithLogger(&SilentLogger))
	c.Configure(5, 2)

	c.SwitchSide()
	time.Sleep(300 * time.Millisecond)

	white, black := c.Times()
	assert.Equal(t, 302*time.Second, white)
	assert.Equal(t, 300*time.Second, black)
}

func TestExpiryStopsClockAndNotifies(t *testing.T) {
	c := NewClock(WithLogger(&SilentLogger))
	c.Configure(1, 0)
	c.setBudgets(300*time.Millisecond, time.Minute)

	c.Start()

	select {
	case loser := <-c.Expired():
		assert.Equal(t, White, loser)
	case <-time.After(2 * time.Second):
		t.Fatal("no expiry notification")
	}

	assert.False(t, c.Running())

	white, black := c.Times()
	assert.Equal(t, time.Duration(0), white)
	assert.Equal(t, time.Minute, black)

	// Stopped clocks stay at zero, never negative.
	time.Sleep(200 * time.Millisecond)
	white, _ = c.Times()
	assert.Equal(t, time.Duration(0), white)
}

func TestFiveTwoScenario(t *testing.T) {
	c := NewClock(WithLogger(&SilentLogger))
	c.Configure(5, 2)

	white, black := c.Times()
	assert.Equal(t, 300*time.Second, white)
	assert.Equal(t, 300*time.Second, black)

	c.Start()
	time.Sleep(1500 * time.Millisecond)
	c.SwitchSide()
	c.Stop()

	// White just moved: spent ~1.5s and earned the 2s increment.
	white, black = c.Times()
	assertRoughly(t, 300*time.Second-1500*time.Millisecond+2*time.Second, white)
	assert.Equal(t, Black, c.Active())
	assertRoughly(t, 300*time.Second, black)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "05:00", FormatTime(300*time.Second))
	assert.Equal(t, "04:59", FormatTime(299900*time.Millisecond))
	assert.Equal(t, "00:00", FormatTime(0))
	assert.Equal(t, "10:05", FormatTime(605*time.Second))
}
