package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAfterFuncFiresOnAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := 0
	c.AfterFunc(100*time.Millisecond, func() { fired++ })

	c.Advance(50 * time.Millisecond)
	assert.Equal(t, 0, fired)

	c.Advance(50 * time.Millisecond)
	assert.Equal(t, 1, fired)

	// One-shot: further advances must not re-fire.
	c.Advance(time.Second)
	assert.Equal(t, 1, fired)
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(100*time.Millisecond, func() { fired = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop(), "second Stop must report already stopped")

	c.Advance(time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeAfterFuncZeroDelayRunsInline(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(0, func() { fired = true })
	assert.True(t, fired)
	assert.False(t, timer.Stop())
}

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	var order []string
	c.AfterFunc(500*time.Millisecond, func() { order = append(order, "late") })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, "early") })

	c.Advance(time.Second)
	assert.Equal(t, []string{"early", "late"}, order)
}

func TestFakeNowTracksAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewFake(start)

	c.Advance(3 * time.Second)
	assert.Equal(t, start.Add(3*time.Second), c.Now())
}
