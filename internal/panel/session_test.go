package panel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellpanel/shellpanel/internal/clock"
)

func newTestRegistry() (*SessionRegistry, *clock.FakeClock) {
	clk := clock.NewFake(time.Unix(0, 0))
	return NewSessionRegistry(clk), clk
}

func TestSetCurrentReplacesPointerAndBumpsEpoch(t *testing.T) {
	r, _ := newTestRegistry()

	e0 := r.Epoch()
	r.SetCurrent("/p/a")
	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "/p/a", cur.ProjectPath)
	assert.Equal(t, StatusPending, cur.Status)
	assert.NotEqual(t, e0, r.Epoch())

	e1 := r.Epoch()
	r.SetCurrent("/p/b")
	cur, _ = r.Current()
	assert.Equal(t, "/p/b", cur.ProjectPath)
	assert.False(t, r.EpochIs(e1), "reselect must invalidate the previous epoch")
}

func TestOnReadyOnlyAppliesToCurrentPath(t *testing.T) {
	r, _ := newTestRegistry()
	r.SetCurrent("/p/a")

	r.OnReady("/p/other")
	cur, _ := r.Current()
	assert.Equal(t, StatusPending, cur.Status, "stale ready must be dropped")

	r.OnReady("/p/a")
	cur, _ = r.Current()
	assert.Equal(t, StatusReady, cur.Status)
}

func TestOnExitedForCurrentTriggersInterruptedHook(t *testing.T) {
	r, _ := newTestRegistry()

	var interrupted []string
	r.OnInterrupted(func(path string) { interrupted = append(interrupted, path) })

	r.SetCurrent("/p/a")
	r.OnReady("/p/a")
	r.OnExited("/p/a", 1)

	cur, ok := r.Current()
	require.True(t, ok, "exited session stays current while recovering")
	assert.Equal(t, StatusRecovering, cur.Status)
	assert.Equal(t, []string{"/p/a"}, interrupted)
}

func TestOnExitedForOtherPathOnlyRefreshes(t *testing.T) {
	r, _ := newTestRegistry()

	var interrupted int
	refreshed := 0
	r.OnInterrupted(func(string) { interrupted++ })
	r.OnRefreshProjects(func() { refreshed++ })

	r.SetCurrent("/p/x")
	r.OnExited("/p/z", 137)

	cur, _ := r.Current()
	assert.Equal(t, StatusPending, cur.Status)
	assert.Zero(t, interrupted)
	assert.Equal(t, 1, refreshed)
}

func TestOnKilledClearsCurrentAndIgnoresLaterReady(t *testing.T) {
	r, _ := newTestRegistry()

	refreshed := 0
	r.OnRefreshProjects(func() { refreshed++ })

	r.SetCurrent("/p/a")
	r.OnKilled("/p/a")

	_, ok := r.Current()
	assert.False(t, ok, "kill must clear the current pointer")
	assert.Equal(t, 1, refreshed)

	// A late ready for the killed path is stale and must not
	// resurrect anything.
	r.OnReady("/p/a")
	_, ok = r.Current()
	assert.False(t, ok)
}

func TestOnKilledForOtherPathKeepsCurrent(t *testing.T) {
	r, _ := newTestRegistry()

	refreshed := 0
	r.OnRefreshProjects(func() { refreshed++ })

	r.SetCurrent("/p/a")
	r.OnKilled("/p/b")

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "/p/a", cur.ProjectPath)
	assert.Equal(t, 1, refreshed, "kill always refreshes project listings")
}
