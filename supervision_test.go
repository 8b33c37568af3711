package actorcell

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRestartPermissionUnlimited(t *testing.T) {
	var stats ChildStats
	now := time.Now()

	for i := 0; i < 100; i++ {
		assert.True(t, stats.requestRestartPermission(-1, 0, now))
	}
	assert.Equal(t, 0, stats.RestartCount())
}

func TestRestartPermissionWithoutWindow(t *testing.T) {
	var stats ChildStats
	now := time.Now()

	// without a window the counter only grows, the budget is for the
	// child's whole lifetime.
	assert.True(t, stats.requestRestartPermission(2, 0, now))
	assert.True(t, stats.requestRestartPermission(2, 0, now.Add(time.Hour)))
	assert.False(t, stats.requestRestartPermission(2, 0, now.Add(2*time.Hour)))
	assert.False(t, stats.requestRestartPermission(2, 0, now.Add(3*time.Hour)))
}

func TestRestartPermissionWindowed(t *testing.T) {
	var stats ChildStats
	base := time.Now()
	window := time.Second

	// first failure opens the window.
	assert.True(t, stats.requestRestartPermission(2, window, base))
	assert.Equal(t, 1, stats.RestartCount())

	// failures inside the window consume the budget.
	assert.True(t, stats.requestRestartPermission(2, window, base.Add(100*time.Millisecond)))
	assert.False(t, stats.requestRestartPermission(2, window, base.Add(200*time.Millisecond)))

	// a failure after the window elapsed resets the count to one. The
	// window start is not slid forward on every failure, a steady drip of
	// failures slower than the window never exhausts the budget.
	assert.True(t, stats.requestRestartPermission(2, window, base.Add(3*time.Second)))
	assert.Equal(t, 1, stats.RestartCount())
}

func TestRestartPermissionZeroBudget(t *testing.T) {
	var stats ChildStats
	now := time.Now()

	assert.False(t, stats.requestRestartPermission(0, 0, now))
	assert.False(t, stats.requestRestartPermission(0, time.Second, now))
}

func TestDeciderOrdering(t *testing.T) {
	type transient struct{}

	decider := Decider{
		DecideOn(func(cause interface{}) bool {
			_, ok := cause.(transient)
			return ok
		}, ResumeDirective),
		DecideOn(anyCause, RestartDirective),
	}

	assert.Equal(t, ResumeDirective, decider.Decide(transient{}))
	assert.Equal(t, RestartDirective, decider.Decide("anything else"))

	// an empty decider escalates everything.
	assert.Equal(t, EscalateDirective, Decider{}.Decide("boom"))
}

func TestStockDeciders(t *testing.T) {
	assert.Equal(t, RestartDirective, RestartDecider.Decide("boom"))
	assert.Equal(t, StopDirective, StopDecider.Decide("boom"))
	assert.Equal(t, ResumeDirective, ResumeDecider.Decide("boom"))
}

func TestDirectiveString(t *testing.T) {
	assert.Equal(t, "Resume", ResumeDirective.String())
	assert.Equal(t, "Restart", RestartDirective.String())
	assert.Equal(t, "Stop", StopDirective.String())
	assert.Equal(t, "Escalate", EscalateDirective.String())
}

func TestJitteredBackoff(t *testing.T) {
	base := 100 * time.Millisecond

	for attempt := 1; attempt <= 6; attempt++ {
		expected := time.Duration(int64(1<<uint(attempt-1)) * int64(base))
		for i := 0; i < 20; i++ {
			got := jitteredBackoff(attempt, base)
			assert.True(t, got > 0)
			assert.True(t, got >= expected-expected/3, "attempt %d: %s below jitter floor", attempt, got)
			assert.True(t, got <= expected+expected/3, "attempt %d: %s above jitter ceiling", attempt, got)
		}
	}

	// a non-positive base falls back to a sane default.
	assert.True(t, jitteredBackoff(1, 0) > 0)
}
