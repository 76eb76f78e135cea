package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(threshold int, recovery time.Duration) (*Registry, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	r := New(Config{FailureThreshold: threshold, RecoveryTimeout: recovery}, WithClock(clk.Now))
	return r, clk
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	r, _ := newTestRegistry(3, time.Minute)

	for i := 0; i < 2; i++ {
		r.Record("lp-1", false)
		require.True(t, r.Check("lp-1"), "should stay closed below threshold")
	}
	r.Record("lp-1", false)

	assert.Equal(t, Open, r.StateOf("lp-1"))
	assert.False(t, r.Check("lp-1"))
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	r, _ := newTestRegistry(3, time.Minute)

	r.Record("lp-1", false)
	r.Record("lp-1", false)
	r.Record("lp-1", true)
	r.Record("lp-1", false)
	r.Record("lp-1", false)

	assert.Equal(t, Closed, r.StateOf("lp-1"))
}

func TestHalfOpenAllowsSingleTrial(t *testing.T) {
	r, clk := newTestRegistry(1, 30*time.Second)

	r.Record("lp-1", false)
	require.Equal(t, Open, r.StateOf("lp-1"))
	require.False(t, r.Check("lp-1"))

	clk.Advance(30 * time.Second)

	assert.True(t, r.Check("lp-1"), "first check after recovery allows the trial")
	assert.Equal(t, HalfOpen, r.StateOf("lp-1"))
	assert.False(t, r.Check("lp-1"), "second trial denied while first in flight")
}

func TestFailedTrialReopensAndRestartsTimer(t *testing.T) {
	r, clk := newTestRegistry(1, 30*time.Second)

	r.Record("lp-1", false)
	clk.Advance(30 * time.Second)
	require.True(t, r.Check("lp-1"))

	r.Record("lp-1", false)
	assert.Equal(t, Open, r.StateOf("lp-1"))

	clk.Advance(29 * time.Second)
	assert.False(t, r.Check("lp-1"), "timer restarted on failed trial")
	clk.Advance(time.Second)
	assert.True(t, r.Check("lp-1"))
}

func TestSuccessfulTrialClosesAndResets(t *testing.T) {
	r, clk := newTestRegistry(2, 30*time.Second)

	r.Record("lp-1", false)
	r.Record("lp-1", false)
	clk.Advance(30 * time.Second)
	require.True(t, r.Check("lp-1"))

	r.Record("lp-1", true)
	assert.Equal(t, Closed, r.StateOf("lp-1"))

	// counter was reset: one more failure must not trip the breaker
	r.Record("lp-1", false)
	assert.Equal(t, Closed, r.StateOf("lp-1"))
}

func TestReleaseFreesAbandonedTrialSlot(t *testing.T) {
	r, clk := newTestRegistry(1, 30*time.Second)

	r.Record("lp-1", false)
	clk.Advance(30 * time.Second)
	require.True(t, r.Check("lp-1"), "recovery admits the trial")
	require.False(t, r.Check("lp-1"), "slot taken while the trial runs")

	// the trial was cancelled before finishing; without the release the
	// venue would be denied forever
	r.Release("lp-1")

	assert.Equal(t, HalfOpen, r.StateOf("lp-1"))
	assert.True(t, r.Check("lp-1"), "released slot admits a new trial")
	r.Record("lp-1", true)
	assert.Equal(t, Closed, r.StateOf("lp-1"))
}

func TestReleaseOutsideHalfOpenIsNoop(t *testing.T) {
	r, _ := newTestRegistry(2, time.Minute)

	r.Release("lp-1")
	assert.Equal(t, Closed, r.StateOf("lp-1"))

	r.Record("lp-1", false)
	r.Record("lp-1", false)
	r.Release("lp-1")
	assert.Equal(t, Open, r.StateOf("lp-1"))
}

func TestVenuesAreIndependent(t *testing.T) {
	r, _ := newTestRegistry(1, time.Minute)

	r.Record("lp-1", false)
	assert.False(t, r.Check("lp-1"))
	assert.True(t, r.Check("lp-2"))
}

func TestConcurrentRecords(t *testing.T) {
	r, _ := newTestRegistry(1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Record("lp-1", false)
				r.Check("lp-1")
			}
		}()
	}
	wg.Wait()

	snap := r.SnapshotOf("lp-1")
	assert.Equal(t, int64(800), snap.Total, "no lost updates")
}

func TestSnapshotSuccessRate(t *testing.T) {
	r, _ := newTestRegistry(10, time.Minute)

	r.Record("lp-1", true)
	r.Record("lp-1", true)
	r.Record("lp-1", false)
	r.Record("lp-1", true)

	snap := r.SnapshotOf("lp-1")
	assert.InDelta(t, 0.75, snap.SuccessRate, 1e-9)
}
