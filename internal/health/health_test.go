package health

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	d := New()
	assert.Equal(t, 5*time.Second, d.interval)
	assert.Equal(t, 2*time.Second, d.timeout)
	assert.Equal(t, 3, d.threshold)
}

// TestHealthyStaysHealthy exercises the HEALTHY -> HEALTHY probe-ok edge.
func TestHealthyStaysHealthy(t *testing.T) {
	d := New(WithInterval(20 * time.Millisecond), WithThreshold(3))
	d.SetProbeFunc(func(ctx context.Context, url string) bool { return true })

	var failures int32
	d.OnFailure(func(node string) { atomic.AddInt32(&failures, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx, func() map[string]string { return map[string]string{"node-a": "http://node-a"} })
	time.Sleep(80 * time.Millisecond)
	cancel()
	d.Stop()

	rec := d.Snapshot()["node-a"]
	assert.Equal(t, StatusHealthy, rec.Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&failures))
}

// TestFailureThreshold verifies (I4): HEALTHY->FAILED requires >= T
// consecutive probe failures, and emits onFailure exactly once.
func TestFailureThreshold(t *testing.T) {
	d := New(WithInterval(10*time.Millisecond), WithThreshold(3))
	d.SetProbeFunc(func(ctx context.Context, url string) bool { return false })

	var failures int32
	var mu sync.Mutex
	var failedNodes []string
	d.OnFailure(func(node string) {
		atomic.AddInt32(&failures, 1)
		mu.Lock()
		failedNodes = append(failedNodes, node)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx, func() map[string]string { return map[string]string{"node-a": "http://node-a"} })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&failures) >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"node-a"}, failedNodes)

	rec := d.Snapshot()["node-a"]
	assert.Equal(t, StatusFailed, rec.Status)
	assert.NotNil(t, rec.FailedAt)
}

// TestRecoveryResetsFailCount verifies FAILED -> RECOVERED on one
// successful probe, with failCount reset.
func TestRecoveryResetsFailCount(t *testing.T) {
	d := New(WithInterval(10*time.Millisecond), WithThreshold(2))

	var healthy atomic.Bool
	d.SetProbeFunc(func(ctx context.Context, url string) bool { return healthy.Load() })

	var recovered int32
	d.OnRecovery(func(node string) { atomic.AddInt32(&recovered, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx, func() map[string]string { return map[string]string{"node-a": "http://node-a"} })

	require.Eventually(t, func() bool {
		return d.Snapshot()["node-a"].Status == StatusFailed
	}, time.Second, 5*time.Millisecond)

	healthy.Store(true)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&recovered) >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	d.Stop()

	rec := d.Snapshot()["node-a"]
	assert.Equal(t, StatusRecovered, rec.Status)
	assert.Equal(t, 0, rec.FailCount)
}

func TestMarkFailedOver(t *testing.T) {
	d := New()
	d.SetProbeFunc(func(ctx context.Context, url string) bool { return false })
	d.runRound(context.Background(), map[string]string{"node-a": "x"})
	d.runRound(context.Background(), map[string]string{"node-a": "x"})
	d.runRound(context.Background(), map[string]string{"node-a": "x"})

	require.Equal(t, StatusFailed, d.Snapshot()["node-a"].Status)

	d.MarkFailedOver("node-a")
	assert.Equal(t, StatusFailedOver, d.Snapshot()["node-a"].Status)

	// FAILED_OVER -> RECOVERED on next successful probe.
	d.SetProbeFunc(func(ctx context.Context, url string) bool { return true })
	d.runRound(context.Background(), map[string]string{"node-a": "x"})
	assert.Equal(t, StatusRecovered, d.Snapshot()["node-a"].Status)
}

func TestStopPreventsFurtherEvents(t *testing.T) {
	d := New(WithInterval(5 * time.Millisecond))
	d.SetProbeFunc(func(ctx context.Context, url string) bool { return false })

	var failures int32
	d.OnFailure(func(node string) { atomic.AddInt32(&failures, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	go d.Start(ctx, func() map[string]string { return map[string]string{"node-a": "http://node-a"} })
	time.Sleep(30 * time.Millisecond)
	cancel()
	d.Stop()

	countAtStop := atomic.LoadInt32(&failures)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, countAtStop, atomic.LoadInt32(&failures), "no events should fire after Stop")
}
