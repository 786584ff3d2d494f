package coord

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/browsergate/browsergate/internal/logging"
	"github.com/browsergate/browsergate/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaths(t *testing.T) profile.Paths {
	t.Helper()
	paths, err := profile.NewPaths(t.TempDir(), "testkey")
	require.NoError(t, err)
	return paths
}

func testLock(t *testing.T) *ActionLock {
	t.Helper()
	return NewActionLock(testPaths(t), time.Minute, nil, logging.NewNop())
}

func TestAcquireFresh(t *testing.T) {
	l := testLock(t)

	res := l.Acquire(context.Background(), "agent:1", 30*time.Second, time.Second)
	require.True(t, res.Acquired)
	assert.Equal(t, "agent:1", res.Owner)
	assert.InDelta(t, float64(time.Now().Unix())+30, res.ExpiresAt, 2)
}

func TestAcquireBusy(t *testing.T) {
	l := testLock(t)

	res := l.Acquire(context.Background(), "agent:1", 30*time.Second, time.Second)
	require.True(t, res.Acquired)

	res = l.Acquire(context.Background(), "agent:2", 30*time.Second, 300*time.Millisecond)
	assert.False(t, res.Acquired)
	assert.Equal(t, "busy", res.Reason)
	assert.Equal(t, "agent:1", res.Owner)
	assert.Greater(t, res.ExpiresAt, float64(0))
}

func TestAcquireReentrant(t *testing.T) {
	l := testLock(t)

	first := l.Acquire(context.Background(), "agent:1", 30*time.Second, time.Second)
	require.True(t, first.Acquired)

	second := l.Acquire(context.Background(), "agent:1", 30*time.Second, time.Second)
	require.True(t, second.Acquired)
	assert.GreaterOrEqual(t, second.ExpiresAt, first.ExpiresAt)
}

func TestAcquireReclaimsExpired(t *testing.T) {
	l := testLock(t)

	// Pre-write an expired lease from a dead owner.
	expired := LockState{Owner: "agent:99999", ExpiresAt: float64(time.Now().Unix()) - 10}
	require.NoError(t, writeJSONAtomic(l.paths.Softlock(), expired))

	res := l.Acquire(context.Background(), "agent:1", 30*time.Second, time.Second)
	require.True(t, res.Acquired)
	assert.Equal(t, "agent:1", res.Owner)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	l := testLock(t)

	res := l.Acquire(context.Background(), "agent:1", 30*time.Second, time.Second)
	require.True(t, res.Acquired)

	go func() {
		time.Sleep(150 * time.Millisecond)
		l.Release(context.Background(), "agent:1")
	}()

	res = l.Acquire(context.Background(), "agent:2", 30*time.Second, 5*time.Second)
	assert.True(t, res.Acquired, "waiter should win after release")
}

func TestRenewOwner(t *testing.T) {
	l := testLock(t)

	first := l.Acquire(context.Background(), "agent:1", 2*time.Second, time.Second)
	require.True(t, first.Acquired)

	time.Sleep(50 * time.Millisecond)
	assert.True(t, l.Renew(context.Background(), "agent:1", 30*time.Second))

	// Renewed expiry never decreases.
	state := l.Holder()
	assert.GreaterOrEqual(t, state.ExpiresAt, first.ExpiresAt)
	assert.True(t, l.Renew(context.Background(), "agent:1", 30*time.Second))
	assert.GreaterOrEqual(t, l.Holder().ExpiresAt, state.ExpiresAt)
}

func TestRenewNonOwnerFails(t *testing.T) {
	l := testLock(t)

	require.True(t, l.Acquire(context.Background(), "agent:1", 30*time.Second, time.Second).Acquired)
	assert.False(t, l.Renew(context.Background(), "agent:2", 30*time.Second))
	assert.Equal(t, "agent:1", l.Holder().Owner)
}

func TestReleaseNonOwnerNoop(t *testing.T) {
	l := testLock(t)

	require.True(t, l.Acquire(context.Background(), "agent:1", 30*time.Second, time.Second).Acquired)

	before := l.Holder()
	assert.False(t, l.Release(context.Background(), "agent:2"))
	assert.Equal(t, before, l.Holder(), "non-owner release must not mutate the softlock")
}

func TestReleaseOwnerEmptiesLock(t *testing.T) {
	l := testLock(t)

	require.True(t, l.Acquire(context.Background(), "agent:1", 30*time.Second, time.Second).Acquired)
	assert.True(t, l.Release(context.Background(), "agent:1"))

	state := l.Holder()
	assert.Empty(t, state.Owner)
	assert.Zero(t, state.ExpiresAt)
}

func TestReleaseAbsentLock(t *testing.T) {
	l := testLock(t)
	assert.False(t, l.Release(context.Background(), "agent:1"))
}

// Mutual exclusion under interleaved acquire/release from many goroutines:
// no two distinct owners hold the lease at the same instant.
func TestAcquireMutualExclusion(t *testing.T) {
	paths := testPaths(t)

	var (
		mu     sync.Mutex
		holder string
	)

	var wg sync.WaitGroup
	owners := []string{"agent:a", "agent:b", "agent:c", "agent:d"}
	for _, owner := range owners {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			// Each goroutine gets its own lock instance, as separate
			// processes would.
			l := NewActionLock(paths, time.Minute, nil, logging.NewNop())
			for i := 0; i < 5; i++ {
				res := l.Acquire(context.Background(), owner, 30*time.Second, 10*time.Second)
				if !res.Acquired {
					continue
				}
				mu.Lock()
				if holder != "" {
					t.Errorf("owner %s acquired while %s held", owner, holder)
				}
				holder = owner
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				holder = ""
				mu.Unlock()
				l.Release(context.Background(), owner)
			}
		}(owner)
	}
	wg.Wait()
}

func TestRenewPiggybacksHeartbeat(t *testing.T) {
	paths := testPaths(t)

	beats := &recordingHeartbeater{}
	l := NewActionLock(paths, time.Minute, beats, logging.NewNop())

	require.True(t, l.Acquire(context.Background(), "agent:1", 30*time.Second, time.Second).Acquired)
	require.True(t, l.Renew(context.Background(), "agent:1", 30*time.Second))

	assert.Equal(t, []string{"agent:1"}, beats.seen)

	// A failed renew must not heartbeat.
	assert.False(t, l.Renew(context.Background(), "agent:2", 30*time.Second))
	assert.Equal(t, []string{"agent:1"}, beats.seen)
}

func TestSoftlockSurvivesGarbage(t *testing.T) {
	l := testLock(t)

	require.NoError(t, os.WriteFile(l.paths.Softlock(), []byte("{not json"), 0o644))

	res := l.Acquire(context.Background(), "agent:1", 30*time.Second, time.Second)
	assert.True(t, res.Acquired, "unparseable softlock reads as absent")
}

type recordingHeartbeater struct {
	seen []string
}

func (r *recordingHeartbeater) Heartbeat(agentTag string) {
	r.seen = append(r.seen, agentTag)
}
