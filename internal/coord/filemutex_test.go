package coord

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/browsergate/browsergate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMutex(t *testing.T, stale time.Duration) *FileMutex {
	t.Helper()
	return NewFileMutex(filepath.Join(t.TempDir(), "test.mutex"), stale, logging.NewNop())
}

func TestFileMutexAcquireRelease(t *testing.T) {
	m := testMutex(t, time.Minute)

	release, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	_, err = os.Stat(m.path)
	assert.NoError(t, err, "sentinel should exist while held")

	release()
	_, err = os.Stat(m.path)
	assert.True(t, os.IsNotExist(err), "sentinel should be gone after release")
}

func TestFileMutexContention(t *testing.T) {
	m := testMutex(t, time.Minute)

	release, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	_, err = m.Acquire(context.Background(), 200*time.Millisecond)
	assert.ErrorIs(t, err, ErrMutexTimeout)

	release()
	release2, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	release2()
}

func TestFileMutexStealsStale(t *testing.T) {
	m := testMutex(t, 100*time.Millisecond)

	require.NoError(t, os.WriteFile(m.path, nil, 0o644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(m.path, old, old))

	release, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err, "stale sentinel should be stolen")
	release()
}

func TestFileMutexReleaseToleratesSteal(t *testing.T) {
	m := testMutex(t, time.Minute)

	release, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	// Another process stole the lock and removed the sentinel.
	require.NoError(t, os.Remove(m.path))

	release() // must not panic or error
}

func TestFileMutexCancellation(t *testing.T) {
	m := testMutex(t, time.Minute)

	release, err := m.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err = m.Acquire(ctx, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileMutexMutualExclusion(t *testing.T) {
	m := testMutex(t, time.Minute)

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				release, err := m.Acquire(context.Background(), 5*time.Second)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen, "at most one holder at a time")
}
