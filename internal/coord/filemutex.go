package coord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/browsergate/browsergate/internal/logging"
	"go.uber.org/zap"
)

// Poll interval while waiting for a sentinel file to disappear.
const mutexPollInterval = 50 * time.Millisecond

// ErrMutexTimeout is returned when a mutex could not be acquired within the
// caller's wait budget.
var ErrMutexTimeout = errors.New("timed out waiting for file mutex")

// FileMutex is an advisory cross-process mutex backed by exclusive creation
// of a sentinel file. It provides best-effort exclusion for short critical
// sections (atomic file rewrites, startup election); it is not a kernel
// mutex. A sentinel whose mtime is older than the staleness threshold is
// assumed to belong to a crashed process and is stolen.
type FileMutex struct {
	path  string
	stale time.Duration
	log   *logging.Logger
}

// NewFileMutex creates a mutex on the given sentinel path.
func NewFileMutex(path string, stale time.Duration, log *logging.Logger) *FileMutex {
	if log == nil {
		log = logging.NewNop()
	}
	return &FileMutex{path: path, stale: stale, log: log}
}

// Acquire blocks until the sentinel is created exclusively, the context is
// cancelled, or wait elapses. The returned release function deletes the
// sentinel; it tolerates the sentinel having been stolen in the meantime.
func (m *FileMutex) Acquire(ctx context.Context, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)

	for {
		f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return m.release, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create mutex sentinel %s: %w", m.path, err)
		}

		// Sentinel exists. A crashed holder never deletes it, so steal
		// once the mtime crosses the staleness threshold.
		if st, statErr := os.Stat(m.path); statErr == nil {
			if time.Since(st.ModTime()) > m.stale {
				m.log.Warn("stealing stale file mutex",
					zap.String("path", m.path),
					zap.Duration("age", time.Since(st.ModTime())))
				os.Remove(m.path)
				continue
			}
		} else if os.IsNotExist(statErr) {
			continue // released between create and stat; retry immediately
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrMutexTimeout, m.path)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(mutexPollInterval):
		}
	}
}

// release deletes the sentinel. Deletion failure because another process
// stole the lock is silent: the steal already transferred ownership.
func (m *FileMutex) release() {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		m.log.Debug("mutex sentinel removal failed", zap.String("path", m.path), zap.Error(err))
	}
}

// withMutex runs fn while holding the mutex.
func withMutex(ctx context.Context, m *FileMutex, wait time.Duration, fn func() error) error {
	release, err := m.Acquire(ctx, wait)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
