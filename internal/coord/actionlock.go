package coord

import (
	"context"
	"errors"
	"time"

	"github.com/browsergate/browsergate/internal/logging"
	"github.com/browsergate/browsergate/internal/profile"
	"go.uber.org/zap"
)

// Poll interval while waiting for a busy action lock.
const lockPollInterval = 50 * time.Millisecond

// Mutex wait while mutating the softlock inside an acquire loop. Short so a
// stuck mutex cannot eat the whole acquire budget in one step.
const softlockMutexWait = 5 * time.Second

// LockState is the on-disk softlock document.
type LockState struct {
	Owner     string  `json:"owner"`
	ExpiresAt float64 `json:"expires_at"`
}

// AcquireResult reports the outcome of an acquire attempt. When Acquired is
// false, Owner/ExpiresAt describe the holder so callers can surface a
// deterministic busy reply.
type AcquireResult struct {
	Acquired  bool
	Owner     string
	ExpiresAt float64
	Reason    string // "busy", "mutex_timeout", "io_error", or "cancelled" when not acquired
}

// Heartbeater receives a liveness signal piggybacked on lock renewal.
type Heartbeater interface {
	Heartbeat(agentTag string)
}

// ActionLock is the durable, TTL-leased, owner-tagged lease on the right to
// drive the shared browser. All mutations of the softlock file happen under
// its file mutex; expiry makes a crashed owner's lease reclaimable.
type ActionLock struct {
	paths      profile.Paths
	mutex      *FileMutex
	heartbeats Heartbeater
	now        func() time.Time
	log        *logging.Logger
}

// NewActionLock creates the action lock for one profile key. heartbeats may
// be nil when renewal should not piggyback registry liveness.
func NewActionLock(paths profile.Paths, mutexStale time.Duration, heartbeats Heartbeater, log *logging.Logger) *ActionLock {
	if log == nil {
		log = logging.NewNop()
	}
	return &ActionLock{
		paths:      paths,
		mutex:      NewFileMutex(paths.SoftlockMutex(), mutexStale, log),
		heartbeats: heartbeats,
		now:        time.Now,
		log:        log.Component("actionlock"),
	}
}

// Acquire obtains the lease for owner, waiting up to wait. The lease is
// granted when the softlock is absent, expired, or already held by owner
// (re-entrant refresh). On timeout the holder's identity is returned.
func (l *ActionLock) Acquire(ctx context.Context, owner string, ttl, wait time.Duration) AcquireResult {
	deadline := l.now().Add(wait)
	last := AcquireResult{Acquired: false, Reason: "busy"}

	for {
		res, err := l.tryAcquire(ctx, owner, ttl, deadline)
		switch {
		case err == nil && res.Acquired:
			return res
		case err == nil:
			last = res
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			last.Reason = "cancelled"
			return last
		default:
			// Mutex timeout or I/O trouble. Keep retrying inside the
			// budget; report the best-effort holder on final failure.
			l.log.Debug("acquire attempt failed", zap.Error(err))
			last = l.peek()
			if errors.Is(err, ErrMutexTimeout) {
				last.Reason = "mutex_timeout"
			} else {
				last.Reason = "io_error"
			}
		}

		if l.now().After(deadline) {
			return last
		}
		select {
		case <-ctx.Done():
			last.Reason = "cancelled"
			return last
		case <-time.After(lockPollInterval):
		}
	}
}

func (l *ActionLock) tryAcquire(ctx context.Context, owner string, ttl time.Duration, deadline time.Time) (AcquireResult, error) {
	mutexWait := softlockMutexWait
	if remaining := time.Until(deadline); remaining < mutexWait {
		mutexWait = remaining
	}
	if mutexWait < mutexPollInterval {
		mutexWait = mutexPollInterval
	}

	var res AcquireResult
	err := withMutex(ctx, l.mutex, mutexWait, func() error {
		var state LockState
		readJSON(l.paths.Softlock(), &state)

		now := float64(l.now().UnixNano()) / float64(time.Second)
		if state.Owner == "" || state.ExpiresAt <= now || state.Owner == owner {
			next := LockState{Owner: owner, ExpiresAt: now + ttl.Seconds()}
			if err := writeJSONAtomic(l.paths.Softlock(), next); err != nil {
				return err
			}
			res = AcquireResult{Acquired: true, Owner: owner, ExpiresAt: next.ExpiresAt}
			return nil
		}

		res = AcquireResult{
			Acquired:  false,
			Owner:     state.Owner,
			ExpiresAt: state.ExpiresAt,
			Reason:    "busy",
		}
		return nil
	})
	return res, err
}

// Renew extends the lease when owner still holds it, or when the lease has
// expired (reclaim). Returns false when another owner has taken over; the
// caller must stop driving the browser. A successful renew piggybacks the
// registry heartbeat.
func (l *ActionLock) Renew(ctx context.Context, owner string, ttl time.Duration) bool {
	renewed := false
	err := withMutex(ctx, l.mutex, time.Second, func() error {
		var state LockState
		readJSON(l.paths.Softlock(), &state)

		now := float64(l.now().UnixNano()) / float64(time.Second)
		if state.Owner == owner || state.ExpiresAt <= now {
			next := LockState{Owner: owner, ExpiresAt: now + ttl.Seconds()}
			if err := writeJSONAtomic(l.paths.Softlock(), next); err != nil {
				return err
			}
			renewed = true
		}
		return nil
	})
	if err != nil {
		l.log.Debug("renew failed", zap.String("owner", owner), zap.Error(err))
		return false
	}
	if renewed && l.heartbeats != nil {
		l.heartbeats.Heartbeat(owner)
	}
	return renewed
}

// Release clears the lease when owner holds it. A non-owner release is a
// silent no-op so a late releaser cannot clobber a successor's lease.
func (l *ActionLock) Release(ctx context.Context, owner string) bool {
	released := false
	err := withMutex(ctx, l.mutex, softlockMutexWait, func() error {
		var state LockState
		if !readJSON(l.paths.Softlock(), &state) {
			return nil
		}
		if state.Owner != owner {
			return nil
		}
		if err := writeJSONAtomic(l.paths.Softlock(), LockState{}); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		l.log.Debug("release failed", zap.String("owner", owner), zap.Error(err))
		return false
	}
	return released
}

// peek reads the softlock without the mutex, for diagnostics on failure paths.
func (l *ActionLock) peek() AcquireResult {
	var state LockState
	readJSON(l.paths.Softlock(), &state)
	return AcquireResult{Acquired: false, Owner: state.Owner, ExpiresAt: state.ExpiresAt}
}

// Holder returns the current lease state without mutating it.
func (l *ActionLock) Holder() LockState {
	var state LockState
	readJSON(l.paths.Softlock(), &state)
	return state
}
