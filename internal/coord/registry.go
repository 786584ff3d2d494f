package coord

import (
	"context"
	"os"
	"time"

	"github.com/browsergate/browsergate/internal/logging"
	"github.com/browsergate/browsergate/internal/proc"
	"github.com/browsergate/browsergate/internal/profile"
	"go.uber.org/zap"
)

// registryMutexWait bounds registry read-modify-write sections.
const registryMutexWait = 5 * time.Second

// WindowEntry records which browser window an agent owns.
type WindowEntry struct {
	TargetID      string  `json:"target_id"`
	WindowID      int     `json:"window_id"`
	PID           int     `json:"pid"`
	CreatedAt     float64 `json:"created_at"`
	LastHeartbeat float64 `json:"last_heartbeat"`
}

// TargetCloser is the slice of the driver the registry cleanup needs:
// enumerate live target ids and close one best-effort.
type TargetCloser interface {
	ListTargetIDs(ctx context.Context) (map[string]bool, error)
	CloseTarget(ctx context.Context, targetID string) error
}

// WindowRegistry persists the agent-tag → window mapping for one profile
// key. Mutations are read-modify-write under a dedicated file mutex so
// registry churn never contends with softlock churn.
type WindowRegistry struct {
	paths profile.Paths
	mutex *FileMutex
	stale time.Duration
	alive func(pid int) bool
	now   func() time.Time
	log   *logging.Logger
}

// NewWindowRegistry creates the registry for one profile key.
func NewWindowRegistry(paths profile.Paths, mutexStale, entryStale time.Duration, log *logging.Logger) *WindowRegistry {
	if log == nil {
		log = logging.NewNop()
	}
	return &WindowRegistry{
		paths: paths,
		mutex: NewFileMutex(paths.WindowRegistryMutex(), mutexStale, log),
		stale: entryStale,
		alive: proc.Alive,
		now:   time.Now,
		log:   log.Component("registry"),
	}
}

// Register inserts or replaces the entry for agentTag, stamped with the
// current pid and fresh timestamps.
func (r *WindowRegistry) Register(ctx context.Context, agentTag, targetID string, windowID int) error {
	return r.mutate(ctx, func(reg map[string]WindowEntry) {
		now := r.unixNow()
		reg[agentTag] = WindowEntry{
			TargetID:      targetID,
			WindowID:      windowID,
			PID:           os.Getpid(),
			CreatedAt:     now,
			LastHeartbeat: now,
		}
	})
}

// Heartbeat refreshes the liveness stamp for agentTag. A missing entry is a
// silent no-op; the window may have been cleaned up concurrently.
func (r *WindowRegistry) Heartbeat(agentTag string) {
	err := r.mutate(context.Background(), func(reg map[string]WindowEntry) {
		entry, ok := reg[agentTag]
		if !ok {
			return
		}
		entry.LastHeartbeat = r.unixNow()
		reg[agentTag] = entry
	})
	if err != nil {
		r.log.Debug("heartbeat failed", zap.String("agent", agentTag), zap.Error(err))
	}
}

// Unregister removes the entry for agentTag.
func (r *WindowRegistry) Unregister(ctx context.Context, agentTag string) error {
	return r.mutate(ctx, func(reg map[string]WindowEntry) {
		delete(reg, agentTag)
	})
}

// Lookup returns the entry for agentTag, if present.
func (r *WindowRegistry) Lookup(agentTag string) (WindowEntry, bool) {
	reg := r.Read()
	entry, ok := reg[agentTag]
	return entry, ok
}

// Read returns the current registry contents. Absent file reads as empty.
func (r *WindowRegistry) Read() map[string]WindowEntry {
	reg := make(map[string]WindowEntry)
	readJSON(r.paths.WindowRegistry(), &reg)
	return reg
}

// Count returns the number of registered windows.
func (r *WindowRegistry) Count() int {
	return len(r.Read())
}

// ScanAndClean removes entries whose owning pid is dead, whose heartbeat is
// older than the staleness threshold, or whose target no longer exists in
// the browser. Targets of removed entries are closed best-effort. A failure
// on one entry never blocks the rest. Returns the removed agent tags.
func (r *WindowRegistry) ScanAndClean(ctx context.Context, targets TargetCloser) []string {
	var known map[string]bool
	if targets != nil {
		if t, err := targets.ListTargetIDs(ctx); err == nil {
			known = t
		}
		// On error known stays nil: skip the target-existence check
		// rather than mass-remove entries on a flaky driver call.
	}

	var removed []string
	err := r.mutate(ctx, func(reg map[string]WindowEntry) {
		now := r.unixNow()
		for agentTag, entry := range reg {
			reason := ""
			switch {
			case entry.TargetID == "":
				reason = "no_target"
			case !r.alive(entry.PID):
				reason = "dead_pid"
			case now-entry.LastHeartbeat > r.stale.Seconds():
				reason = "stale_heartbeat"
			case known != nil && !known[entry.TargetID]:
				reason = "target_gone"
			}
			if reason == "" {
				continue
			}

			r.log.Info("removing registry entry",
				zap.String("agent", agentTag),
				zap.String("target", entry.TargetID),
				zap.Int("pid", entry.PID),
				zap.String("reason", reason))

			if targets != nil && reason != "target_gone" && entry.TargetID != "" {
				if err := targets.CloseTarget(ctx, entry.TargetID); err != nil {
					r.log.Debug("orphan target close failed",
						zap.String("target", entry.TargetID), zap.Error(err))
				}
			}

			delete(reg, agentTag)
			removed = append(removed, agentTag)
		}
	})
	if err != nil {
		r.log.Warn("registry cleanup failed", zap.Error(err))
	}
	return removed
}

func (r *WindowRegistry) mutate(ctx context.Context, fn func(map[string]WindowEntry)) error {
	return withMutex(ctx, r.mutex, registryMutexWait, func() error {
		reg := make(map[string]WindowEntry)
		readJSON(r.paths.WindowRegistry(), &reg)
		fn(reg)
		return writeJSONAtomic(r.paths.WindowRegistry(), reg)
	})
}

func (r *WindowRegistry) unixNow() float64 {
	return float64(r.now().UnixNano()) / float64(time.Second)
}
