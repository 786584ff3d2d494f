package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/browsergate/browsergate/internal/coord"
	"github.com/browsergate/browsergate/internal/events"
	"github.com/browsergate/browsergate/internal/logging"
	"github.com/browsergate/browsergate/internal/monitoring"
	"github.com/browsergate/browsergate/internal/proc"
	"github.com/browsergate/browsergate/internal/session"
)

// ErrWindowAttach is returned when a freshly created window cannot be
// confirmed by the driver.
var ErrWindowAttach = errors.New("could not attach to the created browser window")

// Windows manages the per-agent window inside the shared browser: creation,
// validation, registration, and cleanup of windows left behind by dead
// agents.
type Windows struct {
	registry *coord.WindowRegistry
	metrics  *monitoring.Metrics
	events   *events.Hub
	log      *logging.Logger
}

// NewWindows creates the window lifecycle manager.
func NewWindows(registry *coord.WindowRegistry, metrics *monitoring.Metrics, hub *events.Hub, log *logging.Logger) *Windows {
	if log == nil {
		log = logging.NewNop()
	}
	return &Windows{registry: registry, metrics: metrics, events: hub, log: log.Component("windows")}
}

// Ensure guarantees the session owns a live, registered window. An existing
// target is validated against both the driver and the registry; anything
// less leads to recreation.
func (w *Windows) Ensure(ctx context.Context, sess *session.Context) error {
	agentTag := sess.EnsureAgentTag()

	if sess.TargetID != "" {
		valid := sess.Driver.ValidateTarget(ctx, sess.TargetID)
		if valid {
			if _, registered := w.registry.Lookup(agentTag); registered {
				return nil
			}
			// Registry entry vanished (another process cleaned it, or
			// the file was reset): the window is considered lost.
			w.log.Warn("registry entry missing for live target; recreating window",
				zap.String("target", sess.TargetID))
		}
		sess.ResetWindowState()
	}

	// Cleanup pass before creating: windows of dead agents are closed so
	// the shared browser does not accumulate orphans.
	removed := w.registry.ScanAndClean(ctx, sess.Driver)
	w.metrics.RegistryCleanups.Inc()
	w.metrics.RegistryRemoved.Add(float64(len(removed)))
	w.metrics.RegistryEntries.Set(float64(w.registry.Count()))
	if len(removed) > 0 {
		w.events.Publish(events.RegistryCleaned, agentTag, map[string]interface{}{"removed": removed})
	}

	targetID, windowID, err := sess.Driver.CreateWindow(ctx)
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	if windowID == 0 {
		if wid, err := sess.Driver.WindowForTarget(ctx, targetID); err == nil {
			windowID = wid
		}
	}

	if err := sess.Driver.ActivateTarget(ctx, targetID); err != nil {
		w.log.Debug("activate target failed", zap.Error(err))
	}
	if !sess.Driver.ValidateTarget(ctx, targetID) {
		return fmt.Errorf("%w: target %s", ErrWindowAttach, targetID)
	}

	sess.TargetID = targetID
	sess.WindowID = windowID
	w.metrics.WindowsCreated.Inc()
	w.events.Publish(events.WindowCreated, agentTag, map[string]interface{}{
		"target_id": targetID,
		"window_id": windowID,
	})

	// Registration failure is logged, never fatal: the window works, and
	// the next Ensure finds no entry, treats the window as lost, and
	// recreates and registers it.
	if err := w.registry.Register(ctx, agentTag, targetID, windowID); err != nil {
		w.log.Warn("window registration failed", zap.Error(err))
	}
	return nil
}

// Close closes the session's window without quitting the browser. Returns
// false when no window was open. Driver and endpoint survive so the same
// process can open another window later.
func (w *Windows) Close(ctx context.Context, sess *session.Context) (bool, error) {
	if sess.TargetID == "" {
		return false, nil
	}
	agentTag := sess.EnsureAgentTag()

	closed := false
	if err := sess.Driver.CloseTarget(ctx, sess.TargetID); err == nil {
		closed = true
	} else {
		// Fallback: activate then close; some builds refuse to close a
		// background target.
		if actErr := sess.Driver.ActivateTarget(ctx, sess.TargetID); actErr == nil {
			if err := sess.Driver.CloseTarget(ctx, sess.TargetID); err == nil {
				closed = true
			}
		}
	}

	if closed {
		if err := w.registry.Unregister(ctx, agentTag); err != nil {
			w.log.Debug("unregister failed", zap.Error(err))
		}
		w.metrics.WindowsClosed.Inc()
		w.events.Publish(events.WindowClosed, agentTag, map[string]interface{}{
			"target_id": sess.TargetID,
		})
	}
	sess.ResetWindowState()
	return closed, nil
}

// CloseExtraBlank closes blank targets that share the session's OS window.
// The filter is strictly the window id: a blank-looking target in any other
// window may belong to another agent.
func (w *Windows) CloseExtraBlank(ctx context.Context, sess *session.Context) int {
	if sess.WindowID == 0 || sess.TargetID == "" {
		return 0
	}
	blank, err := sess.Driver.BlankTargets(ctx, sess.WindowID, sess.TargetID)
	if err != nil {
		w.log.Debug("blank target enumeration failed", zap.Error(err))
		return 0
	}
	closed := 0
	for _, targetID := range blank {
		if err := sess.Driver.CloseTarget(ctx, targetID); err == nil {
			closed++
		}
	}
	return closed
}

// ForceCloseAll quits the driver, kills every browser process using this
// profile's user-data-dir, tears the session down, and removes the
// coordination files. The recovery hammer for a wedged browser.
func (w *Windows) ForceCloseAll(ctx context.Context, sess *session.Context, lock *coord.ActionLock) (killed []int, errs []string) {
	agentTag := sess.EnsureAgentTag()

	if sess.IsDriverInitialized() {
		if err := sess.Driver.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("driver close failed: %v", err))
		}
	}

	procs, err := proc.ScanBrowsers()
	if err != nil {
		errs = append(errs, fmt.Sprintf("process scan failed: %v", err))
	}
	var matched []proc.BrowserProcess
	for _, p := range procs {
		if p.UsesUserDataDir(sess.Profile.UserDataDir) {
			matched = append(matched, p)
		}
	}
	for _, p := range matched {
		if err := proc.Kill(p.PID); err != nil {
			errs = append(errs, fmt.Sprintf("kill %d failed: %v", p.PID, err))
			continue
		}
		killed = append(killed, p.PID)
	}

	sess.TearDown()

	if released := lock.Release(ctx, agentTag); released {
		w.events.Publish(events.LockReleased, agentTag, nil)
	}

	for _, path := range sess.Paths.All() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("remove %s failed: %v", path, err))
		}
	}

	w.log.Info("force-closed browser",
		zap.Ints("killed", killed), zap.Int("errors", len(errs)))
	return killed, errs
}
