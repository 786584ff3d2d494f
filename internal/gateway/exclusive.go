package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/browsergate/browsergate/internal/browser"
	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/coord"
	"github.com/browsergate/browsergate/internal/driver"
	"github.com/browsergate/browsergate/internal/events"
	"github.com/browsergate/browsergate/internal/logging"
	"github.com/browsergate/browsergate/internal/monitoring"
	"github.com/browsergate/browsergate/internal/session"
	"github.com/browsergate/browsergate/internal/snapshot"
)

// renewInterval is the cadence of in-flight lock renewal. Well under TTL/2
// so a long handler never silently loses its lease.
const renewInterval = time.Second

// Starter yields a confirmed debug endpoint; the startup arbiter implements it.
type Starter interface {
	Ensure(ctx context.Context) (browser.Endpoint, error)
}

// AttachFunc connects a driver to a confirmed endpoint.
type AttachFunc func(ctx context.Context, host string, port int) (driver.Driver, error)

// ToolOptions declares what a wrapped handler needs before it runs.
type ToolOptions struct {
	Name string
	// NeedsDriver runs the startup arbiter when no driver is attached.
	NeedsDriver bool
	// NeedsWindow validates or creates the per-agent window.
	NeedsWindow bool
	// Snapshot attaches a page snapshot to successful replies.
	Snapshot bool
	// NoActionLock skips the cross-process lease entirely. Only for tools
	// that manage the lease itself (unlock, force_close_all) or read
	// state without driving the browser (get_diagnostics); a normal
	// exit would re-establish an expiring lease and defeat them.
	NoActionLock bool
}

// HandlerFunc is a tool body. It runs with the intra-process lock held, the
// action lock too unless NoActionLock is set, and, when requested, a
// validated window in sess.TargetID.
type HandlerFunc func(ctx context.Context, p Params) Reply

// Deps wires the exclusive-access protocol.
type Deps struct {
	Config   *config.Config
	Session  *session.Context
	Lock     *coord.ActionLock
	Registry *coord.WindowRegistry
	Arbiter  Starter
	Attach   AttachFunc
	Windows  *Windows
	Capturer *snapshot.Capturer
	Metrics  *monitoring.Metrics
	Events   *events.Hub
	Log      *logging.Logger
}

// Exclusive wraps tool handlers in the exclusive-access protocol: config
// validation, intra-process lock, cross-process action lock with in-flight
// renewal, driver/window assurance, snapshot, and guaranteed cleanup on
// every exit path including panics.
type Exclusive struct {
	deps Deps
	log  *logging.Logger
}

// NewExclusive creates the protocol wrapper.
func NewExclusive(deps Deps) *Exclusive {
	log := deps.Log
	if log == nil {
		log = logging.NewNop()
	}
	if deps.Attach == nil {
		deps.Attach = func(ctx context.Context, host string, port int) (driver.Driver, error) {
			return driver.Attach(ctx, host, port, log)
		}
	}
	return &Exclusive{deps: deps, log: log.Component("exclusive")}
}

// Run executes one wrapped tool call.
func (e *Exclusive) Run(ctx context.Context, opts ToolOptions, p Params, handler HandlerFunc) (reply Reply) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if !reply.OK {
			outcome = reply.Error
		}
		e.deps.Metrics.ObserveTool(opts.Name, outcome, start)
	}()

	// Config problems are reported before any lock is touched.
	if err := e.deps.Config.Validate(); err != nil {
		return Fail(ErrConfig, fmt.Sprintf("configuration error: %v; check the profile environment variables", err))
	}

	sess := e.deps.Session
	owner := sess.EnsureAgentTag()

	sess.Intra().Lock()
	defer sess.Intra().Unlock()

	if opts.NoActionLock {
		return e.invoke(ctx, p, handler)
	}

	lockStart := time.Now()
	res := e.deps.Lock.Acquire(ctx, owner, e.deps.Config.ActionLockTTL(), e.deps.Config.ActionLockWait())
	e.deps.Metrics.LockWait.Observe(time.Since(lockStart).Seconds())
	if !res.Acquired {
		e.deps.Metrics.LockAcquisitions.WithLabelValues(res.Reason).Inc()
		return e.busyReply(res)
	}
	e.deps.Metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
	e.deps.Events.Publish(events.LockAcquired, owner, map[string]interface{}{
		"expires_at": res.ExpiresAt,
	})

	if opts.NeedsDriver {
		if errReply := e.ensureDriver(ctx); errReply != nil {
			e.deps.Lock.Release(ctx, owner)
			return *errReply
		}
	}
	if opts.NeedsWindow {
		if err := e.deps.Windows.Ensure(ctx, sess); err != nil {
			e.log.Error("window assurance failed", zap.Error(err))
			sess.ResetWindowState()
			e.deps.Lock.Release(ctx, owner)
			diag := collectDiagnostics(ctx, sess, e.deps.Registry, e.deps.Lock, err)
			return Fail(ErrWindowLost, "browser window was lost and could not be recreated").
				WithDiagnostics(diag)
		}
	}

	// Keep the lease alive while the handler runs. A renewal that comes
	// back false means another owner took over: the handler result is
	// discarded in favor of lock_lost, and no further driver state is
	// trusted.
	var lost atomic.Bool
	stopRenew := make(chan struct{})
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		ticker := time.NewTicker(renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopRenew:
				return
			case <-ticker.C:
				if e.deps.Lock.Renew(context.Background(), owner, e.deps.Config.ActionLockTTL()) {
					e.deps.Metrics.LockRenewals.Inc()
				} else {
					lost.Store(true)
					e.deps.Metrics.LockLost.Inc()
					e.deps.Events.Publish(events.LockLost, owner, nil)
					return
				}
			}
		}
	}()

	reply = e.invoke(ctx, p, handler)

	close(stopRenew)
	<-renewDone

	if lost.Load() {
		diag := collectDiagnostics(ctx, sess, e.deps.Registry, e.deps.Lock, nil)
		return Fail(ErrLockLost, "action lock was taken over during execution").
			WithDiagnostics(diag)
	}

	// Exit renewal instead of release: the lease drains over its TTL, so
	// a rapid sequence of calls from this agent is not interleaved by
	// waiting agents. The unlock tool releases explicitly.
	e.deps.Lock.Renew(context.Background(), owner, e.deps.Config.ActionLockTTL())

	if opts.Snapshot && reply.OK {
		if _, present := reply.Data["snapshot"]; !present {
			snap := e.deps.Capturer.Capture(ctx, sess.Driver, sess.TargetID)
			reply = reply.With("snapshot", snap)
		}
	}
	return reply
}

// invoke runs the handler with panic containment. A panic must surface as
// internal_error, not unwind past the lock cleanup.
func (e *Exclusive) invoke(ctx context.Context, p Params, handler HandlerFunc) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("handler panicked", zap.Any("panic", r))
			reply = Fail(ErrInternal, fmt.Sprintf("handler panicked: %v", r))
		}
	}()
	return handler(ctx, p)
}

// ensureDriver runs the startup arbiter and attaches when needed.
func (e *Exclusive) ensureDriver(ctx context.Context) *Reply {
	sess := e.deps.Session
	if sess.IsDriverInitialized() {
		return nil
	}

	ep, err := e.deps.Arbiter.Ensure(ctx)
	if err != nil {
		e.deps.Metrics.StartupElections.WithLabelValues("failed").Inc()
		diag := collectDiagnostics(ctx, sess, e.deps.Registry, e.deps.Lock, err)
		var code string
		switch {
		case errors.Is(err, browser.ErrStartupContended):
			code = ErrContended
		case errors.Is(err, browser.ErrStartupTimeout):
			code = ErrStartupTO
		default:
			code = ErrDriverInit
		}
		r := Fail(code, err.Error()).WithDiagnostics(diag)
		return &r
	}

	d, err := e.deps.Attach(ctx, ep.Host, ep.Port)
	if err != nil {
		e.deps.Metrics.StartupElections.WithLabelValues("attach_failed").Inc()
		diag := collectDiagnostics(ctx, sess, e.deps.Registry, e.deps.Lock, err)
		r := Fail(ErrDriverInit, "failed to attach to the debuggable browser").WithDiagnostics(diag)
		return &r
	}

	sess.Driver = d
	sess.DebugHost = ep.Host
	sess.DebugPort = ep.Port
	e.deps.Metrics.StartupElections.WithLabelValues("resolved").Inc()
	e.deps.Events.Publish(events.StartupResolved, sess.EnsureAgentTag(), map[string]interface{}{
		"debugger": sess.DebuggerAddress(),
	})
	return nil
}

func (e *Exclusive) busyReply(res coord.AcquireResult) Reply {
	switch res.Reason {
	case "io_error":
		return Fail(ErrIO, "coordination files unreadable or unwritable")
	case "cancelled":
		return Fail(ErrInternal, "request cancelled while waiting for the action lock")
	default:
		return Fail(ErrLockBusy, "another agent holds the browser").
			With("current_owner", res.Owner).
			With("expires_at", res.ExpiresAt)
	}
}
