package gateway

import (
	"context"
	"runtime"
	"time"

	"github.com/browsergate/browsergate/internal/coord"
	"github.com/browsergate/browsergate/internal/session"
)

// Diagnostics summarizes the session and coordination state for error
// replies and the get_diagnostics tool.
type Diagnostics struct {
	OS                string `json:"os"`
	Arch              string `json:"arch"`
	GoVersion         string `json:"go_version"`
	Channel           string `json:"channel"`
	UserDataDir       string `json:"user_data_dir"`
	ProfileName       string `json:"profile_name"`
	Debugger          string `json:"debugger,omitempty"`
	BrowserVersion    string `json:"browser_version,omitempty"`
	DriverInitialized bool   `json:"driver_initialized"`
	WindowReady       bool   `json:"window_ready"`
	TargetID          string `json:"target_id,omitempty"`
	WindowID          int    `json:"window_id,omitempty"`
	AgentTag          string `json:"agent_tag,omitempty"`
	RegistryEntries   int    `json:"registry_entries"`
	LockOwner         string `json:"lock_owner,omitempty"`
	LockExpiresAt     string `json:"lock_expires_at,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// collectDiagnostics assembles a best-effort diagnostics object. Every
// probe is optional; a broken driver must not break diagnostics.
func collectDiagnostics(ctx context.Context, sess *session.Context, registry *coord.WindowRegistry, lock *coord.ActionLock, lastErr error) Diagnostics {
	d := Diagnostics{
		OS:                runtime.GOOS,
		Arch:              runtime.GOARCH,
		GoVersion:         runtime.Version(),
		Channel:           sess.Profile.Channel,
		UserDataDir:       sess.Profile.UserDataDir,
		ProfileName:       sess.Profile.ProfileName,
		Debugger:          sess.DebuggerAddress(),
		DriverInitialized: sess.IsDriverInitialized(),
		WindowReady:       sess.IsWindowReady(),
		TargetID:          sess.TargetID,
		WindowID:          sess.WindowID,
	}

	if sess.IsDriverInitialized() {
		if version, err := sess.Driver.BrowserVersion(ctx); err == nil {
			d.BrowserVersion = version
		}
	}
	if registry != nil {
		d.RegistryEntries = registry.Count()
	}
	if lock != nil {
		state := lock.Holder()
		d.LockOwner = state.Owner
		if state.ExpiresAt > 0 {
			d.LockExpiresAt = time.Unix(int64(state.ExpiresAt), 0).UTC().Format(time.RFC3339)
		}
	}
	if lastErr != nil {
		d.LastError = lastErr.Error()
	}
	d.AgentTag = sess.EnsureAgentTag()
	return d
}
