// Package session holds the per-process state of one agent's browser
// session: the driver handle, the debug endpoint, the owned window, and the
// agent identity. One gateway process drives one logical session.
package session

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/driver"
	"github.com/browsergate/browsergate/internal/profile"
)

// Context is the per-process session container. It is not safe for
// concurrent mutation; the intra-process lock serializes tool execution and
// with it all access to the mutable fields.
type Context struct {
	Config  *config.Config
	Profile config.Profile
	Paths   profile.Paths

	Driver    driver.Driver
	DebugHost string
	DebugPort int

	TargetID string
	WindowID int

	agentTag string
	tagOnce  sync.Once

	intra sync.Mutex
}

// New resolves the profile, derives the coordination namespace, and returns
// a fresh context. Called once per process; tests create as many as needed.
func New(cfg *config.Config) (*Context, error) {
	prof, err := cfg.ResolveProfile()
	if err != nil {
		return nil, err
	}

	key, err := profile.Key(prof.UserDataDir, prof.ProfileName, cfg.Browser.StrictProfile)
	if err != nil {
		return nil, err
	}

	paths, err := profile.NewPaths(cfg.CoordDir(), key)
	if err != nil {
		return nil, err
	}

	return &Context{Config: cfg, Profile: prof, Paths: paths}, nil
}

// EnsureAgentTag lazily generates the process's agent identity:
// agent:<pid>:<monotonic_ms>:<random_hex>. Stable for the process lifetime.
func (c *Context) EnsureAgentTag() string {
	c.tagOnce.Do(func() {
		random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		c.agentTag = fmt.Sprintf("agent:%d:%d:%s", os.Getpid(), time.Now().UnixMilli(), random)
	})
	return c.agentTag
}

// Intra returns the intra-process lock serializing tool execution.
func (c *Context) Intra() *sync.Mutex {
	return &c.intra
}

// IsDriverInitialized reports whether a driver is attached.
func (c *Context) IsDriverInitialized() bool {
	return c.Driver != nil
}

// IsWindowReady reports whether the session owns a window it can drive.
func (c *Context) IsWindowReady() bool {
	return c.Driver != nil && c.TargetID != ""
}

// DebuggerAddress formats the debug endpoint as host:port, or "".
func (c *Context) DebuggerAddress() string {
	if c.DebugHost == "" || c.DebugPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.DebugHost, c.DebugPort)
}

// ResetWindowState clears the window fields only. The driver and endpoint
// stay so the next call can open a fresh window in the same browser.
func (c *Context) ResetWindowState() {
	c.TargetID = ""
	c.WindowID = 0
}

// TearDown quits the driver and clears endpoint and window state. Only the
// force-close-all path calls this.
func (c *Context) TearDown() {
	if c.Driver != nil {
		_ = c.Driver.Close()
		c.Driver = nil
	}
	c.DebugHost = ""
	c.DebugPort = 0
	c.ResetWindowState()
}
