package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/coord"
	"github.com/browsergate/browsergate/internal/logging"
	"github.com/browsergate/browsergate/internal/proc"
	"github.com/browsergate/browsergate/internal/profile"
	"go.uber.org/zap"
)

// Default debug port when none is configured.
const defaultDebugPort = 9225

// Candidate ports for the permissive attach path.
var permissivePorts = []int{9222, 9223, 9225}

// How long a launched browser gets to open its debug port.
const launchTimeout = 10 * time.Second

// ErrStartupContended is returned when the startup mutex could not be
// acquired and no other process published an endpoint either.
var ErrStartupContended = errors.New("startup contended: could not elect a browser launcher")

// ErrStartupTimeout is returned when the browser launched but its debug
// port never opened.
var ErrStartupTimeout = errors.New("startup timeout: browser debug port never opened")

// Endpoint is a confirmed debug endpoint.
type Endpoint struct {
	Host string
	Port int
}

// Arbiter ensures exactly one shared browser runs in developer mode for a
// profile and every process ends up with a confirmed debug endpoint.
// Late joiners attach via the rendezvous fast path; exactly one contender
// wins the startup mutex and launches.
type Arbiter struct {
	cfg        *config.Config
	prof       config.Profile
	rendezvous *coord.RendezvousFile
	startupMu  *coord.FileMutex
	devtools   *DevTools
	log        *logging.Logger
}

// NewArbiter creates the arbiter for one profile key.
func NewArbiter(cfg *config.Config, prof config.Profile, paths profile.Paths, rendezvous *coord.RendezvousFile, log *logging.Logger) *Arbiter {
	if log == nil {
		log = logging.NewNop()
	}
	return &Arbiter{
		cfg:        cfg,
		prof:       prof,
		rendezvous: rendezvous,
		startupMu:  coord.NewFileMutex(paths.StartupMutex(), cfg.FileMutexStale(), log),
		devtools:   NewDevTools(log),
		log:        log.Component("arbiter"),
	}
}

// Ensure discovers or launches the shared browser and returns its endpoint.
func (a *Arbiter) Ensure(ctx context.Context) (Endpoint, error) {
	host := "127.0.0.1"

	// Fast path: a validated rendezvous means another process already did
	// the work.
	if ep, ok := a.checkRendezvous(host); ok {
		return ep, nil
	}

	release, err := a.startupMu.Acquire(ctx, a.cfg.StartupWait())
	if err != nil {
		// Lost the election. The winner may have finished while we
		// waited; re-read before giving up.
		if ep, ok := a.checkRendezvous(host); ok {
			return ep, nil
		}
		if errors.Is(err, coord.ErrMutexTimeout) {
			return Endpoint{}, ErrStartupContended
		}
		return Endpoint{}, fmt.Errorf("acquire startup mutex: %w", err)
	}
	defer release()

	// Re-check under the mutex: the previous holder may have published.
	if ep, ok := a.checkRendezvous(host); ok {
		return ep, nil
	}

	// Discovery: a browser already running this profile in developer mode
	// records its port in the profile directory.
	if port := ActivePortFromFile(a.prof.UserDataDir); port != 0 {
		if a.devtools.Listening(host, port) && a.profileMatches(host, port) {
			a.log.Info("attached via DevToolsActivePort", zap.Int("port", port))
			a.publish(host, port, 0)
			return Endpoint{Host: host, Port: port}, nil
		}
	}

	// Permissive attach: opt-in scan of well-known ports, accepting any
	// live browser regardless of profile.
	if a.cfg.Browser.AttachAnyProfile {
		for _, port := range a.candidatePorts() {
			if a.devtools.Listening(host, port) {
				a.log.Warn("permissive attach to foreign browser", zap.Int("port", port))
				a.publish(host, port, 0)
				return Endpoint{Host: host, Port: port}, nil
			}
		}
	}

	return a.launch(ctx, host)
}

func (a *Arbiter) launch(ctx context.Context, host string) (Endpoint, error) {
	if err := ensureUserDataDir(a.prof.UserDataDir); err != nil {
		return Endpoint{}, err
	}

	port := a.cfg.Browser.FixedDebugPort
	if port == 0 {
		port = defaultDebugPort
		if !portFree(host, port) {
			free, err := proc.FreePort()
			if err != nil {
				return Endpoint{}, err
			}
			port = free
		}
	}

	// A browser may already be listening on the chosen fixed port.
	if a.devtools.Listening(host, port) && a.profileMatches(host, port) {
		a.publish(host, port, 0)
		return Endpoint{Host: host, Port: port}, nil
	}

	binary, err := ResolveBinary(a.prof)
	if err != nil {
		return Endpoint{}, err
	}

	cmdline := BuildCommand(binary, port, a.prof, a.cfg.Browser.Headless)
	pid, err := Launch(cmdline, a.log)
	if err != nil {
		return Endpoint{}, err
	}

	livePort, err := WaitForDevTools(ctx, a.devtools, host, port, a.prof.UserDataDir, launchTimeout)
	if err != nil {
		a.log.Error("browser launched but endpoint never opened",
			zap.Int("pid", pid), zap.Int("port", port), zap.Error(err))
		return Endpoint{}, ErrStartupTimeout
	}

	a.publish(host, livePort, pid)
	a.log.Info("browser ready", zap.Int("pid", pid), zap.Int("port", livePort))
	return Endpoint{Host: host, Port: livePort}, nil
}

// checkRendezvous validates the cached endpoint and re-verifies profile
// ownership before trusting it.
func (a *Arbiter) checkRendezvous(host string) (Endpoint, bool) {
	rv, ok := a.rendezvous.Read()
	if !ok {
		return Endpoint{}, false
	}
	if !a.devtools.Listening(rv.Host, rv.Port) {
		return Endpoint{}, false
	}
	if !a.profileMatches(rv.Host, rv.Port) {
		a.log.Warn("rendezvous endpoint serves a different profile; ignoring",
			zap.Int("port", rv.Port))
		return Endpoint{}, false
	}
	return Endpoint{Host: rv.Host, Port: rv.Port}, true
}

func (a *Arbiter) profileMatches(host string, port int) bool {
	if a.cfg.Browser.AttachAnyProfile {
		return true
	}
	return a.devtools.MatchesProfile(host, port, a.prof.UserDataDir)
}

func (a *Arbiter) publish(host string, port, pid int) {
	if pid == 0 {
		pid = os.Getpid()
	}
	a.rendezvous.Write(host, port, pid)
}

func (a *Arbiter) candidatePorts() []int {
	ports := permissivePorts
	if fixed := a.cfg.Browser.FixedDebugPort; fixed != 0 {
		ports = append([]int{fixed}, ports...)
	}
	return ports
}

func portFree(host string, port int) bool {
	return !proc.PortOpen(host, port, 250*time.Millisecond)
}
