package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/logging"
	"github.com/browsergate/browsergate/internal/proc"
	"go.uber.org/zap"
)

// launchPollInterval is the cadence while waiting for the debug port.
const launchPollInterval = 100 * time.Millisecond

// BuildCommand assembles the browser command line for developer mode on the
// given port. The flag set mirrors what a shared automation profile needs:
// no first-run dialogs, one fresh window, and software rendering so the
// gateway behaves on headless hosts.
func BuildCommand(binary string, port int, prof config.Profile, headless bool) []string {
	cmd := []string{
		binary,
		fmt.Sprintf("--remote-debugging-port=%d", port),
		fmt.Sprintf("--user-data-dir=%s", prof.UserDataDir),
		fmt.Sprintf("--profile-directory=%s", prof.ProfileName),
		"--no-first-run",
		"--no-default-browser-check",
		"--new-window",
		"--disable-features=ProcessPerSite",
		"--disable-gpu",
		"--disable-dev-shm-usage",
		"--disable-software-rasterizer",
	}
	if headless {
		cmd = append(cmd, "--headless=new")
	}
	cmd = append(cmd, "about:blank")
	return cmd
}

// Launch starts the browser detached from the gateway process and returns
// its pid. The child is not waited on synchronously: the browser outlives
// any single gateway process.
func Launch(cmdline []string, log *logging.Logger) (int, error) {
	cmd := exec.Command(cmdline[0], cmdline[1:]...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start browser %s: %w", cmdline[0], err)
	}
	pid := cmd.Process.Pid
	log.Info("launched browser", zap.Int("pid", pid), zap.String("binary", cmdline[0]))

	// Reap the child when it eventually exits so it cannot zombify.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}

// WaitForDevTools waits until the debug endpoint answers on port, or the
// browser's own DevToolsActivePort file names a port that answers. Returns
// the live port.
func WaitForDevTools(ctx context.Context, dt *DevTools, host string, port int, userDataDir string, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if proc.PortOpen(host, port, 250*time.Millisecond) && dt.Listening(host, port) {
			return port, nil
		}
		if filePort := ActivePortFromFile(userDataDir); filePort != 0 && filePort != port {
			if dt.Listening(host, filePort) {
				return filePort, nil
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(launchPollInterval):
		}
	}
	return 0, fmt.Errorf("devtools endpoint never appeared on %s:%d", host, port)
}

// ensureUserDataDir creates the profile directory when missing so a first
// launch can seed it.
func ensureUserDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create user-data-dir %s: %w", dir, err)
	}
	return nil
}
