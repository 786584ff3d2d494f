// Package proc inspects and manages operating-system processes and ports
// on behalf of the coordination layer: pid liveness for orphan detection,
// TCP probing for debug-endpoint discovery, and browser-process scans for
// forced shutdown.
package proc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Alive reports whether a process with the given pid exists.
//
// Signal 0 performs the existence check without delivering anything. EPERM
// means the process exists but belongs to another user, which still counts
// as alive for orphan detection.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// PortOpen reports whether host:port accepts a TCP connection within timeout.
func PortOpen(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// FreePort asks the kernel for an unused TCP port on the loopback interface.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocate free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// BrowserProcess describes one running browser process matched by a scan.
type BrowserProcess struct {
	PID     int
	Name    string
	Cmdline []string
}

// ScanBrowsers finds processes whose executable name contains "chrome" or
// "chromium" and returns them with their command lines. Linux reads /proc;
// other platforms get an empty result and callers degrade gracefully.
func ScanBrowsers() ([]BrowserProcess, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var found []BrowserProcess
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join("/proc", e.Name(), "comm"))
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(comm))
		lower := strings.ToLower(name)
		if !strings.Contains(lower, "chrome") && !strings.Contains(lower, "chromium") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join("/proc", e.Name(), "cmdline"))
		if err != nil {
			continue
		}
		found = append(found, BrowserProcess{
			PID:     pid,
			Name:    name,
			Cmdline: splitCmdline(raw),
		})
	}
	return found, nil
}

// UsesUserDataDir reports whether the process command line carries a
// --user-data-dir flag pointing at dir.
func (p BrowserProcess) UsesUserDataDir(dir string) bool {
	want := normalizeDir(dir)
	for _, arg := range p.Cmdline {
		val, ok := strings.CutPrefix(arg, "--user-data-dir=")
		if !ok {
			continue
		}
		if normalizeDir(strings.Trim(val, `"`)) == want {
			return true
		}
	}
	return false
}

// DebugPort extracts the --remote-debugging-port value, or 0.
func (p BrowserProcess) DebugPort() int {
	for _, arg := range p.Cmdline {
		if val, ok := strings.CutPrefix(arg, "--remote-debugging-port="); ok {
			if port, err := strconv.Atoi(val); err == nil {
				return port
			}
		}
	}
	return 0
}

// Kill terminates the process. SIGKILL: the caller has already decided the
// browser is beyond graceful recovery.
func Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func splitCmdline(raw []byte) []string {
	parts := strings.Split(string(raw), "\x00")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func normalizeDir(dir string) string {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return filepath.Clean(dir)
}
