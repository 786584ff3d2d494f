package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/browsergate/browsergate/internal/logging"
)

// DevTools probes browser debug endpoints over their HTTP metadata API.
type DevTools struct {
	client *retryablehttp.Client
	log    *logging.Logger
}

// NewDevTools creates a prober. Retries are short and quiet: an unreachable
// endpoint is an expected outcome during discovery, not an error.
func NewDevTools(log *logging.Logger) *DevTools {
	if log == nil {
		log = logging.NewNop()
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 500 * time.Millisecond
	client.HTTPClient.Timeout = 3 * time.Second
	client.Logger = nil
	return &DevTools{client: client, log: log.Component("devtools")}
}

// versionInfo is the subset of /json/version the gateway cares about.
type versionInfo struct {
	Browser              string `json:"Browser"`
	UserDataDir          string `json:"userDataDir"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Listening reports whether a devtools endpoint answers at host:port.
func (d *DevTools) Listening(host string, port int) bool {
	_, err := d.version(host, port)
	return err == nil
}

// UserDataDir returns the user-data-dir the endpoint claims to serve.
func (d *DevTools) UserDataDir(host string, port int) (string, error) {
	info, err := d.version(host, port)
	if err != nil {
		return "", err
	}
	return info.UserDataDir, nil
}

// MatchesProfile reports whether the endpoint at host:port belongs to the
// expected user-data-dir. Attaching to the wrong profile's browser would
// hand this agent someone else's cookies and windows.
func (d *DevTools) MatchesProfile(host string, port int, expectedDir string) bool {
	actual, err := d.UserDataDir(host, port)
	if err != nil || actual == "" {
		return false
	}
	return sameDir(actual, expectedDir)
}

func (d *DevTools) version(host string, port int) (*versionInfo, error) {
	url := fmt.Sprintf("http://%s:%d/json/version", host, port)
	resp, err := d.client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("devtools endpoint returned %d", resp.StatusCode)
	}

	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode /json/version: %w", err)
	}
	return &info, nil
}

// ActivePortFromFile reads the port a running browser recorded in its
// profile's DevToolsActivePort file, or 0.
func ActivePortFromFile(userDataDir string) int {
	data, err := os.ReadFile(filepath.Join(userDataDir, "DevToolsActivePort"))
	if err != nil {
		return 0
	}
	lines := strings.SplitN(string(data), "\n", 2)
	port, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || port <= 0 {
		return 0
	}
	return port
}

func sameDir(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return canonical(a) == canonical(b)
}

func canonical(dir string) string {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return filepath.Clean(dir)
}
