package browser

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/browsergate/browsergate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEndpoint serves a minimal /json/version on a loopback port.
func fakeEndpoint(t *testing.T, userDataDir string) (host string, port int) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"Browser":"Chrome/126.0.0.0","userDataDir":%q,"webSocketDebuggerUrl":"ws://127.0.0.1/devtools"}`, userDataDir)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return "127.0.0.1", p
}

func TestListening(t *testing.T) {
	dt := NewDevTools(logging.NewNop())

	host, port := fakeEndpoint(t, "/tmp/profile")
	assert.True(t, dt.Listening(host, port))
	assert.False(t, dt.Listening("127.0.0.1", 1))
}

func TestMatchesProfile(t *testing.T) {
	dt := NewDevTools(logging.NewNop())
	dir := t.TempDir()

	host, port := fakeEndpoint(t, dir)
	assert.True(t, dt.MatchesProfile(host, port, dir))
	assert.True(t, dt.MatchesProfile(host, port, dir+string(os.PathSeparator)+"."))
	assert.False(t, dt.MatchesProfile(host, port, t.TempDir()))
}

func TestActivePortFromFile(t *testing.T) {
	dir := t.TempDir()

	assert.Zero(t, ActivePortFromFile(dir), "missing file reads as no port")

	path := filepath.Join(dir, "DevToolsActivePort")
	require.NoError(t, os.WriteFile(path, []byte("9225\n/devtools/browser/abc"), 0o644))
	assert.Equal(t, 9225, ActivePortFromFile(dir))

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	assert.Zero(t, ActivePortFromFile(dir))
}

func TestBuildCommand(t *testing.T) {
	prof := configProfile("/tmp/data", "Work")

	cmd := BuildCommand("/usr/bin/google-chrome-beta", 9225, prof, false)
	assert.Equal(t, "/usr/bin/google-chrome-beta", cmd[0])
	assert.Contains(t, cmd, "--remote-debugging-port=9225")
	assert.Contains(t, cmd, "--user-data-dir=/tmp/data")
	assert.Contains(t, cmd, "--profile-directory=Work")
	assert.Equal(t, "about:blank", cmd[len(cmd)-1])
	assert.NotContains(t, cmd, "--headless=new")

	headless := BuildCommand("/usr/bin/google-chrome-beta", 9225, prof, true)
	assert.Contains(t, headless, "--headless=new")
}
