package proc

import (
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAliveSelf(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
}

func TestAliveNonexistent(t *testing.T) {
	// PID far above any default pid_max.
	assert.False(t, Alive(99999999))
	assert.False(t, Alive(0))
	assert.False(t, Alive(-1))
}

func TestPortOpen(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	port := l.Addr().(*net.TCPAddr).Port
	assert.True(t, PortOpen("127.0.0.1", port, time.Second))

	l.Close()
	assert.False(t, PortOpen("127.0.0.1", port, 100*time.Millisecond))
}

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	l.Close()
}

func TestUsesUserDataDir(t *testing.T) {
	dir := t.TempDir()
	p := BrowserProcess{
		PID:     1234,
		Name:    "chrome",
		Cmdline: []string{"/opt/chrome/chrome", "--user-data-dir=" + dir, "--no-first-run"},
	}

	assert.True(t, p.UsesUserDataDir(dir))
	assert.True(t, p.UsesUserDataDir(dir+string(os.PathSeparator)+"."))
	assert.False(t, p.UsesUserDataDir(t.TempDir()))
}

func TestDebugPort(t *testing.T) {
	p := BrowserProcess{Cmdline: []string{"chrome", "--remote-debugging-port=9225"}}
	assert.Equal(t, 9225, p.DebugPort())

	p = BrowserProcess{Cmdline: []string{"chrome"}}
	assert.Equal(t, 0, p.DebugPort())
}
