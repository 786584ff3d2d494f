package browser

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/coord"
	"github.com/browsergate/browsergate/internal/logging"
	"github.com/browsergate/browsergate/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configProfile(dataDir, name string) config.Profile {
	return config.Profile{Channel: "stable", UserDataDir: dataDir, ProfileName: name}
}

func testArbiter(t *testing.T, dataDir string, startupWaitSecs int) (*Arbiter, *coord.RendezvousFile, profile.Paths) {
	t.Helper()
	paths, err := profile.NewPaths(t.TempDir(), "arbkey")
	require.NoError(t, err)

	cfg := &config.Config{
		Browser: config.BrowserConfig{PrimaryUserDataDir: dataDir},
		Locks: config.LockConfig{
			FileMutexStaleSecs: 60,
			RendezvousTTLSecs:  86400,
			StartupWaitSecs:    startupWaitSecs,
		},
	}
	rendezvous := coord.NewRendezvousFile(paths, cfg.RendezvousTTL(), logging.NewNop())
	arb := NewArbiter(cfg, configProfile(dataDir, "Default"), paths, rendezvous, logging.NewNop())
	return arb, rendezvous, paths
}

func TestArbiterFastPathViaRendezvous(t *testing.T) {
	dir := t.TempDir()
	host, port := fakeEndpoint(t, dir)

	arb, rendezvous, _ := testArbiter(t, dir, 1)
	rendezvous.Write(host, port, os.Getpid())

	ep, err := arb.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: host, Port: port}, ep)
}

func TestArbiterRejectsForeignProfileRendezvous(t *testing.T) {
	// Endpoint serves a different user-data-dir: the fast path must not
	// attach, and with nothing else to find the arbiter reaches the
	// launch step and fails (no browser binary in the test environment,
	// or a real one launching is unacceptable), so give it a contended
	// mutex instead to observe the rejection cheaply.
	dir := t.TempDir()
	host, port := fakeEndpoint(t, t.TempDir())

	arb, rendezvous, paths := testArbiter(t, dir, 0)
	rendezvous.Write(host, port, os.Getpid())

	// Hold the startup mutex so the arbiter cannot proceed past election.
	require.NoError(t, os.WriteFile(paths.StartupMutex(), nil, 0o644))

	_, err := arb.Ensure(context.Background())
	assert.ErrorIs(t, err, ErrStartupContended)
}

func TestArbiterContendedRechecksRendezvous(t *testing.T) {
	dir := t.TempDir()
	host, port := fakeEndpoint(t, dir)

	arb, rendezvous, paths := testArbiter(t, dir, 0)

	// Mutex held by a live contender...
	require.NoError(t, os.WriteFile(paths.StartupMutex(), nil, 0o644))
	// ...which publishes the endpoint while this process waits.
	go func() {
		time.Sleep(50 * time.Millisecond)
		rendezvous.Write(host, port, os.Getpid())
	}()

	// StartupWait of 0 makes the mutex acquisition fail fast; the
	// post-failure re-read must find the published endpoint.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ep, err := arb.Ensure(context.Background())
		if err == nil {
			assert.Equal(t, Endpoint{Host: host, Port: port}, ep)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("arbiter never found the published rendezvous")
}

func TestArbiterDiscoversActivePortFile(t *testing.T) {
	dir := t.TempDir()
	_, port := fakeEndpoint(t, dir)

	require.NoError(t, os.WriteFile(
		dir+"/DevToolsActivePort",
		[]byte(strconv.Itoa(port)+"\n/devtools/browser/x"), 0o644))

	arb, rendezvous, _ := testArbiter(t, dir, 1)

	ep, err := arb.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, port, ep.Port)

	// Discovery publishes the rendezvous for the next joiner.
	rv, ok := rendezvous.Read()
	require.True(t, ok)
	assert.Equal(t, port, rv.Port)
}
