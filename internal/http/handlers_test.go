package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/coord"
	"github.com/browsergate/browsergate/internal/events"
	"github.com/browsergate/browsergate/internal/gateway"
	"github.com/browsergate/browsergate/internal/logging"
	"github.com/browsergate/browsergate/internal/monitoring"
	"github.com/browsergate/browsergate/internal/session"
	"github.com/browsergate/browsergate/internal/snapshot"
)

// testRouter wires the transport over a real tool stack. No browser is
// involved: the tests stay on paths that never need a driver.
func testRouter(t *testing.T) (*gin.Engine, *session.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Browser: config.BrowserConfig{PrimaryUserDataDir: t.TempDir(), ProfileName: "Default"},
		Locks: config.LockConfig{
			CoordDir:           t.TempDir(),
			ActionLockTTLSecs:  30,
			ActionLockWaitSecs: 1,
			FileMutexStaleSecs: 60,
			RegistryStaleSecs:  300,
			RendezvousTTLSecs:  86400,
			StartupWaitSecs:    1,
		},
		Snapshot: config.SnapshotConfig{MaxChars: 1000},
	}

	sess, err := session.New(cfg)
	require.NoError(t, err)

	log := logging.NewNop()
	metrics := monitoring.New(prometheus.NewRegistry())
	hub := events.NewHub(log)
	registry := coord.NewWindowRegistry(sess.Paths, cfg.FileMutexStale(), cfg.RegistryStale(), log)
	lock := coord.NewActionLock(sess.Paths, cfg.FileMutexStale(), registry, log)

	tools := gateway.NewTools(gateway.NewExclusive(gateway.Deps{
		Config:   cfg,
		Session:  sess,
		Lock:     lock,
		Registry: registry,
		Windows:  gateway.NewWindows(registry, metrics, hub, log),
		Capturer: snapshot.NewCapturer(cfg),
		Metrics:  metrics,
		Events:   hub,
		Log:      log,
	}))

	handlers := NewHandlers(tools, sess)
	engine := gin.New()
	engine.Use(Metrics(metrics))
	engine.GET("/", handlers.Root)
	engine.GET("/health", handlers.Health)
	engine.GET("/tools", handlers.ListTools)
	engine.POST("/tools/:name", handlers.ExecuteTool)
	return engine, sess
}

func TestRootAndHealth(t *testing.T) {
	router, sess := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "browsergate")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), sess.EnsureAgentTag())
}

func TestListTools(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tools", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Tools []string `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Tools, "start_session")
	assert.Contains(t, body.Tools, "navigate")
	assert.Contains(t, body.Tools, "unlock")
}

func TestExecuteUnknownTool(t *testing.T) {
	router, _ := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tools/teleport", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var reply map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, false, reply["ok"])
	assert.Equal(t, "invalid_params", reply["error"])
}

func TestExecuteToolBadBody(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/tools/navigate", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnlockOverTransport(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/tools/unlock", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var reply map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, true, reply["ok"])
	assert.Equal(t, false, reply["released"], "nothing held, nothing released")
}
