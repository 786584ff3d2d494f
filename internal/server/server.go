// Package server wires the gateway together: configuration, logging,
// metrics, the coordination layer, the tool surface, and the HTTP routes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/browsergate/browsergate/internal/browser"
	"github.com/browsergate/browsergate/internal/config"
	"github.com/browsergate/browsergate/internal/coord"
	"github.com/browsergate/browsergate/internal/events"
	"github.com/browsergate/browsergate/internal/gateway"
	gatewayhttp "github.com/browsergate/browsergate/internal/http"
	"github.com/browsergate/browsergate/internal/logging"
	"github.com/browsergate/browsergate/internal/monitoring"
	"github.com/browsergate/browsergate/internal/session"
	"github.com/browsergate/browsergate/internal/snapshot"
)

// Server is the running gateway process.
type Server struct {
	cfg    *config.Config
	log    *logging.Logger
	sess   *session.Context
	lock   *coord.ActionLock
	engine *gin.Engine
	http   *http.Server
}

// New builds a server from resolved configuration.
func New(cfg *config.Config) (*Server, error) {
	logCfg := logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	sess, err := session.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create session context: %w", err)
	}

	metrics := monitoring.New(prometheus.DefaultRegisterer)
	hub := events.NewHub(log)
	hub.OnSubscriberChange(
		func() { metrics.WSConnections.Inc() },
		func() { metrics.WSConnections.Dec() },
	)

	registry := coord.NewWindowRegistry(sess.Paths, cfg.FileMutexStale(), cfg.RegistryStale(), log)
	lock := coord.NewActionLock(sess.Paths, cfg.FileMutexStale(), registry, log)
	rendezvous := coord.NewRendezvousFile(sess.Paths, cfg.RendezvousTTL(), log)
	arbiter := browser.NewArbiter(cfg, sess.Profile, sess.Paths, rendezvous, log)
	windows := gateway.NewWindows(registry, metrics, hub, log)

	tools := gateway.NewTools(gateway.NewExclusive(gateway.Deps{
		Config:   cfg,
		Session:  sess,
		Lock:     lock,
		Registry: registry,
		Arbiter:  arbiter,
		Windows:  windows,
		Capturer: snapshot.NewCapturer(cfg),
		Metrics:  metrics,
		Events:   hub,
		Log:      log,
	}))

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())
	engine.Use(gatewayhttp.Metrics(metrics))
	if cfg.RateLimit.Enabled {
		engine.Use(gatewayhttp.RateLimit(cfg.RateLimit))
	}

	handlers := gatewayhttp.NewHandlers(tools, sess)
	engine.GET("/", handlers.Root)
	engine.GET("/health", handlers.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/tools", handlers.ListTools)
	engine.POST("/tools/:name", handlers.ExecuteTool)
	engine.GET("/ws", hub.HandleConnection)

	return &Server{
		cfg:    cfg,
		log:    log,
		sess:   sess,
		lock:   lock,
		engine: engine,
	}, nil
}

// Run serves until the listener fails or Close is called.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%s", s.cfg.Server.Host, s.cfg.Server.Port)
	s.log.Info("gateway listening",
		zap.String("addr", addr),
		zap.String("profile_key", s.sess.Paths.Key[:8]),
		zap.String("channel", s.sess.Profile.Channel))

	s.http = &http.Server{Addr: addr, Handler: s.engine}
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts the HTTP server down and releases this process's lease. The
// browser stays up: other agents may still be using it.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.log.Warn("http shutdown failed", zap.Error(err))
		}
	}

	s.sess.Intra().Lock()
	defer s.sess.Intra().Unlock()

	if released := s.lock.Release(ctx, s.sess.EnsureAgentTag()); released {
		s.log.Info("released action lock on shutdown")
	}
	_ = s.log.Sync()
	return nil
}
