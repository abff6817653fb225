// Package server wires the configured storage backend, the facade and the
// HTTP gateway together and owns the process lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/FractalBrew/file-store/src/config"
	"github.com/FractalBrew/file-store/src/drivers/storage"
	"github.com/FractalBrew/file-store/src/middleware"
	"github.com/FractalBrew/file-store/src/scheduler"
	"github.com/FractalBrew/file-store/src/services"
	"github.com/FractalBrew/file-store/src/services/common"
)

// Server holds all dependencies for the gateway.
type Server struct {
	cfg    *config.Config
	logger *logrus.Logger
	router *gin.Engine

	store      *services.FileStore
	jwtService *services.JWTService
	sweeper    storage.Sweeper
	maint      *scheduler.Maintenance
}

// NewServer builds the backend named by cfg.Backend and everything above it.
func NewServer(cfg *config.Config, logger *logrus.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	if err := s.initStorage(); err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}
	if err := s.initServices(); err != nil {
		return nil, fmt.Errorf("service init failed: %w", err)
	}
	s.initRouter()
	s.setupRoutes()

	return s, nil
}

func (s *Server) initStorage() error {
	var provider storage.Provider

	switch s.cfg.Backend {
	case "local":
		store, err := storage.NewLocalStore(s.cfg.LocalBaseDir, s.logger)
		if err != nil {
			return fmt.Errorf("local store init failed: %w", err)
		}
		provider = store
		s.sweeper = store
		s.logger.WithField("baseDir", s.cfg.LocalBaseDir).Info("Local storage backend initialized")

	case "remote":
		transport := common.NewBreakerTransport("remote-storage", common.DefaultHTTPClientConfig(), s.logger)
		store, err := storage.NewRemoteStore(storage.RemoteConfig{
			Endpoint: s.cfg.RemoteEndpoint,
			KeyID:    s.cfg.RemoteKeyID,
			Key:      s.cfg.RemoteKey,
			Bucket:   s.cfg.RemoteBucket,
			Prefix:   s.cfg.RemotePrefix,
			PartSize: s.cfg.RemotePartSize,
		}, transport, s.logger)
		if err != nil {
			return fmt.Errorf("remote store init failed: %w", err)
		}
		provider = store
		s.sweeper = store
		s.logger.WithFields(logrus.Fields{
			"bucket": s.cfg.RemoteBucket,
			"prefix": s.cfg.RemotePrefix,
		}).Info("Remote storage backend initialized")

	default:
		return fmt.Errorf("unknown backend %q", s.cfg.Backend)
	}

	store, err := services.NewFileStore(provider, s.logger)
	if err != nil {
		return err
	}
	s.store = store
	return nil
}

func (s *Server) initServices() error {
	jwtService, err := services.NewJWTService(s.cfg.JWTSecret, time.Hour, s.logger)
	if err != nil {
		return fmt.Errorf("JWT service init failed: %w", err)
	}
	s.jwtService = jwtService

	s.maint = scheduler.NewMaintenance(s.sweeper, s.cfg.SweepSchedule, s.cfg.SweepMaxAge, s.logger)
	return nil
}

func (s *Server) initRouter() {
	if s.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	rateLimiter := middleware.NewRateLimiter(s.cfg.RateLimitPerMin)
	s.router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		rateLimiter.Middleware(),
	)
}

// Router exposes the configured engine, used by the gateway tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the HTTP server and the maintenance scheduler and blocks until
// a shutdown signal arrives.
func (s *Server) Run() error {
	if err := s.maint.Start(); err != nil {
		return fmt.Errorf("maintenance scheduler failed: %w", err)
	}

	srv := &http.Server{
		Addr:    "0.0.0.0:" + s.cfg.Port,
		Handler: s.router,
		// Uploads and downloads stream arbitrarily large bodies.
		ReadTimeout:    600 * time.Second,
		WriteTimeout:   600 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		s.logger.WithField("port", s.cfg.Port).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.logger.Info("Shutting down server...")
	s.maint.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Server forced to shutdown")
		return err
	}

	s.logger.Info("Server exited")
	return nil
}
