// Package api is the thin JSON and byte-range adapter between the core
// and the dashboard SPA.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qaops/testoor/pkg/access"
	"github.com/qaops/testoor/pkg/aggregate"
	"github.com/qaops/testoor/pkg/artifacts"
	"github.com/qaops/testoor/pkg/config"
	"github.com/qaops/testoor/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log          logrus.FieldLogger
	listen       string
	store        store.Store
	policy       *access.Policy
	environments []config.Environment
	engine       *aggregate.Engine
	artifacts    *artifacts.Manager
	httpServer   *http.Server
}

// NewServer creates a new API server over already-started components.
func NewServer(
	log logrus.FieldLogger,
	port int,
	s store.Store,
	policy *access.Policy,
	environments []config.Environment,
	engine *aggregate.Engine,
	am *artifacts.Manager,
) Server {
	return &server{
		log:          log.WithField("component", "api"),
		listen:       fmt.Sprintf(":%d", port),
		store:        s,
		policy:       policy,
		environments: environments,
		engine:       engine,
		artifacts:    am,
	}
}

// Start binds the listener and serves HTTP in the background.
func (s *server) Start(ctx context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.listen, err)
	}

	go func() {
		s.log.WithField("listen", s.listen).Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("HTTP server shutdown error")
	}

	s.log.Info("API server stopped")

	return nil
}

// knownEnvironment reports whether code is configured.
func (s *server) knownEnvironment(code string) bool {
	for _, env := range s.environments {
		if env.Code == code {
			return true
		}
	}

	return false
}
