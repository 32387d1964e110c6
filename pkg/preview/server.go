// Package preview serves a container stored by the local backend over HTTP,
// with the same Content-Type and Content-Encoding an object store would
// return for the uploaded objects.
package preview

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/uploadoor/pkg/config"
	"github.com/ethpandaops/uploadoor/pkg/manifest"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the preview HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error

	// Addr returns the bound listen address once started.
	Addr() string
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log       logrus.FieldLogger
	cfg       *config.PreviewConfig
	dir       string
	container string
	manifest  manifest.Store

	users      map[string]string
	httpServer *http.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

// NewServer creates a preview server for container under the local
// backend directory dir. store is optional; when set the manifest
// endpoints are enabled.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.PreviewConfig,
	dir, container string,
	store manifest.Store,
) Server {
	users := make(map[string]string, len(cfg.BasicAuth.Users))
	for _, u := range cfg.BasicAuth.Users {
		users[u.Username] = u.PasswordHash
	}

	return &server{
		log:       log.WithField("component", "preview"),
		cfg:       cfg,
		dir:       dir,
		container: container,
		manifest:  store,
		users:     users,
	}
}

// Start binds the listener and serves requests in the background.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.listener = ln

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithFields(logrus.Fields{
			"listen":    ln.Addr().String(),
			"container": s.container,
		}).Info("Preview server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("Preview server stopped")

	return nil
}

func (s *server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}
