package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/netfence/wifisplit/internal/cidr"
	"github.com/netfence/wifisplit/internal/log"
)

// Server manages the HTTP API server lifecycle.
type Server struct {
	bindAddr string
	handler  http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	running    bool
}

// NewServer creates an API server bound to bindAddr.
func NewServer(bindAddr, version string, policy *cidr.Policy, service ServiceController, checker HealthChecker) *Server {
	return &Server{
		bindAddr: bindAddr,
		handler:  NewRouter(version, policy, service, checker),
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("API server is already running")
	}

	s.httpServer = &http.Server{
		Addr:         s.bindAddr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.running = true

	log.Infof("Starting API server on %s", s.bindAddr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("API server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Infof("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}
