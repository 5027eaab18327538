// Package server wraps the HTTP server serving the admin and ingress routes.
package server

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"dicom-router/internal/common/logging"
)

type Config struct {
	Port    string
	TLSCert string
	TLSKey  string
	// WriteTimeout must cover a synchronous route request, which waits for every forward
	WriteTimeout time.Duration
}

// Server represents an HTTP server
type Server struct {
	srv      *http.Server
	config   Config
	listener net.Listener
	logger   logging.Logger
}

// New creates a new server instance
func New(handler http.Handler, config Config, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	return &Server{
		srv: &http.Server{
			Addr:              ":" + config.Port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: logger.WithFields(logging.Field{Key: "component", Value: "server"}),
	}
}

// Start binds the port and serves in the background. Bind errors are returned.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.listener = listener

	useTLS := s.config.TLSCert != "" && s.config.TLSKey != ""
	if useTLS {
		s.srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	go func() {
		var err error
		if useTLS {
			err = s.srv.ServeTLS(listener, s.config.TLSCert, s.config.TLSKey)
		} else {
			err = s.srv.Serve(listener)
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server stopped", err)
		}
	}()

	s.logger.Info("HTTP server listening",
		logging.Field{Key: "address", Value: listener.Addr().String()},
		logging.Field{Key: "tls", Value: useTLS},
	)
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.srv.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
