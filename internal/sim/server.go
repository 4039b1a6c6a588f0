// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// acceptBackoff is the pause after a failed Accept on a live listener.
const acceptBackoff = 10 * time.Millisecond

// Server accepts TCP peers and hands them to the simulated controller.
// Only one peer is served at a time; others are refused while socket 0
// is not listening.
type Server struct {
	Address string

	ctrl     *Controller
	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a Server for ctrl.
func NewServer(address string, ctrl *Controller) *Server {
	return &Server{
		Address: address,
		ctrl:    ctrl,
	}
}

// Start listens and attaches peers until ctx is done or the server is closed.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	slog.Info("Simulated controller listening", "addr", s.Address)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Failed to accept connection", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptBackoff):
			}
			continue
		}
		s.handleConnection(conn)
	}
}

// Close closes the server listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(conn net.Conn) {
	if err := s.ctrl.Attach(conn); err != nil {
		slog.Warn("Refusing peer", "addr", conn.RemoteAddr(), "err", err)
		conn.Close()
		return
	}
	slog.Debug("Peer attached", "addr", conn.RemoteAddr())
}
