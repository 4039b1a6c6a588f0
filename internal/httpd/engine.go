// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package httpd serves the code entry form from the controller's socket.
package httpd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eric-wood/OpenRemote/internal/hexcode"
	"github.com/eric-wood/OpenRemote/w5100"
)

// Options configures an Engine.
type Options struct {
	Port          uint16
	Field         string
	RequestSize   int
	PayloadSize   int
	PollInterval  time.Duration
	ListenBackoff time.Duration

	// OnPayload receives every decoded payload. The slice is reused by the next request.
	OnPayload func(payload []byte)
}

// DefaultOptions returns the stock port, field name, buffer sizes and timing.
func DefaultOptions() Options {
	return Options{
		Port:          80,
		Field:         "code",
		RequestSize:   1024,
		PayloadSize:   1024,
		PollInterval:  time.Millisecond,
		ListenBackoff: time.Millisecond,
	}
}

// Engine is the request dispatch loop. It owns the socket and all buffers;
// it must only be driven from one goroutine.
type Engine struct {
	dev  *w5100.Device
	sock *w5100.Socket
	opts Options

	request  []byte
	payload  []byte
	response []byte
}

// NewEngine creates an Engine on the device's socket. Zero options take their defaults.
func NewEngine(dev *w5100.Device, opts Options) *Engine {
	def := DefaultOptions()
	if opts.Port == 0 {
		opts.Port = def.Port
	}
	if opts.Field == "" {
		opts.Field = def.Field
	}
	if opts.RequestSize < 3 {
		opts.RequestSize = def.RequestSize
	}
	if opts.PayloadSize <= 0 {
		opts.PayloadSize = def.PayloadSize
	}
	if opts.OnPayload == nil {
		opts.OnPayload = logPayload
	}
	return &Engine{
		dev:      dev,
		sock:     dev.Socket(),
		opts:     opts,
		request:  make([]byte, opts.RequestSize),
		payload:  make([]byte, opts.PayloadSize),
		response: make([]byte, 0, len(responseHead)+len(responseFormTail)+len(responseFooter)+20),
	}
}

func logPayload(payload []byte) {
	slog.Debug("Decoded code", "size", len(payload), "payload", fmt.Sprintf("% X", payload))
}

// Run polls until ctx is done. It returns early when the bus reports a fault
// or the controller stops completing commands.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("HTTP engine started", "port", e.opts.Port, "field", e.opts.Field)
	for {
		select {
		case <-ctx.Done():
			slog.Info("HTTP engine stopped")
			return nil
		default:
		}

		if err := e.dev.Err(); err != nil {
			return fmt.Errorf("bus fault: %w", err)
		}
		if err := e.Poll(ctx); err != nil {
			if errors.Is(err, w5100.ErrCommandTimeout) {
				return err
			}
			slog.Warn("Poll failed", "err", err)
		}
	}
}

// Poll runs one iteration of the dispatch loop for the current socket status.
func (e *Engine) Poll(ctx context.Context) error {
	st := e.sock.Status()
	switch {
	case st == w5100.StatusClosed:
		if err := e.sock.Open(w5100.ProtoTCP, e.opts.Port); err != nil {
			return fmt.Errorf("open: %w", err)
		}
		if err := e.sock.Listen(); err != nil {
			sleep(ctx, e.opts.ListenBackoff)
			return fmt.Errorf("listen: %w", err)
		}
		slog.Debug("Socket listening", "port", e.opts.Port)
	case st == w5100.StatusEstablished:
		return e.serve(ctx)
	case st.Closing():
		slog.Debug("Closing socket", "status", st)
		return e.sock.Close()
	default:
		// INIT, LISTEN, SYN_RECV: the controller moves on by itself
		sleep(ctx, e.opts.PollInterval)
	}
	return nil
}

// serve handles one request on an established connection.
func (e *Engine) serve(ctx context.Context) error {
	size := e.sock.ReceivedSize()
	if size == 0 {
		sleep(ctx, e.opts.PollInterval)
		return nil
	}

	n, err := e.sock.Recv(e.request, size)
	if err != nil {
		return fmt.Errorf("recv: %w", err)
	}
	raw := e.request[:n]
	req := ParseRequest(raw)
	slog.Debug("Request received", "size", n, "get", req.GetIndex, "post", req.PostIndex, "favicon", req.Favicon)

	if req.Answerable() {
		value, err := FieldValue(raw, e.opts.Field)
		if err != nil {
			slog.Warn("Request has no code", "field", e.opts.Field, "err", err)
		}
		count := hexcode.Decode(e.payload, value)
		e.opts.OnPayload(e.payload[:count])

		if err := e.respond(count); err != nil {
			// the send path already disconnected
			return fmt.Errorf("respond: %w", err)
		}
	}

	if err := e.sock.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func (e *Engine) respond(count int) error {
	e.response = appendHead(e.response[:0])
	if err := e.sock.Send(e.response); err != nil {
		return err
	}
	e.response = appendTail(e.response[:0], count)
	return e.sock.Send(e.response)
}

// sleep pauses for d unless ctx is done first.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
