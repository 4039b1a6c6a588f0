// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package w5100_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/eric-wood/OpenRemote/internal/sim"
	"github.com/eric-wood/OpenRemote/internal/sim/persistence"
	"github.com/eric-wood/OpenRemote/spi"
	"github.com/eric-wood/OpenRemote/w5100"
)

func newSim(t *testing.T) *sim.Controller {
	t.Helper()
	c, err := sim.NewController(persistence.NewMemoryStorage())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// newDevice puts a device on a simulated controller through the SPI frame path.
func newDevice(t *testing.T, c *sim.Controller) *w5100.Device {
	t.Helper()
	d := w5100.NewDevice(spi.NewMaster(sim.NewSlave(c)))
	d.RecvSettle = 0
	cfg, err := w5100.ParseNetConfig("00:16:36:DE:58:F6", "192.168.2.10", "255.255.255.0", "192.168.2.1")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Init(cfg); err != nil {
		t.Fatal(err)
	}
	return d
}

// establish opens, listens and attaches a peer.
func establish(t *testing.T, c *sim.Controller, s *w5100.Socket) net.Conn {
	t.Helper()
	if err := s.Open(w5100.ProtoTCP, 80); err != nil {
		t.Fatal(err)
	}
	if err := s.Listen(); err != nil {
		t.Fatal(err)
	}
	local, peer := net.Pipe()
	if err := c.Attach(local); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { peer.Close() })
	return peer
}

func TestSocket_Open(t *testing.T) {
	c := newSim(t)
	s := newDevice(t, c).Socket()

	if err := s.Open(w5100.ProtoTCP, 80); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if st := s.Status(); st != w5100.StatusInit {
		t.Errorf("status = %v, want INIT", st)
	}
	if got := spi.ReadWord(c, w5100.RegS0PORT); got != 80 {
		t.Errorf("port = %d, want 80", got)
	}
	if got := c.Commands(w5100.CmdClose); got != 1 {
		t.Errorf("CLOSE issued %d times, want 1", got)
	}
	if got := c.Commands(w5100.CmdOpen); got != 1 {
		t.Errorf("OPEN issued %d times, want 1", got)
	}
}

func TestSocket_OpenNotClosed(t *testing.T) {
	c := newSim(t)
	s := newDevice(t, c).Socket()
	if err := s.Open(w5100.ProtoTCP, 80); err != nil {
		t.Fatal(err)
	}

	err := s.Open(w5100.ProtoTCP, 80)
	var se *w5100.StateError
	if !errors.As(err, &se) {
		t.Fatalf("Open() error = %v, want *StateError", err)
	}
	if se.Got != w5100.StatusInit {
		t.Errorf("StateError.Got = %v, want INIT", se.Got)
	}
	if got := c.Commands(w5100.CmdOpen); got != 1 {
		t.Errorf("OPEN issued %d times, want no new command", got)
	}
	if st := s.Status(); st != w5100.StatusInit {
		t.Errorf("status = %v, want untouched INIT", st)
	}
}

func TestSocket_OpenFailureCloses(t *testing.T) {
	c := newSim(t)
	s := newDevice(t, c).Socket()

	// the controller rejects an unknown protocol and stays CLOSED
	err := s.Open(w5100.Protocol(0x0F), 80)
	var se *w5100.StateError
	if !errors.As(err, &se) || se.Want != w5100.StatusInit {
		t.Fatalf("Open() error = %v, want *StateError wanting INIT", err)
	}
	if got := c.Commands(w5100.CmdClose); got != 2 {
		t.Errorf("CLOSE issued %d times, want 2", got)
	}
}

func TestSocket_Listen(t *testing.T) {
	c := newSim(t)
	s := newDevice(t, c).Socket()

	var se *w5100.StateError
	if err := s.Listen(); !errors.As(err, &se) {
		t.Fatalf("Listen() on CLOSED error = %v, want *StateError", err)
	}
	if got := c.Commands(w5100.CmdListen); got != 0 {
		t.Errorf("LISTEN issued %d times on a closed socket", got)
	}

	if err := s.Open(w5100.ProtoTCP, 80); err != nil {
		t.Fatal(err)
	}
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if st := s.Status(); st != w5100.StatusListen {
		t.Errorf("status = %v, want LISTEN", st)
	}
}

func TestSocket_DisconnectAndClose(t *testing.T) {
	c := newSim(t)
	s := newDevice(t, c).Socket()
	establish(t, c, s)

	if err := s.Disconnect(); err != nil {
		t.Fatal(err)
	}
	if st := s.Status(); !st.Closing() {
		t.Errorf("status after Disconnect = %v, want a closing state", st)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if st := s.Status(); st != w5100.StatusClosed {
		t.Errorf("status after Close = %v, want CLOSED", st)
	}
}

func TestSocket_CommandTimeout(t *testing.T) {
	c := newSim(t)
	c.StickyCommand = true
	d := newDevice(t, c)
	d.CommandWait = w5100.WaitPolicy{Interval: time.Microsecond, Retries: 3}

	err := d.Socket().Close()
	if !errors.Is(err, w5100.ErrCommandTimeout) {
		t.Fatalf("Close() error = %v, want ErrCommandTimeout", err)
	}
}
