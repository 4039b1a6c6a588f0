// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package w5100

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/eric-wood/OpenRemote/spi"
)

var (
	// ErrCommandTimeout is returned when a bounded CommandWait gives up
	// before the command register self-clears.
	ErrCommandTimeout = errors.New("w5100: command did not complete")
	// ErrSendTimeout is returned when transmit buffer space never became available.
	ErrSendTimeout = errors.New("w5100: timed out waiting for transmit buffer space")
	// ErrEmptyBuffer is returned for zero-length transfers.
	ErrEmptyBuffer = errors.New("w5100: empty transfer")
)

// StateError reports a socket found in the wrong state.
type StateError struct {
	Op   string
	Want Status
	Got  Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("w5100: %s: socket is %v, want %v", e.Op, e.Got, e.Want)
}

// Socket is the one socket slot the controller exposes in this configuration.
// It can only be obtained from Device.Socket.
type Socket struct {
	dev *Device
}

// Status reads the socket status register.
func (s *Socket) Status() Status {
	return Status(s.dev.bus.ReadRegister(RegS0SR))
}

// command issues c and waits for the command register to self-clear.
func (s *Socket) command(c Command) error {
	bus := s.dev.bus
	bus.WriteRegister(RegS0CR, byte(c))
	cleared := s.dev.CommandWait.poll(func() bool {
		return bus.ReadRegister(RegS0CR) == 0
	})
	if !cleared {
		return fmt.Errorf("%w: %v", ErrCommandTimeout, c)
	}
	return nil
}

// Open puts a closed socket into INIT for the given protocol and port.
// A socket that is not CLOSED is left untouched.
func (s *Socket) Open(proto Protocol, port uint16) error {
	if st := s.Status(); st != StatusClosed {
		return &StateError{Op: "open", Want: StatusClosed, Got: st}
	}

	// Make sure the slot is released first
	if err := s.command(CmdClose); err != nil {
		return err
	}

	bus := s.dev.bus
	bus.WriteRegister(RegS0MR, byte(proto))
	spi.WriteWord(bus, RegS0PORT, port)
	if err := s.command(CmdOpen); err != nil {
		return err
	}

	if st := s.Status(); st != StatusInit {
		return multierr.Append(&StateError{Op: "open", Want: StatusInit, Got: st}, s.command(CmdClose))
	}
	return nil
}

// Listen moves an INIT socket to LISTEN. On failure the socket is closed.
func (s *Socket) Listen() error {
	if st := s.Status(); st != StatusInit {
		return &StateError{Op: "listen", Want: StatusInit, Got: st}
	}
	if err := s.command(CmdListen); err != nil {
		return err
	}
	if st := s.Status(); st != StatusListen {
		return multierr.Append(&StateError{Op: "listen", Want: StatusListen, Got: st}, s.command(CmdClose))
	}
	return nil
}

// Disconnect requests an orderly teardown of the connection.
func (s *Socket) Disconnect() error {
	return s.command(CmdDiscon)
}

// Close releases the socket immediately.
func (s *Socket) Close() error {
	return s.command(CmdClose)
}
