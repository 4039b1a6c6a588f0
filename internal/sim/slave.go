// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sim

import "github.com/eric-wood/OpenRemote/spi"

// Slave is the SPI side of a simulated controller. It decodes four-byte
// frames into register accesses so the real spi.Master can drive it.
type Slave struct {
	bus   spi.Bus
	phase int
	op    byte
	addr  uint16
}

// NewSlave returns a Slave that forwards decoded frames to bus.
func NewSlave(bus spi.Bus) *Slave {
	return &Slave{bus: bus}
}

// Select starts a new frame. A frame cut short by Deselect is dropped.
func (s *Slave) Select() {
	s.phase = 0
}

// Transfer clocks one byte. Like the W5100 it answers 0x00, 0x01, 0x02 during
// the opcode and address phases and 0x03 or the register value in the data phase.
func (s *Slave) Transfer(b byte) byte {
	phase := s.phase
	s.phase++
	switch phase {
	case 0:
		s.op = b
	case 1:
		s.addr = uint16(b) << 8
	case 2:
		s.addr |= uint16(b)
	case 3:
		switch s.op {
		case spi.OpWrite:
			s.bus.WriteRegister(s.addr, b)
		case spi.OpRead:
			return s.bus.ReadRegister(s.addr)
		}
		return 0x03
	default:
		return 0x00
	}
	return byte(phase)
}

// Deselect ends the frame.
func (s *Slave) Deselect() {
	s.phase = 0
}
