// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package spi

// Op codes of the W5100 SPI frame.
const (
	OpWrite = 0xF0
	OpRead  = 0x0F
)

// dummy is clocked out during the data phase of a read.
const dummy = 0x00

// Bus is byte-wide register access to the controller.
// Implementations block until the transaction completes and never report failure.
type Bus interface {
	WriteRegister(addr uint16, v byte)
	ReadRegister(addr uint16) byte
}

// Transceiver is one side of a full-duplex synchronous serial link.
// Transfer clocks out b and returns the byte clocked in during the same phase.
type Transceiver interface {
	Select()
	Transfer(b byte) byte
	Deselect()
}

// Master drives register transactions over a Transceiver.
// Every transaction is a fixed four-phase frame:
//
//	[opcode] [addr high] [addr low] [data | dummy]
//
// framed by chip select.
type Master struct {
	t Transceiver
}

// NewMaster creates a new Master on top of t.
func NewMaster(t Transceiver) *Master {
	return &Master{t: t}
}

// WriteRegister writes v to the register at addr.
func (m *Master) WriteRegister(addr uint16, v byte) {
	m.t.Select()
	m.t.Transfer(OpWrite)
	m.t.Transfer(byte(addr >> 8))
	m.t.Transfer(byte(addr))
	m.t.Transfer(v)
	m.t.Deselect()
}

// ReadRegister reads the register at addr.
func (m *Master) ReadRegister(addr uint16) byte {
	m.t.Select()
	m.t.Transfer(OpRead)
	m.t.Transfer(byte(addr >> 8))
	m.t.Transfer(byte(addr))
	v := m.t.Transfer(dummy)
	m.t.Deselect()
	return v
}

// Err reports a fault latched by the underlying link, if it can latch one.
func (m *Master) Err() error {
	if e, ok := m.t.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}

// ReadWord reads a big-endian register pair as two single-byte transactions.
func ReadWord(b Bus, addr uint16) uint16 {
	hi := b.ReadRegister(addr)
	lo := b.ReadRegister(addr + 1)
	return uint16(hi)<<8 | uint16(lo)
}

// WriteWord writes a big-endian register pair as two single-byte transactions.
func WriteWord(b Bus, addr uint16, v uint16) {
	b.WriteRegister(addr, byte(v>>8))
	b.WriteRegister(addr+1, byte(v))
}
