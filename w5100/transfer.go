// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package w5100

import (
	"log/slog"
	"time"

	"go.uber.org/multierr"

	"github.com/eric-wood/OpenRemote/spi"
)

// FreeSize returns the free space in the transmit buffer.
func (s *Socket) FreeSize() uint16 {
	return spi.ReadWord(s.dev.bus, RegS0TXFSR)
}

// ReceivedSize returns the number of bytes waiting in the receive buffer.
// Zero means nothing is pending.
func (s *Socket) ReceivedSize() uint16 {
	return spi.ReadWord(s.dev.bus, RegS0RXRSR)
}

// Send copies p into the transmit buffer and issues SEND.
//
// If the buffer does not free up within SendWait the connection is
// disconnected once and ErrSendTimeout is returned. Nothing is written in that case.
func (s *Socket) Send(p []byte) error {
	if len(p) == 0 {
		return ErrEmptyBuffer
	}

	need := len(p)
	ok := s.dev.SendWait.poll(func() bool {
		return int(s.FreeSize()) >= need
	})
	if !ok {
		slog.Warn("Transmit buffer stayed full, disconnecting", "need", need, "retries", s.dev.SendWait.Retries)
		return multierr.Append(ErrSendTimeout, s.Disconnect())
	}

	bus := s.dev.bus
	offset := spi.ReadWord(bus, RegS0TXWR)
	for _, b := range p {
		bus.WriteRegister(TXBufBase+(offset&BufMask), b)
		offset++
	}
	spi.WriteWord(bus, RegS0TXWR, offset)

	return s.command(CmdSend)
}

// Recv moves size bytes from the receive buffer into p and acknowledges them.
//
// size is clamped to len(p)-2 so a NUL terminator always fits after the data.
// The caller is expected to take size from ReceivedSize. Recv returns the number
// of bytes moved; more may remain pending when size was clamped.
func (s *Socket) Recv(p []byte, size uint16) (int, error) {
	if size == 0 || len(p) < 3 {
		return 0, ErrEmptyBuffer
	}
	n := int(size)
	if n > len(p)-2 {
		n = len(p) - 2
	}

	bus := s.dev.bus
	offset := spi.ReadWord(bus, RegS0RXRD)
	for i := 0; i < n; i++ {
		p[i] = bus.ReadRegister(RXBufBase + (offset & BufMask))
		offset++
	}
	p[n] = 0
	spi.WriteWord(bus, RegS0RXRD, offset)

	// RECV is not waited on; the settle delay covers the RSR update.
	bus.WriteRegister(RegS0CR, byte(CmdRecv))
	if s.dev.RecvSettle > 0 {
		time.Sleep(s.dev.RecvSettle)
	}
	return n, nil
}
