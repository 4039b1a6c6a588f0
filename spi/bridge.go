// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package spi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/eric-wood/OpenRemote/internal/config"
)

const (
	// Default serial read timeout
	bridgeTimeout = 500 * time.Millisecond

	// Raw mode entry is retried this many times before giving up.
	bridgeResetTries = 20
)

// Bridge commands (Bus Pirate binary SPI mode).
const (
	cmdReset    = 0x00
	cmdSPIMode  = 0x01
	cmdSelect   = 0x02
	cmdDeselect = 0x03
	cmdBulk1    = 0x10 // bulk transfer of one byte
	ack         = 0x01
)

var (
	bannerBitBang = []byte("BBIO1")
	bannerSPI     = []byte("SPI1")
)

// ErrBridgeAck is latched when the bridge answers a command without acknowledging it.
var ErrBridgeAck = errors.New("spi: bridge did not acknowledge")

// Bridge is a Transceiver backed by a USB/serial SPI bridge.
//
// The bridge has no way to report a fault through the Bus contract, so the first
// serial error is latched and every later transfer returns zero. Callers poll Err.
type Bridge struct {
	// Serial port configuration.
	serial.Config

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
	err  error
}

// NewBridge allocates a Bridge for the given serial settings.
func NewBridge(cfg config.SerialConfig) *Bridge {
	b := &Bridge{}
	b.Config.Address = cfg.Device
	b.Config.BaudRate = cfg.BaudRate
	b.Config.DataBits = cfg.DataBits
	b.Config.StopBits = cfg.StopBits
	b.Config.Parity = cfg.Parity
	b.Config.Timeout = cfg.Timeout
	if b.Config.Timeout == 0 {
		b.Config.Timeout = bridgeTimeout
	}
	return b
}

// Connect opens the serial port if needed and switches the bridge into raw SPI mode.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if b.port == nil {
		port, err := serial.Open(&b.Config)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", b.Config.Address, err)
		}
		b.port = port
	}
	if err := b.enterRawMode(ctx); err != nil {
		b.close()
		return err
	}
	b.err = nil
	slog.Info("SPI bridge ready", "device", b.Config.Address, "baudRate", b.Config.BaudRate)
	return nil
}

// enterRawMode resets the bridge into bit-bang mode and then selects SPI. Caller must hold the mutex.
func (b *Bridge) enterRawMode(ctx context.Context) error {
	banner := make([]byte, len(bannerBitBang))
	entered := false
	for i := 0; i < bridgeResetTries && !entered; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := b.port.Write([]byte{cmdReset}); err != nil {
			return fmt.Errorf("spi: bridge reset: %w", err)
		}
		if _, err := io.ReadFull(b.port, banner); err != nil {
			continue
		}
		entered = bytes.Equal(banner, bannerBitBang)
	}
	if !entered {
		return fmt.Errorf("spi: bridge did not enter bit-bang mode after %d tries", bridgeResetTries)
	}

	if _, err := b.port.Write([]byte{cmdSPIMode}); err != nil {
		return fmt.Errorf("spi: bridge mode select: %w", err)
	}
	banner = banner[:len(bannerSPI)]
	if _, err := io.ReadFull(b.port, banner); err != nil {
		return fmt.Errorf("spi: bridge mode banner: %w", err)
	}
	if !bytes.Equal(banner, bannerSPI) {
		return fmt.Errorf("spi: unexpected bridge banner %q", banner)
	}
	return nil
}

// Close closes the serial port if it is connected.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.close()
}

// close closes the serial port. Caller must hold the mutex.
func (b *Bridge) close() (err error) {
	if b.port != nil {
		err = b.port.Close()
		b.port = nil
	}
	return
}

// Err returns the latched link error, if any.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.err
}

// Select asserts chip select.
func (b *Bridge) Select() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.command(cmdSelect)
}

// Deselect releases chip select.
func (b *Bridge) Deselect() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.command(cmdDeselect)
}

// Transfer exchanges a single byte.
func (b *Bridge) Transfer(v byte) byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ready() {
		return 0
	}
	if _, err := b.port.Write([]byte{cmdBulk1, v}); err != nil {
		b.fail(fmt.Errorf("spi: transfer write: %w", err))
		return 0
	}
	var reply [2]byte
	if _, err := io.ReadFull(b.port, reply[:]); err != nil {
		b.fail(fmt.Errorf("spi: transfer read: %w", err))
		return 0
	}
	if reply[0] != ack {
		b.fail(fmt.Errorf("%w: transfer reply 0x%02X", ErrBridgeAck, reply[0]))
		return 0
	}
	return reply[1]
}

// command sends a single-byte command and checks its ack. Caller must hold the mutex.
func (b *Bridge) command(c byte) {
	if !b.ready() {
		return
	}
	if _, err := b.port.Write([]byte{c}); err != nil {
		b.fail(fmt.Errorf("spi: command 0x%02X: %w", c, err))
		return
	}
	var reply [1]byte
	if _, err := io.ReadFull(b.port, reply[:]); err != nil {
		b.fail(fmt.Errorf("spi: command 0x%02X reply: %w", c, err))
		return
	}
	if reply[0] != ack {
		b.fail(fmt.Errorf("%w: command 0x%02X reply 0x%02X", ErrBridgeAck, c, reply[0]))
	}
}

func (b *Bridge) ready() bool {
	if b.err != nil {
		return false
	}
	if b.port == nil {
		b.fail(fmt.Errorf("spi: bridge %s is not connected", b.Config.Address))
		return false
	}
	return true
}

func (b *Bridge) fail(err error) {
	b.err = err
	slog.Error("SPI bridge fault, bus is halted", "device", b.Config.Address, "err", err)
}
