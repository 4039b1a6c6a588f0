// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package sim

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/eric-wood/OpenRemote/internal/sim/persistence"
	"github.com/eric-wood/OpenRemote/w5100"
)

// Reset value of RMSR and TMSR: 2 KiB for each of the four sockets.
const defaultMemSize = 0x55

// socket 0 register block, reported to storage after a command
const (
	sockBlock     = w5100.RegS0MR
	sockBlockSize = 0x30
)

// ErrNotListening is returned by Attach when socket 0 does not accept connections.
var ErrNotListening = errors.New("sim: socket is not listening")

// Controller simulates a W5100 with socket 0 wired to a real peer connection.
// It implements spi.Bus and is safe for concurrent use: the driver polls it
// from one goroutine while the peer connection is pumped from another.
type Controller struct {
	// FreezeTxFree keeps the transmit free size at zero. Set before use.
	FreezeTxFree bool
	// StickyCommand keeps the command register from self-clearing. Set before use.
	StickyCommand bool

	mu      sync.Mutex
	space   *sync.Cond // signalled when RX space frees up or the peer goes away
	storage persistence.Storage
	mem     []byte

	conn io.ReadWriteCloser
	gen  int // bumped on every attach so stale pumps can tell

	rxWrite uint16 // hardware write offset into the RX buffer
	rxAck   uint16 // read offset at the last RECV

	commands    map[w5100.Command]int
	transmitted []byte
}

// NewController takes the register image from storage and applies the power-on
// reset to it. Earlier contents are overwritten; the storage keeps a trace of
// this run only.
func NewController(storage persistence.Storage) (*Controller, error) {
	mem, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load register image: %w", err)
	}
	if len(mem) < persistence.Size {
		return nil, fmt.Errorf("register image is %d bytes, want %d", len(mem), persistence.Size)
	}
	c := &Controller{
		storage:  storage,
		mem:      mem,
		commands: make(map[w5100.Command]int),
	}
	c.space = sync.NewCond(&c.mu)
	c.reset()
	return c, nil
}

// reset restores power-on register values. Caller must hold the mutex.
func (c *Controller) reset() {
	for i := range c.mem {
		c.mem[i] = 0
	}
	c.mem[w5100.RegRMSR] = defaultMemSize
	c.mem[w5100.RegTMSR] = defaultMemSize
	c.rxWrite, c.rxAck = 0, 0
	c.storage.OnWrite(0, persistence.Size)
}

// ReadRegister implements spi.Bus.
func (c *Controller) ReadRegister(addr uint16) byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.mem[addr]
}

// WriteRegister implements spi.Bus.
func (c *Controller) WriteRegister(addr uint16, v byte) {
	var out []byte
	var drop io.ReadWriteCloser

	c.mu.Lock()
	switch addr {
	case w5100.RegMR:
		if v&w5100.ModeReset != 0 {
			drop = c.detach()
			c.reset()
			v &^= w5100.ModeReset
		}
		c.mem[addr] = v
		c.storage.OnWrite(addr, 1)
	case w5100.RegS0CR:
		cmd := w5100.Command(v)
		c.commands[cmd]++
		out, drop = c.execute(cmd)
		if c.StickyCommand {
			c.mem[addr] = v
		} else {
			c.mem[addr] = 0
		}
		c.storage.OnWrite(sockBlock, sockBlockSize)
	default:
		c.mem[addr] = v
		c.storage.OnWrite(addr, 1)
	}
	conn := c.conn
	c.mu.Unlock()

	// peer I/O happens outside the lock so a slow reader cannot stall the pump
	if len(out) > 0 && conn != nil {
		if _, err := conn.Write(out); err != nil {
			slog.Warn("Simulated controller failed to write to peer", "err", err)
		}
	}
	if drop != nil {
		drop.Close()
	}
}

// execute runs a socket command. It returns bytes to transmit and a connection
// to close. Caller must hold the mutex.
func (c *Controller) execute(cmd w5100.Command) (out []byte, drop io.ReadWriteCloser) {
	st := c.status()
	switch cmd {
	case w5100.CmdOpen:
		if st != w5100.StatusClosed {
			return
		}
		switch w5100.Protocol(c.mem[w5100.RegS0MR] & 0x0F) {
		case w5100.ProtoTCP:
			c.setStatus(w5100.StatusInit)
		case w5100.ProtoUDP:
			c.setStatus(w5100.StatusUDP)
		case w5100.ProtoIPRaw:
			c.setStatus(w5100.StatusIPRaw)
		case w5100.ProtoMACRaw:
			c.setStatus(w5100.StatusMACRaw)
		default:
			return
		}
		c.setWord(w5100.RegS0TXRD, 0)
		c.setWord(w5100.RegS0TXWR, 0)
		c.setWord(w5100.RegS0RXRD, 0)
		c.setWord(w5100.RegS0RXRSR, 0)
		c.rxWrite, c.rxAck = 0, 0
		c.refreshTxFree()
	case w5100.CmdListen:
		if st == w5100.StatusInit {
			c.setStatus(w5100.StatusListen)
		}
	case w5100.CmdDiscon:
		if st == w5100.StatusEstablished || st == w5100.StatusCloseWait {
			// FIN sent; the driver finishes with CLOSE
			c.setStatus(w5100.StatusFinWait)
			drop = c.detach()
		}
	case w5100.CmdClose:
		c.setStatus(w5100.StatusClosed)
		drop = c.detach()
	case w5100.CmdSend:
		if st == w5100.StatusEstablished || st == w5100.StatusCloseWait {
			out = c.drainTx()
		}
	case w5100.CmdRecv:
		rd := c.word(w5100.RegS0RXRD)
		consumed := rd - c.rxAck
		c.rxAck = rd
		c.setWord(w5100.RegS0RXRSR, c.word(w5100.RegS0RXRSR)-consumed)
		c.space.Broadcast()
	}
	return
}

// drainTx collects everything between TX_RD and TX_WR. Caller must hold the mutex.
func (c *Controller) drainTx() []byte {
	size := c.txSize()
	rd := c.word(w5100.RegS0TXRD)
	wr := c.word(w5100.RegS0TXWR)
	n := wr - rd
	if int(n) > size {
		n = uint16(size)
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = c.mem[w5100.TXBufBase+int((rd+uint16(i))&uint16(size-1))]
	}
	c.setWord(w5100.RegS0TXRD, wr)
	c.refreshTxFree()
	c.transmitted = append(c.transmitted, out...)
	return out
}

// refreshTxFree recomputes TX_FSR from the pointers. Caller must hold the mutex.
func (c *Controller) refreshTxFree() {
	if c.FreezeTxFree {
		c.setWord(w5100.RegS0TXFSR, 0)
		return
	}
	used := c.word(w5100.RegS0TXWR) - c.word(w5100.RegS0TXRD)
	c.setWord(w5100.RegS0TXFSR, uint16(c.txSize())-used)
}

// detach forgets the peer and wakes a blocked pump. Caller must hold the mutex.
func (c *Controller) detach() io.ReadWriteCloser {
	conn := c.conn
	c.conn = nil
	c.space.Broadcast()
	return conn
}

// Attach connects a peer to socket 0, moving it from LISTEN to ESTABLISHED the way
// the hardware does on an incoming SYN. Data from the peer lands in the RX buffer.
func (c *Controller) Attach(conn io.ReadWriteCloser) error {
	c.mu.Lock()
	if st := c.status(); st != w5100.StatusListen {
		c.mu.Unlock()
		return fmt.Errorf("%w (status %v)", ErrNotListening, st)
	}
	c.setStatus(w5100.StatusEstablished)
	c.conn = conn
	c.gen++
	gen := c.gen
	c.storage.OnWrite(sockBlock, sockBlockSize)
	c.mu.Unlock()

	go c.pump(conn, gen)
	return nil
}

// pump copies peer data into the RX buffer until the peer or the controller hangs up.
func (c *Controller) pump(conn io.ReadWriteCloser, gen int) {
	buf := make([]byte, 2048)
	for {
		n, err := conn.Read(buf)
		if n > 0 && !c.deliver(gen, buf[:n]) {
			return
		}
		if err != nil {
			c.mu.Lock()
			if c.gen == gen && c.conn != nil && c.status() == w5100.StatusEstablished {
				// peer sent FIN
				c.setStatus(w5100.StatusCloseWait)
				c.storage.OnWrite(sockBlock, sockBlockSize)
			}
			c.mu.Unlock()
			return
		}
	}
}

// deliver appends p to the RX buffer, waiting for space. It reports false once
// the connection it belongs to is gone.
func (c *Controller) deliver(gen int, p []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(p) > 0 {
		if c.gen != gen || c.conn == nil {
			return false
		}
		size := c.rxSize()
		pending := int(c.word(w5100.RegS0RXRSR))
		free := size - pending
		if free <= 0 {
			c.space.Wait()
			continue
		}
		n := len(p)
		if n > free {
			n = free
		}
		for i := 0; i < n; i++ {
			c.mem[w5100.RXBufBase+int(c.rxWrite&uint16(size-1))] = p[i]
			c.rxWrite++
		}
		c.setWord(w5100.RegS0RXRSR, uint16(pending+n))
		p = p[n:]
		c.storage.OnWrite(w5100.RXBufBase, size)
		c.storage.OnWrite(sockBlock, sockBlockSize)
	}
	return true
}

// Status returns the socket 0 status.
func (c *Controller) Status() w5100.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status()
}

// Commands returns how many times cmd was issued since creation.
func (c *Controller) Commands(cmd w5100.Command) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.commands[cmd]
}

// Transmitted returns a copy of every byte sent to peers so far.
func (c *Controller) Transmitted() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]byte(nil), c.transmitted...)
}

// Close hangs up the peer, saves the register image and releases the storage.
func (c *Controller) Close() error {
	c.mu.Lock()
	drop := c.detach()
	err := c.storage.Save(c.mem)
	c.mu.Unlock()

	if drop != nil {
		err = multierr.Append(err, drop.Close())
	}
	return multierr.Append(err, c.storage.Close())
}

func (c *Controller) status() w5100.Status {
	return w5100.Status(c.mem[w5100.RegS0SR])
}

func (c *Controller) setStatus(s w5100.Status) {
	c.mem[w5100.RegS0SR] = byte(s)
}

func (c *Controller) word(addr int) uint16 {
	return uint16(c.mem[addr])<<8 | uint16(c.mem[addr+1])
}

func (c *Controller) setWord(addr int, v uint16) {
	c.mem[addr] = byte(v >> 8)
	c.mem[addr+1] = byte(v)
}

// memSize decodes the socket 0 field of RMSR/TMSR.
func memSize(msr byte) int {
	return 1024 << (msr & 0x03)
}

func (c *Controller) txSize() int { return memSize(c.mem[w5100.RegTMSR]) }

func (c *Controller) rxSize() int { return memSize(c.mem[w5100.RegRMSR]) }
