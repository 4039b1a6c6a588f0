// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package w5100

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/eric-wood/OpenRemote/spi"
)

// Default settle time after a RECV command.
const recvSettle = 5 * time.Microsecond

// NetConfig holds the addresses programmed into the controller.
type NetConfig struct {
	HardwareAddr net.HardwareAddr
	IP           netip.Addr
	SubnetMask   netip.Addr
	Gateway      netip.Addr
}

// ParseNetConfig parses textual addresses into a NetConfig.
func ParseNetConfig(mac, ip, subnet, gateway string) (NetConfig, error) {
	var cfg NetConfig
	var err error
	if cfg.HardwareAddr, err = net.ParseMAC(mac); err != nil {
		return cfg, fmt.Errorf("invalid hardware address: %w", err)
	}
	if cfg.IP, err = netip.ParseAddr(ip); err != nil {
		return cfg, fmt.Errorf("invalid ip address: %w", err)
	}
	if cfg.SubnetMask, err = netip.ParseAddr(subnet); err != nil {
		return cfg, fmt.Errorf("invalid subnet mask: %w", err)
	}
	if cfg.Gateway, err = netip.ParseAddr(gateway); err != nil {
		return cfg, fmt.Errorf("invalid gateway address: %w", err)
	}
	return cfg, cfg.validate()
}

func (c NetConfig) validate() error {
	if len(c.HardwareAddr) != 6 {
		return fmt.Errorf("hardware address must be 6 bytes, got %d", len(c.HardwareAddr))
	}
	for name, a := range map[string]netip.Addr{"ip": c.IP, "subnet": c.SubnetMask, "gateway": c.Gateway} {
		if !a.Is4() {
			return fmt.Errorf("%s address %v is not IPv4", name, a)
		}
	}
	return nil
}

// Device is the handle owning the controller's register space.
// All socket operations go through it; nothing else touches the bus.
type Device struct {
	bus spi.Bus

	// CommandWait governs the wait for the command register to self-clear.
	CommandWait WaitPolicy
	// SendWait governs the wait for transmit buffer space.
	SendWait WaitPolicy
	// RecvSettle is slept after acknowledging received data.
	RecvSettle time.Duration

	sock Socket
}

// NewDevice creates a Device on the given bus with the controller's stock timing.
func NewDevice(bus spi.Bus) *Device {
	d := &Device{
		bus:         bus,
		CommandWait: Unbounded,
		SendWait:    SendWindow,
		RecvSettle:  recvSettle,
	}
	d.sock.dev = d
	return d
}

// Init resets the controller and programs the network identity and buffer sizes.
// Register writes are not read back.
func (d *Device) Init(cfg NetConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	d.bus.WriteRegister(RegMR, ModeReset)
	d.writeBytes(RegGAR, cfg.Gateway.AsSlice())
	d.writeBytes(RegSHAR, cfg.HardwareAddr)
	d.writeBytes(RegSUBR, cfg.SubnetMask.AsSlice())
	d.writeBytes(RegSIPR, cfg.IP.AsSlice())

	// must match BufMask used by the transfer paths
	d.bus.WriteRegister(RegRMSR, MemAlloc2K)
	d.bus.WriteRegister(RegTMSR, MemAlloc2K)

	slog.Info("Controller initialized", "mac", cfg.HardwareAddr.String(), "ip", cfg.IP, "subnet", cfg.SubnetMask, "gateway", cfg.Gateway)
	return nil
}

func (d *Device) writeBytes(addr uint16, b []byte) {
	for i, v := range b {
		d.bus.WriteRegister(addr+uint16(i), v)
	}
}

// Socket returns the controller's single usable socket.
func (d *Device) Socket() *Socket {
	return &d.sock
}

// Err reports a fault latched by the bus, if the bus can detect one.
func (d *Device) Err() error {
	if e, ok := d.bus.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}
