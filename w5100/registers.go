// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package w5100

// Common registers
const (
	RegMR   = 0x0000 // Mode
	RegGAR  = 0x0001 // Gateway Address: 0x0001 to 0x0004
	RegSUBR = 0x0005 // Subnet mask Address: 0x0005 to 0x0008
	RegSHAR = 0x0009 // Source Hardware Address: 0x0009 to 0x000E
	RegSIPR = 0x000F // Source IP Address: 0x000F to 0x0012
	RegRMSR = 0x001A // RX Memory Size
	RegTMSR = 0x001B // TX Memory Size
)

// Socket 0 registers
const (
	RegS0MR    = 0x0400 // Mode
	RegS0CR    = 0x0401 // Command
	RegS0IR    = 0x0402 // Interrupt
	RegS0SR    = 0x0403 // Status
	RegS0PORT  = 0x0404 // Source Port: 0x0404 to 0x0405
	RegS0TXFSR = 0x0420 // TX Free Size: 0x0420 to 0x0421
	RegS0TXRD  = 0x0422 // TX Read Pointer: 0x0422 to 0x0423
	RegS0TXWR  = 0x0424 // TX Write Pointer: 0x0424 to 0x0425
	RegS0RXRSR = 0x0426 // RX Received Size: 0x0426 to 0x0427
	RegS0RXRD  = 0x0428 // RX Read Pointer: 0x0428 to 0x0429
)

// Buffer memory
const (
	TXBufBase = 0x4000
	RXBufBase = 0x6000

	// BufSize is the per-socket buffer size selected by MemAlloc2K.
	BufSize = 2048
	BufMask = BufSize - 1

	// MemAlloc2K gives socket 0 (and 1) 2 KiB of TX and RX memory.
	MemAlloc2K = 0x05
)

// ModeReset in MR performs a software reset.
const ModeReset = 0x80

// Protocol is the socket mode written to S0_MR.
type Protocol byte

const (
	ProtoClosed Protocol = 0x00
	ProtoTCP    Protocol = 0x01
	ProtoUDP    Protocol = 0x02
	ProtoIPRaw  Protocol = 0x03
	ProtoMACRaw Protocol = 0x04
	ProtoPPPoE  Protocol = 0x05
)

// Command is a socket command written to S0_CR.
type Command byte

const (
	CmdOpen     Command = 0x01
	CmdListen   Command = 0x02
	CmdConnect  Command = 0x04
	CmdDiscon   Command = 0x08
	CmdClose    Command = 0x10
	CmdSend     Command = 0x20
	CmdSendMAC  Command = 0x21
	CmdSendKeep Command = 0x22
	CmdRecv     Command = 0x40
)

var commandNames = map[Command]string{
	CmdOpen:     "OPEN",
	CmdListen:   "LISTEN",
	CmdConnect:  "CONNECT",
	CmdDiscon:   "DISCON",
	CmdClose:    "CLOSE",
	CmdSend:     "SEND",
	CmdSendMAC:  "SEND_MAC",
	CmdSendKeep: "SEND_KEEP",
	CmdRecv:     "RECV",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// Status is the socket state read from S0_SR.
type Status byte

const (
	StatusClosed      Status = 0x00
	StatusInit        Status = 0x13
	StatusListen      Status = 0x14
	StatusSynSent     Status = 0x15
	StatusSynRecv     Status = 0x16
	StatusEstablished Status = 0x17
	StatusFinWait     Status = 0x18
	StatusClosing     Status = 0x1A
	StatusTimeWait    Status = 0x1B
	StatusCloseWait   Status = 0x1C
	StatusLastAck     Status = 0x1D
	StatusUDP         Status = 0x22
	StatusIPRaw       Status = 0x32
	StatusMACRaw      Status = 0x42
	StatusPPPoE       Status = 0x5F
)

var statusNames = map[Status]string{
	StatusClosed:      "CLOSED",
	StatusInit:        "INIT",
	StatusListen:      "LISTEN",
	StatusSynSent:     "SYN_SENT",
	StatusSynRecv:     "SYN_RECV",
	StatusEstablished: "ESTABLISHED",
	StatusFinWait:     "FIN_WAIT",
	StatusClosing:     "CLOSING",
	StatusTimeWait:    "TIME_WAIT",
	StatusCloseWait:   "CLOSE_WAIT",
	StatusLastAck:     "LAST_ACK",
	StatusUDP:         "UDP",
	StatusIPRaw:       "IPRAW",
	StatusMACRaw:      "MACRAW",
	StatusPPPoE:       "PPPOE",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Closing reports whether s is one of the connection teardown states.
func (s Status) Closing() bool {
	switch s {
	case StatusFinWait, StatusClosing, StatusTimeWait, StatusCloseWait, StatusLastAck:
		return true
	}
	return false
}
