package sim

import (
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
)

// Chip geometry [N25Q064A].
const (
	ChipCapacity = 8 * 1024 * 1024
	ChipPage     = 256
	ChipSector   = 64 * 1024
)

// JEDEC id: Micron, 3V, 64Mbit [N25Q064A|READ ID Data].
var chipID = [3]byte{0x20, 0xBA, 0x17}

// Command subset decoded by the model [N25Q064A|Command Set].
const (
	chipCmdReadID      = 0x9F
	chipCmdRead        = 0x03
	chipCmdWriteEnable = 0x06
	chipCmdReadFlags   = 0x70
	chipCmdClearFlags  = 0x50
	chipCmdPageProgram = 0x02
	chipCmdSectorErase = 0xD8
)

// Flag status register bits [N25Q064A|Flag Status Register].
const (
	chipFlagProgramErr = 1 << 4
	chipFlagEraseErr   = 1 << 5
	chipFlagReady      = 1 << 7
)

// Chip models an N25Q064A serial NOR flash as a mode 3 SPI slave. It
// samples MOSI on rising clock edges while selected, drives MISO on
// falling edges, and commits write-type commands when the select line
// rises. One Observe call is one system clock cycle.
type Chip struct {
	// ProgramTicks and EraseTicks are how many cycles the device stays
	// busy after a page program or sector erase commits.
	ProgramTicks uint64
	EraseTicks   uint64

	log *zap.SugaredLogger
	mem []byte

	// line state from the previous cycle
	sclk gpio.Level
	ss   gpio.Level
	miso gpio.Level

	// input bit engine
	inShift byte
	inBits  int

	// output bit engine
	outByte byte
	outBit  int

	// command decode
	cmd     byte
	haveCmd bool
	full    bool // opcode plus any required address received
	addr    [3]byte
	addrLen int
	addrVal uint32
	readPos uint32
	pageBuf []byte

	// device state
	wel      bool
	progErr  bool
	eraseErr bool
	age      uint64
	readyAt  uint64

	// fault injection
	holdBusy      bool
	forceProgErr  bool
	forceEraseErr bool
	dropClocks    int

	violations int
}

// NewChip returns an erased chip (all bytes 0xFF) with short busy times
// suitable for simulation.
func NewChip() *Chip {
	mem := make([]byte, ChipCapacity)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Chip{
		ProgramTicks: 800,
		EraseTicks:   20000,
		log:          zap.NewNop().Sugar(),
		mem:          mem,
		sclk:         gpio.High,
		ss:           gpio.High,
	}
}

func (c *Chip) attach(log *zap.SugaredLogger) {
	c.log = log
}

// MISO reports the level the chip is driving this cycle.
func (c *Chip) MISO() gpio.Level { return c.miso }

// ForceProgramError makes subsequent page programs complete with the
// program failure flag set and the array untouched.
func (c *Chip) ForceProgramError(v bool) { c.forceProgErr = v }

// ForceEraseError makes subsequent sector erases complete with the erase
// failure flag set and the array untouched.
func (c *Chip) ForceEraseError(v bool) { c.forceEraseErr = v }

// HoldBusy pins the ready flag low regardless of pending operations.
func (c *Chip) HoldBusy(v bool) { c.holdBusy = v }

// DropClocks discards the next n rising clock edges, garbling whatever
// command is on the wire. Models the unreliable first command after
// power-up.
func (c *Chip) DropClocks(n int) { c.dropClocks = n }

// Violations counts protocol errors seen so far (deselect mid-byte).
func (c *Chip) Violations() int { return c.violations }

func (c *Chip) ready() bool {
	return !c.holdBusy && c.age >= c.readyAt
}

func (c *Chip) flags() byte {
	var f byte
	if c.ready() {
		f |= chipFlagReady
	}
	if c.progErr {
		f |= chipFlagProgramErr
	}
	if c.eraseErr {
		f |= chipFlagEraseErr
	}
	return f
}

// Observe advances the chip one cycle with the given master line state.
func (c *Chip) Observe(sclk, mosi, ss gpio.Level) {
	c.age++
	prevSCLK, prevSS := c.sclk, c.ss
	c.sclk, c.ss = sclk, ss

	if ss == gpio.High {
		if prevSS == gpio.Low {
			c.deselected()
		}
		return
	}

	if prevSS == gpio.High {
		// Select resets the byte engines; device state persists.
		c.inShift, c.inBits = 0, 0
		c.outByte, c.outBit = 0, 0
		c.haveCmd = false
		c.full = false
		c.addrLen = 0
		c.pageBuf = c.pageBuf[:0]
	}

	if sclk == gpio.Low && prevSCLK == gpio.High {
		c.driveBit()
	}
	if sclk == gpio.High && prevSCLK == gpio.Low && prevSS == gpio.Low {
		if c.dropClocks > 0 {
			c.dropClocks--
			return
		}
		c.sampleBit(mosi)
	}
}

func (c *Chip) driveBit() {
	if c.outBit == 0 {
		c.outByte = c.nextOutByte()
		c.outBit = 8
	}
	c.outBit--
	c.miso = gpio.Level(c.outByte>>uint(c.outBit)&1 != 0)
}

func (c *Chip) sampleBit(mosi gpio.Level) {
	c.inShift = c.inShift << 1
	if mosi == gpio.High {
		c.inShift |= 1
	}
	c.inBits++
	if c.inBits < 8 {
		return
	}
	b := c.inShift
	c.inShift, c.inBits = 0, 0
	c.handleByte(b)
}

// handleByte consumes one received byte: opcode, address, or data.
func (c *Chip) handleByte(b byte) {
	if !c.haveCmd {
		c.cmd, c.haveCmd = b, true
		switch b {
		case chipCmdReadID, chipCmdReadFlags:
			c.readPos = 0
			c.full = true
		case chipCmdWriteEnable, chipCmdClearFlags:
			c.full = true
		case chipCmdRead, chipCmdPageProgram, chipCmdSectorErase:
			c.addrLen = 0
		default:
			// Unknown opcodes (0xFF probes included) decode to nothing.
			c.full = true
			c.log.Debugw("unknown command", "opcode", b)
		}
		return
	}

	if c.needsAddr() && c.addrLen < 3 {
		c.addr[c.addrLen] = b
		c.addrLen++
		if c.addrLen == 3 {
			c.addrVal = uint32(c.addr[0])<<16 | uint32(c.addr[1])<<8 | uint32(c.addr[2])
			c.full = true
			switch c.cmd {
			case chipCmdRead:
				c.readPos = c.addrVal
			case chipCmdPageProgram:
				c.pageBuf = c.pageBuf[:0]
			}
		}
		return
	}

	if c.cmd == chipCmdPageProgram {
		c.pageBuf = append(c.pageBuf, b)
	}
	// Bytes beyond a command's payload (read dummies) carry nothing.
}

func (c *Chip) needsAddr() bool {
	switch c.cmd {
	case chipCmdRead, chipCmdPageProgram, chipCmdSectorErase:
		return true
	}
	return false
}

// nextOutByte produces the response stream for the current command.
func (c *Chip) nextOutByte() byte {
	if !c.haveCmd || !c.full {
		return 0
	}
	switch c.cmd {
	case chipCmdReadID:
		if !c.ready() {
			return 0
		}
		if int(c.readPos) < len(chipID) {
			b := chipID[c.readPos]
			c.readPos++
			return b
		}
		return 0
	case chipCmdReadFlags:
		// The register streams continuously so software can poll without
		// reissuing the command.
		return c.flags()
	case chipCmdRead:
		if !c.ready() {
			return 0
		}
		b := c.mem[c.readPos%ChipCapacity]
		c.readPos++
		return b
	}
	return 0
}

// deselected commits write-type commands. Program and erase require the
// write enable latch and a ready device; both consume the latch.
func (c *Chip) deselected() {
	if c.inBits != 0 {
		c.violations++
		c.log.Debugw("deselect mid-byte", "bits", c.inBits)
	}
	if !c.haveCmd || !c.full {
		return
	}
	switch c.cmd {
	case chipCmdWriteEnable:
		if c.ready() {
			c.wel = true
		}
	case chipCmdClearFlags:
		// Error bits clear even while busy; only they are affected.
		c.progErr, c.eraseErr = false, false
	case chipCmdPageProgram:
		c.commitProgram()
	case chipCmdSectorErase:
		c.commitErase()
	}
}

func (c *Chip) commitProgram() {
	if !c.wel || !c.ready() {
		c.log.Debugw("program ignored", "wel", c.wel, "ready", c.ready())
		return
	}
	c.wel = false
	c.readyAt = c.age + c.ProgramTicks
	if c.forceProgErr {
		c.progErr = true
		return
	}
	if len(c.pageBuf) == 0 {
		return
	}
	// Addresses wrap within the page; programming only clears bits.
	base := c.addrVal &^ (ChipPage - 1)
	for i, b := range c.pageBuf {
		off := base | ((c.addrVal + uint32(i)) & (ChipPage - 1))
		c.mem[off%ChipCapacity] &= b
	}
	c.log.Debugw("page programmed", "addr", c.addrVal, "bytes", len(c.pageBuf))
}

func (c *Chip) commitErase() {
	if !c.wel || !c.ready() {
		c.log.Debugw("erase ignored", "wel", c.wel, "ready", c.ready())
		return
	}
	c.wel = false
	c.readyAt = c.age + c.EraseTicks
	if c.forceEraseErr {
		c.eraseErr = true
		return
	}
	base := (c.addrVal % ChipCapacity) &^ (ChipSector - 1)
	for i := uint32(0); i < ChipSector; i++ {
		c.mem[base+i] = 0xFF
	}
	c.log.Debugw("sector erased", "addr", base)
}
