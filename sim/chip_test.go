package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

// chipDriver bit-bangs mode 3 frames straight into a Chip, bypassing the
// controller. Each Observe call is one cycle of chip age.
type chipDriver struct {
	c  *Chip
	ss gpio.Level
}

func newChipDriver(c *Chip) *chipDriver {
	return &chipDriver{c: c, ss: gpio.High}
}

// xfer clocks one byte out, returning the byte the chip drove back. The
// chip presents each MISO bit on the falling edge and samples MOSI on the
// rising edge.
func (d *chipDriver) xfer(b byte) byte {
	d.ss = gpio.Low
	var got byte
	for bit := 7; bit >= 0; bit-- {
		mosi := gpio.Level(b>>uint(bit)&1 != 0)
		d.c.Observe(gpio.Low, mosi, d.ss)
		if d.c.MISO() == gpio.High {
			got |= 1 << uint(bit)
		}
		d.c.Observe(gpio.High, mosi, d.ss)
	}
	return got
}

func (d *chipDriver) deselect() {
	d.ss = gpio.High
	d.c.Observe(gpio.High, gpio.Low, d.ss)
}

// idle burns n cycles with the chip deselected and the clock parked.
func (d *chipDriver) idle(n int) {
	for i := 0; i < n; i++ {
		d.c.Observe(gpio.High, gpio.Low, gpio.High)
	}
}

func addr3(addr uint32) []byte {
	return []byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

// command runs one full select/deselect bracket: opcode, payload bytes,
// then readN dummy exchanges whose responses are returned.
func (d *chipDriver) command(op byte, payload []byte, readN int) []byte {
	d.xfer(op)
	for _, b := range payload {
		d.xfer(b)
	}
	var out []byte
	for i := 0; i < readN; i++ {
		out = append(out, d.xfer(0))
	}
	d.deselect()
	return out
}

// program runs the enable/program/wait dance.
func (d *chipDriver) program(t *testing.T, addr uint32, data []byte) {
	t.Helper()
	d.command(chipCmdWriteEnable, nil, 0)
	d.command(chipCmdPageProgram, append(addr3(addr), data...), 0)
	d.idle(int(d.c.ProgramTicks) + 1)
	require.True(t, d.c.ready())
}

func TestChipIDStream(t *testing.T) {
	d := newChipDriver(NewChip())
	out := d.command(chipCmdReadID, nil, 5)
	assert.Equal(t, []byte{0x20, 0xBA, 0x17, 0, 0}, out,
		"id bytes then zero padding")
}

func TestChipReadsErasedArray(t *testing.T) {
	d := newChipDriver(NewChip())
	out := d.command(chipCmdRead, addr3(0x123456), 4)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, out)
}

func TestChipReadWrapsAtCapacity(t *testing.T) {
	c := NewChip()
	c.ProgramTicks = 16
	d := newChipDriver(c)

	d.program(t, 0, []byte{0xAB})

	out := d.command(chipCmdRead, addr3(ChipCapacity-2), 3)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xAB}, out, "read wraps to address 0")
}

func TestChipProgramNeedsWriteEnable(t *testing.T) {
	c := NewChip()
	c.ProgramTicks = 16
	d := newChipDriver(c)

	// No WRITE ENABLE: the commit is dropped and the device stays ready.
	d.command(chipCmdPageProgram, append(addr3(0x100), 0x00), 0)
	assert.True(t, c.ready())
	out := d.command(chipCmdRead, addr3(0x100), 1)
	assert.Equal(t, byte(0xFF), out[0])
}

func TestChipWriteEnableIsConsumed(t *testing.T) {
	c := NewChip()
	c.ProgramTicks = 16
	d := newChipDriver(c)

	d.program(t, 0x200, []byte{0x00})
	// Second program without a fresh WRITE ENABLE.
	d.command(chipCmdPageProgram, append(addr3(0x201), 0x00), 0)
	d.idle(int(c.ProgramTicks) + 1)

	out := d.command(chipCmdRead, addr3(0x200), 2)
	assert.Equal(t, []byte{0x00, 0xFF}, out)
}

func TestChipProgramClearsBitsOnly(t *testing.T) {
	c := NewChip()
	c.ProgramTicks = 16
	d := newChipDriver(c)

	d.program(t, 0x300, []byte{0xF0})
	d.program(t, 0x300, []byte{0x3C})

	out := d.command(chipCmdRead, addr3(0x300), 1)
	assert.Equal(t, byte(0xF0&0x3C), out[0])
}

func TestChipProgramWrapsWithinPage(t *testing.T) {
	c := NewChip()
	c.ProgramTicks = 16
	d := newChipDriver(c)

	const base = uint32(0x1100)
	d.program(t, base+254, []byte{1, 2, 3, 4})

	page := d.command(chipCmdRead, addr3(base), 256)
	assert.Equal(t, byte(3), page[0], "third byte wrapped to the page start")
	assert.Equal(t, byte(4), page[1])
	assert.Equal(t, byte(0xFF), page[2])
	assert.Equal(t, byte(1), page[254])
	assert.Equal(t, byte(2), page[255])
}

func TestChipEraseRoundsToSector(t *testing.T) {
	c := NewChip()
	c.ProgramTicks = 16
	c.EraseTicks = 16
	d := newChipDriver(c)

	// Markers inside sector 1, at the start of sector 2, and at the
	// tail of sector 0.
	d.program(t, ChipSector+10, []byte{0x00})
	d.program(t, 2*ChipSector, []byte{0x00})
	d.program(t, ChipSector-1, []byte{0x00})

	d.command(chipCmdWriteEnable, nil, 0)
	d.command(chipCmdSectorErase, addr3(2*ChipSector-1), 0) // last byte of sector 1
	d.idle(int(c.EraseTicks) + 1)

	out := d.command(chipCmdRead, addr3(ChipSector+10), 1)
	assert.Equal(t, byte(0xFF), out[0], "erased")
	out = d.command(chipCmdRead, addr3(2*ChipSector), 1)
	assert.Equal(t, byte(0x00), out[0], "next sector intact")
	out = d.command(chipCmdRead, addr3(ChipSector-1), 1)
	assert.Equal(t, byte(0x00), out[0], "previous sector intact")
}

func TestChipBusyWindow(t *testing.T) {
	c := NewChip()
	c.ProgramTicks = 1000
	d := newChipDriver(c)

	d.command(chipCmdWriteEnable, nil, 0)
	d.command(chipCmdPageProgram, append(addr3(0), 0x00), 0)
	require.False(t, c.ready())

	// Array reads gate to zero while busy; 0x00 from an erased address
	// can only be the gate.
	out := d.command(chipCmdRead, addr3(0x500), 1)
	assert.Equal(t, byte(0x00), out[0])
	out = d.command(chipCmdReadID, nil, 1)
	assert.Equal(t, byte(0x00), out[0])

	// WRITE ENABLE during busy does not latch.
	d.command(chipCmdWriteEnable, nil, 0)
	d.idle(int(c.ProgramTicks) + 1)
	require.True(t, c.ready())
	d.command(chipCmdPageProgram, append(addr3(1), 0x00), 0)
	d.idle(int(c.ProgramTicks) + 1)

	out = d.command(chipCmdRead, addr3(0), 2)
	assert.Equal(t, byte(0x00), out[0], "first program landed")
	assert.Equal(t, byte(0xFF), out[1], "program after busy-time enable dropped")
}

func TestChipFlagsStreamWhileBusy(t *testing.T) {
	c := NewChip()
	c.ProgramTicks = 64
	c.ForceProgramError(true)
	d := newChipDriver(c)

	d.command(chipCmdWriteEnable, nil, 0)
	d.command(chipCmdPageProgram, append(addr3(0), 0x00), 0)

	// One READ FLAG STATUS command, held selected: the register streams
	// live, error bit visible mid-operation, ready bit flipping without a
	// fresh opcode.
	d.xfer(chipCmdReadFlags)
	first := d.xfer(0)
	assert.Equal(t, byte(chipFlagProgramErr), first, "error visible while busy")
	var last byte
	for i := 0; i < 100; i++ {
		last = d.xfer(0)
		if last&chipFlagReady != 0 {
			break
		}
	}
	d.deselect()
	assert.Equal(t, byte(chipFlagReady|chipFlagProgramErr), last)

	out := d.command(chipCmdRead, addr3(0), 1)
	assert.Equal(t, byte(0xFF), out[0], "failed program left the array alone")
}

func TestChipErrorsStickUntilCleared(t *testing.T) {
	c := NewChip()
	c.EraseTicks = 16
	c.ForceEraseError(true)
	d := newChipDriver(c)

	d.command(chipCmdWriteEnable, nil, 0)
	d.command(chipCmdSectorErase, addr3(0), 0)
	d.idle(int(c.EraseTicks) + 1)

	for i := 0; i < 3; i++ {
		out := d.command(chipCmdReadFlags, nil, 1)
		assert.Equal(t, byte(chipFlagReady|chipFlagEraseErr), out[0], "read %d", i)
	}

	d.command(chipCmdClearFlags, nil, 0)
	out := d.command(chipCmdReadFlags, nil, 1)
	assert.Equal(t, byte(chipFlagReady), out[0])
}

func TestChipClearFlagsWhileBusy(t *testing.T) {
	c := NewChip()
	c.ProgramTicks = 1000
	c.ForceProgramError(true)
	d := newChipDriver(c)

	d.command(chipCmdWriteEnable, nil, 0)
	d.command(chipCmdPageProgram, append(addr3(0), 0x00), 0)

	out := d.command(chipCmdReadFlags, nil, 1)
	require.Equal(t, byte(chipFlagProgramErr), out[0])

	// Clearing works mid-operation and leaves the busy state alone.
	d.command(chipCmdClearFlags, nil, 0)
	out = d.command(chipCmdReadFlags, nil, 1)
	assert.Equal(t, byte(0), out[0], "error cleared, still busy")

	d.idle(int(c.ProgramTicks) + 1)
	out = d.command(chipCmdReadFlags, nil, 1)
	assert.Equal(t, byte(chipFlagReady), out[0])
}

func TestChipDropClocksGarblesFirstCommand(t *testing.T) {
	c := NewChip()
	c.DropClocks(8)
	d := newChipDriver(c)

	out := d.command(chipCmdReadID, nil, 3)
	assert.Equal(t, []byte{0, 0, 0}, out, "opcode never registered")
	assert.Zero(t, c.Violations())

	out = d.command(chipCmdReadID, nil, 3)
	assert.Equal(t, []byte{0x20, 0xBA, 0x17}, out, "second command is clean")
}

func TestChipDeselectMidByte(t *testing.T) {
	c := NewChip()
	d := newChipDriver(c)

	// Four clock pairs: half a byte, then the select line rises.
	for i := 0; i < 4; i++ {
		c.Observe(gpio.Low, gpio.High, gpio.Low)
		c.Observe(gpio.High, gpio.High, gpio.Low)
	}
	d.deselect()
	assert.Equal(t, 1, c.Violations())

	out := d.command(chipCmdReadID, nil, 3)
	assert.Equal(t, []byte{0x20, 0xBA, 0x17}, out, "recovers on the next select")
	assert.Equal(t, 1, c.Violations())
}
