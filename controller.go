package gspi

import (
	"periph.io/x/conn/v3/gpio"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultDivider       = 4
	DefaultDeselectTicks = 4
)

// Config holds the fixed timing parameters of a Controller. In hardware
// these are synthesis-time generics, not runtime registers.
type Config struct {
	// Divider is the SPI clock half-period in system ticks; the SPI clock
	// runs at the system clock divided by 2*Divider. Values below 1 select
	// DefaultDivider.
	Divider int

	// DeselectTicks is how long slave select stays deasserted between
	// transactions. Values below 1 select DefaultDeselectTicks.
	DeselectTicks int
}

// Pins is the physical output state of the controller after a tick.
// SS is active low: gpio.Low means the slave is selected.
type Pins struct {
	SCLK gpio.Level
	MOSI gpio.Level
	SS   gpio.Level
}

type ctlState uint8

const (
	stateIdle ctlState = iota
	stateDeselect
	stateTransfer
	stateLastBit
)

// Controller is a tick-driven SPI master with a three-register bus
// interface (RegStatus, RegSlaveSelect, RegData). It clocks one byte per
// command in SPI mode 3: the clock idles high and data shifts on falling
// edges. Commands and responses each pass through a single-entry queue, so
// software paces the device by polling RegStatus.
//
// Tick advances the model one system clock cycle. BusRead and BusWrite are
// the combinational half of the bus protocol; the owning bus is expected to
// advance the model one tick per access (see sim.Machine).
type Controller struct {
	cfg Config

	state ctlState

	// clock generator
	div  int // counts down to 0, then reloads with Divider-1 and toggles
	sclk gpio.Level

	// shift register; holds the completed byte while held is set
	shift   byte
	bit     int
	capture bool

	// single-entry command queue
	txFull    bool
	txData    byte
	txCapture bool

	// single-entry receive queue
	rxFull bool
	rxData byte
	held   bool // completed capture waiting for the receive queue

	// slave select
	selectReq  bool // register value
	ssAsserted bool // line state
	deselect   int  // remaining hold ticks

	mosi gpio.Level
}

// New returns a reset Controller with cfg's timing, substituting defaults
// for out-of-range fields.
func New(cfg Config) *Controller {
	if cfg.Divider < 1 {
		cfg.Divider = DefaultDivider
	}
	if cfg.DeselectTicks < 1 {
		cfg.DeselectTicks = DefaultDeselectTicks
	}
	c := &Controller{cfg: cfg}
	c.Reset()
	return c
}

// Reset returns the controller to power-up state: idle, clock high, slave
// deselected, output line low, both queues empty.
func (c *Controller) Reset() {
	c.state = stateIdle
	c.sclk = gpio.High
	c.mosi = gpio.Low
	c.div = c.cfg.Divider - 1
	c.shift = 0
	c.bit = 0
	c.capture = false
	c.txFull = false
	c.txData = 0
	c.txCapture = false
	c.rxFull = false
	c.rxData = 0
	c.held = false
	c.selectReq = false
	c.ssAsserted = false
	c.deselect = 0
}

// Pins reports the current output line state.
func (c *Controller) Pins() Pins {
	return Pins{SCLK: c.sclk, MOSI: c.mosi, SS: c.ssLevel()}
}

// Tick advances one system clock cycle. miso is the level the slave is
// driving during this cycle; it is shifted in on falling-edge events.
func (c *Controller) Tick(miso gpio.Level) Pins {
	switch c.state {
	case stateTransfer, stateLastBit:
		c.tickClock(miso)
	case stateDeselect:
		if c.deselect > 0 {
			c.deselect--
		}
		if c.deselect == 0 {
			c.state = stateIdle
		}
	case stateIdle:
		c.tickIdle()
	}
	return Pins{SCLK: c.sclk, MOSI: c.mosi, SS: c.ssLevel()}
}

// tickIdle performs at most one queue or select-line action per tick.
func (c *Controller) tickIdle() {
	c.sclk = gpio.High
	c.div = c.cfg.Divider - 1

	// A held byte blocks the shift register until the receive queue drains.
	if c.held {
		if !c.rxFull {
			c.rxData = c.shift
			c.rxFull = true
			c.held = false
		}
		return
	}

	if c.txFull {
		c.startTransfer()
		return
	}

	// Reconcile the select line with the register when no work is pending.
	if c.selectReq && !c.ssAsserted {
		c.ssAsserted = true
	} else if !c.selectReq && c.ssAsserted {
		c.ssAsserted = false
		c.deselect = c.cfg.DeselectTicks
		c.state = stateDeselect
	}
}

func (c *Controller) startTransfer() {
	c.shift = c.txData
	c.capture = c.txCapture
	c.txFull = false
	c.bit = 7
	c.selectReq = true
	c.ssAsserted = true
	c.state = stateTransfer

	// Starting a transfer forces the first falling edge; the slave sees
	// select and the edge in the same cycle and drives its first bit.
	c.sclk = gpio.Low
	c.div = c.cfg.Divider - 1
	c.mosi = levelOf(c.shift & 0x80)
}

// tickClock runs the divider and applies edge events. Each falling-edge
// event shifts exactly once; the ninth scheduled falling edge is suppressed
// on the wire but still times the final capture.
func (c *Controller) tickClock(miso gpio.Level) {
	if c.div > 0 {
		c.div--
		return
	}
	c.div = c.cfg.Divider - 1

	if c.sclk == gpio.Low {
		// Rising edge. The slave samples MOSI here; nothing shifts.
		c.sclk = gpio.High
		return
	}

	if c.state == stateLastBit {
		// Keep the clock line high so the slave's bit counter stays on a
		// byte boundary, but capture the final bit on the event.
		c.shift = c.shift<<1 | bitOf(miso)
		c.mosi = gpio.Low
		if c.capture {
			c.held = true
		}
		c.state = stateIdle
		return
	}

	// Falling edge: capture the slave's bit, present the next output bit.
	c.sclk = gpio.Low
	c.shift = c.shift<<1 | bitOf(miso)
	c.mosi = levelOf(c.shift & 0x80)
	c.bit--
	if c.bit == 0 {
		c.state = stateLastBit
	}
}

// busy reports whether any work is in flight: an active state, a queued
// command, or a captured byte that has not reached the receive queue.
func (c *Controller) busy() bool {
	return c.state != stateIdle || c.txFull || c.held
}

// BusRead returns the value of the register at offset. Reading RegData pops
// the receive queue; all other reads are side-effect free. Unmapped offsets
// read as 0.
func (c *Controller) BusRead(offset uint32) uint32 {
	switch offset {
	case RegStatus:
		var v uint32
		if c.busy() {
			v |= StatusBusy
		}
		if !c.txFull {
			v |= StatusCmdReady
		}
		if c.rxFull {
			v |= StatusReadReady
		}
		return v
	case RegSlaveSelect:
		if c.selectReq {
			return 1
		}
		return 0
	case RegData:
		if !c.rxFull {
			return 0
		}
		c.rxFull = false
		return DataValid | uint32(c.rxData)
	}
	return 0
}

// BusWrite applies a register write. Writes to RegData are dropped while
// the command queue is full; writes to RegSlaveSelect are dropped while
// busy. Unmapped offsets are ignored.
func (c *Controller) BusWrite(offset, value uint32) {
	switch offset {
	case RegSlaveSelect:
		if c.busy() {
			return
		}
		c.selectReq = value&1 != 0
	case RegData:
		if c.txFull {
			return
		}
		c.txData = byte(value)
		c.txCapture = value&DataCapture != 0
		c.txFull = true
	}
}

func (c *Controller) ssLevel() gpio.Level {
	if c.ssAsserted {
		return gpio.Low
	}
	return gpio.High
}

func levelOf(b byte) gpio.Level {
	return gpio.Level(b != 0)
}

func bitOf(l gpio.Level) byte {
	if l == gpio.High {
		return 1
	}
	return 0
}
