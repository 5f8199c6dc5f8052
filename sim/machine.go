// Package sim provides a software testbench for the SPI flash controller:
// a Machine that clocks a gspi.Controller against a modeled serial NOR
// flash chip, plus a periph SPI port backed by the same assembly.
package sim

import (
	"go.uber.org/zap"

	"github.com/gentam/gspi"
)

// Machine is a controller wired to a chip with a shared system clock. It
// implements gspi.Bus with the bus's single-cycle read latency: every
// register access advances the simulation one tick, and reads return the
// register state from the moment the request was presented.
type Machine struct {
	ctl  *gspi.Controller
	chip *Chip
	log  *zap.SugaredLogger

	cfg    gspi.Config
	cycles uint64
	pins   gspi.Pins
}

type Option func(*Machine)

// WithConfig sets the controller timing.
func WithConfig(cfg gspi.Config) Option {
	return func(m *Machine) { m.cfg = cfg }
}

// WithChip substitutes a prepared chip.
func WithChip(chip *Chip) Option {
	return func(m *Machine) { m.chip = chip }
}

// WithLogger routes simulation tracing to log.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(m *Machine) { m.log = log }
}

// WithStartCycle presets the cycle counter, e.g. near 2^64 to exercise
// deadline wraparound.
func WithStartCycle(n uint64) Option {
	return func(m *Machine) { m.cycles = n }
}

func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		chip: NewChip(),
		log:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctl = gspi.New(m.cfg)
	m.pins = m.ctl.Pins()
	m.chip.attach(m.log.Named("chip"))
	return m
}

// Chip returns the attached flash model.
func (m *Machine) Chip() *Chip { return m.chip }

// Pins reports the controller's line state after the last tick.
func (m *Machine) Pins() gspi.Pins { return m.pins }

// Cycles implements gspi.CycleCounter.
func (m *Machine) Cycles() uint64 { return m.cycles }

// Tick advances the whole assembly one system clock cycle.
func (m *Machine) Tick() {
	miso := m.chip.MISO()
	m.pins = m.ctl.Tick(miso)
	m.chip.Observe(m.pins.SCLK, m.pins.MOSI, m.pins.SS)
	m.cycles++
}

// Run advances n cycles.
func (m *Machine) Run(n int) {
	for i := 0; i < n; i++ {
		m.Tick()
	}
}

// ReadReg implements gspi.Bus.
func (m *Machine) ReadReg(offset uint32) uint32 {
	v := m.ctl.BusRead(offset)
	m.Tick()
	return v
}

// WriteReg implements gspi.Bus.
func (m *Machine) WriteReg(offset, value uint32) {
	m.ctl.BusWrite(offset, value)
	m.Tick()
}

var (
	_ gspi.Bus          = (*Machine)(nil)
	_ gspi.CycleCounter = (*Machine)(nil)
)
