// Package flash drives serial NOR flash through the SPI controller's
// register protocol, or directly over a host SPI link. It issues the
// common command set (read id, read, page program, sector erase) with
// flag-status polling and cycle-counter deadlines.
package flash

import (
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gentam/gspi"
)

// Flash commands [N25Q064A|Command Set].
const (
	cmdReadID      = 0x9F
	cmdRead        = 0x03
	cmdWriteEnable = 0x06
	cmdReadFlags   = 0x70 // Read Flag Status Register
	cmdClearFlags  = 0x50 // Clear Flag Status Register
	cmdPageProgram = 0x02
	cmdSectorErase = 0xD8 // 64KB sector

	// Not a real command: absorbs the unreliable first exchange after
	// power-up and returns the device from XIP to extended SPI.
	cmdProbe = 0xFF
)

// Flag status register bits [N25Q064A|Flag Status Register].
const (
	flagProgramErr = 1 << 4
	flagEraseErr   = 1 << 5
	flagReady      = 1 << 7
)

// Geometry of the supported device family.
const (
	PageSize   = 256
	SectorSize = 64 * 1024
	Capacity   = 8 * 1024 * 1024
)

// Polling defaults, overridable per driver and per identified chip.
const (
	DefaultProgramTimeout = 5 * time.Millisecond
	DefaultEraseTimeout   = 3 * time.Second
	DefaultClockMHz       = 100
)

// Sentinel errors, matchable with errors.Is.
var (
	ErrFailed   = errors.New("device reported failure")
	ErrTimeout  = errors.New("timed out waiting for ready")
	ErrNotReady = errors.New("device not ready")
	ErrStalled  = errors.New("controller stalled")
)

// StatusFlags is the device's flag status register.
//
//	Bit | Meaning [N25Q064A|Flag Status Register]
//	----+----------------------------------------
//	7   | Program or erase controller ready
//	5   | Erase failure
//	4   | Program failure
type StatusFlags byte

func (f StatusFlags) Ready() bool        { return f&flagReady != 0 }
func (f StatusFlags) EraseError() bool   { return f&flagEraseErr != 0 }
func (f StatusFlags) ProgramError() bool { return f&flagProgramErr != 0 }

func (f StatusFlags) String() string {
	b := fmt.Sprintf("%08b", byte(f))
	s := []string{}
	if f.Ready() {
		s = append(s, "READY")
	}
	if f.EraseError() {
		s = append(s, "ERASE_ERR")
	}
	if f.ProgramError() {
		s = append(s, "PROG_ERR")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

// DeviceID is the response to the READ ID command.
type DeviceID struct {
	Manufacturer byte
	Device       uint16
}

func (id DeviceID) String() string {
	return fmt.Sprintf("mfr=0x%02X dev=0x%04X", id.Manufacturer, id.Device)
}

// Driver sequences flash commands over a transport.
type Driver struct {
	t      transport
	cycles gspi.CycleCounter
	log    *zap.SugaredLogger

	clockMHz       uint64
	programTimeout time.Duration
	eraseTimeout   time.Duration
	timeoutsSet    bool
	spinLimit      int
	wall           clock.Clock

	id DeviceID
	pr *chipParams
}

type Option func(*Driver)

// WithLogger routes driver tracing to log.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(d *Driver) { d.log = log }
}

// WithClockMHz sets the cycle counter frequency used to convert timeouts
// into cycle deadlines.
func WithClockMHz(mhz uint64) Option {
	return func(d *Driver) { d.clockMHz = mhz }
}

// WithTimeouts overrides the program and erase completion timeouts,
// taking precedence over values learned from ReadID.
func WithTimeouts(program, erase time.Duration) Option {
	return func(d *Driver) {
		d.programTimeout = program
		d.eraseTimeout = erase
		d.timeoutsSet = true
	}
}

// WithSpinLimit bounds every register busy-wait to n polls, turning a hung
// controller into ErrStalled instead of spinning forever. 0 restores the
// unbounded behavior.
func WithSpinLimit(n int) Option {
	return func(d *Driver) { d.spinLimit = n }
}

// WithClock substitutes the wall clock behind NewConn's cycle counter.
func WithClock(c clock.Clock) Option {
	return func(d *Driver) { d.wall = c }
}

func newDriver(opts ...Option) *Driver {
	d := &Driver{
		log:            zap.NewNop().Sugar(),
		clockMHz:       DefaultClockMHz,
		programTimeout: DefaultProgramTimeout,
		eraseTimeout:   DefaultEraseTimeout,
		wall:           clock.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// New returns a driver speaking the controller's register protocol on bus,
// with deadlines measured on clk.
func New(bus gspi.Bus, clk gspi.CycleCounter, opts ...Option) *Driver {
	d := newDriver(opts...)
	d.t = &regTransport{bus: bus, limit: d.spinLimit}
	d.cycles = clk
	return d
}

// Init brings the device to a known state: flush whatever a reset
// interrupted, probe twice (the first command after power-up may not
// register), clear sticky error flags, and wait out any operation that was
// in progress.
func (d *Driver) Init() error {
	if err := d.t.drain(); err != nil {
		return err
	}
	if err := d.commandSimple(cmdProbe); err != nil {
		return err
	}
	if err := d.commandSimple(cmdProbe); err != nil {
		return err
	}
	if err := d.commandSimple(cmdClearFlags); err != nil {
		return err
	}
	if _, err := d.PollCompletion(d.effEraseTimeout()); err != nil {
		if !errors.Is(err, ErrTimeout) {
			return err
		}
		d.log.Warnw("device still busy after init")
	}
	return nil
}

// ReadID identifies the device. Known chips configure the driver's
// completion timeouts unless WithTimeouts pinned them.
func (d *Driver) ReadID() (DeviceID, error) {
	var buf [3]byte
	if err := d.commandRead(cmdReadID, buf[:]); err != nil {
		return DeviceID{}, err
	}
	d.id = DeviceID{
		Manufacturer: buf[0],
		Device:       uint16(buf[1])<<8 | uint16(buf[2]),
	}
	if pr, ok := knownChips[d.id]; ok {
		d.pr = &pr
	}
	return d.id, nil
}

// ReadMem streams len(buf) bytes starting at addr in one READ transaction.
func (d *Driver) ReadMem(addr uint32, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if err := checkRange(addr, len(buf)); err != nil {
		return err
	}
	return d.commandAddrRead(cmdRead, addr, buf)
}

// ReadFlags reads the flag status register.
func (d *Driver) ReadFlags() (StatusFlags, error) {
	var buf [1]byte
	if err := d.commandRead(cmdReadFlags, buf[:]); err != nil {
		return 0, err
	}
	return StatusFlags(buf[0]), nil
}

// PageProgram writes data at addr. The range must lie within a single
// page; programming can only clear bits, so the page should be erased
// first. Returns ErrNotReady if the device is mid-operation, ErrTimeout if
// it never reports ready, ErrFailed if it flags a program failure.
func (d *Driver) PageProgram(addr uint32, data []byte) error {
	if len(data) == 0 {
		return errors.New("no data to program")
	}
	if len(data) > PageSize {
		return errors.Errorf("%d bytes exceeds the %d byte page", len(data), PageSize)
	}
	if addr/PageSize != (addr+uint32(len(data))-1)/PageSize {
		return errors.Errorf("range 0x%X+%d crosses a page boundary", addr, len(data))
	}
	if err := checkRange(addr, len(data)); err != nil {
		return err
	}

	flags, err := d.ReadFlags()
	if err != nil {
		return err
	}
	if !flags.Ready() {
		return errors.Wrap(ErrNotReady, "page program")
	}

	if err := d.commandSimple(cmdClearFlags); err != nil {
		return err
	}
	if err := d.commandSimple(cmdWriteEnable); err != nil {
		return err
	}
	if err := d.commandAddrWrite(cmdPageProgram, addr, data); err != nil {
		return err
	}

	flags, err = d.PollCompletion(d.effProgramTimeout())
	if err != nil {
		return err
	}
	if flags.ProgramError() {
		// Clear the sticky error so the next operation starts clean.
		if cerr := d.commandSimple(cmdClearFlags); cerr != nil {
			return cerr
		}
		return errors.Wrapf(ErrFailed, "program at 0x%06X", addr)
	}
	d.log.Debugw("page programmed", "addr", addr, "bytes", len(data))
	return nil
}

// SectorErase erases the 64KB sector containing addr. Error returns are as
// for PageProgram, with the erase failure flag.
func (d *Driver) SectorErase(addr uint32) error {
	if err := checkRange(addr, 1); err != nil {
		return err
	}

	flags, err := d.ReadFlags()
	if err != nil {
		return err
	}
	if !flags.Ready() {
		return errors.Wrap(ErrNotReady, "sector erase")
	}

	if err := d.commandSimple(cmdClearFlags); err != nil {
		return err
	}
	if err := d.commandSimple(cmdWriteEnable); err != nil {
		return err
	}
	if err := d.commandAddrWrite(cmdSectorErase, addr, nil); err != nil {
		return err
	}

	flags, err = d.PollCompletion(d.effEraseTimeout())
	if err != nil {
		return err
	}
	if flags.EraseError() {
		if cerr := d.commandSimple(cmdClearFlags); cerr != nil {
			return cerr
		}
		return errors.Wrapf(ErrFailed, "erase at 0x%06X", addr)
	}
	d.log.Debugw("sector erased", "addr", addr)
	return nil
}

// PollCompletion reads the flag status register until the device reports
// ready or the deadline passes, whichever comes first. The register is
// read at least once. Deadlines are cycle counts, compared so that counter
// wraparound cannot produce a stuck or instantly-expired wait.
func (d *Driver) PollCompletion(timeout time.Duration) (StatusFlags, error) {
	deadline := d.cycles.Cycles() + d.clockMHz*uint64(timeout.Microseconds())
	for {
		flags, err := d.ReadFlags()
		if err != nil {
			return flags, err
		}
		if flags.Ready() {
			return flags, nil
		}
		if remain := deadline - d.cycles.Cycles(); remain >= 1<<63 {
			return flags, errors.Wrapf(ErrTimeout, "after %v", timeout)
		}
	}
}

func (d *Driver) effProgramTimeout() time.Duration {
	if !d.timeoutsSet && d.pr != nil {
		return d.pr.program
	}
	return d.programTimeout
}

func (d *Driver) effEraseTimeout() time.Duration {
	if !d.timeoutsSet && d.pr != nil {
		return d.pr.erase
	}
	return d.eraseTimeout
}

func checkRange(addr uint32, n int) error {
	if uint64(addr)+uint64(n) > Capacity {
		return errors.Errorf("range 0x%X+%d exceeds the %d byte device", addr, n, Capacity)
	}
	return nil
}

// Command composites. Every command is one select/deselect bracket.

func (d *Driver) commandSimple(op byte) error {
	if err := d.t.sendByte(op); err != nil {
		return err
	}
	return d.t.endTransaction()
}

func (d *Driver) commandRead(op byte, buf []byte) error {
	if err := d.t.sendByte(op); err != nil {
		return err
	}
	if err := d.t.readBytes(buf); err != nil {
		return err
	}
	return d.t.endTransaction()
}

func (d *Driver) commandAddrRead(op byte, addr uint32, buf []byte) error {
	if err := d.sendHeader(op, addr); err != nil {
		return err
	}
	if err := d.t.readBytes(buf); err != nil {
		return err
	}
	return d.t.endTransaction()
}

func (d *Driver) commandAddrWrite(op byte, addr uint32, data []byte) error {
	if err := d.sendHeader(op, addr); err != nil {
		return err
	}
	for _, b := range data {
		if err := d.t.sendByte(b); err != nil {
			return err
		}
	}
	return d.t.endTransaction()
}

// sendHeader sends the opcode and 24-bit big-endian address.
func (d *Driver) sendHeader(op byte, addr uint32) error {
	for _, b := range [4]byte{op, byte(addr >> 16), byte(addr >> 8), byte(addr)} {
		if err := d.t.sendByte(b); err != nil {
			return err
		}
	}
	return nil
}
