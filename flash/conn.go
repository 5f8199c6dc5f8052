package flash

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"

	"github.com/gentam/gspi"
)

// NewConn returns a driver speaking directly over a host SPI link, with cs
// as the chip select line. Completion deadlines are measured against the
// wall clock (see WithClock) instead of a hardware cycle counter.
func NewConn(c spi.Conn, cs gpio.PinIO, opts ...Option) *Driver {
	d := newDriver(opts...)
	d.t = &connTransport{conn: c, cs: cs}
	d.cycles = newWallCycles(d.wall, d.clockMHz)
	return d
}

// maxTransaction bounds one full-duplex transfer [FTDI-AN_108].
const maxTransaction = 65536

// connTransport batches a whole transaction and plays it as a single
// full-duplex transfer inside one chip select bracket. Sent bytes append
// to the write buffer; reads reserve windows into the response.
type connTransport struct {
	conn spi.Conn
	cs   gpio.PinIO

	wbuf  []byte
	reads []readWindow
}

type readWindow struct {
	off int
	dst []byte
}

func (t *connTransport) sendByte(b byte) error {
	t.wbuf = append(t.wbuf, b)
	return nil
}

func (t *connTransport) readBytes(buf []byte) error {
	t.reads = append(t.reads, readWindow{off: len(t.wbuf), dst: buf})
	t.wbuf = append(t.wbuf, make([]byte, len(buf))...)
	return nil
}

func (t *connTransport) endTransaction() (err error) {
	w := t.wbuf
	reads := t.reads
	t.wbuf = nil
	t.reads = nil

	if len(w) == 0 {
		return nil
	}
	if len(w) > maxTransaction {
		return errors.Errorf("transaction of %d bytes exceeds the %d byte limit",
			len(w), maxTransaction)
	}

	r := make([]byte, len(w))
	if err = t.cs.Out(gpio.Low); err != nil {
		return errors.Wrap(err, "asserting chip select")
	}
	defer func() {
		if csErr := t.cs.Out(gpio.High); csErr != nil && err == nil {
			err = errors.Wrap(csErr, "releasing chip select")
		}
	}()
	if err = t.conn.Tx(w, r); err != nil {
		return errors.Wrap(err, "spi transfer")
	}
	for _, win := range reads {
		copy(win.dst, r[win.off:])
	}
	return nil
}

// drain is a no-op: a host link has no controller-side queues to flush.
func (t *connTransport) drain() error { return nil }

// wallCycles maps wall-clock time onto a cycle counter so poll deadlines
// work without a hardware counter.
type wallCycles struct {
	clk   clock.Clock
	epoch time.Time
	mhz   uint64
}

func newWallCycles(clk clock.Clock, mhz uint64) *wallCycles {
	return &wallCycles{clk: clk, epoch: clk.Now(), mhz: mhz}
}

func (w *wallCycles) Cycles() uint64 {
	return uint64(w.clk.Since(w.epoch).Microseconds()) * w.mhz
}

var _ gspi.CycleCounter = (*wallCycles)(nil)
