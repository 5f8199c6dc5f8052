package flash

import (
	"github.com/pkg/errors"

	"github.com/gentam/gspi"
)

// transport moves command bytes between the sequencer and the chip and
// delimits transactions.
type transport interface {
	// sendByte queues one command byte, without response capture.
	sendByte(b byte) error
	// readBytes fills buf with response bytes to dummy capture commands.
	readBytes(buf []byte) error
	// endTransaction completes the exchange and deselects the chip.
	endTransaction() error
	// drain flushes state left over from an interrupted exchange.
	drain() error
}

// regTransport drives the controller's register protocol. Waits are plain
// status polls: unbounded when limit is 0, otherwise failing with
// ErrStalled after limit polls without progress.
type regTransport struct {
	bus   gspi.Bus
	limit int
}

func (t *regTransport) sendByte(b byte) error {
	for n := 0; t.bus.ReadReg(gspi.RegStatus)&gspi.StatusCmdReady == 0; n++ {
		if t.limit > 0 && n >= t.limit {
			return errors.Wrap(ErrStalled, "waiting for command queue")
		}
	}
	t.bus.WriteReg(gspi.RegData, uint32(b))
	return nil
}

func (t *regTransport) readBytes(buf []byte) error {
	pending := len(buf) // dummy commands still to submit
	got := 0
	idle := 0
	for got < len(buf) {
		status := t.bus.ReadReg(gspi.RegStatus)
		progressed := false
		if pending > 0 && status&gspi.StatusCmdReady != 0 {
			t.bus.WriteReg(gspi.RegData, gspi.DataCapture)
			pending--
			progressed = true
		}
		if status&gspi.StatusReadReady != 0 {
			if v := t.bus.ReadReg(gspi.RegData); v&gspi.DataValid != 0 {
				buf[got] = byte(v)
				got++
				progressed = true
			}
		}
		if progressed {
			idle = 0
			continue
		}
		idle++
		if t.limit > 0 && idle >= t.limit {
			return errors.Wrap(ErrStalled, "waiting for response bytes")
		}
	}
	return nil
}

func (t *regTransport) endTransaction() error {
	for n := 0; t.bus.ReadReg(gspi.RegStatus)&gspi.StatusBusy != 0; n++ {
		if t.limit > 0 && n >= t.limit {
			return errors.Wrap(ErrStalled, "waiting for idle")
		}
	}
	t.bus.WriteReg(gspi.RegSlaveSelect, 0)
	return nil
}

// drain pops stale response bytes and waits out whatever transfer a reset
// interrupted, leaving the controller idle with empty queues.
func (t *regTransport) drain() error {
	for n := 0; ; n++ {
		status := t.bus.ReadReg(gspi.RegStatus)
		if status&gspi.StatusReadReady != 0 {
			t.bus.ReadReg(gspi.RegData)
			n = 0
			continue
		}
		if status&gspi.StatusBusy == 0 {
			return nil
		}
		if t.limit > 0 && n >= t.limit {
			return errors.Wrap(ErrStalled, "draining stale bytes")
		}
	}
}
