package flash

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/gentam/gspi/sim"
)

func simSPIConn(t *testing.T) (spi.Conn, *sim.Machine) {
	t.Helper()
	m := sim.NewMachine(sim.WithConfig(fastConfig))
	c, err := m.SPIPort().Connect(physic.MegaHertz, spi.Mode3, 8)
	require.NoError(t, err)
	return c, m
}

func connRig(t *testing.T, c spi.Conn, opts ...Option) *Driver {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	return NewConn(c, &gpiotest.Pin{N: "cs"}, opts...)
}

func TestConnReadID(t *testing.T) {
	c, _ := simSPIConn(t)
	d := connRig(t, c)

	require.NoError(t, d.Init())
	id, err := d.ReadID()
	require.NoError(t, err)
	assert.Equal(t, DeviceID{Manufacturer: 0x20, Device: 0xBA17}, id)
	assert.Equal(t, "Micron N25Q 64Mb 3V", id.Name())
}

func TestConnProgramReadBack(t *testing.T) {
	c, m := simSPIConn(t)
	// Completion is reached in simulated ticks but the deadline runs on
	// the wall clock; keep the tick count low and the deadline generous.
	m.Chip().ProgramTicks = 100
	d := connRig(t, c, WithTimeouts(time.Second, 3*time.Second))

	data := []byte("written over the host link")
	require.NoError(t, d.PageProgram(0x40, data))

	got := make([]byte, len(data))
	require.NoError(t, d.ReadMem(0x40, got))
	assert.Equal(t, data, got)
}

// countingConn records the transfers made by the transport.
type countingConn struct {
	spi.Conn
	calls int
	lastW []byte
}

func (c *countingConn) Tx(w, r []byte) error {
	c.calls++
	c.lastW = append([]byte(nil), w...)
	return c.Conn.Tx(w, r)
}

func TestConnOneTransferPerCommand(t *testing.T) {
	inner, _ := simSPIConn(t)
	cc := &countingConn{Conn: inner}
	d := connRig(t, cc)

	id, err := d.ReadID()
	require.NoError(t, err)
	assert.Equal(t, byte(0x20), id.Manufacturer)
	assert.Equal(t, 1, cc.calls, "opcode and response share one transfer")
	assert.Equal(t, []byte{cmdReadID, 0, 0, 0}, cc.lastW,
		"response bytes ride on zero padding")
}

func TestConnTransactionLimit(t *testing.T) {
	c, _ := simSPIConn(t)
	d := connRig(t, c)

	err := d.ReadMem(0, make([]byte, maxTransaction))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")

	// The failed transaction must not leave queued bytes behind.
	id, err := d.ReadID()
	require.NoError(t, err)
	assert.Equal(t, byte(0x20), id.Manufacturer)
}

// tickingConn advances a mock wall clock on every transfer, standing in
// for the time a real link spends on the wire.
type tickingConn struct {
	spi.Conn
	mock *clock.Mock
	step time.Duration
}

func (c *tickingConn) Tx(w, r []byte) error {
	c.mock.Add(c.step)
	return c.Conn.Tx(w, r)
}

func TestConnPollTimeoutOnWallClock(t *testing.T) {
	inner, m := simSPIConn(t)
	m.Chip().ProgramTicks = 1 << 40

	mock := clock.NewMock()
	tc := &tickingConn{Conn: inner, mock: mock, step: 100 * time.Microsecond}
	d := connRig(t, tc, WithClock(mock), WithTimeouts(time.Millisecond, time.Millisecond))

	err := d.PageProgram(0, []byte{0x00})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWallCyclesScale(t *testing.T) {
	mock := clock.NewMock()
	wc := newWallCycles(mock, 100)

	assert.Equal(t, uint64(0), wc.Cycles())
	mock.Add(3 * time.Microsecond)
	assert.Equal(t, uint64(300), wc.Cycles())
	mock.Add(time.Millisecond)
	assert.Equal(t, uint64(100300), wc.Cycles())
}
