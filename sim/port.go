package sim

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/gentam/gspi"
)

// SPIPort exposes the machine as a periph SPI port so spi.Conn-based code
// can run against the simulated chip. Transfers are pumped through the
// controller's register protocol, so they advance the machine's clock.
func (m *Machine) SPIPort() spi.PortCloser {
	return &simPort{m: m}
}

type simPort struct {
	m *Machine
}

func (p *simPort) String() string { return "gspi-sim" }

func (p *simPort) Close() error { return nil }

// LimitSpeed is accepted and ignored; the simulated clock rate is fixed by
// the controller's divider.
func (p *simPort) LimitSpeed(f physic.Frequency) error { return nil }

// Connect validates the requested parameters. The wire runs mode 3; mode 0
// requests are accepted because the modeled device family supports both.
func (p *simPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	if bits != 8 {
		return nil, errors.Errorf("unsupported word size %d", bits)
	}
	if flags := mode &^ (spi.Mode0 | spi.Mode3); flags != 0 {
		return nil, errors.Errorf("unsupported mode flags %#x", int(flags))
	}
	if base := mode & 0x3; base != spi.Mode0 && base != spi.Mode3 {
		return nil, errors.Errorf("unsupported mode %d", int(base))
	}
	p.m.log.Debugw("sim port connected", "freq", f, "mode", int(mode))
	return &simConn{m: p.m}, nil
}

type simConn struct {
	m *Machine
}

func (c *simConn) String() string { return "gspi-sim" }

func (c *simConn) Duplex() conn.Duplex { return conn.Full }

// Tx clocks one full-duplex transaction and releases slave select.
func (c *simConn) Tx(w, r []byte) error {
	if err := c.pump(w, r); err != nil {
		return err
	}
	return c.deselect()
}

// TxPackets clocks each packet, holding slave select across packets that
// request KeepCS.
func (c *simConn) TxPackets(p []spi.Packet) error {
	for i := range p {
		if bpw := p[i].BitsPerWord; bpw != 0 && bpw != 8 {
			return errors.Errorf("unsupported word size %d", bpw)
		}
		if err := c.pump(p[i].W, p[i].R); err != nil {
			return err
		}
		if !p[i].KeepCS {
			if err := c.deselect(); err != nil {
				return err
			}
		}
	}
	return nil
}

// pumpCap bounds register polls per byte; the simulation is deterministic,
// so hitting it means the controller wedged.
const pumpCap = 1 << 16

func (c *simConn) pump(w, r []byte) error {
	n := len(w)
	if len(r) > n {
		n = len(r)
	}
	sent, got := 0, 0
	for spins := 0; got < n; spins++ {
		if spins > pumpCap {
			return errors.New("controller made no progress")
		}
		status := c.m.ReadReg(gspi.RegStatus)
		if sent < n && status&gspi.StatusCmdReady != 0 {
			var b byte
			if sent < len(w) {
				b = w[sent]
			}
			c.m.WriteReg(gspi.RegData, gspi.DataCapture|uint32(b))
			sent++
			spins = 0
		}
		if status&gspi.StatusReadReady != 0 {
			if v := c.m.ReadReg(gspi.RegData); v&gspi.DataValid != 0 {
				if got < len(r) {
					r[got] = byte(v)
				}
				got++
				spins = 0
			}
		}
	}
	return nil
}

func (c *simConn) deselect() error {
	for spins := 0; c.m.ReadReg(gspi.RegStatus)&gspi.StatusBusy != 0; spins++ {
		if spins > pumpCap {
			return errors.New("controller stuck busy")
		}
	}
	c.m.WriteReg(gspi.RegSlaveSelect, 0)
	return nil
}

var _ spi.PortCloser = (*simPort)(nil)
