package main

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

var hostInitialized atomic.Bool

// connectFT2232H finds an FT2232H and opens its MPSSE/SPI engine.
func connectFT2232H() (spi.Conn, gpio.PinIO, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, nil, errors.Wrap(err, "host initialization failed")
		}
	}

	ft, err := findFT2232H()
	if err != nil {
		return nil, nil, err
	}

	port, err := ft.SPI()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get SPI port")
	}

	// [FTDI-AN_114|1.2] the MPSSE engine supports only modes 0 and 2
	// [N25Q064A|SPI Modes] the device supports modes 0 and 3
	const clk = 30 * physic.MegaHertz // [FTDI-AN_135|3.2.1 Divisors]
	conn, err := port.Connect(clk, spi.Mode0, 8)
	if err != nil {
		return nil, nil, err
	}

	// ADBUS0 SCLK, ADBUS1 MOSI, ADBUS2 MISO, ADBUS3 CS
	return conn, ft.D3, nil
}

func findFT2232H() (*ftdi.FT232H, error) {
	const (
		vendorID  = 0x0403 // FTDI
		productID = 0x6010 // FT2232H
	)

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID || info.DevID != productID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			return ft, nil
		}
	}
	return nil, errors.New("FT2232H device not found")
}
