package main

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/gentam/gspi/flash"
	"github.com/gentam/gspi/sim"
)

// target is an initialized flash device, either the built-in simulator or
// real hardware behind an FT2232H.
type target struct {
	drv *flash.Driver
	mon *sim.Machine // nil on hardware
	log *zap.SugaredLogger
}

func openTarget(verbose, hw bool) (*target, error) {
	log := zap.NewNop().Sugar()
	if verbose {
		zl, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		log = zl.Sugar()
	}

	t := &target{log: log}
	if hw {
		conn, cs, err := connectFT2232H()
		if err != nil {
			return nil, err
		}
		t.drv = flash.NewConn(conn, cs, flash.WithLogger(log.Named("flash")))
	} else {
		t.mon = sim.NewMachine(sim.WithLogger(log.Named("sim")))
		t.drv = flash.New(t.mon, t.mon, flash.WithLogger(log.Named("flash")))
	}

	if err := t.drv.Init(); err != nil {
		return nil, err
	}
	return t, nil
}

// stamp returns a value that differs between runs, used to make test
// payloads distinguishable from stale flash contents.
func (t *target) stamp() uint64 {
	if t.mon != nil {
		return t.mon.Cycles()
	}
	return uint64(time.Now().UnixNano())
}

func parseAddr(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	return uint32(v), err
}
