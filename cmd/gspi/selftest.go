package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"

	"github.com/pkg/errors"

	"github.com/gentam/gspi/flash"
)

// The self test scribbles on the last sector of the device.
const selftestSector = flash.Capacity - flash.SectorSize

// Two pages, each a 16 byte tag plus a little-endian run stamp, padded
// with erased bytes up to the 32 byte verify window.
var selftestTags = [2]string{"Flash write test", "Another testpage"}

func selftestCmd(t *target, args []string) {
	fs := flag.NewFlagSet("selftest", flag.ExitOnError)
	var (
		failProg  bool
		failErase bool
	)
	fs.BoolVar(&failProg, "failprog", false, "simulator only: force page programs to fail")
	fs.BoolVar(&failErase, "failerase", false, "simulator only: force sector erases to fail")
	fs.Parse(args)

	if failProg || failErase {
		if t.mon == nil {
			fatalUsage("fault injection needs the simulator")
		}
		t.mon.Chip().ForceProgramError(failProg)
		t.mon.Chip().ForceEraseError(failErase)
	}

	if err := runSelftest(t); err != nil {
		fatalf("%v", err)
	}
	fmt.Println("PASS")
}

func runSelftest(t *target) error {
	d := t.drv

	fmt.Printf("erasing sector 0x%06X\n", uint32(selftestSector))
	if err := d.SectorErase(selftestSector); err != nil {
		return errors.Wrap(err, "erase")
	}

	fmt.Print("verifying erase")
	buf := make([]byte, 32)
	for off := 0; off < flash.SectorSize; off += len(buf) {
		if err := d.ReadMem(selftestSector+uint32(off), buf); err != nil {
			fmt.Println()
			return errors.Wrapf(err, "read at +0x%X", off)
		}
		for i, b := range buf {
			if b != 0xFF {
				fmt.Println()
				return errors.Errorf("not erased at +0x%X: 0x%02X", off+i, b)
			}
		}
		if off%8192 == 0 {
			fmt.Print(".")
		}
	}
	fmt.Println(" ok")

	stamp := t.stamp()
	for page, tag := range selftestTags {
		addr := uint32(selftestSector + page*flash.PageSize)
		payload := make([]byte, 24)
		copy(payload, tag)
		binary.LittleEndian.PutUint64(payload[16:], stamp)

		if err := d.PageProgram(addr, payload); err != nil {
			return errors.Wrapf(err, "program page %d", page)
		}

		got := make([]byte, 32)
		if err := d.ReadMem(addr, got); err != nil {
			return errors.Wrapf(err, "read back page %d", page)
		}
		if !bytes.Equal(got[:len(payload)], payload) {
			return errors.Errorf("page %d mismatch:\n got %X\nwant %X",
				page, got[:len(payload)], payload)
		}
		for i := len(payload); i < len(got); i++ {
			if got[i] != 0xFF {
				return errors.Errorf("page %d: byte %d should still be erased", page, i)
			}
		}
		fmt.Printf("page %d at 0x%06X ok (%q)\n", page, addr, tag)
	}
	return nil
}
