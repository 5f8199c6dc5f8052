package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gentam/gspi/flash"
)

func writeCmd(t *target, args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	var (
		addrStr  string
		filename string
		noErase  bool
	)
	fs.StringVar(&addrStr, "a", "0", "start address (sector aligned unless -noerase)")
	fs.StringVar(&filename, "f", "", "input file")
	fs.BoolVar(&noErase, "noerase", false, "skip erasing the covered sectors")
	fs.Parse(args)

	if filename == "" {
		fatalUsage("input file is required")
	}
	addr, err := parseAddr(addrStr)
	if err != nil {
		fatalUsage("bad address %q: %v", addrStr, err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		fatalf("failed to read file: %v", err)
	}
	if len(data) == 0 {
		fatalf("%s is empty", filename)
	}

	if !noErase {
		if err := eraseRange(t.drv, addr, len(data)); err != nil {
			fatalf("erase failed: %v", err)
		}
	}
	if err := programRange(t.drv, addr, data); err != nil {
		fatalf("write flash failed: %v", err)
	}
	fmt.Printf("wrote %d bytes at 0x%06X\n", len(data), addr)
}

// programRange programs data page by page, honoring page alignment of the
// first chunk.
func programRange(d *flash.Driver, addr uint32, data []byte) error {
	for len(data) > 0 {
		n := flash.PageSize - int(addr%flash.PageSize)
		if n > len(data) {
			n = len(data)
		}
		if err := d.PageProgram(addr, data[:n]); err != nil {
			return err
		}
		addr += uint32(n)
		data = data[n:]
	}
	return nil
}

// eraseRange erases every sector overlapping [addr, addr+n).
func eraseRange(d *flash.Driver, addr uint32, n int) error {
	first := addr &^ (flash.SectorSize - 1)
	last := (addr + uint32(n) - 1) &^ (flash.SectorSize - 1)
	for s := first; s <= last; s += flash.SectorSize {
		if err := d.SectorErase(s); err != nil {
			return err
		}
	}
	return nil
}
