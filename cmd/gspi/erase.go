package main

import (
	"flag"
	"fmt"

	"github.com/gentam/gspi/flash"
)

func eraseCmd(t *target, args []string) {
	fs := flag.NewFlagSet("erase", flag.ExitOnError)
	var (
		addrStr string
		n       int
	)
	fs.StringVar(&addrStr, "a", "0", "address within the first sector to erase")
	fs.IntVar(&n, "n", 1, "number of bytes the erased range must cover")
	fs.Parse(args)

	addr, err := parseAddr(addrStr)
	if err != nil {
		fatalUsage("bad address %q: %v", addrStr, err)
	}
	if n < 1 {
		fatalUsage("nothing to erase")
	}

	if err := eraseRange(t.drv, addr, n); err != nil {
		fatalf("erase failed: %v", err)
	}
	first := addr &^ (flash.SectorSize - 1)
	last := (addr + uint32(n) - 1) &^ (flash.SectorSize - 1)
	fmt.Printf("erased 0x%06X..0x%06X\n", first, last+flash.SectorSize-1)
}
