package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/gentam/gspi/flash"
)

// readChunk bounds the bytes requested per READ command so progress is
// visible and a single transaction stays well under the host link limit.
const readChunk = 4096

func readCmd(t *target, args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	var (
		addrStr   string
		nread     int
		flagsOnly bool
		outFile   string
	)
	fs.StringVar(&addrStr, "a", "0", "start address")
	fs.IntVar(&nread, "n", 256, "number of bytes to read")
	fs.BoolVar(&flagsOnly, "s", false, "just print the flag status register")
	fs.StringVar(&outFile, "o", "", "output file (default: hexdump)")
	fs.Parse(args)

	if flagsOnly {
		flags, err := t.drv.ReadFlags()
		if err != nil {
			fatalf("read flag status failed: %v", err)
		}
		fmt.Println(flags)
		return
	}

	addr, err := parseAddr(addrStr)
	if err != nil {
		fatalUsage("bad address %q: %v", addrStr, err)
	}

	data, err := readRange(t.drv, addr, nread)
	if err != nil {
		fatalf("read flash failed: %v", err)
	}
	if outFile == "" {
		fmt.Print(hex.Dump(data))
		return
	}
	if err := os.WriteFile(outFile, data, 0644); err != nil {
		fatalf("write file failed: %v", err)
	}
}

func readRange(d *flash.Driver, addr uint32, n int) ([]byte, error) {
	out := make([]byte, n)
	for off := 0; off < n; off += readChunk {
		end := off + readChunk
		if end > n {
			end = n
		}
		if err := d.ReadMem(addr+uint32(off), out[off:end]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
