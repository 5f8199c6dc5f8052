package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

func monitorCmd(t *target) {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Println(`flash monitor; "help" lists commands`)
	}

	sc := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Print("gspi> ")
		}
		if !sc.Scan() {
			if interactive {
				fmt.Println()
			}
			return
		}
		args := strings.Fields(sc.Text())
		if len(args) == 0 {
			continue
		}

		switch cmd := args[0]; cmd {
		case "id", "readid":
			id, err := t.drv.ReadID()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if name := id.Name(); name != "" {
				fmt.Printf("%s  %s\n", id, name)
			} else {
				fmt.Println(id)
			}
		case "flags":
			flags, err := t.drv.ReadFlags()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println(flags)
		case "read":
			monitorRead(t, args[1:])
		case "erase":
			if len(args) != 2 {
				fmt.Println("usage: erase <addr>")
				continue
			}
			addr, err := parseAddr(args[1])
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			if err := t.drv.SectorErase(addr); err != nil {
				fmt.Println("error:", err)
			}
		case "selftest", "writetest":
			if err := runSelftest(t); err != nil {
				fmt.Println("FAIL:", err)
			} else {
				fmt.Println("PASS")
			}
		case "cycles":
			if t.mon == nil {
				fmt.Println("hardware target has no cycle counter")
				continue
			}
			fmt.Println(t.mon.Cycles())
		case "help":
			fmt.Print(`commands:
	id             print the device id
	flags          print the flag status register
	read <addr> [n]  hexdump n bytes (default 64)
	erase <addr>   erase the sector containing addr
	selftest       erase, program, and verify a scratch sector
	cycles         print the simulator's cycle counter
	quit
`)
		case "quit", "exit", "q":
			return
		default:
			fmt.Printf("unknown command %q; try help\n", cmd)
		}
	}
}

func monitorRead(t *target, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Println("usage: read <addr> [n]")
		return
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	n := 64
	if len(args) == 2 {
		n, err = strconv.Atoi(args[1])
		if err != nil || n < 1 {
			fmt.Println("bad length")
			return
		}
	}
	data, err := readRange(t.drv, addr, n)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Print(hex.Dump(data))
}
