package main

import (
	"flag"
	"fmt"
	"os"
)

var (
	verbose  = flag.Bool("v", false, "verbose logging")
	hardware = flag.Bool("hw", false, "drive an FT2232H-attached flash instead of the simulator")
)

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func fatalUsage(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(2)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
	gspi [-v] [-hw] <command> [arguments]

Commands:
	id	 print the flash device id
	read	 read flash memory
	write	 write a file into flash memory
	erase	 erase the sectors covering an address range
	selftest erase, program, and verify a scratch sector
	monitor	 interactive prompt

Without -hw, commands run against a simulated controller and chip.
`)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}

	t, err := openTarget(*verbose, *hardware)
	if err != nil {
		fatalf("%v", err)
	}

	switch cmd := flag.Arg(0); cmd {
	case "id":
		idCmd(t)
	case "read":
		readCmd(t, flag.Args()[1:])
	case "write":
		writeCmd(t, flag.Args()[1:])
	case "erase":
		eraseCmd(t, flag.Args()[1:])
	case "selftest":
		selftestCmd(t, flag.Args()[1:])
	case "monitor":
		monitorCmd(t)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %q\n", cmd)
		usage()
	}
}
