package main

import (
	"fmt"
	"os"
)

func idCmd(t *target) {
	id, err := t.drv.ReadID()
	if err != nil {
		fatalf("read flash id failed: %v", err)
	}

	fmt.Printf("manufacturer ID = 0x%02X\n", id.Manufacturer)
	fmt.Printf("device ID       = 0x%04X\n", id.Device)
	if name := id.Name(); name != "" {
		fmt.Println(name)
	} else {
		fmt.Fprintf(os.Stderr, "unknown flash ID (%s)\n", id)
	}
}
