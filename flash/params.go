package flash

import "time"

// chipParams carries per-chip completion times, keyed off the READ ID
// response. Unknown chips fall back to the driver defaults, which are the
// worst case of the table.
type chipParams struct {
	name string

	// program is the maximum PAGE PROGRAM cycle time, erase the maximum
	// 64KB sector erase time, from the respective datasheets.
	program time.Duration
	erase   time.Duration
}

var (
	idMicronN25Q064_3V  = DeviceID{Manufacturer: 0x20, Device: 0xBA17}
	idMicronN25Q064_18V = DeviceID{Manufacturer: 0x20, Device: 0xBB17}
	idWinbondW25Q64     = DeviceID{Manufacturer: 0xEF, Device: 0x4017}
)

var knownChips = map[DeviceID]chipParams{
	idMicronN25Q064_3V: {
		name: "Micron N25Q 64Mb 3V",

		// [N25Q064A|AC Characteristics]: tPP, tSE
		program: 5 * time.Millisecond,
		erase:   3 * time.Second,
	},

	idMicronN25Q064_18V: {
		name: "Micron N25Q 64Mb 1.8V",

		program: 5 * time.Millisecond,
		erase:   3 * time.Second,
	},

	idWinbondW25Q64: {
		name: "Winbond W25Q 64Mb",

		// [W25Q64JV|9.6 AC Electrical Characteristics]: tPP, tBE2
		program: 3 * time.Millisecond,
		erase:   2 * time.Second,
	},
}

// Name returns the marketing name for a known id, or "".
func (id DeviceID) Name() string {
	return knownChips[id].name
}
