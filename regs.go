package gspi

// Register offsets, relative to the controller's base address.
const (
	RegStatus      = 0x00
	RegSlaveSelect = 0x04
	RegData        = 0x08
)

// Status register bits.
const (
	StatusBusy      = 1 << 0 // transfer, queued command, or held byte pending
	StatusCmdReady  = 1 << 1 // command queue can accept a byte
	StatusReadReady = 1 << 2 // receive queue holds a byte
)

// Data register encodings. Bit 8 qualifies the byte in bits 7:0.
const (
	DataCapture = 1 << 8 // write: queue the response byte for readback
	DataValid   = 1 << 8 // read: bits 7:0 hold a received byte
)

// Bus is single-word programmed I/O against a controller's register window.
// Reads are answered with single-cycle latency: the returned value is the
// register state at the moment the request was presented.
type Bus interface {
	ReadReg(offset uint32) uint32
	WriteReg(offset uint32, value uint32)
}

// CycleCounter reports elapsed system clock cycles. Values wrap at 2^64;
// deadline arithmetic must tolerate the wrap.
type CycleCounter interface {
	Cycles() uint64
}
