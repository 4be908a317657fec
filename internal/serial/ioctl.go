// internal/serial/ioctl.go
package serial

// Kernel ABI mirrors for the serial ioctls x/sys/unix exposes constants for
// but no struct wrappers. Layouts follow include/uapi/linux/serial.h.

// serial_rs485 flag bits.
const (
	serRS485Enabled      = 1 << 0
	serRS485RTSOnSend    = 1 << 1
	serRS485RTSAfterSend = 1 << 2
)

// serialRS485 is struct serial_rs485, passed to TIOCSRS485. Delays are in
// milliseconds.
type serialRS485 struct {
	Flags              uint32
	DelayRTSBeforeSend uint32
	DelayRTSAfterSend  uint32
	Padding            [5]uint32
}

// serialICounter is struct serial_icounter_struct, filled by TIOCGICOUNT
// with the driver's cumulative interrupt counters.
type serialICounter struct {
	CTS, DSR, Rng, DCD          int32
	Rx, Tx                      int32
	Frame, Overrun, Parity, Brk int32
	BufOverrun                  int32
	Reserved                    [9]int32
}
