// internal/serial/ioctl_test.go
package serial

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// The ioctl mirrors are handed to the kernel by pointer, so their size and
// field offsets must match include/uapi/linux/serial.h exactly.
func TestSerialRS485Layout(t *testing.T) {
	var rs serialRS485
	require.EqualValues(t, 32, unsafe.Sizeof(rs))
	require.EqualValues(t, 0, unsafe.Offsetof(rs.Flags))
	require.EqualValues(t, 4, unsafe.Offsetof(rs.DelayRTSBeforeSend))
	require.EqualValues(t, 8, unsafe.Offsetof(rs.DelayRTSAfterSend))
}

func TestSerialICounterLayout(t *testing.T) {
	var c serialICounter
	require.EqualValues(t, 80, unsafe.Sizeof(c))
	require.EqualValues(t, 24, unsafe.Offsetof(c.Frame))
	require.EqualValues(t, 28, unsafe.Offsetof(c.Overrun))
	require.EqualValues(t, 32, unsafe.Offsetof(c.Parity))
	require.EqualValues(t, 36, unsafe.Offsetof(c.Brk))
	require.EqualValues(t, 40, unsafe.Offsetof(c.BufOverrun))
}
