// internal/serial/channel.go
package serial

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ModemState is a snapshot of the input modem status lines.
type ModemState struct {
	CTS bool `json:"cts"`
	DSR bool `json:"dsr"`
	RI  bool `json:"ri"`
	CD  bool `json:"cd"`
}

// LineState is a snapshot of the receiver error conditions.
type LineState struct {
	DataReady    bool `json:"data_ready"`
	OverrunError bool `json:"overrun_error"`
	ParityError  bool `json:"parity_error"`
	FramingError bool `json:"framing_error"`
	BreakDetect  bool `json:"break_detect"`
}

// Channel is a serial line with non-blocking semantics: Read and Write
// suspend only the calling goroutine, and Close wakes every suspended
// caller with ErrChannelClosed. A Channel has exactly one owner; callers
// that share one across goroutines must synchronize writes themselves.
type Channel interface {
	io.ReadWriteCloser

	// Config returns the active line configuration.
	Config() Config

	// Reconfigure atomically replaces the line parameters of the open
	// channel. Data already read from the hardware is preserved; bytes in
	// flight inside the device follow the hardware's own semantics.
	Reconfigure(Config) error

	// SetRS485 toggles half-duplex direction control for subsequent writes.
	SetRS485(RS485Config) error

	// SendBreak asserts a break condition for roughly the given duration
	// (250ms when zero) and returns once the line is idle again.
	SendBreak(time.Duration) error

	// SetBreak sets the break condition level without timing it.
	SetBreak(bool) error

	SetDTR(bool) error
	SetRTS(bool) error

	ModemState() (ModemState, error)
	LineState() (LineState, error)

	// ResetInput discards buffered received data, ResetOutput discards
	// data not yet handed to the hardware.
	ResetInput() error
	ResetOutput() error
}

// Open resolves a device URL to a channel backend and opens it with the
// given configuration. "loop://" (optionally "loop://name" to register the
// instance for LookupLoopback) selects the in-memory loopback; any other
// scheme is rejected; everything else is treated as a device path for the
// POSIX backend.
func Open(url string, cfg Config) (Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if name, ok := strings.CutPrefix(url, "loop://"); ok {
		return openLoopback(name, cfg), nil
	}
	if i := strings.Index(url, "://"); i >= 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, url[:i])
	}
	return openPosix(url, cfg)
}
