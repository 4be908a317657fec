// internal/serial/config.go
package serial

import (
	"fmt"
	"time"
)

// Parity represents the parity mode of a serial line.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

// String returns the configuration-file spelling of the parity mode.
func (p Parity) String() string {
	switch p {
	case ParityNone:
		return "none"
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	case ParityMark:
		return "mark"
	case ParitySpace:
		return "space"
	default:
		return fmt.Sprintf("parity(%d)", int(p))
	}
}

// ParseParity converts a configuration string to a Parity value. Both the
// full word ("even") and the single-letter pySerial form ("E") are accepted.
func ParseParity(s string) (Parity, error) {
	switch s {
	case "", "none", "n", "N":
		return ParityNone, nil
	case "odd", "o", "O":
		return ParityOdd, nil
	case "even", "e", "E":
		return ParityEven, nil
	case "mark", "m", "M":
		return ParityMark, nil
	case "space", "s", "S":
		return ParitySpace, nil
	default:
		return ParityNone, fmt.Errorf("%w: unknown parity %q", ErrInvalidConfig, s)
	}
}

// StopBits represents the number of stop bits on a serial line.
type StopBits int

const (
	StopBitsOne StopBits = iota
	StopBitsOnePointFive
	StopBitsTwo
)

// String returns the numeric spelling of the stop bit count.
func (s StopBits) String() string {
	switch s {
	case StopBitsOne:
		return "1"
	case StopBitsOnePointFive:
		return "1.5"
	case StopBitsTwo:
		return "2"
	default:
		return fmt.Sprintf("stopbits(%d)", int(s))
	}
}

// ParseStopBits converts a numeric stop bit count (1, 1.5 or 2) to a
// StopBits value.
func ParseStopBits(v float64) (StopBits, error) {
	switch v {
	case 0, 1:
		return StopBitsOne, nil
	case 1.5:
		return StopBitsOnePointFive, nil
	case 2:
		return StopBitsTwo, nil
	default:
		return StopBitsOne, fmt.Errorf("%w: unknown stop bits %v", ErrInvalidConfig, v)
	}
}

// RS485Config controls half-duplex direction switching around writes.
type RS485Config struct {
	Enabled bool `json:"enabled"`

	// RTSOnSend is the logic level of RTS while transmitting; the line is
	// reverted to the opposite level after DelayAfterSend once a write
	// has been handed to the hardware.
	RTSOnSend       bool          `json:"rts_on_send"`
	DelayBeforeSend time.Duration `json:"delay_before_send"`
	DelayAfterSend  time.Duration `json:"delay_after_send"`
}

// Config holds the normalized parameters of a serial line. A Config is
// immutable once a channel is open; Channel.Reconfigure replaces the active
// configuration atomically.
type Config struct {
	BaudRate int      `json:"baudrate"`
	DataBits int      `json:"bytesize"`
	Parity   Parity   `json:"parity"`
	StopBits StopBits `json:"stopbits"`

	// Flow control. RTSCTS and XonXoff are mutually exclusive.
	RTSCTS  bool `json:"rtscts"`
	XonXoff bool `json:"xonxoff"`

	RS485 RS485Config `json:"rs485"`
}

// DefaultConfig returns the conventional 9600 8N1 line setup.
func DefaultConfig() Config {
	return Config{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   ParityNone,
		StopBits: StopBitsOne,
	}
}

// Validate rejects parameter combinations no termios line discipline can
// express. It is called before any channel is opened and again on every
// Reconfigure.
func (c Config) Validate() error {
	if c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidConfig, c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("%w: byte size %d", ErrInvalidConfig, c.DataBits)
	}
	switch c.Parity {
	case ParityNone, ParityOdd, ParityEven, ParityMark, ParitySpace:
	default:
		return fmt.Errorf("%w: parity %v", ErrInvalidConfig, c.Parity)
	}
	switch c.StopBits {
	case StopBitsOne, StopBitsTwo:
	case StopBitsOnePointFive:
		// 1.5 stop bits only exist for 5-bit characters.
		if c.DataBits != 5 {
			return fmt.Errorf("%w: 1.5 stop bits require byte size 5, got %d",
				ErrInvalidConfig, c.DataBits)
		}
	default:
		return fmt.Errorf("%w: stop bits %v", ErrInvalidConfig, c.StopBits)
	}
	if c.RTSCTS && c.XonXoff {
		return fmt.Errorf("%w: rtscts and xonxoff are mutually exclusive", ErrInvalidConfig)
	}
	if c.RS485.Enabled && (c.RS485.DelayBeforeSend < 0 || c.RS485.DelayAfterSend < 0) {
		return fmt.Errorf("%w: negative RS485 delay", ErrInvalidConfig)
	}
	return nil
}
