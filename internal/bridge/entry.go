// internal/bridge/entry.go
package bridge

import (
	"errors"
	"fmt"

	"serial-bridge/internal/serial"
)

// ErrLineBusy is reported when a connection is rejected because the entry's
// serial line is already owned by another link.
var ErrLineBusy = errors.New("bridge: serial line busy")

// Mode selects how a bridge entry moves bytes between TCP and serial.
type Mode string

const (
	// ModeRaw pipes bytes through untouched in both directions.
	ModeRaw Mode = "raw"
	// ModeRFC2217 layers the telnet COM-PORT-OPTION protocol on the TCP
	// stream so the client can control the line remotely.
	ModeRFC2217 Mode = "rfc2217"
)

// Entry describes one configured bridge: a serial line, the TCP address it
// is served on and the protocol mode. Entries are built once from
// configuration and never mutated at runtime.
type Entry struct {
	Name     string        `json:"name"`
	URL      string        `json:"url"`
	Listener string        `json:"listener"`
	Mode     Mode          `json:"mode"`
	NoDelay  bool          `json:"no_delay"`
	Serial   serial.Config `json:"serial"`
}

// Validate rejects entries the server cannot serve. The serial parameters
// are checked here, before any device is touched.
func (e Entry) Validate() error {
	if e.URL == "" {
		return fmt.Errorf("%w: entry %q: url is required", serial.ErrInvalidConfig, e.Name)
	}
	if e.Listener == "" {
		return fmt.Errorf("%w: entry %q: listener is required", serial.ErrInvalidConfig, e.Name)
	}
	switch e.Mode {
	case ModeRaw, ModeRFC2217:
	default:
		return fmt.Errorf("%w: entry %q: unknown mode %q", serial.ErrInvalidConfig, e.Name, e.Mode)
	}
	if err := e.Serial.Validate(); err != nil {
		return fmt.Errorf("entry %q: %w", e.Name, err)
	}
	return nil
}

// label is used in logs and events when no explicit name was configured.
func (e Entry) label() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("%s<->%s", e.URL, e.Listener)
}
