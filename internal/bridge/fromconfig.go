// internal/bridge/fromconfig.go
package bridge

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"serial-bridge/internal/config"
	"serial-bridge/internal/serial"
)

// EntryFromConfig converts one configuration record to a bridge entry. A
// record that parses but carries unsupported parameters still comes back as
// an Entry so its identity can be reported alongside the error.
func EntryFromConfig(rec config.BridgeConfig) (Entry, error) {
	e := Entry{
		Name:     rec.Name,
		URL:      rec.URL,
		Listener: rec.Listener,
		Mode:     Mode(rec.Mode),
		NoDelay:  rec.NoDelay,
	}
	cfg := serial.DefaultConfig()
	if rec.Baudrate != 0 {
		cfg.BaudRate = rec.Baudrate
	}
	if rec.Bytesize != 0 {
		cfg.DataBits = rec.Bytesize
	}
	cfg.RTSCTS = rec.Rtscts
	cfg.XonXoff = rec.Xonxoff
	cfg.RS485 = serial.RS485Config{
		Enabled:         rec.RS485.Enabled,
		RTSOnSend:       rec.RS485.RTSOnSend,
		DelayBeforeSend: rec.RS485.DelayBeforeSend,
		DelayAfterSend:  rec.RS485.DelayAfterSend,
	}

	parity, err := serial.ParseParity(rec.Parity)
	if err != nil {
		return e, fmt.Errorf("entry %q: %w", e.label(), err)
	}
	cfg.Parity = parity

	stop, err := serial.ParseStopBits(rec.Stopbits)
	if err != nil {
		return e, fmt.Errorf("entry %q: %w", e.label(), err)
	}
	cfg.StopBits = stop

	e.Serial = cfg
	return e, nil
}

// NewServerFromConfig builds a server from the ordered configuration
// records. Records that fail conversion or validation are kept as failed
// entries; the joined errors are returned with the usable server.
func NewServerFromConfig(recs []config.BridgeConfig, logger *zap.Logger) (*Server, error) {
	s := newServer(logger)
	var errs []error
	for _, rec := range recs {
		e, err := EntryFromConfig(rec)
		if err := s.addEntry(e, err); err != nil {
			errs = append(errs, err)
		}
	}
	return s, errors.Join(errs...)
}
