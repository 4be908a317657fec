// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// Port represents a discovered serial port
type Port struct {
	Device string `json:"device"`
	URL    string `json:"url"`
}

// Scanner enumerates the serial ports of the host
type Scanner struct {
	logger   *zap.Logger
	patterns []string
}

// NewScanner creates a new port scanner
func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{
		logger:   logger.With(zap.String("scanner", "serial")),
		patterns: defaultPortPatterns(),
	}
}

// Scan lists the serial ports present on the host, filtered to names that
// look like real serial devices.
func (s *Scanner) Scan(ctx context.Context) ([]Port, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	devices, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]Port, 0, len(devices))
	for _, device := range devices {
		if !s.matches(device) {
			continue
		}
		ports = append(ports, Port{Device: device, URL: device})
	}

	s.logger.Debug("Serial scan completed", zap.Int("ports_found", len(ports)))
	return ports, nil
}

func (s *Scanner) matches(device string) bool {
	for _, pattern := range s.patterns {
		if ok, _ := filepath.Match(pattern, device); ok {
			return true
		}
	}
	return false
}

func defaultPortPatterns() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/dev/tty.*", "/dev/cu.*"}
	default:
		return []string{
			"/dev/ttyS*",
			"/dev/ttyUSB*",
			"/dev/ttyACM*",
			"/dev/ttyAMA*",
			"/dev/rfcomm*",
		}
	}
}
