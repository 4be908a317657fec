// internal/serial/errors.go
package serial

import "errors"

var (
	// ErrInvalidConfig rejects a line configuration before any I/O is attempted.
	ErrInvalidConfig = errors.New("serial: invalid configuration")

	// ErrDeviceNotFound is returned when the device path does not exist.
	ErrDeviceNotFound = errors.New("serial: device not found")

	// ErrPermissionDenied is returned when the device cannot be opened with
	// the current credentials.
	ErrPermissionDenied = errors.New("serial: permission denied")

	// ErrChannelClosed is returned by every operation on a closed channel,
	// including reads and writes that were suspended when Close was called.
	ErrChannelClosed = errors.New("serial: channel closed")

	// ErrUnsupportedScheme is returned by Open for URL schemes it does not know.
	ErrUnsupportedScheme = errors.New("serial: unsupported URL scheme")
)
