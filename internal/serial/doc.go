// Package serial provides non-blocking access to serial lines.
//
// A Channel is obtained from Open with a URL-style device address: a
// plain filesystem path selects the POSIX termios backend, while the
// loop:// scheme selects an in-memory loopback used for testing and
// for bridge entries that have no hardware behind them.
//
// Reads and writes suspend only the calling goroutine; the device file
// descriptor stays in non-blocking mode and is serviced by the runtime
// poller, so closing a channel promptly wakes any goroutine blocked on
// it. The package targets Linux termios semantics and is not built for
// other platforms.
package serial
