// internal/serial/posix.go
package serial

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// posixChannel drives a character device through termios. The descriptor is
// kept in non-blocking mode and wrapped in an os.File so the runtime poller
// parks suspended readers and writers; ioctls go straight to the raw fd.
type posixChannel struct {
	file *os.File
	fd   int
	path string

	mu      sync.Mutex
	cfg     Config
	closed  bool
	hwRS485 bool

	transmitting bool
	revert       *time.Timer

	lastCounts serialICounter
	haveCounts bool
}

var _ Channel = (*posixChannel)(nil)

var baudRates = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1152000: unix.B1152000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	2500000: unix.B2500000,
	3000000: unix.B3000000,
	3500000: unix.B3500000,
	4000000: unix.B4000000,
}

func openPosix(path string, cfg Config) (*posixChannel, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
		case errors.Is(err, unix.EACCES):
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		default:
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
	}

	if err := applyTermios(fd, cfg); err != nil {
		unix.Close(fd)
		return nil, err
	}

	p := &posixChannel{
		// The fd stays O_NONBLOCK, so os.NewFile registers it with the
		// runtime poller and Read/Write suspend only their goroutine.
		file: os.NewFile(uintptr(fd), path),
		fd:   fd,
		path: path,
		cfg:  cfg,
	}
	if cfg.RS485.Enabled {
		if err := p.applyRS485(cfg.RS485); err != nil {
			p.file.Close()
			return nil, err
		}
	}
	return p, nil
}

// applyTermios programs the line for raw, non-canonical operation with the
// requested framing. Grounded on the classic termios sequence: clear all
// input/output/line processing, then rebuild Cflag from the configuration.
func applyTermios(fd int, cfg Config) error {
	baud, ok := baudRates[cfg.BaudRate]
	if !ok {
		return fmt.Errorf("%w: unsupported baud rate %d", ErrInvalidConfig, cfg.BaudRate)
	}

	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	tio.Cflag = unix.CREAD | unix.CLOCAL
	switch cfg.DataBits {
	case 5:
		tio.Cflag |= unix.CS5
	case 6:
		tio.Cflag |= unix.CS6
	case 7:
		tio.Cflag |= unix.CS7
	case 8:
		tio.Cflag |= unix.CS8
	}
	if cfg.StopBits != StopBitsOne {
		// Termios has no own bit for 1.5 stop bits; with 5 data bits
		// CSTOPB means 1.5 on the wire.
		tio.Cflag |= unix.CSTOPB
	}
	switch cfg.Parity {
	case ParityOdd:
		tio.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		tio.Cflag |= unix.PARENB
	case ParityMark:
		tio.Cflag |= unix.PARENB | unix.CMSPAR | unix.PARODD
	case ParitySpace:
		tio.Cflag |= unix.PARENB | unix.CMSPAR
	}
	if cfg.RTSCTS {
		tio.Cflag |= unix.CRTSCTS
	}
	if cfg.XonXoff {
		tio.Iflag |= unix.IXON | unix.IXOFF
	}

	tio.Cflag = (tio.Cflag &^ unix.CBAUD) | baud
	tio.Ispeed = baud
	tio.Ospeed = baud

	// VMIN=1/VTIME=0: the poller decides when the fd is readable, a ready
	// read returns whatever is buffered.
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

func (p *posixChannel) applyRS485(cfg RS485Config) error {
	rs := serialRS485{}
	if cfg.Enabled {
		rs.Flags = serRS485Enabled
		if cfg.RTSOnSend {
			rs.Flags |= serRS485RTSOnSend
		} else {
			rs.Flags |= serRS485RTSAfterSend
		}
		rs.DelayRTSBeforeSend = uint32(cfg.DelayBeforeSend / time.Millisecond)
		rs.DelayRTSAfterSend = uint32(cfg.DelayAfterSend / time.Millisecond)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd),
		uintptr(unix.TIOCSRS485), uintptr(unsafe.Pointer(&rs))); errno != 0 {
		// Driver has no native RS485 support; fall back to toggling RTS
		// around writes in software.
		if errno == unix.ENOTTY || errno == unix.EINVAL || errno == unix.ENOTSUP {
			p.hwRS485 = false
			return nil
		}
		return fmt.Errorf("set rs485: %w", errno)
	}
	p.hwRS485 = cfg.Enabled
	return nil
}

func (p *posixChannel) Read(b []byte) (int, error) {
	n, err := p.file.Read(b)
	if err != nil {
		return n, p.mapIOErr(err)
	}
	return n, nil
}

func (p *posixChannel) Write(b []byte) (int, error) {
	p.mu.Lock()
	rs485 := p.cfg.RS485
	software := rs485.Enabled && !p.hwRS485
	p.mu.Unlock()

	if software {
		p.beginTransmit(rs485)
		defer p.scheduleRevert(rs485)
	}

	written := 0
	for written < len(b) {
		n, err := p.file.Write(b[written:])
		written += n
		if err != nil {
			return written, p.mapIOErr(err)
		}
	}
	return written, nil
}

// beginTransmit asserts the RS485 transmit level and waits out the
// before-send delay. The wait suspends only this goroutine.
func (p *posixChannel) beginTransmit(cfg RS485Config) {
	p.mu.Lock()
	if p.revert != nil {
		p.revert.Stop()
		p.revert = nil
	}
	already := p.transmitting
	p.transmitting = true
	p.mu.Unlock()

	if !already {
		p.setModemLine(unix.TIOCM_RTS, cfg.RTSOnSend)
		if cfg.DelayBeforeSend > 0 {
			time.Sleep(cfg.DelayBeforeSend)
		}
	}
}

// scheduleRevert arms the timed return to receive direction. The revert
// runs off a timer, never inline in the write path.
func (p *posixChannel) scheduleRevert(cfg RS485Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !p.transmitting {
		return
	}
	if p.revert != nil {
		p.revert.Stop()
	}
	p.revert = time.AfterFunc(cfg.DelayAfterSend, func() {
		p.mu.Lock()
		if p.closed || !p.transmitting {
			p.mu.Unlock()
			return
		}
		p.transmitting = false
		p.mu.Unlock()
		p.drain()
		p.setModemLine(unix.TIOCM_RTS, !cfg.RTSOnSend)
	})
}

// mapIOErr folds every end-of-channel condition (explicit close, device
// removal reported as EOF) into ErrChannelClosed.
func (p *posixChannel) mapIOErr(err error) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || errors.Is(err, fs.ErrClosed) || errors.Is(err, io.EOF) {
		return ErrChannelClosed
	}
	return err
}

func (p *posixChannel) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.revert != nil {
		p.revert.Stop()
	}
	p.mu.Unlock()

	// Closing the os.File deregisters the fd from the poller and wakes
	// every goroutine suspended in Read or Write.
	return p.file.Close()
}

func (p *posixChannel) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *posixChannel) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrChannelClosed
	}
	if err := applyTermios(p.fd, cfg); err != nil {
		return err
	}
	p.cfg = cfg
	return nil
}

func (p *posixChannel) SetRS485(cfg RS485Config) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrChannelClosed
	}
	p.cfg.RS485 = cfg
	p.mu.Unlock()
	return p.applyRS485(cfg)
}

func (p *posixChannel) SendBreak(d time.Duration) error {
	if d <= 0 {
		d = 250 * time.Millisecond
	}
	if err := p.SetBreak(true); err != nil {
		return err
	}
	time.Sleep(d)
	return p.SetBreak(false)
}

func (p *posixChannel) SetBreak(on bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrChannelClosed
	}
	p.mu.Unlock()
	req := unix.TIOCCBRK
	if on {
		req = unix.TIOCSBRK
	}
	if err := unix.IoctlSetInt(p.fd, uint(req), 0); err != nil {
		return fmt.Errorf("set break: %w", err)
	}
	return nil
}

func (p *posixChannel) SetDTR(on bool) error {
	return p.setModemLine(unix.TIOCM_DTR, on)
}

func (p *posixChannel) SetRTS(on bool) error {
	return p.setModemLine(unix.TIOCM_RTS, on)
}

func (p *posixChannel) setModemLine(line int, on bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrChannelClosed
	}
	p.mu.Unlock()
	req := unix.TIOCMBIC
	if on {
		req = unix.TIOCMBIS
	}
	if err := unix.IoctlSetPointerInt(p.fd, uint(req), line); err != nil {
		return fmt.Errorf("set modem line: %w", err)
	}
	return nil
}

func (p *posixChannel) ModemState() (ModemState, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ModemState{}, ErrChannelClosed
	}
	p.mu.Unlock()
	bits, err := unix.IoctlGetInt(p.fd, unix.TIOCMGET)
	if err != nil {
		return ModemState{}, fmt.Errorf("get modem state: %w", err)
	}
	return ModemState{
		CTS: bits&unix.TIOCM_CTS != 0,
		DSR: bits&unix.TIOCM_DSR != 0,
		RI:  bits&unix.TIOCM_RI != 0,
		CD:  bits&unix.TIOCM_CAR != 0,
	}, nil
}

// LineState diffs the driver's interrupt counters against the previous
// snapshot: a counter that moved since the last call reports its condition
// once. Drivers without TIOCGICOUNT get an all-clear snapshot.
func (p *posixChannel) LineState() (LineState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return LineState{}, ErrChannelClosed
	}

	var counts serialICounter
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd),
		uintptr(unix.TIOCGICOUNT), uintptr(unsafe.Pointer(&counts))); errno != 0 {
		if errno == unix.ENOTTY || errno == unix.EINVAL || errno == unix.ENOTSUP {
			return LineState{}, nil
		}
		return LineState{}, fmt.Errorf("get line counters: %w", errno)
	}

	var ls LineState
	if p.haveCounts {
		ls = LineState{
			OverrunError: counts.Overrun != p.lastCounts.Overrun ||
				counts.BufOverrun != p.lastCounts.BufOverrun,
			ParityError:  counts.Parity != p.lastCounts.Parity,
			FramingError: counts.Frame != p.lastCounts.Frame,
			BreakDetect:  counts.Brk != p.lastCounts.Brk,
		}
	}
	p.lastCounts = counts
	p.haveCounts = true
	return ls, nil
}

func (p *posixChannel) ResetInput() error {
	return p.flush(unix.TCIFLUSH)
}

func (p *posixChannel) ResetOutput() error {
	return p.flush(unix.TCOFLUSH)
}

func (p *posixChannel) flush(which int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrChannelClosed
	}
	p.mu.Unlock()
	if err := unix.IoctlSetInt(p.fd, unix.TCFLSH, which); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// drain waits until the output shift register is empty. Used before the
// RS485 direction revert so the last byte is on the wire when RTS drops.
func (p *posixChannel) drain() {
	unix.IoctlSetInt(p.fd, unix.TCSBRK, 1)
}

// Transmitting reports the software RS485 direction state.
func (p *posixChannel) Transmitting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transmitting
}
