// internal/bridge/link.go
package bridge

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-bridge/internal/rfc2217"
	"serial-bridge/internal/serial"
)

// pollInterval drives the modem/line state checks of RFC 2217 links.
const pollInterval = time.Second

// Link is one active pairing of an accepted TCP connection with a serial
// channel. It owns the two byte pumps and, in RFC 2217 mode, the protocol
// session. A link is transient: it lives from accept until either side
// closes or fails.
type Link struct {
	ID        string
	StartedAt time.Time

	entry   Entry
	conn    net.Conn
	channel serial.Channel
	session *rfc2217.Session
	logger  *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

func newLink(entry Entry, conn net.Conn, ch serial.Channel, logger *zap.Logger, onClose func()) *Link {
	id := uuid.NewString()
	l := &Link{
		ID:        id,
		StartedAt: time.Now(),
		entry:     entry,
		conn:      conn,
		channel:   ch,
		logger: logger.With(
			zap.String("link_id", id[:8]),
			zap.String("remote_addr", conn.RemoteAddr().String()),
		),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	if entry.Mode == ModeRFC2217 {
		l.session = rfc2217.NewSession(ch, conn, l.logger)
	}
	return l
}

// RemoteAddr returns the peer address of the link's TCP side.
func (l *Link) RemoteAddr() string {
	return l.conn.RemoteAddr().String()
}

// Config returns the serial configuration currently active on the link.
func (l *Link) Config() serial.Config {
	return l.channel.Config()
}

// run drives the link until either leg fails, then tears everything down.
// It blocks the calling goroutine; the server runs one goroutine per link.
func (l *Link) run() {
	l.logger.Info("link established",
		zap.String("entry", l.entry.label()),
		zap.String("mode", string(l.entry.Mode)),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer l.close()
		l.pumpPeerToSerial()
	}()
	go func() {
		defer wg.Done()
		defer l.close()
		l.pumpSerialToPeer()
	}()
	if l.session != nil {
		go l.pollStatusLines()
	}
	wg.Wait()

	l.logger.Info("link closed", zap.Duration("duration", time.Since(l.StartedAt)))
}

func (l *Link) pumpPeerToSerial() {
	buf := make([]byte, 1024)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			data := buf[:n]
			if l.session != nil {
				data = l.session.Filter(data)
			}
			if len(data) > 0 {
				if _, werr := l.channel.Write(data); werr != nil {
					l.logError("serial write failed", werr)
					return
				}
			}
		}
		if err != nil {
			l.logError("client read ended", err)
			return
		}
	}
}

func (l *Link) pumpSerialToPeer() {
	buf := make([]byte, 1024)
	for {
		n, err := l.channel.Read(buf)
		if n > 0 {
			var werr error
			if l.session != nil {
				// honor a client-requested flow suspension
				l.session.AwaitFlow(l.done)
				werr = l.session.WriteData(buf[:n])
			} else {
				_, werr = l.conn.Write(buf[:n])
			}
			if werr != nil {
				l.logError("client write failed", werr)
				return
			}
		}
		if err != nil {
			l.logError("serial read ended", err)
			return
		}
	}
}

// pollStatusLines periodically compares the modem and line state against
// the last reported snapshot and lets the session notify the peer.
func (l *Link) pollStatusLines() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.session.CheckModemLines(false)
			l.session.CheckLineState()
		}
	}
}

func (l *Link) logError(msg string, err error) {
	// expected teardown paths stay quiet
	if errors.Is(err, serial.ErrChannelClosed) || errors.Is(err, net.ErrClosed) {
		l.logger.Debug(msg, zap.Error(err))
		return
	}
	l.logger.Info(msg, zap.Error(err))
}

// close tears the link down exactly once: both pumps are woken by closing
// the socket and the channel, the poll loop by the done channel.
func (l *Link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		if l.session != nil {
			l.session.Close()
		}
		l.conn.Close()
		l.channel.Close()
		if l.onClose != nil {
			l.onClose()
		}
	})
}

// Close terminates the link from outside, e.g. on server shutdown.
func (l *Link) Close() {
	l.close()
}
