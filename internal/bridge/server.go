// internal/bridge/server.go
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/serial"
)

// EventType classifies bridge lifecycle events published to the sink.
type EventType string

const (
	EventLinkOpened   EventType = "link.opened"
	EventLinkClosed   EventType = "link.closed"
	EventLinkRejected EventType = "link.rejected"
	EventEntryFailed  EventType = "entry.failed"
)

// Event is one bridge lifecycle occurrence.
type Event struct {
	Type       EventType `json:"type"`
	Entry      string    `json:"entry"`
	LinkID     string    `json:"link_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventSink receives bridge events. It must not block; slow consumers
// should buffer on their side.
type EventSink func(Event)

// entryState pairs an immutable Entry with its runtime side: the bound
// listener, the currently owning link and any construction/bind error.
type entryState struct {
	entry Entry

	mu       sync.Mutex
	err      error
	listener net.Listener
	active   *Link
	reserved bool
}

// EntryStatus is the externally visible state of one entry.
type EntryStatus struct {
	Entry      Entry          `json:"entry"`
	Error      string         `json:"error,omitempty"`
	Busy       bool           `json:"busy"`
	LinkID     string         `json:"link_id,omitempty"`
	RemoteAddr string         `json:"remote_addr,omitempty"`
	Config     *serial.Config `json:"active_config,omitempty"`
}

// Server owns the configured bridge entries, their listener sockets and the
// exclusive-ownership registry: a serial line is bridged to at most one TCP
// client at a time, and a second connection attempt is closed immediately
// instead of queueing.
type Server struct {
	logger  *zap.Logger
	entries []*entryState
	sink    EventSink

	mu      sync.Mutex
	running bool
	stopped chan struct{}
	wg      sync.WaitGroup
}

// NewServer builds a server from an ordered set of entries. Invalid entries
// are recorded and skipped rather than aborting construction; the joined
// per-entry validation errors are returned alongside the usable server so
// one bad record never takes its siblings down.
func NewServer(entries []Entry, logger *zap.Logger) (*Server, error) {
	s := newServer(logger)
	var errs []error
	for _, e := range entries {
		if err := s.addEntry(e, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return s, errors.Join(errs...)
}

func newServer(logger *zap.Logger) *Server {
	return &Server{
		logger:  logger.Named("bridge"),
		stopped: make(chan struct{}),
	}
}

// addEntry registers one entry, defaulting the mode and recording any
// conversion or validation error without discarding the entry.
func (s *Server) addEntry(e Entry, convErr error) error {
	if e.Mode == "" {
		e.Mode = ModeRFC2217
	}
	es := &entryState{entry: e}
	err := convErr
	if err == nil {
		err = e.Validate()
	}
	if err != nil {
		es.err = err
		s.logger.Error("invalid bridge entry",
			zap.String("entry", e.label()), zap.Error(err))
	}
	s.entries = append(s.entries, es)
	return err
}

// SetEventSink installs the lifecycle event callback. Must be called before
// Run.
func (s *Server) SetEventSink(sink EventSink) {
	s.sink = sink
}

func (s *Server) publish(evt Event) {
	if s.sink != nil {
		evt.Timestamp = time.Now()
		s.sink(evt)
	}
}

// Status reports the state of every configured entry.
func (s *Server) Status() []EntryStatus {
	out := make([]EntryStatus, 0, len(s.entries))
	for _, es := range s.entries {
		st := EntryStatus{Entry: es.entry}
		es.mu.Lock()
		if es.err != nil {
			st.Error = es.err.Error()
		}
		if es.active != nil {
			st.Busy = true
			st.LinkID = es.active.ID
			st.RemoteAddr = es.active.RemoteAddr()
			cfg := es.active.Config()
			st.Config = &cfg
		}
		es.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// Run binds every valid entry and serves until the context is cancelled.
// Bind failures are per-entry: one unusable listener address does not stop
// the others. Run returns an error only when no entry could be served at
// all.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("bridge: server already running")
	}
	s.running = true
	s.mu.Unlock()

	bound := 0
	for _, es := range s.entries {
		es.mu.Lock()
		bad := es.err != nil
		es.mu.Unlock()
		if bad {
			continue
		}
		ln, err := net.Listen("tcp", es.entry.Listener)
		if err != nil {
			es.mu.Lock()
			es.err = fmt.Errorf("bind %s: %w", es.entry.Listener, err)
			es.mu.Unlock()
			s.logger.Error("cannot bind bridge listener",
				zap.String("entry", es.entry.label()), zap.Error(err))
			s.publish(Event{Type: EventEntryFailed, Entry: es.entry.label(), Error: err.Error()})
			continue
		}
		es.mu.Lock()
		es.listener = ln
		es.mu.Unlock()
		bound++
		s.logger.Info("ready to accept requests",
			zap.String("entry", es.entry.label()),
			zap.String("addr", ln.Addr().String()),
			zap.String("mode", string(es.entry.Mode)),
		)
		s.wg.Add(1)
		go s.acceptLoop(es, ln)
	}
	if bound == 0 && len(s.entries) > 0 {
		return errors.New("bridge: no entry could be served")
	}

	<-ctx.Done()
	s.Stop()
	s.wg.Wait()
	return nil
}

// Addr returns the bound address of the entry at the given index, useful
// when the configuration asked for an ephemeral port.
func (s *Server) Addr(i int) net.Addr {
	if i < 0 || i >= len(s.entries) {
		return nil
	}
	es := s.entries[i]
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.listener == nil {
		return nil
	}
	return es.listener.Addr()
}

// Stop initiates teardown: listeners stop accepting and every active link
// is closed. Safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	select {
	case <-s.stopped:
		s.mu.Unlock()
		return
	default:
		close(s.stopped)
	}
	s.mu.Unlock()

	for _, es := range s.entries {
		es.mu.Lock()
		ln := es.listener
		active := es.active
		es.mu.Unlock()
		if ln != nil {
			ln.Close()
		}
		if active != nil {
			active.Close()
		}
	}
}

func (s *Server) acceptLoop(es *entryState, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopped:
			default:
				s.logger.Error("accept failed",
					zap.String("entry", es.entry.label()), zap.Error(err))
			}
			return
		}
		s.handle(es, conn)
	}
}

// handle enforces exclusive ownership at accept time and starts a link for
// the winning connection.
func (s *Server) handle(es *entryState, conn net.Conn) {
	logger := s.logger.With(zap.String("entry", es.entry.label()))

	es.mu.Lock()
	if es.active != nil || es.reserved {
		es.mu.Unlock()
		logger.Warn("rejecting connection, line busy",
			zap.String("remote_addr", conn.RemoteAddr().String()))
		s.publish(Event{
			Type:       EventLinkRejected,
			Entry:      es.entry.label(),
			RemoteAddr: conn.RemoteAddr().String(),
			Error:      ErrLineBusy.Error(),
		})
		conn.Close()
		return
	}
	// reserve the line before the serial open so a concurrent accept
	// cannot race past us
	es.reserved = true
	es.mu.Unlock()

	release := func() {
		es.mu.Lock()
		es.active = nil
		es.reserved = false
		es.mu.Unlock()
	}

	if es.entry.NoDelay {
		if tcp, ok := conn.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}
	}

	ch, err := serial.Open(es.entry.URL, es.entry.Serial)
	if err != nil {
		release()
		logger.Error("cannot open serial line", zap.Error(err))
		s.publish(Event{
			Type:       EventLinkRejected,
			Entry:      es.entry.label(),
			RemoteAddr: conn.RemoteAddr().String(),
			Error:      err.Error(),
		})
		conn.Close()
		return
	}

	var link *Link
	link = newLink(es.entry, conn, ch, logger, func() {
		release()
		s.publish(Event{
			Type:       EventLinkClosed,
			Entry:      es.entry.label(),
			LinkID:     link.ID,
			RemoteAddr: link.RemoteAddr(),
		})
	})
	es.mu.Lock()
	es.active = link
	es.reserved = false
	es.mu.Unlock()

	s.publish(Event{
		Type:       EventLinkOpened,
		Entry:      es.entry.label(),
		LinkID:     link.ID,
		RemoteAddr: link.RemoteAddr(),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		link.run()
	}()
}
