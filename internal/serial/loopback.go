// internal/serial/loopback.go
package serial

import (
	"sync"
	"time"
)

// byteQueue is an unbounded FIFO of bytes. Reads suspend the caller until
// data arrives or the queue is closed.
type byteQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newByteQueue() *byteQueue {
	q := &byteQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *byteQueue) write(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrChannelClosed
	}
	q.buf = append(q.buf, p...)
	q.cond.Broadcast()
	return len(p), nil
}

func (q *byteQueue) read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 {
		if q.closed {
			return 0, ErrChannelClosed
		}
		q.cond.Wait()
	}
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	return n, nil
}

func (q *byteQueue) reset() {
	q.mu.Lock()
	q.buf = nil
	q.mu.Unlock()
}

func (q *byteQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// loopback registry, keyed by the name part of loop://name URLs. Tests and
// harnesses use it to reach the serial side of a channel that was opened
// behind a bridge entry.
var (
	loopMu       sync.Mutex
	loopRegistry = map[string]*Loopback{}
)

// LookupLoopback returns the most recently opened loopback registered under
// the given loop://name URL, or nil.
func LookupLoopback(name string) *Loopback {
	loopMu.Lock()
	defer loopMu.Unlock()
	return loopRegistry[name]
}

// Loopback is the in-memory Channel backend. The Channel side and the value
// returned by Peer form a duplex pair: bytes written on one side are read on
// the other. Line control calls are accepted and recorded but have no
// physical effect; state snapshots return whatever a harness injected.
type Loopback struct {
	name string

	in  *byteQueue // peer -> channel
	out *byteQueue // channel -> peer

	mu           sync.Mutex
	cfg          Config
	closed       bool
	modem        ModemState
	line         LineState
	breakState   bool
	dtr, rts     bool
	transmitting bool
	dirObserver  func(transmit bool)
	revert       *time.Timer
}

var _ Channel = (*Loopback)(nil)

// NewLoopback creates an unregistered loopback channel.
func NewLoopback(cfg Config) *Loopback {
	return &Loopback{
		cfg: cfg,
		in:  newByteQueue(),
		out: newByteQueue(),
	}
}

func openLoopback(name string, cfg Config) *Loopback {
	lb := NewLoopback(cfg)
	if name != "" {
		lb.name = name
		loopMu.Lock()
		loopRegistry[name] = lb
		loopMu.Unlock()
	}
	return lb
}

func (l *Loopback) Read(p []byte) (int, error) {
	return l.in.read(p)
}

func (l *Loopback) Write(p []byte) (int, error) {
	l.beginTransmit()
	n, err := l.out.write(p)
	l.scheduleRevert()
	return n, err
}

func (l *Loopback) beginTransmit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.cfg.RS485.Enabled {
		return
	}
	if l.revert != nil {
		l.revert.Stop()
		l.revert = nil
	}
	if !l.transmitting {
		l.transmitting = true
		if l.dirObserver != nil {
			l.dirObserver(true)
		}
	}
}

func (l *Loopback) scheduleRevert() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.cfg.RS485.Enabled || !l.transmitting {
		return
	}
	if l.revert != nil {
		l.revert.Stop()
	}
	l.revert = time.AfterFunc(l.cfg.RS485.DelayAfterSend, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if !l.transmitting {
			return
		}
		l.transmitting = false
		if l.dirObserver != nil {
			l.dirObserver(false)
		}
	})
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.revert != nil {
		l.revert.Stop()
	}
	name := l.name
	l.mu.Unlock()

	l.in.close()
	l.out.close()
	if name != "" {
		loopMu.Lock()
		if loopRegistry[name] == l {
			delete(loopRegistry, name)
		}
		loopMu.Unlock()
	}
	return nil
}

func (l *Loopback) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

func (l *Loopback) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrChannelClosed
	}
	l.cfg = cfg
	return nil
}

func (l *Loopback) SetRS485(cfg RS485Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrChannelClosed
	}
	l.cfg.RS485 = cfg
	return nil
}

func (l *Loopback) SendBreak(d time.Duration) error {
	if err := l.SetBreak(true); err != nil {
		return err
	}
	if d <= 0 {
		d = 250 * time.Millisecond
	}
	time.Sleep(d)
	return l.SetBreak(false)
}

func (l *Loopback) SetBreak(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrChannelClosed
	}
	l.breakState = on
	return nil
}

func (l *Loopback) SetDTR(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrChannelClosed
	}
	l.dtr = on
	return nil
}

func (l *Loopback) SetRTS(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrChannelClosed
	}
	l.rts = on
	return nil
}

func (l *Loopback) ModemState() (ModemState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ModemState{}, ErrChannelClosed
	}
	return l.modem, nil
}

func (l *Loopback) LineState() (LineState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return LineState{}, ErrChannelClosed
	}
	return l.line, nil
}

func (l *Loopback) ResetInput() error {
	l.in.reset()
	return nil
}

func (l *Loopback) ResetOutput() error {
	l.out.reset()
	return nil
}

// BreakState reports the recorded break level.
func (l *Loopback) BreakState() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.breakState
}

// ControlLines reports the recorded DTR and RTS levels.
func (l *Loopback) ControlLines() (dtr, rts bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dtr, l.rts
}

// Transmitting reports the current RS485 direction state.
func (l *Loopback) Transmitting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transmitting
}

// SetDirectionObserver installs a harness callback invoked on every RS485
// direction transition. The callback runs with internal locks held and must
// not call back into the loopback.
func (l *Loopback) SetDirectionObserver(fn func(transmit bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirObserver = fn
}

// InjectModemState sets the snapshot returned by ModemState.
func (l *Loopback) InjectModemState(m ModemState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modem = m
}

// InjectLineState sets the snapshot returned by LineState.
func (l *Loopback) InjectLineState(s LineState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.line = s
}

// Peer returns the far side of the loopback: what the channel writes is
// read here and vice versa.
func (l *Loopback) Peer() *LoopbackPeer {
	return &LoopbackPeer{lb: l}
}

// LoopbackPeer is the serial-wire side of a Loopback.
type LoopbackPeer struct {
	lb *Loopback
}

func (p *LoopbackPeer) Read(b []byte) (int, error) {
	return p.lb.out.read(b)
}

func (p *LoopbackPeer) Write(b []byte) (int, error) {
	return p.lb.in.write(b)
}

func (p *LoopbackPeer) Close() error {
	return p.lb.Close()
}
