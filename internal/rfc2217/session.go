// internal/rfc2217/session.go
package rfc2217

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"serial-bridge/internal/serial"
)

// Signature is sent in answer to a COM-PORT-OPTION SIGNATURE request.
const Signature = "serial-bridge"

// State is the lifecycle of one RFC 2217 session.
type State int32

const (
	StateNegotiating State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// telnet option negotiation states, per RFC 854 option book keeping.
type optState int

const (
	optRequested optState = iota
	optActive
	optInactive
	optReallyInactive
)

type telnetOption struct {
	name           string
	option         byte
	sendYes, ackYes byte
	sendNo, ackNo   byte
	state          optState
	activated      func()
}

// Session holds the RFC 2217 server-side state for one bridged connection:
// the telnet option table, the negotiated line settings, notification masks
// and the cached control-line levels. It applies accepted SET-* commands to
// its serial channel and mirrors each one back as the acknowledgement.
type Session struct {
	channel serial.Channel
	logger  *zap.Logger

	state atomic.Int32

	// writeMu serializes every write to the peer so control frames never
	// tear through escaped data.
	writeMu sync.Mutex
	conn    io.Writer

	dec     Decoder
	options []*telnetOption

	mu              sync.Mutex
	clientRFC2217   bool
	modemstateMask  byte
	linestateMask   byte
	lastModemstate  byte
	haveModemstate  bool
	lastLinestate   byte
	breakState      bool
	dtr, rts        bool
	clientSignature string
	suspended       bool
	resumeCh        chan struct{}
}

// NewSession wires a serial channel to a telnet peer and sends the initial
// option requests. The bridge always takes the RFC 2217 server role.
func NewSession(ch serial.Channel, conn io.Writer, logger *zap.Logger) *Session {
	s := &Session{
		channel:        ch,
		conn:           conn,
		logger:         logger.Named("rfc2217"),
		modemstateMask: 255,
	}
	s.state.Store(int32(StateNegotiating))
	s.options = []*telnetOption{
		{name: "ECHO", option: optEcho, sendYes: iacWILL, sendNo: iacWONT, ackYes: iacDO, ackNo: iacDONT, state: optRequested},
		{name: "we-SGA", option: optSGA, sendYes: iacWILL, sendNo: iacWONT, ackYes: iacDO, ackNo: iacDONT, state: optRequested},
		{name: "they-SGA", option: optSGA, sendYes: iacDO, sendNo: iacDONT, ackYes: iacWILL, ackNo: iacWONT, state: optInactive},
		{name: "we-BINARY", option: optBinary, sendYes: iacWILL, sendNo: iacWONT, ackYes: iacDO, ackNo: iacDONT, state: optInactive},
		{name: "they-BINARY", option: optBinary, sendYes: iacDO, sendNo: iacDONT, ackYes: iacWILL, ackNo: iacWONT, state: optRequested},
		{name: "we-RFC2217", option: optComPort, sendYes: iacWILL, sendNo: iacWONT, ackYes: iacDO, ackNo: iacDONT, state: optRequested, activated: s.clientOK},
		{name: "they-RFC2217", option: optComPort, sendYes: iacDO, sendNo: iacDONT, ackYes: iacWILL, ackNo: iacWONT, state: optInactive, activated: s.clientOK},
	}
	for _, o := range s.options {
		if o.state == optRequested {
			s.sendOption(o.sendYes, o.option)
		}
	}
	return s
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Close moves the session to its terminal state. Idempotent; the underlying
// channel and socket are owned by the link, not closed here.
func (s *Session) Close() {
	s.state.Store(int32(StateClosing))
	s.mu.Lock()
	if s.suspended {
		s.suspended = false
		close(s.resumeCh)
		s.resumeCh = nil
	}
	s.mu.Unlock()
	s.state.Store(int32(StateClosed))
}

// clientOK runs when either side of the COM-PORT-OPTION negotiation
// completes. One positive answer is enough; clients and servers in the wild
// disagree on which direction to confirm.
func (s *Session) clientOK() {
	s.mu.Lock()
	first := !s.clientRFC2217
	s.clientRFC2217 = true
	s.mu.Unlock()
	if first {
		s.state.CompareAndSwap(int32(StateNegotiating), int32(StateActive))
		s.logger.Info("client accepts RFC 2217")
		// make sure the client gets an initial modem state
		s.CheckModemLines(true)
	}
}

// Filter extracts control frames from inbound wire bytes, handles them, and
// returns the remaining data destined for the serial line.
func (s *Session) Filter(p []byte) []byte {
	data, events := s.dec.Filter(p)
	for _, ev := range events {
		switch ev.Kind {
		case EventNegotiate:
			s.negotiateOption(ev.Cmd, ev.Opt)
		case EventSuboption:
			s.processSuboption(ev.Payload)
		case EventCommand:
			s.logger.Debug("ignoring telnet command", zap.Uint8("command", ev.Cmd))
		}
	}
	return data
}

// WriteData escapes serial data and writes it to the peer.
func (s *Session) WriteData(p []byte) error {
	return s.writeRaw(Escape(p))
}

func (s *Session) writeRaw(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(p)
	return err
}

func (s *Session) sendOption(verb, opt byte) {
	if err := s.writeRaw(optionFrame(verb, opt)); err != nil {
		s.logger.Debug("option frame write failed", zap.Error(err))
	}
}

func (s *Session) sendSubnegotiation(code byte, value []byte) {
	if err := s.writeRaw(subnegotiation(code, value)); err != nil {
		s.logger.Debug("subnegotiation write failed", zap.Error(err))
	}
}

func (s *Session) negotiateOption(verb, opt byte) {
	known := false
	// options can appear twice, once for each direction
	for _, o := range s.options {
		if o.option == opt {
			s.processIncoming(o, verb)
			known = true
		}
	}
	if !known && (verb == iacWILL || verb == iacDO) {
		// deny every unknown positive request
		reject := byte(iacDONT)
		if verb == iacDO {
			reject = iacWONT
		}
		s.sendOption(reject, opt)
		s.logger.Debug("rejected telnet option", zap.Uint8("option", opt))
	}
}

func (s *Session) processIncoming(o *telnetOption, verb byte) {
	switch verb {
	case o.ackYes:
		switch o.state {
		case optRequested:
			o.state = optActive
			if o.activated != nil {
				o.activated()
			}
		case optActive:
		case optInactive:
			o.state = optActive
			s.sendOption(o.sendYes, o.option)
			if o.activated != nil {
				o.activated()
			}
		case optReallyInactive:
			s.sendOption(o.sendNo, o.option)
		}
	case o.ackNo:
		switch o.state {
		case optRequested:
			o.state = optInactive
		case optActive:
			o.state = optInactive
			s.sendOption(o.sendNo, o.option)
		case optInactive, optReallyInactive:
		}
	}
}

func (s *Session) processSuboption(payload []byte) {
	if len(payload) == 0 || payload[0] != optComPort {
		s.logger.Debug("ignoring subnegotiation", zap.Binary("payload", payload))
		return
	}
	if len(payload) < 2 {
		return
	}
	code, value := payload[1], payload[2:]
	switch code {
	case subSignature:
		s.handleSignature(value)
	case subSetBaudrate:
		s.handleSetBaudrate(value)
	case subSetDatasize:
		s.handleSetDatasize(value)
	case subSetParity:
		s.handleSetParity(value)
	case subSetStopsize:
		s.handleSetStopsize(value)
	case subSetControl:
		s.handleSetControl(value)
	case subNotifyLinestate:
		// client polls the line state
		s.sendSubnegotiation(serverOffset+subNotifyLinestate, []byte{s.linestateByte()})
	case subNotifyModemstate:
		s.CheckModemLines(true)
	case subFlowSuspend:
		s.setSuspended(true)
	case subFlowResume:
		s.setSuspended(false)
	case subSetLinestateMask:
		if len(value) >= 1 {
			s.mu.Lock()
			s.linestateMask = value[0]
			s.mu.Unlock()
			s.logger.Debug("line state mask set", zap.Uint8("mask", value[0]))
		}
	case subSetModemstateMask:
		if len(value) >= 1 {
			s.mu.Lock()
			s.modemstateMask = value[0]
			s.mu.Unlock()
			s.logger.Debug("modem state mask set", zap.Uint8("mask", value[0]))
		}
	case subPurgeData:
		s.handlePurge(value)
	default:
		// unsupported COM-PORT-OPTION commands are dropped, not fatal
		s.logger.Debug("undefined COM_PORT_OPTION", zap.Binary("payload", payload[1:]))
	}
}

func (s *Session) handleSignature(value []byte) {
	if len(value) > 0 {
		s.mu.Lock()
		s.clientSignature = string(value)
		s.mu.Unlock()
		s.logger.Info("client signature", zap.String("signature", string(value)))
	}
	s.sendSubnegotiation(serverOffset+subSignature, []byte(Signature))
}

// handleSetBaudrate applies a 4-byte network-order baud rate. Zero is a
// probe for the current value. A rate the hardware rejects is dropped
// without an acknowledgement; the client times out and may re-request.
func (s *Session) handleSetBaudrate(value []byte) {
	if len(value) < 4 {
		return
	}
	baud := binary.BigEndian.Uint32(value)
	if baud != 0 {
		cfg := s.channel.Config()
		cfg.BaudRate = int(baud)
		if err := s.channel.Reconfigure(cfg); err != nil {
			s.logger.Warn("baud rate rejected", zap.Uint32("baudrate", baud), zap.Error(err))
			return
		}
		s.logger.Info("baud rate set", zap.Uint32("baudrate", baud))
	}
	ack := make([]byte, 4)
	binary.BigEndian.PutUint32(ack, uint32(s.channel.Config().BaudRate))
	s.sendSubnegotiation(serverOffset+subSetBaudrate, ack)
}

func (s *Session) handleSetDatasize(value []byte) {
	if len(value) < 1 {
		return
	}
	if size := value[0]; size != 0 {
		cfg := s.channel.Config()
		cfg.DataBits = int(size)
		if err := s.channel.Reconfigure(cfg); err != nil {
			s.logger.Warn("data size rejected", zap.Uint8("datasize", size), zap.Error(err))
			return
		}
		s.logger.Info("data size set", zap.Uint8("datasize", size))
	}
	s.sendSubnegotiation(serverOffset+subSetDatasize, []byte{byte(s.channel.Config().DataBits)})
}

// RFC 2217 parity codes: 1 none, 2 odd, 3 even, 4 mark, 5 space.
var (
	parityFromWire = map[byte]serial.Parity{
		1: serial.ParityNone, 2: serial.ParityOdd, 3: serial.ParityEven,
		4: serial.ParityMark, 5: serial.ParitySpace,
	}
	parityToWire = map[serial.Parity]byte{
		serial.ParityNone: 1, serial.ParityOdd: 2, serial.ParityEven: 3,
		serial.ParityMark: 4, serial.ParitySpace: 5,
	}
)

func (s *Session) handleSetParity(value []byte) {
	if len(value) < 1 {
		return
	}
	if code := value[0]; code != 0 {
		parity, ok := parityFromWire[code]
		if !ok {
			s.logger.Warn("unknown parity code", zap.Uint8("parity", code))
			return
		}
		cfg := s.channel.Config()
		cfg.Parity = parity
		if err := s.channel.Reconfigure(cfg); err != nil {
			s.logger.Warn("parity rejected", zap.Stringer("parity", parity), zap.Error(err))
			return
		}
		s.logger.Info("parity set", zap.Stringer("parity", parity))
	}
	s.sendSubnegotiation(serverOffset+subSetParity, []byte{parityToWire[s.channel.Config().Parity]})
}

// RFC 2217 stop size codes: 1 one, 2 two, 3 one and a half.
var (
	stopFromWire = map[byte]serial.StopBits{
		1: serial.StopBitsOne, 2: serial.StopBitsTwo, 3: serial.StopBitsOnePointFive,
	}
	stopToWire = map[serial.StopBits]byte{
		serial.StopBitsOne: 1, serial.StopBitsTwo: 2, serial.StopBitsOnePointFive: 3,
	}
)

func (s *Session) handleSetStopsize(value []byte) {
	if len(value) < 1 {
		return
	}
	if code := value[0]; code != 0 {
		stop, ok := stopFromWire[code]
		if !ok {
			s.logger.Warn("unknown stop size code", zap.Uint8("stopsize", code))
			return
		}
		cfg := s.channel.Config()
		cfg.StopBits = stop
		if err := s.channel.Reconfigure(cfg); err != nil {
			s.logger.Warn("stop size rejected", zap.Stringer("stopbits", stop), zap.Error(err))
			return
		}
		s.logger.Info("stop size set", zap.Stringer("stopbits", stop))
	}
	s.sendSubnegotiation(serverOffset+subSetStopsize, []byte{stopToWire[s.channel.Config().StopBits]})
}

func (s *Session) handleSetControl(value []byte) {
	if len(value) < 1 {
		return
	}
	ack := func(v byte) {
		s.sendSubnegotiation(serverOffset+subSetControl, []byte{v})
	}
	switch value[0] {
	case controlReqFlow:
		cfg := s.channel.Config()
		switch {
		case cfg.XonXoff:
			ack(controlFlowXonXoff)
		case cfg.RTSCTS:
			ack(controlFlowRTSCTS)
		default:
			ack(controlFlowNone)
		}
	case controlFlowNone, controlFlowXonXoff, controlFlowRTSCTS:
		cfg := s.channel.Config()
		cfg.XonXoff = value[0] == controlFlowXonXoff
		cfg.RTSCTS = value[0] == controlFlowRTSCTS
		if err := s.channel.Reconfigure(cfg); err != nil {
			s.logger.Warn("flow control rejected", zap.Error(err))
			return
		}
		s.logger.Info("flow control changed",
			zap.Bool("xonxoff", cfg.XonXoff), zap.Bool("rtscts", cfg.RTSCTS))
		ack(value[0])
	case controlReqBreak:
		s.mu.Lock()
		on := s.breakState
		s.mu.Unlock()
		if on {
			ack(controlBreakOn)
		} else {
			ack(controlBreakOff)
		}
	case controlBreakOn, controlBreakOff:
		on := value[0] == controlBreakOn
		if err := s.channel.SetBreak(on); err != nil {
			s.logger.Warn("break change rejected", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.breakState = on
		s.mu.Unlock()
		s.logger.Info("break changed", zap.Bool("active", on))
		ack(value[0])
	case controlReqDTR:
		s.mu.Lock()
		on := s.dtr
		s.mu.Unlock()
		if on {
			ack(controlDTROn)
		} else {
			ack(controlDTROff)
		}
	case controlDTROn, controlDTROff:
		on := value[0] == controlDTROn
		if err := s.channel.SetDTR(on); err != nil {
			s.logger.Warn("DTR change rejected", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.dtr = on
		s.mu.Unlock()
		s.logger.Info("DTR changed", zap.Bool("active", on))
		ack(value[0])
	case controlReqRTS:
		s.mu.Lock()
		on := s.rts
		s.mu.Unlock()
		if on {
			ack(controlRTSOn)
		} else {
			ack(controlRTSOff)
		}
	case controlRTSOn, controlRTSOff:
		on := value[0] == controlRTSOn
		if err := s.channel.SetRTS(on); err != nil {
			s.logger.Warn("RTS change rejected", zap.Error(err))
			return
		}
		s.mu.Lock()
		s.rts = on
		s.mu.Unlock()
		s.logger.Info("RTS changed", zap.Bool("active", on))
		ack(value[0])
	default:
		s.logger.Debug("unsupported SET_CONTROL", zap.Uint8("value", value[0]))
	}
}

func (s *Session) handlePurge(value []byte) {
	if len(value) < 1 {
		return
	}
	var err error
	switch value[0] {
	case purgeReceive:
		err = s.channel.ResetInput()
	case purgeTransmit:
		err = s.channel.ResetOutput()
	case purgeBoth:
		if err = s.channel.ResetInput(); err == nil {
			err = s.channel.ResetOutput()
		}
	default:
		s.logger.Debug("undefined PURGE_DATA", zap.Uint8("value", value[0]))
		return
	}
	if err != nil {
		s.logger.Warn("purge failed", zap.Error(err))
		return
	}
	s.logger.Info("purged buffers", zap.Uint8("direction", value[0]))
	s.sendSubnegotiation(serverOffset+subPurgeData, []byte{value[0]})
}

func (s *Session) setSuspended(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on == s.suspended {
		return
	}
	s.suspended = on
	if on {
		s.resumeCh = make(chan struct{})
		s.logger.Info("flow suspended by client")
	} else {
		close(s.resumeCh)
		s.resumeCh = nil
		s.logger.Info("flow resumed by client")
	}
}

// AwaitFlow blocks while the client has suspended the serial-to-client
// direction, returning early when cancel fires.
func (s *Session) AwaitFlow(cancel <-chan struct{}) {
	for {
		s.mu.Lock()
		if !s.suspended {
			s.mu.Unlock()
			return
		}
		resume := s.resumeCh
		s.mu.Unlock()
		select {
		case <-resume:
		case <-cancel:
			return
		}
	}
}

func (s *Session) linestateByte() byte {
	ls, err := s.channel.LineState()
	if err != nil {
		return 0
	}
	var b byte
	if ls.DataReady {
		b |= linestateDataReady
	}
	if ls.OverrunError {
		b |= linestateOverrunError
	}
	if ls.ParityError {
		b |= linestateParityError
	}
	if ls.FramingError {
		b |= linestateFramingError
	}
	if ls.BreakDetect {
		b |= linestateBreakDetect
	}
	return b
}

func (s *Session) modemstateByte() (byte, error) {
	ms, err := s.channel.ModemState()
	if err != nil {
		return 0, err
	}
	var b byte
	if ms.CTS {
		b |= modemstateCTS
	}
	if ms.DSR {
		b |= modemstateDSR
	}
	if ms.RI {
		b |= modemstateRI
	}
	if ms.CD {
		b |= modemstateCD
	}
	return b, nil
}

// CheckModemLines samples the modem lines, compares them with the last
// value reported to the peer and sends a NOTIFY-MODEMSTATE when something
// changed (or unconditionally when forced). Called from the link's poll
// loop and after negotiation completes.
func (s *Session) CheckModemLines(force bool) {
	state, err := s.modemstateByte()
	if err != nil {
		return
	}
	s.mu.Lock()
	deltas := state ^ s.lastModemstate
	if s.haveModemstate {
		if deltas&modemstateCTS != 0 {
			state |= modemstateCTSChange
		}
		if deltas&modemstateDSR != 0 {
			state |= modemstateDSRChange
		}
		if deltas&modemstateRI != 0 {
			state |= modemstateRIChange
		}
		if deltas&modemstateCD != 0 {
			state |= modemstateCDChange
		}
	}
	changed := state != s.lastModemstate || !s.haveModemstate
	notify := force || (changed && s.clientRFC2217 && state&s.modemstateMask != 0)
	mask := s.modemstateMask
	if changed || force {
		// remember the state without the delta bits
		s.lastModemstate = state & 0xf0
		s.haveModemstate = true
	}
	s.mu.Unlock()

	if notify {
		s.sendSubnegotiation(serverOffset+subNotifyModemstate, []byte{state & mask})
		s.logger.Debug("NOTIFY_MODEMSTATE", zap.Uint8("modemstate", state&mask))
	}
}

// CheckLineState reports receiver error conditions to a subscribed peer.
// The line state mask defaults to zero, so nothing is sent until the client
// asks for it with SET-LINESTATE-MASK.
func (s *Session) CheckLineState() {
	state := s.linestateByte()
	s.mu.Lock()
	changed := state != s.lastLinestate
	notify := changed && s.clientRFC2217 && state&s.linestateMask != 0
	mask := s.linestateMask
	if changed {
		s.lastLinestate = state
	}
	s.mu.Unlock()

	if notify {
		s.sendSubnegotiation(serverOffset+subNotifyLinestate, []byte{state & mask})
		s.logger.Debug("NOTIFY_LINESTATE", zap.Uint8("linestate", state&mask))
	}
}
