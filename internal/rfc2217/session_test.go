package rfc2217

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-bridge/internal/serial"
)

// peerBuffer collects everything the session writes to its telnet peer.
type peerBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *peerBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *peerBuffer) take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]byte(nil), b.buf.Bytes()...)
	b.buf.Reset()
	return out
}

func newTestSession(t *testing.T) (*Session, *serial.Loopback, *peerBuffer) {
	t.Helper()
	lb := serial.NewLoopback(serial.DefaultConfig())
	t.Cleanup(func() { lb.Close() })
	out := &peerBuffer{}
	s := NewSession(lb, out, zap.NewNop())
	return s, lb, out
}

// activate completes the COM-PORT-OPTION negotiation from the client side.
func activate(s *Session) {
	s.Filter([]byte{iac, iacDO, optComPort})
}

// comPortFrame builds a client-side COM-PORT-OPTION frame, doubling IAC
// bytes inside the value the way a compliant client does.
func comPortFrame(code byte, value ...byte) []byte {
	frame := []byte{iac, iacSB, optComPort, code}
	for _, b := range value {
		if b == iac {
			frame = append(frame, iac)
		}
		frame = append(frame, b)
	}
	return append(frame, iac, iacSE)
}

func TestSessionInitialNegotiation(t *testing.T) {
	s, _, out := newTestSession(t)
	sent := out.take()

	require.Contains(t, string(sent), string(optionFrame(iacWILL, optEcho)))
	require.Contains(t, string(sent), string(optionFrame(iacWILL, optSGA)))
	require.Contains(t, string(sent), string(optionFrame(iacDO, optBinary)))
	require.Contains(t, string(sent), string(optionFrame(iacWILL, optComPort)))
	require.Equal(t, StateNegotiating, s.State())
}

func TestSessionActivation(t *testing.T) {
	s, lb, out := newTestSession(t)
	out.take()

	lb.InjectModemState(serial.ModemState{CTS: true})
	activate(s)

	require.Equal(t, StateActive, s.State())
	// activation forces an initial NOTIFY-MODEMSTATE
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subNotifyModemstate, []byte{modemstateCTS})))
}

func TestSessionRejectsUnknownOption(t *testing.T) {
	s, _, out := newTestSession(t)
	out.take()

	s.Filter([]byte{iac, iacWILL, 99})
	require.Equal(t, string(optionFrame(iacDONT, 99)), string(out.take()))

	s.Filter([]byte{iac, iacDO, 99})
	require.Equal(t, string(optionFrame(iacWONT, 99)), string(out.take()))
}

func TestSessionSetBaudrate(t *testing.T) {
	s, lb, out := newTestSession(t)
	activate(s)
	out.take()

	data := s.Filter(comPortFrame(subSetBaudrate, 0, 0, 0x4b, 0))
	require.Empty(t, data)
	require.Equal(t, 19200, lb.Config().BaudRate)
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subSetBaudrate, []byte{0, 0, 0x4b, 0})))
}

func TestSessionBaudrateProbe(t *testing.T) {
	s, lb, out := newTestSession(t)
	activate(s)
	out.take()

	// value zero asks for the current rate without changing it
	s.Filter(comPortFrame(subSetBaudrate, 0, 0, 0, 0))
	require.Equal(t, 9600, lb.Config().BaudRate)
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subSetBaudrate, []byte{0, 0, 0x25, 0x80})))
}

func TestSessionRejectedSettingGetsNoAck(t *testing.T) {
	s, lb, out := newTestSession(t)
	activate(s)
	out.take()

	s.Filter(comPortFrame(subSetDatasize, 9))
	require.Equal(t, 8, lb.Config().DataBits)
	sent := out.take()
	for _, b := range sent {
		require.NotEqual(t, byte(serverOffset+subSetDatasize), b,
			"rejected SET-DATASIZE must not be acknowledged")
	}
}

func TestSessionSetParityAndStopsize(t *testing.T) {
	s, lb, out := newTestSession(t)
	activate(s)
	out.take()

	s.Filter(comPortFrame(subSetParity, 3))
	require.Equal(t, serial.ParityEven, lb.Config().Parity)
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subSetParity, []byte{3})))

	s.Filter(comPortFrame(subSetStopsize, 2))
	require.Equal(t, serial.StopBitsTwo, lb.Config().StopBits)
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subSetStopsize, []byte{2})))
}

func TestSessionSetControl(t *testing.T) {
	s, lb, out := newTestSession(t)
	activate(s)
	out.take()

	s.Filter(comPortFrame(subSetControl, controlDTROn))
	dtr, _ := lb.ControlLines()
	require.True(t, dtr)
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subSetControl, []byte{controlDTROn})))

	// probe reports the cached level
	s.Filter(comPortFrame(subSetControl, controlReqDTR))
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subSetControl, []byte{controlDTROn})))

	s.Filter(comPortFrame(subSetControl, controlBreakOn))
	require.True(t, lb.BreakState())
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subSetControl, []byte{controlBreakOn})))

	s.Filter(comPortFrame(subSetControl, controlReqFlow))
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subSetControl, []byte{controlFlowNone})))

	s.Filter(comPortFrame(subSetControl, controlFlowRTSCTS))
	require.True(t, lb.Config().RTSCTS)
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subSetControl, []byte{controlFlowRTSCTS})))
}

func TestSessionPurge(t *testing.T) {
	s, lb, out := newTestSession(t)
	activate(s)
	out.take()

	peer := lb.Peer()
	_, err := peer.Write([]byte("stale"))
	require.NoError(t, err)

	s.Filter(comPortFrame(subPurgeData, purgeBoth))
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subPurgeData, []byte{purgeBoth})))

	_, err = peer.Write([]byte("fresh"))
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := lb.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(buf[:n]))
}

func TestSessionSignature(t *testing.T) {
	s, _, out := newTestSession(t)
	activate(s)
	out.take()

	s.Filter(comPortFrame(subSignature, []byte("some client")...))
	require.Equal(t, "some client", s.clientSignature)
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subSignature, []byte(Signature))))
}

func TestSessionModemstateNotify(t *testing.T) {
	s, lb, out := newTestSession(t)
	lb.InjectModemState(serial.ModemState{CTS: true})
	activate(s)
	out.take()

	// no change, no notification
	s.CheckModemLines(false)
	require.Empty(t, out.take())

	// DSR comes up: report with the DSR delta bit
	lb.InjectModemState(serial.ModemState{CTS: true, DSR: true})
	s.CheckModemLines(false)
	want := byte(modemstateCTS | modemstateDSR | modemstateDSRChange)
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subNotifyModemstate, []byte{want})))
}

func TestSessionModemstateMask(t *testing.T) {
	s, lb, out := newTestSession(t)
	activate(s)
	out.take()

	// mask out everything: changes stay unreported
	s.Filter(comPortFrame(subSetModemstateMask, 0))
	lb.InjectModemState(serial.ModemState{CD: true})
	s.CheckModemLines(false)
	require.Empty(t, out.take())
}

func TestSessionLinestateNotify(t *testing.T) {
	s, lb, out := newTestSession(t)
	activate(s)
	out.take()

	// default mask is zero: nothing is reported
	lb.InjectLineState(serial.LineState{BreakDetect: true})
	s.CheckLineState()
	require.Empty(t, out.take())

	lb.InjectLineState(serial.LineState{})
	s.CheckLineState()
	out.take()

	s.Filter(comPortFrame(subSetLinestateMask, 255))
	// the mask value is an escaped IAC on the wire; the ack mirrors it
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subSetLinestateMask, []byte{255})))

	lb.InjectLineState(serial.LineState{BreakDetect: true, FramingError: true})
	s.CheckLineState()
	want := byte(linestateBreakDetect | linestateFramingError)
	require.True(t, bytes.Contains(out.take(),
		subnegotiation(serverOffset+subNotifyLinestate, []byte{want})))
}

func TestSessionFlowSuspendResume(t *testing.T) {
	s, _, out := newTestSession(t)
	activate(s)
	out.take()

	s.Filter(comPortFrame(subFlowSuspend))

	released := make(chan struct{})
	cancel := make(chan struct{})
	go func() {
		s.AwaitFlow(cancel)
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("AwaitFlow returned while flow was suspended")
	case <-time.After(30 * time.Millisecond):
	}

	s.Filter(comPortFrame(subFlowResume))
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for flow resume")
	}
}

func TestSessionDataPassthrough(t *testing.T) {
	s, _, out := newTestSession(t)
	activate(s)
	out.take()

	data := s.Filter([]byte{'a', iac, iac, 'b'})
	require.Equal(t, []byte{'a', iac, 'b'}, data)

	require.NoError(t, s.WriteData([]byte{'x', iac, 'y'}))
	require.Equal(t, []byte{'x', iac, iac, 'y'}, out.take())
}

func TestSessionClose(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Filter(comPortFrame(subFlowSuspend))

	released := make(chan struct{})
	go func() {
		s.AwaitFlow(nil)
		close(released)
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Close must release suspended writers")
	}
	require.Equal(t, StateClosed, s.State())
}
