// internal/rfc2217/codec.go
package rfc2217

import "bytes"

// Telnet protocol bytes (RFC 854).
const (
	iacSE   = 240 // subnegotiation end
	iacNOP  = 241
	iacSB   = 250 // subnegotiation begin
	iacWILL = 251
	iacWONT = 252
	iacDO   = 253
	iacDONT = 254
	iac     = 255 // interpret as command
)

// Telnet options negotiated by the bridge.
const (
	optBinary  = 0
	optEcho    = 1
	optSGA     = 3
	optComPort = 44 // COM-PORT-OPTION, RFC 2217
)

// COM-PORT-OPTION suboption codes in the client-to-server direction. The
// server acknowledges a command by mirroring it with the code shifted by
// serverOffset.
const (
	subSignature         = 0
	subSetBaudrate       = 1
	subSetDatasize       = 2
	subSetParity         = 3
	subSetStopsize       = 4
	subSetControl        = 5
	subNotifyLinestate   = 6
	subNotifyModemstate  = 7
	subFlowSuspend       = 8
	subFlowResume        = 9
	subSetLinestateMask  = 10
	subSetModemstateMask = 11
	subPurgeData         = 12

	serverOffset = 100
)

// SET-CONTROL values.
const (
	controlReqFlow     = 0
	controlFlowNone    = 1
	controlFlowXonXoff = 2
	controlFlowRTSCTS  = 3
	controlReqBreak    = 4
	controlBreakOn     = 5
	controlBreakOff    = 6
	controlReqDTR      = 7
	controlDTROn       = 8
	controlDTROff      = 9
	controlReqRTS      = 10
	controlRTSOn       = 11
	controlRTSOff      = 12
)

// PURGE-DATA values.
const (
	purgeReceive  = 1
	purgeTransmit = 2
	purgeBoth     = 3
)

// NOTIFY-LINESTATE bits.
const (
	linestateDataReady    = 1
	linestateOverrunError = 2
	linestateParityError  = 4
	linestateFramingError = 8
	linestateBreakDetect  = 16
)

// NOTIFY-MODEMSTATE bits. The low nibble carries the delta flags.
const (
	modemstateCTSChange = 1
	modemstateDSRChange = 2
	modemstateRIChange  = 4
	modemstateCDChange  = 8
	modemstateCTS       = 16
	modemstateDSR       = 32
	modemstateRI        = 64
	modemstateCD        = 128
)

// EventKind classifies a control event extracted from the inbound stream.
type EventKind int

const (
	// EventNegotiate is a DO/DONT/WILL/WONT option frame.
	EventNegotiate EventKind = iota
	// EventSuboption is a complete IAC SB ... IAC SE payload, already
	// un-escaped.
	EventSuboption
	// EventCommand is any other telnet command byte.
	EventCommand
)

// Event is one control item found between data bytes.
type Event struct {
	Kind    EventKind
	Cmd     byte   // negotiation verb or bare command byte
	Opt     byte   // option code for EventNegotiate
	Payload []byte // suboption payload for EventSuboption
}

// decoder states.
const (
	stateNormal = iota
	stateIAC
	stateNegotiate
)

// Decoder separates RFC 2217 control frames from data on a telnet stream.
// Its zero value is ready to use; one decoder serves one connection since
// frames may span Filter calls.
type Decoder struct {
	state      int
	verb       byte
	sub        []byte
	collecting bool
}

// Filter consumes a chunk of wire bytes and returns the data bytes it
// contained (with IAC IAC collapsed) and the control events it completed.
func (d *Decoder) Filter(p []byte) (data []byte, events []Event) {
	for _, b := range p {
		switch d.state {
		case stateNormal:
			if b == iac {
				d.state = stateIAC
			} else if d.collecting {
				d.sub = append(d.sub, b)
			} else {
				data = append(data, b)
			}
		case stateIAC:
			switch b {
			case iac:
				// escaped data byte
				if d.collecting {
					d.sub = append(d.sub, iac)
				} else {
					data = append(data, iac)
				}
				d.state = stateNormal
			case iacSB:
				d.collecting = true
				d.sub = d.sub[:0]
				d.state = stateNormal
			case iacSE:
				events = append(events, Event{
					Kind:    EventSuboption,
					Payload: append([]byte(nil), d.sub...),
				})
				d.collecting = false
				d.sub = d.sub[:0]
				d.state = stateNormal
			case iacDO, iacDONT, iacWILL, iacWONT:
				d.verb = b
				d.state = stateNegotiate
			default:
				events = append(events, Event{Kind: EventCommand, Cmd: b})
				d.state = stateNormal
			}
		case stateNegotiate:
			events = append(events, Event{Kind: EventNegotiate, Cmd: d.verb, Opt: b})
			d.state = stateNormal
		}
	}
	return data, events
}

// Escape doubles every IAC byte so arbitrary data survives the telnet
// layer untouched.
func Escape(p []byte) []byte {
	if bytes.IndexByte(p, iac) < 0 {
		return p
	}
	out := make([]byte, 0, len(p)+4)
	for _, b := range p {
		if b == iac {
			out = append(out, iac)
		}
		out = append(out, b)
	}
	return out
}

// optionFrame builds a DO/DONT/WILL/WONT frame.
func optionFrame(verb, opt byte) []byte {
	return []byte{iac, verb, opt}
}

// subnegotiation builds an IAC SB COM-PORT-OPTION <code> <value> IAC SE
// frame, escaping IAC bytes inside the value.
func subnegotiation(code byte, value []byte) []byte {
	out := make([]byte, 0, len(value)+6)
	out = append(out, iac, iacSB, optComPort, code)
	for _, b := range value {
		if b == iac {
			out = append(out, iac)
		}
		out = append(out, b)
	}
	return append(out, iac, iacSE)
}
