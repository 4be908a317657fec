package rfc2217

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscape(t *testing.T) {
	plain := []byte("no telnet bytes here")
	require.Equal(t, plain, Escape(plain))

	require.Equal(t,
		[]byte{1, iac, iac, 2, iac, iac},
		Escape([]byte{1, iac, 2, iac}))

	// a lone 0xff surrounded by printable data must still be doubled
	require.Equal(t,
		[]byte{'x', iac, iac, 'y'},
		Escape([]byte{'x', iac, 'y'}))
}

func TestEscapeDecodeRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		{iac},
		{iac, iac, iac},
		{0, iac, 1, iac, iac, 2},
		[]byte("plain ascii"),
	}
	for _, in := range inputs {
		var d Decoder
		data, events := d.Filter(Escape(in))
		require.Empty(t, events)
		if len(in) == 0 {
			require.Empty(t, data)
		} else {
			require.Equal(t, in, data)
		}
	}
}

func TestDecoderPlainData(t *testing.T) {
	var d Decoder
	data, events := d.Filter([]byte("hello"))
	require.Equal(t, []byte("hello"), data)
	require.Empty(t, events)
}

func TestDecoderEscapedIAC(t *testing.T) {
	var d Decoder
	data, events := d.Filter([]byte{1, iac, iac, 2})
	require.Equal(t, []byte{1, iac, 2}, data)
	require.Empty(t, events)

	// consecutive escaped IACs
	data, events = d.Filter([]byte{iac, iac, iac, iac})
	require.Equal(t, []byte{iac, iac}, data)
	require.Empty(t, events)
}

func TestDecoderNegotiation(t *testing.T) {
	var d Decoder
	data, events := d.Filter([]byte{'a', iac, iacDO, optComPort, 'b'})
	require.Equal(t, []byte("ab"), data)
	require.Len(t, events, 1)
	require.Equal(t, EventNegotiate, events[0].Kind)
	require.Equal(t, byte(iacDO), events[0].Cmd)
	require.Equal(t, byte(optComPort), events[0].Opt)
}

func TestDecoderSuboption(t *testing.T) {
	var d Decoder
	frame := []byte{iac, iacSB, optComPort, subSetBaudrate, 0, 0, 0x4b, 0, iac, iacSE}
	data, events := d.Filter(frame)
	require.Empty(t, data)
	require.Len(t, events, 1)
	require.Equal(t, EventSuboption, events[0].Kind)
	require.Equal(t, []byte{optComPort, subSetBaudrate, 0, 0, 0x4b, 0}, events[0].Payload)
}

func TestDecoderSuboptionSplitAcrossChunks(t *testing.T) {
	var d Decoder
	// an escaped IAC inside the payload, delivered byte by byte
	frame := []byte{iac, iacSB, optComPort, subSignature, 'x', iac, iac, 'y', iac, iacSE}

	var allData []byte
	var allEvents []Event
	for _, b := range frame {
		data, events := d.Filter([]byte{b})
		allData = append(allData, data...)
		allEvents = append(allEvents, events...)
	}
	require.Empty(t, allData)
	require.Len(t, allEvents, 1)
	require.Equal(t, []byte{optComPort, subSignature, 'x', iac, 'y'}, allEvents[0].Payload)
}

func TestDecoderInterleaved(t *testing.T) {
	var d Decoder
	stream := append([]byte("pre"), iac, iacWILL, optBinary)
	stream = append(stream, iac, iacSB, optComPort, subSetControl, controlDTROn, iac, iacSE)
	stream = append(stream, []byte("post")...)

	data, events := d.Filter(stream)
	require.Equal(t, []byte("prepost"), data)
	require.Len(t, events, 2)
	require.Equal(t, EventNegotiate, events[0].Kind)
	require.Equal(t, EventSuboption, events[1].Kind)
}

func TestSubnegotiationEscapesValue(t *testing.T) {
	frame := subnegotiation(subSignature, []byte{'a', iac, 'b'})
	require.Equal(t,
		[]byte{iac, iacSB, optComPort, subSignature, 'a', iac, iac, 'b', iac, iacSE},
		frame)
}
