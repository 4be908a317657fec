package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-bridge/internal/config"
	"serial-bridge/internal/serial"
)

func TestEntryFromConfig(t *testing.T) {
	rec := config.BridgeConfig{
		Name:     "printer",
		URL:      "/dev/ttyUSB0",
		Listener: ":7000",
		Mode:     "rfc2217",
		NoDelay:  true,
		Baudrate: 115200,
		Bytesize: 8,
		Parity:   "E",
		Stopbits: 2,
		RS485: config.RS485Config{
			Enabled:        true,
			RTSOnSend:      true,
			DelayAfterSend: 5 * time.Millisecond,
		},
	}

	e, err := EntryFromConfig(rec)
	require.NoError(t, err)
	require.Equal(t, "printer", e.Name)
	require.Equal(t, ModeRFC2217, e.Mode)
	require.True(t, e.NoDelay)
	require.Equal(t, 115200, e.Serial.BaudRate)
	require.Equal(t, serial.ParityEven, e.Serial.Parity)
	require.Equal(t, serial.StopBitsTwo, e.Serial.StopBits)
	require.True(t, e.Serial.RS485.Enabled)
	require.NoError(t, e.Validate())
}

func TestEntryFromConfigDefaults(t *testing.T) {
	e, err := EntryFromConfig(config.BridgeConfig{
		Name:     "bare",
		URL:      "loop://",
		Listener: ":0",
	})
	require.NoError(t, err)
	require.Equal(t, serial.DefaultConfig(), e.Serial)
}

func TestEntryFromConfigBadParity(t *testing.T) {
	_, err := EntryFromConfig(config.BridgeConfig{
		Name:     "bad",
		URL:      "loop://",
		Listener: ":0",
		Parity:   "q",
	})
	require.ErrorIs(t, err, serial.ErrInvalidConfig)
}

func TestEntryValidate(t *testing.T) {
	e := Entry{Name: "x", URL: "loop://", Listener: ":0", Mode: ModeRaw, Serial: serial.DefaultConfig()}
	require.NoError(t, e.Validate())

	noURL := e
	noURL.URL = ""
	require.ErrorIs(t, noURL.Validate(), serial.ErrInvalidConfig)

	noListener := e
	noListener.Listener = ""
	require.ErrorIs(t, noListener.Validate(), serial.ErrInvalidConfig)

	badMode := e
	badMode.Mode = "telnet"
	require.ErrorIs(t, badMode.Validate(), serial.ErrInvalidConfig)

	badSerial := e
	badSerial.Serial.BaudRate = 0
	require.ErrorIs(t, badSerial.Validate(), serial.ErrInvalidConfig)
}

func TestNewServerFromConfig(t *testing.T) {
	recs := []config.BridgeConfig{
		{Name: "ok", URL: "loop://", Listener: ":0", Mode: "raw"},
		{Name: "broken", URL: "loop://", Listener: ":0", Parity: "zz"},
	}
	s, err := NewServerFromConfig(recs, zap.NewNop())
	require.Error(t, err)

	status := s.Status()
	require.Len(t, status, 2)
	require.Empty(t, status[0].Error)
	require.NotEmpty(t, status[1].Error)
}
