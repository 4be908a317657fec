package serial

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(c *Config) {}},
		{name: "zero baud", mutate: func(c *Config) { c.BaudRate = 0 }, wantErr: true},
		{name: "negative baud", mutate: func(c *Config) { c.BaudRate = -9600 }, wantErr: true},
		{name: "bytesize 4", mutate: func(c *Config) { c.DataBits = 4 }, wantErr: true},
		{name: "bytesize 9", mutate: func(c *Config) { c.DataBits = 9 }, wantErr: true},
		{name: "bytesize 5", mutate: func(c *Config) { c.DataBits = 5 }},
		{name: "two stop bits", mutate: func(c *Config) { c.StopBits = StopBitsTwo }},
		{name: "1.5 stop bits with 8 data bits", mutate: func(c *Config) {
			c.StopBits = StopBitsOnePointFive
		}, wantErr: true},
		{name: "1.5 stop bits with 5 data bits", mutate: func(c *Config) {
			c.DataBits = 5
			c.StopBits = StopBitsOnePointFive
		}},
		{name: "both flow controls", mutate: func(c *Config) {
			c.RTSCTS = true
			c.XonXoff = true
		}, wantErr: true},
		{name: "negative rs485 delay", mutate: func(c *Config) {
			c.RS485.Enabled = true
			c.RS485.DelayAfterSend = -1
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseParity(t *testing.T) {
	for in, want := range map[string]Parity{
		"":      ParityNone,
		"none":  ParityNone,
		"N":     ParityNone,
		"odd":   ParityOdd,
		"O":     ParityOdd,
		"even":  ParityEven,
		"E":     ParityEven,
		"mark":  ParityMark,
		"space": ParitySpace,
	} {
		got, err := ParseParity(in)
		require.NoError(t, err, "input %q", in)
		require.Equal(t, want, got, "input %q", in)
	}

	_, err := ParseParity("bogus")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestParseStopBits(t *testing.T) {
	for in, want := range map[float64]StopBits{
		0:   StopBitsOne,
		1:   StopBitsOne,
		1.5: StopBitsOnePointFive,
		2:   StopBitsTwo,
	} {
		got, err := ParseStopBits(in)
		require.NoError(t, err, "input %v", in)
		require.Equal(t, want, got, "input %v", in)
	}

	_, err := ParseStopBits(3)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
