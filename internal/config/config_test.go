package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
api:
  host: "127.0.0.1"
  port: "9000"
  read_timeout: 10s
logging:
  level: debug
  format: console
app:
  environment: production
bridges:
  - name: printer
    url: /dev/ttyUSB0
    listener: ":7000"
    mode: rfc2217
    no_delay: true
    baudrate: 115200
    parity: even
    stopbits: 1.5
  - name: scale
    url: loop://scale
    listener: ":7001"
    mode: raw
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9000", cfg.GetAPIAddr())
	require.Equal(t, 10*time.Second, cfg.API.ReadTimeout)
	// defaults fill what the file leaves out
	require.Equal(t, 30*time.Second, cfg.API.WriteTimeout)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "serial-bridge", cfg.App.Name)
	require.True(t, cfg.IsProduction())

	require.Len(t, cfg.Bridges, 2)
	require.Equal(t, "printer", cfg.Bridges[0].Name)
	require.Equal(t, "rfc2217", cfg.Bridges[0].Mode)
	require.True(t, cfg.Bridges[0].NoDelay)
	require.Equal(t, 115200, cfg.Bridges[0].Baudrate)
	require.Equal(t, "even", cfg.Bridges[0].Parity)
	require.Equal(t, 1.5, cfg.Bridges[0].Stopbits)
	require.Equal(t, "loop://scale", cfg.Bridges[1].URL)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
bridges:
  - name: printer
    url: /dev/ttyUSB0
    listener: ":7000"
    baudrtae: 115200
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: verbose
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "logging level")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRequiresAPIAddrWhenEnabled(t *testing.T) {
	path := writeConfig(t, `
api:
  enabled: true
  host: ""
`)
	_, err := Load(path)
	require.Error(t, err)
}
