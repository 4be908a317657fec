package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScannerMatches(t *testing.T) {
	s := NewScanner(zap.NewNop())

	require.True(t, s.matches("/dev/ttyUSB0"))
	require.True(t, s.matches("/dev/ttyACM3"))
	require.True(t, s.matches("/dev/ttyS1"))
	require.False(t, s.matches("/dev/random"))
	require.False(t, s.matches("/dev/null"))
}

func TestScannerCancelledContext(t *testing.T) {
	s := NewScanner(zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Scan(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
