package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
)

func TestEventBusDistribution(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	go bus.Start()

	opened := bus.Subscribe("link.opened")
	all := bus.Subscribe("*")

	sink := BridgeEventSink(bus)
	sink(bridge.Event{
		Type:       bridge.EventLinkOpened,
		Entry:      "printer",
		LinkID:     "abc",
		RemoteAddr: "127.0.0.1:1234",
		Timestamp:  time.Now(),
	})

	for name, ch := range map[string]<-chan Event{"typed": opened, "wildcard": all} {
		select {
		case evt := <-ch:
			require.Equal(t, "link.opened", evt.Type)
			require.Equal(t, "printer", evt.Source)
			require.Equal(t, "abc", evt.Data["link_id"])
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s subscriber", name)
		}
	}
}

func TestEventBusIgnoresOtherTypes(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	go bus.Start()

	closed := bus.Subscribe("link.closed")
	bus.Publish(Event{Type: "link.opened", Timestamp: time.Now()})

	select {
	case evt := <-closed:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
