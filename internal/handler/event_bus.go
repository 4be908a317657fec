// internal/handler/event_bus.go
package handler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-bridge/internal/bridge"
)

// EventBus manages event distribution
type EventBus struct {
	subscribers map[string][]chan Event
	events      chan Event
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// Event represents a system event
type Event struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
		events:      make(chan Event, 1000),
		logger:      logger,
	}
}

// Start starts the event bus
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}
}

// Publish publishes an event
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.events <- event:
	default:
		// Event bus is full, log warning
		if eb.logger != nil {
			eb.logger.Warn("Event bus full, dropping event",
				zap.String("event_type", event.Type),
			)
		}
	}
}

// Subscribe subscribes to events of a specific type. The type "*" receives
// every event.
func (eb *EventBus) Subscribe(eventType string) <-chan Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan Event, 100)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event Event) {
	eb.mutex.RLock()
	subscribers := append([]chan Event{}, eb.subscribers[event.Type]...)
	subscribers = append(subscribers, eb.subscribers["*"]...)
	eb.mutex.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// BridgeEventSink adapts the bus into a bridge event sink so link lifecycle
// events flow to WebSocket subscribers.
func BridgeEventSink(eb *EventBus) bridge.EventSink {
	return func(evt bridge.Event) {
		data := map[string]interface{}{}
		if evt.LinkID != "" {
			data["link_id"] = evt.LinkID
		}
		if evt.RemoteAddr != "" {
			data["remote_addr"] = evt.RemoteAddr
		}
		if evt.Error != "" {
			data["error"] = evt.Error
		}
		eb.Publish(Event{
			Type:      string(evt.Type),
			Source:    evt.Entry,
			Data:      data,
			Timestamp: evt.Timestamp,
		})
	}
}
