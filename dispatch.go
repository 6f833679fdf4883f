package realtime

import (
	"fmt"
	"sync"

	"github.com/bt-bridge/telephony-realtime/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type EventHandler func(event *ServerEvent)

type handlerEntry struct {
	id      string
	handler EventHandler
}

// EventDispatcher routes server events to registered handlers. Handlers for
// one event type run in registration order; duplicate registration of the
// same function is permitted. A panicking handler is logged and never blocks
// the ones after it.
type EventDispatcher struct {
	logger shared.LoggerAdapter

	mu       sync.RWMutex
	handlers map[ServerEventType][]handlerEntry
}

func NewEventDispatcher(logger shared.LoggerAdapter) *EventDispatcher {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	return &EventDispatcher{
		logger:   logger,
		handlers: make(map[ServerEventType][]handlerEntry),
	}
}

// On registers a handler and returns its registration id for Off.
func (d *EventDispatcher) On(eventType ServerEventType, handler EventHandler) string {
	if handler == nil {
		return ""
	}
	id := uuid.NewString()
	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], handlerEntry{id: id, handler: handler})
	d.mu.Unlock()
	return id
}

// Off removes a registration by id, reporting whether it was found.
func (d *EventDispatcher) Off(eventType ServerEventType, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.handlers[eventType]
	for i, entry := range entries {
		if entry.id == id {
			d.handlers[eventType] = append(entries[:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch invokes every handler registered for the event's type, in
// registration order, isolating handler faults from each other.
func (d *EventDispatcher) Dispatch(event *ServerEvent) {
	if event == nil {
		return
	}
	d.mu.RLock()
	entries := make([]handlerEntry, len(d.handlers[event.Type]))
	copy(entries, d.handlers[event.Type])
	d.mu.RUnlock()
	for _, entry := range entries {
		d.invoke(entry, event)
	}
}

func (d *EventDispatcher) invoke(entry handlerEntry, event *ServerEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(
				"event handler panicked",
				fmt.Errorf("panic: %v", r),
				zap.String("type", string(event.Type)),
				zap.String("handler_id", entry.id),
			)
		}
	}()
	entry.handler(event)
}
