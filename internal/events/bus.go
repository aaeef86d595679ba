package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers
// Usage: bus.Publish(FrameCapturedEvent{...})
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case PipelineBuiltEvent:
		event.Publish(b.dispatcher, e)
	case PipelineBuildFailedEvent:
		event.Publish(b.dispatcher, e)
	case FrameCapturedEvent:
		event.Publish(b.dispatcher, e)
	case CaptureErrorEvent:
		event.Publish(b.dispatcher, e)
	case EmptyBufferDiscardedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineClosedEvent:
		event.Publish(b.dispatcher, e)
	case ConfigReloadedEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type selects which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e FrameCapturedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(PipelineBuiltEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineBuildFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameCapturedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureErrorEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(EmptyBufferDiscardedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineClosedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(ConfigReloadedEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}

// SubscribeToChannel bridges callback subscriptions to a channel.
// Events are dropped when ch is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- T) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// Forward subscribes ch to every event type. Events are dropped when ch is
// full. The returned function removes all subscriptions.
func Forward(bus *Bus, ch chan<- any) func() {
	send := func(e any) {
		select {
		case ch <- e:
		default:
		}
	}
	unsubs := []func(){
		bus.Subscribe(func(e PipelineBuiltEvent) { send(e) }),
		bus.Subscribe(func(e PipelineBuildFailedEvent) { send(e) }),
		bus.Subscribe(func(e FrameCapturedEvent) { send(e) }),
		bus.Subscribe(func(e CaptureErrorEvent) { send(e) }),
		bus.Subscribe(func(e EmptyBufferDiscardedEvent) { send(e) }),
		bus.Subscribe(func(e PipelineClosedEvent) { send(e) }),
		bus.Subscribe(func(e ConfigReloadedEvent) { send(e) }),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
