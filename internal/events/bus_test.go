package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan FrameCapturedEvent, 1)

	unsub := bus.Subscribe(func(e FrameCapturedEvent) {
		received <- e
	})
	defer unsub()

	event := FrameCapturedEvent{
		Camera:    0,
		Slot:      1,
		Seq:       7,
		Length:    1280 * 720 * 3,
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got != event {
		t.Errorf("Expected %+v, got %+v", event, got)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan PipelineBuiltEvent, 1)
	received2 := make(chan PipelineBuiltEvent, 1)

	unsub1 := bus.Subscribe(func(e PipelineBuiltEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e PipelineBuiltEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(PipelineBuiltEvent{Camera: 0, Slots: 2})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan CaptureErrorEvent, 1)

	unsub := bus.Subscribe(func(e CaptureErrorEvent) {
		received <- e
	})

	bus.Publish(CaptureErrorEvent{Camera: 0, Code: "NOT_BUILT"})
	<-received

	unsub()

	bus.Publish(CaptureErrorEvent{Camera: 1, Code: "NOT_BUILT"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	capturedReceived := make(chan bool, 1)
	emptyReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ FrameCapturedEvent) {
		capturedReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ EmptyBufferDiscardedEvent) {
		emptyReceived <- true
	})
	defer unsub2()

	bus.Publish(FrameCapturedEvent{Camera: 0})
	<-capturedReceived

	select {
	case <-emptyReceived:
		t.Fatal("Empty-buffer subscriber should NOT have received FrameCapturedEvent")
	case <-time.After(10 * time.Millisecond):
	}

	bus.Publish(EmptyBufferDiscardedEvent{Camera: 0})
	<-emptyReceived

	select {
	case <-capturedReceived:
		t.Fatal("Capture subscriber should NOT have received EmptyBufferDiscardedEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ FrameCapturedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for i := range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := range eventsPerGoroutine {
				bus.Publish(FrameCapturedEvent{
					Slot:      i % 3,
					Seq:       uint64(seq),
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"PipelineBuilt", PipelineBuiltEvent{Camera: 0}},
		{"PipelineBuildFailed", PipelineBuildFailedEvent{Camera: 0, Stage: "isp"}},
		{"FrameCaptured", FrameCapturedEvent{Camera: 0}},
		{"CaptureError", CaptureErrorEvent{Camera: 0}},
		{"EmptyBufferDiscarded", EmptyBufferDiscardedEvent{Camera: 0}},
		{"PipelineClosed", PipelineClosedEvent{Cameras: 1}},
		{"ConfigReloaded", ConfigReloadedEvent{Path: "pipeline.toml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case PipelineBuiltEvent:
				unsub = bus.Subscribe(func(e PipelineBuiltEvent) { received <- e })
			case PipelineBuildFailedEvent:
				unsub = bus.Subscribe(func(e PipelineBuildFailedEvent) { received <- e })
			case FrameCapturedEvent:
				unsub = bus.Subscribe(func(e FrameCapturedEvent) { received <- e })
			case CaptureErrorEvent:
				unsub = bus.Subscribe(func(e CaptureErrorEvent) { received <- e })
			case EmptyBufferDiscardedEvent:
				unsub = bus.Subscribe(func(e EmptyBufferDiscardedEvent) { received <- e })
			case PipelineClosedEvent:
				unsub = bus.Subscribe(func(e PipelineClosedEvent) { received <- e })
			case ConfigReloadedEvent:
				unsub = bus.Subscribe(func(e ConfigReloadedEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestBus_UnknownHandler(_ *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(string) {})
	unsub()
}

func TestEventJSONSerialization(t *testing.T) {
	data, err := json.Marshal(PipelineBuildFailedEvent{
		Camera:    1,
		Stage:     "splitter",
		Slot:      -1,
		Code:      "ENABLE_FAILED",
		Error:     "enable splitter0: boom",
		Timestamp: "2025-01-27T10:30:00Z",
	})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var result map[string]any
	if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
		t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
	}
	for _, key := range []string{"camera", "stage", "slot", "code", "error", "timestamp"} {
		if _, ok := result[key]; !ok {
			t.Errorf("missing key %q in %s", key, data)
		}
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan PipelineClosedEvent, 10)

	unsub := SubscribeToChannel[PipelineClosedEvent](bus, ch)
	defer unsub()

	bus.Publish(PipelineClosedEvent{Cameras: 2})

	got := <-ch
	if got.Cameras != 2 {
		t.Errorf("Expected 2 cameras, got %d", got.Cameras)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan FrameCapturedEvent) // No buffer

	unsub := SubscribeToChannel[FrameCapturedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(FrameCapturedEvent{Camera: 0})
		done <- true
	}()

	<-done
}

func TestForward(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := Forward(bus, ch)
	bus.Publish(PipelineBuiltEvent{Camera: 1})
	bus.Publish(ConfigReloadedEvent{Path: "pipeline.toml"})

	seen := make(map[uint32]bool)
	for range 2 {
		select {
		case ev := <-ch:
			seen[ev.(Event).Type()] = true
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for forwarded event")
		}
	}
	if !seen[TypePipelineBuilt] || !seen[TypeConfigReloaded] {
		t.Errorf("Unexpected events %v", seen)
	}

	unsub()
	bus.Publish(PipelineClosedEvent{})
	select {
	case ev := <-ch:
		t.Errorf("Received %T after unsubscribe", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
