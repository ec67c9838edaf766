package events

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	var received *Event
	var callCount int

	handler := func(event *Event) error {
		received = event
		callCount++
		return nil
	}

	bus.Subscribe(EventItemFailed, handler)

	payload := ItemFailedPayload{QueueID: 9, EntityType: "USER", EntityID: 3, Error: "timeout"}
	if err := bus.PublishJSON(EventItemFailed, payload); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}

	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
	if received.Type != EventItemFailed {
		t.Errorf("expected type %s, got %s", EventItemFailed, received.Type)
	}
	if received.CreatedAt.IsZero() {
		t.Errorf("expected CreatedAt to be set")
	}

	var decoded ItemFailedPayload
	if err := json.Unmarshal(received.Payload, &decoded); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if decoded.QueueID != 9 || decoded.Error != "timeout" {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	var count1, count2 int

	bus.Subscribe(EventCycleFinished, func(_ *Event) error { count1++; return nil })
	bus.Subscribe(EventCycleFinished, func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: EventCycleFinished})

	if count1 != 1 || count2 != 1 {
		t.Errorf("expected both handlers to be called once, got %d and %d", count1, count2)
	}
}

func TestEventBusHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	var reported []error
	bus.OnError(func(_ *Event, err error) { reported = append(reported, err) })

	var secondRan bool
	bus.Subscribe("x", func(_ *Event) error { return errors.New("redis down") })
	bus.Subscribe("x", func(_ *Event) error { secondRan = true; return nil })

	bus.Publish(&Event{Type: "x"})

	if !secondRan {
		t.Errorf("expected later handlers to run after a failure")
	}
	if len(reported) != 1 {
		t.Errorf("expected 1 reported error, got %d", len(reported))
	}
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Should not panic
	bus.Publish(&Event{Type: "unknown"})
	if err := bus.PublishJSON("unknown", nil); err != nil {
		t.Errorf("PublishJSON failed: %v", err)
	}

	var nilBus *EventBus
	if err := nilBus.PublishJSON("unknown", CyclePayload{}); err != nil {
		t.Errorf("nil bus should drop events, got %v", err)
	}
}
