package eventbus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewWithConfig(1, 8)

	var mu sync.Mutex
	var seen []string
	bus.Subscribe(EventTypeSafetyTriggered, func(evt Event) {
		mu.Lock()
		seen = append(seen, "a:"+evt.Data["id"].(string))
		mu.Unlock()
	})
	bus.Subscribe(EventTypeSafetyTriggered, func(evt Event) {
		mu.Lock()
		seen = append(seen, "b:"+evt.Data["id"].(string))
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventTypeSafetyTriggered, Data: map[string]interface{}{"id": "1"}})
	bus.Publish(Event{Type: EventTypeSafetyRecovered, Data: map[string]interface{}{"id": "2"}})
	bus.Close(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"a:1", "b:1"}, seen, "only subscribed types are delivered")
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus := NewWithConfig(1, 8)

	var mu sync.Mutex
	delivered := 0
	bus.Subscribe(EventTypeSafetyRecovered, func(Event) { panic("boom") })
	bus.Subscribe(EventTypeSafetyRecovered, func(Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventTypeSafetyRecovered})
	bus.Close(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, delivered)
}
