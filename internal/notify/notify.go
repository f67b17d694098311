// Package notify delivers safety alerts to the configured sinks through the
// event bus. Delivery is fire-and-forget: the coordinator never blocks on or
// retries a notification.
package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dokzlo13/thermod/internal/climate"
	"github.com/dokzlo13/thermod/internal/eventbus"
)

// SafetyEvent describes one safety transition for notification purposes.
type SafetyEvent struct {
	ID          string
	Time        time.Time
	Status      climate.SafetyStatus
	CurrentTemp float64
	Bound       float64 // the violated threshold (min or max)
	Target      *float64
	Recovered   bool
}

// Message renders the default human-readable alert text.
func (e SafetyEvent) Message() string {
	if e.Recovered {
		return fmt.Sprintf(
			"Safety alert resolved: temperature %.1f°C is back inside safe bounds, device returned to off",
			e.CurrentTemp,
		)
	}
	verb := "below minimum"
	action := "heat"
	if e.Status == climate.SafetyCoolOverride {
		verb = "above maximum"
		action = "cool"
	}
	msg := fmt.Sprintf("Safety alert: temperature %.1f°C is %s %.1f°C, device set to %s", e.CurrentTemp, verb, e.Bound, action)
	if e.Target != nil {
		msg += fmt.Sprintf(" (target %.1f°C)", *e.Target)
	}
	return msg
}

// Notifier publishes safety transitions onto the bus.
type Notifier struct {
	bus  *eventbus.Bus
	hook *LuaHook // optional message formatter, may be nil
}

// New creates a notifier. hook may be nil.
func New(bus *eventbus.Bus, hook *LuaHook) *Notifier {
	return &Notifier{bus: bus, hook: hook}
}

// SafetyTriggered publishes an activation alert.
func (n *Notifier) SafetyTriggered(now time.Time, status climate.SafetyStatus, currentTemp, bound float64, target *float64) {
	n.publish(eventbus.EventTypeSafetyTriggered, SafetyEvent{
		ID:          uuid.NewString(),
		Time:        now,
		Status:      status,
		CurrentTemp: currentTemp,
		Bound:       bound,
		Target:      target,
	})
}

// SafetyRecovered publishes a recovery alert.
func (n *Notifier) SafetyRecovered(now time.Time, currentTemp float64) {
	n.publish(eventbus.EventTypeSafetyRecovered, SafetyEvent{
		ID:          uuid.NewString(),
		Time:        now,
		Status:      climate.SafetyInactive,
		CurrentTemp: currentTemp,
		Recovered:   true,
	})
}

func (n *Notifier) publish(eventType eventbus.EventType, evt SafetyEvent) {
	message := evt.Message()
	if n.hook != nil {
		if custom, ok := n.hook.Format(evt); ok {
			message = custom
		}
	}

	data := map[string]interface{}{
		"id":           evt.ID,
		"time":         evt.Time.UTC().Format(time.RFC3339),
		"status":       string(evt.Status),
		"current_temp": evt.CurrentTemp,
		"message":      message,
	}
	if !evt.Recovered {
		data["bound"] = evt.Bound
	}
	if evt.Target != nil {
		data["target"] = *evt.Target
	}

	n.bus.Publish(eventbus.Event{Type: eventType, Data: data})
}
