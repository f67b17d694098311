package notify

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/thermod/internal/eventbus"
)

// RegisterLogSink subscribes a zerolog-backed sink to both safety event
// types. Always on: even with no broker configured, alerts land in the log.
func RegisterLogSink(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeSafetyTriggered, logHandler)
	bus.Subscribe(eventbus.EventTypeSafetyRecovered, logHandler)
}

func logHandler(evt eventbus.Event) {
	event := log.Warn()
	if evt.Type == eventbus.EventTypeSafetyRecovered {
		event = log.Info()
	}
	for k, v := range evt.Data {
		if k == "message" {
			continue
		}
		event = event.Interface(k, v)
	}
	msg, _ := evt.Data["message"].(string)
	event.Str("event_type", string(evt.Type)).Msg(msg)
}
