package notify

import (
	"encoding/json"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/thermod/internal/eventbus"
)

// MQTTSink publishes safety alerts to an MQTT topic so external automations
// (dashboards, push bridges) can react to them.
type MQTTSink struct {
	client         paho.Client
	topic          string
	publishTimeout time.Duration
}

// NewMQTTSink creates a sink reusing an already-connected client.
func NewMQTTSink(client paho.Client, topic string) *MQTTSink {
	return &MQTTSink{
		client:         client,
		topic:          topic,
		publishTimeout: 5 * time.Second,
	}
}

// Register subscribes the sink to both safety event types.
func (s *MQTTSink) Register(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeSafetyTriggered, s.handle)
	bus.Subscribe(eventbus.EventTypeSafetyRecovered, s.handle)
}

func (s *MQTTSink) handle(evt eventbus.Event) {
	payload, err := json.Marshal(map[string]interface{}{
		"event": string(evt.Type),
		"data":  evt.Data,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal notification payload")
		return
	}

	// QoS 1, retained: the latest alert stays visible to late subscribers.
	token := s.client.Publish(s.topic, 1, true, payload)
	if !token.WaitTimeout(s.publishTimeout) {
		log.Warn().Str("topic", s.topic).Msg("Notification publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Warn().Err(err).Str("topic", s.topic).Msg("Notification publish failed")
	}
}
