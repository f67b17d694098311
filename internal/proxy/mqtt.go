package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/thermod/internal/climate"
)

// MQTTOptions configures the MQTT device proxy.
type MQTTOptions struct {
	Broker         string
	ClientID       string
	StateTopic     string
	CommandTopic   string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	StateMaxAge    time.Duration // 0 disables staleness checking
	RateLimitRPS   float64       // cap on outbound command publishes
}

// statePayload is the JSON document the device driver publishes on the state
// topic.
type statePayload struct {
	CurrentTemperature float64 `json:"current_temperature"`
	Mode               string  `json:"mode"`
	Action             string  `json:"action"`
	Available          *bool   `json:"available,omitempty"`
}

// commandPayload is the JSON document published on the command topic.
type commandPayload struct {
	Mode              string   `json:"mode"`
	TargetTemperature *float64 `json:"target_temperature,omitempty"`
}

// MQTT is a device proxy over an MQTT broker. The driver side publishes
// retained state documents; commands are published with QoS 1 so a flaky
// broker connection does not drop a mode change silently.
type MQTT struct {
	client       paho.Client
	stateTopic   string
	commandTopic string

	publishTimeout time.Duration
	stateMaxAge    time.Duration
	limiter        *rate.Limiter

	mu         sync.RWMutex
	last       State
	lastUpdate time.Time
	hasState   bool

	// onUpdate is invoked for every state message, outside the lock.
	onUpdate func(State)
}

// NewMQTT connects to the broker and subscribes to the state topic. The
// optional onUpdate callback receives every device update as it arrives.
func NewMQTT(opts MQTTOptions, onUpdate func(State)) (*MQTT, error) {
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PublishTimeout == 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.RateLimitRPS == 0 {
		opts.RateLimitRPS = 1.0
	}

	m := &MQTT{
		stateTopic:     opts.StateTopic,
		commandTopic:   opts.CommandTopic,
		publishTimeout: opts.PublishTimeout,
		stateMaxAge:    opts.StateMaxAge,
		limiter:        rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1),
		onUpdate:       onUpdate,
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(c paho.Client) {
			// (Re-)subscribe on every connect so reconnects keep the
			// state stream alive.
			token := c.Subscribe(m.stateTopic, 1, m.handleState)
			token.Wait()
			if err := token.Error(); err != nil {
				log.Error().Err(err).Str("topic", m.stateTopic).Msg("Failed to subscribe to device state topic")
				return
			}
			log.Info().Str("topic", m.stateTopic).Msg("Subscribed to device state topic")
		})

	client := paho.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("connect to broker %s: timeout", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", opts.Broker, err)
	}

	m.client = client
	return m, nil
}

func (m *MQTT) handleState(_ paho.Client, msg paho.Message) {
	var payload statePayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping malformed device state payload")
		return
	}

	mode, err := climate.ParseMode(payload.Mode)
	if err != nil {
		log.Warn().Err(err).Msg("Dropping device state with unknown mode")
		return
	}

	state := State{
		CurrentTemperature: payload.CurrentTemperature,
		Mode:               mode,
		Action:             climate.Action(payload.Action),
		Available:          payload.Available == nil || *payload.Available,
	}

	m.mu.Lock()
	m.last = state
	m.lastUpdate = time.Now()
	m.hasState = true
	m.mu.Unlock()

	if m.onUpdate != nil {
		m.onUpdate(state)
	}
}

// ReadState returns the most recent device state. Before the first state
// message, or after the state has gone stale, the device counts as
// unavailable.
func (m *MQTT) ReadState(_ context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.hasState {
		return State{}, fmt.Errorf("%w: no state received yet", ErrDeviceUnavailable)
	}
	if m.stateMaxAge > 0 && time.Since(m.lastUpdate) > m.stateMaxAge {
		return State{}, fmt.Errorf("%w: state is %s old", ErrDeviceUnavailable, time.Since(m.lastUpdate).Round(time.Second))
	}
	return m.last, nil
}

// SendCommand publishes a command document. Sends are rate limited as a
// backstop against relay chatter if a caller misbehaves.
func (m *MQTT) SendCommand(ctx context.Context, cmd climate.Command) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(commandPayload{
		Mode:              string(cmd.Mode),
		TargetTemperature: cmd.TargetTemp,
	})
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	// QoS 1 (at-least-once), not retained: commands are point-in-time.
	token := m.client.Publish(m.commandTopic, 1, false, payload)
	if !token.WaitTimeout(m.publishTimeout) {
		return fmt.Errorf("%w: publish timeout", ErrDeviceUnavailable)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	return nil
}

// Client exposes the underlying connection for reuse by other publishers
// (the notification sink shares the broker connection).
func (m *MQTT) Client() paho.Client {
	return m.client
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	m.client.Disconnect(1000)
}
