package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/thermod/internal/api"
	"github.com/dokzlo13/thermod/internal/climate"
	"github.com/dokzlo13/thermod/internal/config"
	"github.com/dokzlo13/thermod/internal/coordinator"
	"github.com/dokzlo13/thermod/internal/db"
	"github.com/dokzlo13/thermod/internal/eventbus"
	"github.com/dokzlo13/thermod/internal/notify"
	"github.com/dokzlo13/thermod/internal/proxy"
	"github.com/dokzlo13/thermod/internal/stores"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config
	tz  *time.Location

	// Core infrastructure
	DB     *db.DB
	Stores *stores.Registry
	Bus    *eventbus.Bus

	// Notification pipeline
	Hook     *notify.LuaHook
	Notifier *notify.Notifier

	// Device and control loop, created in Start once the broker is reachable
	Device      *proxy.MQTT
	Coordinator *coordinator.Coordinator
	API         *api.Server
}

// NewServices creates all services with proper dependency injection.
// The device connection and control loop start in Start.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Stores = stores.NewRegistry(database.DB)

	// Notification bus with the always-on log sink
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	notify.RegisterLogSink(s.Bus)

	if cfg.Notify.LuaHook != "" {
		hook, err := notify.NewLuaHook(cfg.Notify.LuaHook)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Hook = hook
	}
	s.Notifier = notify.New(s.Bus, s.Hook)

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("Failed to load timezone, using UTC")
		tz = time.UTC
	}
	s.tz = tz

	return s, nil
}

// Start connects to the device broker and starts all background services.
// The onFatalError callback is called when the control loop dies.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	cfg := s.cfg
	if cfg.Device.Broker == "" {
		return fmt.Errorf("device.broker is not configured")
	}

	// Fresh device states kick the control loop instead of waiting for the
	// next poll.
	updates := make(chan struct{}, 1)
	device, err := proxy.NewMQTT(proxy.MQTTOptions{
		Broker:       cfg.Device.Broker,
		ClientID:     cfg.Device.ClientID,
		StateTopic:   cfg.Device.StateTopic,
		CommandTopic: cfg.Device.CommandTopic,
		StateMaxAge:  cfg.Device.StateMaxAge.Duration(),
		RateLimitRPS: cfg.Device.RateLimitRPS,
	}, func(proxy.State) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return err
	}
	s.Device = device

	// The notification sink shares the device's broker connection.
	if cfg.Notify.MQTTTopic != "" {
		notify.NewMQTTSink(device.Client(), cfg.Notify.MQTTTopic).Register(s.Bus)
	}

	coord, err := coordinator.New(coordinator.Options{
		Proxy:    device,
		Stores:   s.Stores,
		Notifier: s.Notifier,
		SafetyConfig: climate.SafetyConfig{
			Enabled:    cfg.Safety.SafetyEnabled(),
			MinTemp:    *cfg.Safety.MinTemp,
			MaxTemp:    *cfg.Safety.MaxTemp,
			Hysteresis: *cfg.Safety.Hysteresis,
		},
		PollInterval:  cfg.Device.PollInterval.Duration(),
		FlushInterval: cfg.Usage.FlushInterval.Duration(),
		RetentionDays: cfg.Usage.RetentionDays,
		Timezone:      s.tz,
	})
	if err != nil {
		return err
	}
	s.Coordinator = coord

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-updates:
				coord.Kick()
			}
		}
	}()

	go func() {
		if err := coord.Run(ctx); err != nil {
			onFatalError(err)
		}
	}()

	if cfg.API.Enabled {
		s.API = api.NewServer(cfg.API.Host, cfg.API.Port, coord)
		go func() {
			if err := s.API.Run(ctx, cfg.ShutdownTimeout.Duration()); err != nil {
				log.Error().Err(err).Msg("API server error")
			}
		}()
	} else {
		log.Debug().Msg("API server disabled")
	}

	return nil
}

// ResetRuntimeState drops the persisted override, last sent command and
// safety status, keeping the schedule and usage history.
func (s *Services) ResetRuntimeState() error {
	for _, key := range []string{stores.KeyOverride, stores.KeyLastCommand, stores.KeySafetyStatus} {
		if err := s.Stores.State().Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Hook != nil {
		s.Hook.Close()
	}
	if s.Device != nil {
		s.Device.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
