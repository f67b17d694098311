package coordinator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/thermod/internal/climate"
	"github.com/dokzlo13/thermod/internal/db"
	"github.com/dokzlo13/thermod/internal/eventbus"
	"github.com/dokzlo13/thermod/internal/notify"
	"github.com/dokzlo13/thermod/internal/proxy"
	"github.com/dokzlo13/thermod/internal/stores"
)

func f(v float64) *float64 { return &v }

// monday is 2026-09-07, a Monday.
func monday(hour, minute int) time.Time {
	return time.Date(2026, 9, 7, hour, minute, 0, 0, time.UTC)
}

// env runs a coordinator against a fake device with a controllable clock.
type env struct {
	fake   *proxy.Fake
	coord  *Coordinator
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	now time.Time
}

func startEnv(t *testing.T, fake *proxy.Fake, reg *stores.Registry, start time.Time) *env {
	return startEnvNotify(t, fake, reg, nil, start)
}

func startEnvNotify(t *testing.T, fake *proxy.Fake, reg *stores.Registry, notifier *notify.Notifier, start time.Time) *env {
	t.Helper()
	e := &env{fake: fake, now: start}

	coord, err := New(Options{
		Proxy:    fake,
		Stores:   reg,
		Notifier: notifier,
		SafetyConfig: climate.SafetyConfig{
			Enabled:    true,
			MinTemp:    10,
			MaxTemp:    30,
			Hysteresis: 0.5,
		},
		PollInterval:  time.Hour,
		FlushInterval: time.Hour,
		Timezone:      time.UTC,
		Clock:         e.clock,
	})
	require.NoError(t, err)

	e.coord = coord
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.done = make(chan struct{})
	go func() {
		_ = coord.Run(e.ctx)
		close(e.done)
	}()
	t.Cleanup(e.stop)

	// Synchronize with the boot tick. Re-evaluating identical inputs sends
	// nothing, so the extra cycle never changes the observed commands.
	require.NoError(t, coord.Tick(context.Background()))
	return e
}

func (e *env) stop() {
	e.cancel()
	<-e.done
}

func (e *env) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *env) setNow(now time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

func (e *env) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, e.coord.Tick(context.Background()))
}

func openRegistry(t *testing.T) *stores.Registry {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "thermod.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return stores.NewRegistry(database.DB)
}

func mondayPlan() []climate.ScheduleEvent {
	return []climate.ScheduleEvent{
		{Time: climate.TimeOfDay{Hour: 6, Minute: 0}, Mode: climate.ModeHeat, Temperature: f(20)},
		{Time: climate.TimeOfDay{Hour: 8, Minute: 30}, Mode: climate.ModeOff},
	}
}

func TestScheduleDrivesDeviceWithoutChatter(t *testing.T) {
	fake := proxy.NewFake(18)
	e := startEnv(t, fake, nil, monday(7, 0))

	// The mutation runs a full control cycle itself: the new plan reaches
	// the device before any poll tick.
	require.NoError(t, e.coord.SetScheduleDay(context.Background(), time.Monday, mondayPlan()))
	sent := fake.SentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, "heat@20.0", sent[0].String())

	// Same inputs again: nothing is re-sent.
	e.tick(t)
	e.tick(t)
	assert.Len(t, fake.SentCommands(), 1)

	// Past the 08:30 change point the schedule says off.
	e.setNow(monday(9, 0))
	e.tick(t)
	sent = fake.SentCommands()
	require.Len(t, sent, 2)
	assert.Equal(t, "off", sent[1].String())
}

func TestSafetyOverrideLifecycle(t *testing.T) {
	fake := proxy.NewFake(9.9)
	e := startEnv(t, fake, nil, monday(3, 0))

	// Boot tick already sees the dangerous temperature.
	sent := fake.SentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, "heat@10.5", sent[0].String())
	assert.Equal(t, string(climate.SafetyHeatOverride), e.coord.Snapshot().SafetyStatus)

	// Still below the recovery threshold: override holds, nothing re-sent.
	fake.SetTemperature(10.2)
	e.tick(t)
	assert.Len(t, fake.SentCommands(), 1)
	assert.Equal(t, string(climate.SafetyHeatOverride), e.coord.Snapshot().SafetyStatus)

	// Recovery: device returns to off.
	fake.SetTemperature(10.6)
	e.tick(t)
	sent = fake.SentCommands()
	require.Len(t, sent, 2)
	assert.Equal(t, "off", sent[1].String())
	assert.Equal(t, string(climate.SafetyInactive), e.coord.Snapshot().SafetyStatus)
}

func TestSafetyRecoveryReconsultsSchedule(t *testing.T) {
	fake := proxy.NewFake(9.0)
	e := startEnv(t, fake, nil, monday(7, 0))

	// Boot tick triggers the override before any schedule exists.
	require.Len(t, fake.SentCommands(), 1)

	require.NoError(t, e.coord.SetScheduleDay(context.Background(), time.Monday, mondayPlan()))

	// On recovery the schedule's standing heat command wins over off.
	fake.SetTemperature(12)
	e.tick(t)
	sent := fake.SentCommands()
	require.Len(t, sent, 2)
	assert.Equal(t, "heat@20.0", sent[1].String())
}

func TestUserInterventionResetsSafety(t *testing.T) {
	fake := proxy.NewFake(5)
	e := startEnv(t, fake, nil, monday(3, 0))

	require.Len(t, fake.SentCommands(), 1)
	assert.Equal(t, string(climate.SafetyHeatOverride), e.coord.Snapshot().SafetyStatus)

	// The user flips the device to cool by hand: safety resets silently and
	// does not fight them, even though the temperature is still dangerous.
	fake.SetMode(climate.ModeCool)
	e.tick(t)
	assert.Len(t, fake.SentCommands(), 1)
	assert.Equal(t, string(climate.SafetyInactive), e.coord.Snapshot().SafetyStatus)
}

func TestManualOverrideUntilNextEvent(t *testing.T) {
	fake := proxy.NewFake(18)
	e := startEnv(t, fake, nil, monday(7, 0))
	ctx := context.Background()

	require.NoError(t, e.coord.SetScheduleDay(ctx, time.Monday, mondayPlan()))
	e.tick(t)
	require.Len(t, fake.SentCommands(), 1)

	// No explicit deadline: the override lasts until the 08:30 event.
	require.NoError(t, e.coord.SetOverride(ctx, climate.CoolAt(25), nil))
	sent := fake.SentCommands()
	require.Len(t, sent, 2)
	assert.Equal(t, "cool@25.0", sent[1].String())

	snap := e.coord.Snapshot()
	require.NotNil(t, snap.OverrideUntil)
	assert.Equal(t, monday(8, 30), *snap.OverrideUntil)

	// While the override stands the schedule is not consulted.
	e.setNow(monday(8, 0))
	e.tick(t)
	assert.Len(t, fake.SentCommands(), 2)

	// Past the deadline the schedule resumes with its off event.
	e.setNow(monday(9, 0))
	e.tick(t)
	sent = fake.SentCommands()
	require.Len(t, sent, 3)
	assert.Equal(t, "off", sent[2].String())
	assert.Nil(t, e.coord.Snapshot().OverrideUntil)
}

func TestClearOverrideResumesSchedule(t *testing.T) {
	fake := proxy.NewFake(18)
	e := startEnv(t, fake, nil, monday(7, 0))
	ctx := context.Background()

	require.NoError(t, e.coord.SetScheduleDay(ctx, time.Monday, mondayPlan()))
	until := monday(18, 0)
	require.NoError(t, e.coord.SetOverride(ctx, climate.CoolAt(25), &until))

	// Clearing re-applies the schedule's standing command in the same call,
	// not on the next poll.
	require.NoError(t, e.coord.ClearOverride(ctx))
	sent := fake.SentCommands()
	require.Len(t, sent, 3)
	assert.Equal(t, "cool@25.0", sent[1].String())
	assert.Equal(t, "heat@20.0", sent[2].String())
	assert.Nil(t, e.coord.Snapshot().OverrideUntil)
}

func TestDeviceUnavailableRetriesNextTick(t *testing.T) {
	fake := proxy.NewFake(18)
	e := startEnv(t, fake, nil, monday(7, 0))

	fake.SetSendError(proxy.ErrDeviceUnavailable)
	require.NoError(t, e.coord.SetScheduleDay(context.Background(), time.Monday, mondayPlan()))
	e.tick(t)
	assert.Empty(t, fake.SentCommands())

	// The failed send did not update the change detector, so the next tick
	// retries the same command.
	fake.SetSendError(nil)
	e.tick(t)
	sent := fake.SentCommands()
	require.Len(t, sent, 1)
	assert.Equal(t, "heat@20.0", sent[0].String())
}

func TestUnreadableDeviceHoldsState(t *testing.T) {
	fake := proxy.NewFake(18)
	e := startEnv(t, fake, nil, monday(7, 0))

	fake.SetReadError(proxy.ErrDeviceUnavailable)
	require.NoError(t, e.coord.SetScheduleDay(context.Background(), time.Monday, mondayPlan()))
	e.tick(t)
	assert.Empty(t, fake.SentCommands())
	assert.False(t, e.coord.Snapshot().DeviceAvailable)

	fake.SetReadError(nil)
	e.tick(t)
	assert.Len(t, fake.SentCommands(), 1)
	assert.True(t, e.coord.Snapshot().DeviceAvailable)
}

func TestUsageAccumulatesFromReportedAction(t *testing.T) {
	fake := proxy.NewFake(18)
	e := startEnv(t, fake, nil, monday(7, 0))

	// Boot tick establishes the baseline with action off. The next interval
	// is attributed to the action reported at its start.
	fake.SetAction(climate.ActionHeating)
	e.setNow(monday(7, 5))
	e.tick(t)
	e.setNow(monday(7, 15))
	e.tick(t)

	records, err := e.coord.UsageRecords(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 600.0, records[0].HeatingSeconds)
	assert.Equal(t, 0.0, records[0].CoolingSeconds)

	csv, err := e.coord.UsageCSV(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "date,heating_hours,cooling_hours\n2026-09-07,0.1667,0.0000\n", csv)
}

func TestStateSurvivesRestart(t *testing.T) {
	reg := openRegistry(t)
	ctx := context.Background()

	fake1 := proxy.NewFake(18)
	e1 := startEnv(t, fake1, reg, monday(7, 0))

	require.NoError(t, e1.coord.SetScheduleDay(ctx, time.Monday, mondayPlan()))
	until := monday(23, 0)
	require.NoError(t, e1.coord.SetOverride(ctx, climate.CoolAt(25), &until))
	require.NoError(t, e1.coord.SetSafetyConfig(ctx, climate.SafetyConfig{
		Enabled: true, MinTemp: 12, MaxTemp: 28, Hysteresis: 1,
	}))

	fake1.SetAction(climate.ActionCooling)
	e1.setNow(monday(7, 10))
	e1.tick(t)
	e1.setNow(monday(7, 20))
	e1.tick(t)

	// Shutdown flushes usage to the store.
	e1.stop()

	// Restart at the exact usage cursor instant, so the downtime gap does
	// not add to the accumulators.
	fake2 := proxy.NewFake(18)
	e2 := startEnv(t, fake2, reg, monday(7, 20))

	week, err := e2.coord.ScheduleWeek(ctx)
	require.NoError(t, err)
	assert.Len(t, week[time.Monday], 2)

	snap := e2.coord.Snapshot()
	require.NotNil(t, snap.OverrideUntil)
	assert.True(t, until.Equal(*snap.OverrideUntil))
	assert.Equal(t, 12.0, snap.SafetyConfig.MinTemp)
	assert.Equal(t, "cool@25.0", snap.LastCommand)

	// The override command matches the restored last sent command, so the
	// boot tick sends nothing.
	assert.Empty(t, fake2.SentCommands())

	records, err := e2.coord.UsageRecords(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 600.0, records[0].CoolingSeconds)
}

func TestSafetyNotificationsOnTransitionsOnly(t *testing.T) {
	// One worker keeps delivery order deterministic.
	bus := eventbus.NewWithConfig(1, 16)

	var mu sync.Mutex
	var got []eventbus.Event
	capture := func(evt eventbus.Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	}
	bus.Subscribe(eventbus.EventTypeSafetyTriggered, capture)
	bus.Subscribe(eventbus.EventTypeSafetyRecovered, capture)

	fake := proxy.NewFake(9.0)
	e := startEnvNotify(t, fake, nil, notify.New(bus, nil), monday(3, 0))

	// The boot tick triggered the override. Holding below the recovery
	// threshold must not re-notify.
	fake.SetTemperature(10.2)
	e.tick(t)
	e.tick(t)

	fake.SetTemperature(11)
	e.tick(t)
	e.tick(t)

	// Close drains the worker queue so every published event is delivered.
	bus.Close(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)

	trigger := got[0]
	assert.Equal(t, eventbus.EventTypeSafetyTriggered, trigger.Type)
	assert.Equal(t, string(climate.SafetyHeatOverride), trigger.Data["status"])
	assert.Equal(t, 9.0, trigger.Data["current_temp"])
	assert.Equal(t, 10.0, trigger.Data["bound"])
	assert.Equal(t, 10.5, trigger.Data["target"])
	msg, _ := trigger.Data["message"].(string)
	assert.Contains(t, msg, "below minimum")
	assert.NotEmpty(t, trigger.Data["id"])

	recovery := got[1]
	assert.Equal(t, eventbus.EventTypeSafetyRecovered, recovery.Type)
	assert.Equal(t, 11.0, recovery.Data["current_temp"])
	msg, _ = recovery.Data["message"].(string)
	assert.Contains(t, msg, "back inside safe bounds")
}
