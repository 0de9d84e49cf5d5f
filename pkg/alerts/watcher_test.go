package alerts

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/telemetry"
)

type fakeNotifier struct {
	mu          sync.Mutex
	toasts      []telemetry.Scenario
	recoveries  []telemetry.Scenario
	escalations [][2]telemetry.RiskLevel
	sounds      []telemetry.RiskLevel
}

func (f *fakeNotifier) ShowToast(scenario telemetry.Scenario, level telemetry.RiskLevel, sample *telemetry.Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toasts = append(f.toasts, scenario)
}

func (f *fakeNotifier) ShowRecoveryToast(scenario telemetry.Scenario) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveries = append(f.recoveries, scenario)
}

func (f *fakeNotifier) ShowEscalationToast(scenario telemetry.Scenario, from, to telemetry.RiskLevel, sample *telemetry.Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, [2]telemetry.RiskLevel{from, to})
}

func (f *fakeNotifier) PlayAlert(level telemetry.RiskLevel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sounds = append(f.sounds, level)
}

func newTestWatcher() (*Watcher, *Store, *fakeNotifier) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store := NewStore(logger)
	notifier := &fakeNotifier{}
	return NewWatcher(logger, store, notifier), store, notifier
}

func sampleWith(scenario telemetry.Scenario, level telemetry.RiskLevel) *telemetry.Sample {
	return &telemetry.Sample{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Robot:     telemetry.RobotState{TCPSpeed: 0.3},
		Sensor:    telemetry.SensorState{ForceMagnitude: 10},
		Risk: telemetry.RiskState{
			ContactRisk:   0.3,
			CollisionRisk: 0.2,
			Level:         level,
		},
		Scenario: telemetry.ScenarioState{Current: scenario, Elapsed: 1},
	}
}

func TestFirstSampleSeedsWithoutTransition(t *testing.T) {
	watcher, store, notifier := newTestWatcher()

	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh))

	assert.Empty(t, store.Events(), "the first sample must not trigger transition logic")
	assert.Nil(t, store.ActiveEvent())
	assert.Empty(t, notifier.toasts)

	// The memory was seeded: the next collision sample is not a transition.
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh))
	assert.Empty(t, store.Events())
}

func TestTransitionOpensEventAndNotifies(t *testing.T) {
	watcher, store, notifier := newTestWatcher()

	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh))

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, telemetry.ScenarioCollision, events[0].Scenario)
	assert.False(t, events[0].Resolved)

	active := store.ActiveEvent()
	require.NotNil(t, active)
	assert.Equal(t, events[0].ID, active.ID)

	assert.Equal(t, []telemetry.Scenario{telemetry.ScenarioCollision}, notifier.toasts)
	assert.Equal(t, []telemetry.RiskLevel{telemetry.RiskHigh}, notifier.sounds)
	assert.False(t, store.LastAlertTime().IsZero())
}

func TestRecoveryResolves(t *testing.T) {
	watcher, store, notifier := newTestWatcher()

	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))

	events := store.Events()
	require.Len(t, events, 1, "exactly one event for the episode")
	assert.True(t, events[0].Resolved)
	require.NotNil(t, events[0].ResolvedAt)
	assert.Nil(t, store.ActiveEvent())

	assert.Equal(t, []telemetry.Scenario{telemetry.ScenarioCollision}, notifier.recoveries)
}

func TestRateLimiting(t *testing.T) {
	watcher, store, notifier := newTestWatcher()

	// First qualifying transition fires.
	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh))
	require.Len(t, notifier.toasts, 1)

	// Second transition 1000ms after the first alert: suppressed by the
	// 2000ms cooldown.
	store.SetLastAlertTime(time.Now().Add(-1 * time.Second))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioOverload, telemetry.RiskHigh))
	assert.Len(t, notifier.toasts, 1, "second alert suppressed inside the cooldown window")

	// Third transition 2500ms after the last alert fires again.
	store.SetLastAlertTime(time.Now().Add(-2500 * time.Millisecond))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioWear, telemetry.RiskHigh))
	assert.Len(t, notifier.toasts, 2)
}

func TestScenarioFilter(t *testing.T) {
	watcher, store, notifier := newTestWatcher()
	store.UpdateSettings(SettingsPatch{
		ScenariosToAlert: []telemetry.Scenario{telemetry.ScenarioCollision},
	})

	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioOverload, telemetry.RiskCritical))

	require.Len(t, store.Events(), 1, "the event is still recorded")
	assert.Empty(t, notifier.toasts, "filtered scenario never notifies")
	assert.Empty(t, notifier.sounds)
}

func TestRiskThreshold(t *testing.T) {
	watcher, store, notifier := newTestWatcher()
	minRisk := telemetry.RiskHigh
	store.UpdateSettings(SettingsPatch{MinRiskLevel: &minRisk})

	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskMedium))

	require.Len(t, store.Events(), 1)
	assert.Empty(t, notifier.toasts, "below-threshold risk never notifies")
}

func TestMonotonicMaxima(t *testing.T) {
	watcher, store, _ := newTestWatcher()

	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))

	first := sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh)
	first.Sensor.ForceMagnitude = 15
	first.Risk.ContactRisk = 0.5
	watcher.ProcessSample(first)

	lower := sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh)
	lower.Sensor.ForceMagnitude = 8
	lower.Risk.ContactRisk = 0.2
	lower.Scenario.Elapsed = 2
	watcher.ProcessSample(lower)

	active := store.ActiveEvent()
	require.NotNil(t, active)
	assert.Equal(t, 15.0, active.MaxForce, "maxima never decrease")
	assert.Equal(t, 0.5, active.MaxRiskScore)
	assert.Equal(t, 2.0, active.Duration, "duration follows the scenario-elapsed field")

	higher := sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh)
	higher.Sensor.ForceMagnitude = 22
	higher.Robot.ProtectiveStop = true
	higher.Scenario.Elapsed = 3
	watcher.ProcessSample(higher)

	active = store.ActiveEvent()
	require.NotNil(t, active)
	assert.Equal(t, 22.0, active.MaxForce)
	assert.True(t, active.Details.ProtectiveStopped)

	// The protective-stop flag latches.
	steady := sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh)
	steady.Scenario.Elapsed = 4
	watcher.ProcessSample(steady)

	active = store.ActiveEvent()
	require.NotNil(t, active)
	assert.True(t, active.Details.ProtectiveStopped)
}

func TestScenarioChangeResolvesAndReopens(t *testing.T) {
	watcher, store, _ := newTestWatcher()

	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioOverload, telemetry.RiskHigh))

	events := store.Events()
	require.Len(t, events, 2)

	// Most-recent-first: the overload episode is open, the collision
	// episode was resolved before it opened.
	assert.Equal(t, telemetry.ScenarioOverload, events[0].Scenario)
	assert.False(t, events[0].Resolved)
	assert.Equal(t, telemetry.ScenarioCollision, events[1].Scenario)
	assert.True(t, events[1].Resolved)
	require.NotNil(t, events[1].ResolvedAt)

	active := store.ActiveEvent()
	require.NotNil(t, active)
	assert.Equal(t, events[0].ID, active.ID)
}

func TestEscalationNotification(t *testing.T) {
	watcher, store, notifier := newTestWatcher()

	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskMedium))
	require.Len(t, notifier.toasts, 1)

	// Escalation without a scenario transition, outside the 3000ms window.
	store.SetLastAlertTime(time.Now().Add(-4 * time.Second))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskCritical))

	require.Len(t, notifier.escalations, 1)
	assert.Equal(t, [2]telemetry.RiskLevel{telemetry.RiskMedium, telemetry.RiskCritical}, notifier.escalations[0])
	assert.Len(t, notifier.toasts, 1, "escalation is not a new-event toast")
}

func TestEscalationSuppressedByCooldown(t *testing.T) {
	watcher, store, notifier := newTestWatcher()

	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskMedium))

	// 1s after the new-event alert: inside the 3000ms escalation window.
	store.SetLastAlertTime(time.Now().Add(-1 * time.Second))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskCritical))

	assert.Empty(t, notifier.escalations)
}

func TestNoEscalationOnDecrease(t *testing.T) {
	watcher, store, notifier := newTestWatcher()

	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskCritical))

	store.SetLastAlertTime(time.Now().Add(-10 * time.Second))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskMedium))

	assert.Empty(t, notifier.escalations)
}

func TestToastDisabled(t *testing.T) {
	watcher, store, notifier := newTestWatcher()
	toast := false
	store.UpdateSettings(SettingsPatch{ToastEnabled: &toast})

	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))

	assert.Empty(t, notifier.toasts)
	assert.Empty(t, notifier.recoveries)
	assert.Equal(t, []telemetry.RiskLevel{telemetry.RiskHigh}, notifier.sounds, "sound still fires")
}

func TestSoundDisabled(t *testing.T) {
	watcher, store, notifier := newTestWatcher()
	sound := false
	store.UpdateSettings(SettingsPatch{SoundEnabled: &sound})

	watcher.ProcessSample(sampleWith(telemetry.ScenarioNormal, telemetry.RiskLow))
	watcher.ProcessSample(sampleWith(telemetry.ScenarioCollision, telemetry.RiskHigh))

	assert.Len(t, notifier.toasts, 1)
	assert.Empty(t, notifier.sounds)
}

func TestAtMostOneActiveEvent(t *testing.T) {
	watcher, store, _ := newTestWatcher()

	sequence := []telemetry.Scenario{
		telemetry.ScenarioNormal,
		telemetry.ScenarioCollision,
		telemetry.ScenarioOverload,
		telemetry.ScenarioNormal,
		telemetry.ScenarioWear,
		telemetry.ScenarioWear,
		telemetry.ScenarioNormal,
	}
	for _, scenario := range sequence {
		watcher.ProcessSample(sampleWith(scenario, telemetry.RiskHigh))
	}

	unresolved := 0
	for _, ev := range store.Events() {
		if !ev.Resolved {
			unresolved++
		}
	}
	assert.Zero(t, unresolved, "all episodes ended, none may stay open")
	assert.Nil(t, store.ActiveEvent())
}
