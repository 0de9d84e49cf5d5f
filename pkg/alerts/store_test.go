package alerts

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/telemetry"
)

func newTestStore() *Store {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewStore(logger)
}

func testEvent(id string) DetectedEvent {
	return DetectedEvent{
		ID:           id,
		StartedAt:    time.Now(),
		Scenario:     telemetry.ScenarioCollision,
		RiskLevel:    telemetry.RiskHigh,
		MaxForce:     12.5,
		MaxRiskScore: 0.6,
	}
}

func TestAddEventSetsActive(t *testing.T) {
	store := newTestStore()
	store.AddEvent(testEvent("ev-1"))

	active := store.ActiveEvent()
	require.NotNil(t, active)
	assert.Equal(t, "ev-1", active.ID)
	assert.False(t, active.Resolved)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "ev-1", events[0].ID)
}

func TestAddEventMostRecentFirst(t *testing.T) {
	store := newTestStore()
	store.AddEvent(testEvent("ev-1"))
	store.AddEvent(testEvent("ev-2"))

	events := store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "ev-2", events[0].ID)
	assert.Equal(t, "ev-1", events[1].ID)
}

func TestHistoryCap(t *testing.T) {
	store := newTestStore()
	for i := 0; i < maxHistory+20; i++ {
		store.AddEvent(testEvent(fmt.Sprintf("ev-%d", i)))
	}

	events := store.Events()
	require.Len(t, events, maxHistory)
	// Newest entries survive; the oldest beyond the cap are dropped.
	assert.Equal(t, fmt.Sprintf("ev-%d", maxHistory+19), events[0].ID)
	assert.Equal(t, "ev-20", events[maxHistory-1].ID)
}

func TestResolveActiveEvent(t *testing.T) {
	store := newTestStore()
	store.AddEvent(testEvent("ev-1"))
	store.ResolveActiveEvent()

	assert.Nil(t, store.ActiveEvent())

	events := store.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Resolved)
	require.NotNil(t, events[0].ResolvedAt)
	assert.WithinDuration(t, time.Now(), *events[0].ResolvedAt, time.Second)
}

func TestResolveWithoutActiveIsNoop(t *testing.T) {
	store := newTestStore()
	store.ResolveActiveEvent()
	assert.Nil(t, store.ActiveEvent())
	assert.Empty(t, store.Events())
}

func TestUpdateActiveEventKeepsHistoryConsistent(t *testing.T) {
	store := newTestStore()
	store.AddEvent(testEvent("ev-1"))
	store.AddEvent(func() DetectedEvent {
		ev := testEvent("ev-0-resolved")
		ev.Resolved = true
		return ev
	}())
	store.AddEvent(testEvent("ev-2"))

	force := 99.5
	duration := 7.0
	store.UpdateActiveEvent(EventUpdate{MaxForce: &force, Duration: &duration})

	active := store.ActiveEvent()
	require.NotNil(t, active)
	assert.Equal(t, "ev-2", active.ID)
	assert.Equal(t, 99.5, active.MaxForce)
	assert.Equal(t, 7.0, active.Duration)

	for _, ev := range store.Events() {
		if ev.ID == active.ID {
			assert.Equal(t, *active, ev, "history entry must match active event")
		}
	}
}

func TestUpdateWithoutActiveIsNoop(t *testing.T) {
	store := newTestStore()
	force := 10.0
	store.UpdateActiveEvent(EventUpdate{MaxForce: &force})
	assert.Empty(t, store.Events())
}

func TestClearEvents(t *testing.T) {
	store := newTestStore()
	store.AddEvent(testEvent("ev-1"))
	store.ClearEvents()

	assert.Nil(t, store.ActiveEvent())
	assert.Empty(t, store.Events())
}

func TestNoConflictingResolvedStates(t *testing.T) {
	store := newTestStore()
	store.AddEvent(testEvent("ev-1"))
	store.ResolveActiveEvent()
	store.AddEvent(testEvent("ev-2"))

	seen := make(map[string]bool)
	for _, ev := range store.Events() {
		resolved, ok := seen[ev.ID]
		if ok {
			assert.Equal(t, resolved, ev.Resolved, "entries with the same id must agree on resolved")
		}
		seen[ev.ID] = ev.Resolved
	}

	active := store.ActiveEvent()
	require.NotNil(t, active)
	assert.False(t, active.Resolved)
}

func TestUpdateSettings(t *testing.T) {
	store := newTestStore()
	sound := false
	minRisk := telemetry.RiskCritical
	updated := store.UpdateSettings(SettingsPatch{
		SoundEnabled: &sound,
		MinRiskLevel: &minRisk,
		ScenariosToAlert: []telemetry.Scenario{telemetry.ScenarioCollision},
	})

	assert.False(t, updated.SoundEnabled)
	assert.True(t, updated.ToastEnabled, "untouched fields keep their value")
	assert.Equal(t, telemetry.RiskCritical, updated.MinRiskLevel)

	settings := store.Settings()
	assert.True(t, settings.ScenarioEligible(telemetry.ScenarioCollision))
	assert.False(t, settings.ScenarioEligible(telemetry.ScenarioOverload))
}

func TestLastAlertTime(t *testing.T) {
	store := newTestStore()
	assert.True(t, store.LastAlertTime().IsZero())

	now := time.Now()
	store.SetLastAlertTime(now)
	assert.Equal(t, now, store.LastAlertTime())
}

type recordingSubscriber struct {
	mu      sync.Mutex
	changes []EventChange
}

func (r *recordingSubscriber) OnEventChange(change EventChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recordingSubscriber) kinds() []ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeKind, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Kind
	}
	return out
}

func TestSubscriberReceivesLifecycle(t *testing.T) {
	store := newTestStore()
	sub := &recordingSubscriber{}
	store.Subscribe(sub)

	store.AddEvent(testEvent("ev-1"))
	force := 50.0
	store.UpdateActiveEvent(EventUpdate{MaxForce: &force})
	store.ResolveActiveEvent()

	assert.Equal(t, []ChangeKind{ChangeOpened, ChangeUpdated, ChangeResolved}, sub.kinds())
}
