package alerts

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/metrics"
	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/telemetry"
)

// maxHistory caps the retained event history; the oldest entries beyond
// the cap are dropped.
const maxHistory = 100

// ChangeKind classifies an event lifecycle change.
type ChangeKind string

const (
	ChangeOpened   ChangeKind = "opened"
	ChangeUpdated  ChangeKind = "updated"
	ChangeResolved ChangeKind = "resolved"
	ChangeCleared  ChangeKind = "cleared"
)

// EventChange is delivered to subscribers on every committed mutation.
type EventChange struct {
	Kind  ChangeKind    `json:"kind"`
	Event DetectedEvent `json:"event"`
}

// Subscriber receives event lifecycle changes in commit order.
type Subscriber interface {
	OnEventChange(change EventChange)
}

// Store is the single source of truth for event lifecycle and
// notification policy. All mutations are synchronous and atomic with
// respect to readers; consumers only ever observe fully committed state.
type Store struct {
	logger *logrus.Logger

	mu            sync.RWMutex
	events        []DetectedEvent // most-recent-first
	active        *DetectedEvent
	settings      Settings
	lastAlertTime time.Time
	subscribers   []Subscriber
}

// NewStore creates a store with the default notification policy.
func NewStore(logger *logrus.Logger) *Store {
	return &Store{
		logger:   logger,
		settings: DefaultSettings(),
	}
}

// Subscribe registers a lifecycle change subscriber.
func (s *Store) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// notifyLocked snapshots subscribers under the lock; delivery happens
// after the mutation is committed.
func (s *Store) notifyLocked() []Subscriber {
	return append([]Subscriber(nil), s.subscribers...)
}

func deliver(subs []Subscriber, change EventChange) {
	for _, sub := range subs {
		sub.OnEventChange(change)
	}
}

// AddEvent appends the event to history, most-recent-first, capped at
// maxHistory. An unresolved event becomes the new active event; the
// watcher's transition logic is responsible for resolving any previous
// one first.
func (s *Store) AddEvent(ev DetectedEvent) {
	s.mu.Lock()
	s.events = append([]DetectedEvent{ev}, s.events...)
	if len(s.events) > maxHistory {
		s.events = s.events[:maxHistory]
	}
	if !ev.Resolved {
		active := ev
		s.active = &active
		metrics.ActiveEvent.Set(1)
	}
	subs := s.notifyLocked()
	s.mu.Unlock()

	metrics.EventsOpened.WithLabelValues(string(ev.Scenario)).Inc()
	s.logger.WithFields(logrus.Fields{
		"event_id": ev.ID,
		"scenario": ev.Scenario,
		"risk":     ev.RiskLevel,
	}).Warn("Anomaly event opened")
	deliver(subs, EventChange{Kind: ChangeOpened, Event: ev})
}

// ResolveActiveEvent marks the active event resolved with a resolution
// timestamp of now, writes the resolved copy back into history at its
// original position and clears the active slot. No-op without an active
// event.
func (s *Store) ResolveActiveEvent() {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	resolved := *s.active
	resolved.Resolved = true
	resolved.ResolvedAt = &now
	s.writeBackLocked(resolved)
	s.active = nil
	metrics.ActiveEvent.Set(0)
	subs := s.notifyLocked()
	s.mu.Unlock()

	metrics.EventsResolved.Inc()
	s.logger.WithFields(logrus.Fields{
		"event_id": resolved.ID,
		"scenario": resolved.Scenario,
		"duration": resolved.Duration,
	}).Info("Anomaly event resolved")
	deliver(subs, EventChange{Kind: ChangeResolved, Event: resolved})
}

// UpdateActiveEvent merges the given fields into the active event and its
// history entry. No-op without an active event or with an empty update.
func (s *Store) UpdateActiveEvent(update EventUpdate) {
	s.mu.Lock()
	if s.active == nil || update.Empty() {
		s.mu.Unlock()
		return
	}
	update.applyTo(s.active)
	updated := *s.active
	s.writeBackLocked(updated)
	subs := s.notifyLocked()
	s.mu.Unlock()

	deliver(subs, EventChange{Kind: ChangeUpdated, Event: updated})
}

// writeBackLocked reflects an active-event mutation into the matching
// history entry, keyed by id.
func (s *Store) writeBackLocked(ev DetectedEvent) {
	for i := range s.events {
		if s.events[i].ID == ev.ID {
			s.events[i] = ev
			return
		}
	}
}

// ClearEvents resets history and the active event; session reset only.
func (s *Store) ClearEvents() {
	s.mu.Lock()
	s.events = nil
	s.active = nil
	metrics.ActiveEvent.Set(0)
	subs := s.notifyLocked()
	s.mu.Unlock()

	s.logger.Info("Event history cleared")
	deliver(subs, EventChange{Kind: ChangeCleared})
}

// Events returns a copy of the history, most-recent-first.
func (s *Store) Events() []DetectedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DetectedEvent, len(s.events))
	copy(out, s.events)
	return out
}

// ActiveEvent returns a copy of the active event, or nil.
func (s *Store) ActiveEvent() *DetectedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil
	}
	active := *s.active
	return &active
}

// Settings returns the current notification policy.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings := s.settings
	settings.ScenariosToAlert = append([]telemetry.Scenario(nil), s.settings.ScenariosToAlert...)
	return settings
}

// UpdateSettings merges the patch into the current policy.
func (s *Store) UpdateSettings(patch SettingsPatch) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if patch.SoundEnabled != nil {
		s.settings.SoundEnabled = *patch.SoundEnabled
	}
	if patch.ToastEnabled != nil {
		s.settings.ToastEnabled = *patch.ToastEnabled
	}
	if patch.MinRiskLevel != nil {
		s.settings.MinRiskLevel = *patch.MinRiskLevel
	}
	if patch.ScenariosToAlert != nil {
		s.settings.ScenariosToAlert = append([]telemetry.Scenario(nil), patch.ScenariosToAlert...)
	}
	s.logger.WithFields(logrus.Fields{
		"sound":     s.settings.SoundEnabled,
		"toast":     s.settings.ToastEnabled,
		"min_risk":  s.settings.MinRiskLevel,
		"scenarios": s.settings.ScenariosToAlert,
	}).Info("Alert settings updated")
	return s.settings
}

// SetLastAlertTime records the shared notification cooldown anchor.
func (s *Store) SetLastAlertTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAlertTime = t
}

// LastAlertTime returns the shared notification cooldown anchor.
func (s *Store) LastAlertTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAlertTime
}
