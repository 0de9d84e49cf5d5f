package alerts

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/metrics"
	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/telemetry"
)

const (
	// newEventCooldown gates notifications for freshly opened events.
	newEventCooldown = 2 * time.Second
	// escalationCooldown gates risk escalation notifications. Both
	// windows share the store's single lastAlertTime anchor, so the two
	// notification kinds suppress each other.
	escalationCooldown = 3 * time.Second
)

// Notifier is the side-effecting sink the watcher drives. Implementations
// must never propagate failures back into sample processing.
type Notifier interface {
	ShowToast(scenario telemetry.Scenario, level telemetry.RiskLevel, sample *telemetry.Sample)
	ShowRecoveryToast(scenario telemetry.Scenario)
	ShowEscalationToast(scenario telemetry.Scenario, from, to telemetry.RiskLevel, sample *telemetry.Sample)
	PlayAlert(level telemetry.RiskLevel)
}

// Watcher consumes each telemetry sample, detects scenario transitions
// against previous state and drives event lifecycle calls and
// notification triggers on the store and notifier.
type Watcher struct {
	logger   *logrus.Logger
	store    *Store
	notifier Notifier

	// Previous-sample memory. Only read and written within one sample's
	// processing; samples arrive strictly in order from a single stream.
	prevScenario telemetry.Scenario
	prevRisk     telemetry.RiskLevel
	seeded       bool
}

// NewWatcher creates a watcher bound to the given store and notifier.
func NewWatcher(logger *logrus.Logger, store *Store, notifier Notifier) *Watcher {
	return &Watcher{
		logger:   logger,
		store:    store,
		notifier: notifier,
	}
}

// ProcessSample runs the transition state machine for one sample.
func (w *Watcher) ProcessSample(sample *telemetry.Sample) {
	if sample == nil {
		return
	}
	scenario := sample.Scenario.Current
	risk := sample.Risk.Level
	settings := w.store.Settings()

	if w.seeded {
		// Transition back to normal: the active episode ends.
		if !w.prevScenario.IsNormal() && scenario.IsNormal() {
			ended := w.prevScenario
			w.store.ResolveActiveEvent()
			if settings.ToastEnabled {
				w.notifier.ShowRecoveryToast(ended)
				metrics.NotificationsSent.WithLabelValues("recovery").Inc()
			}
		}

		// Transition into (or between) abnormal scenarios: open a new
		// event. A scenario change while an event is already active
		// resolves it first, so resolution bookkeeping is never lost.
		if w.prevScenario != scenario && !scenario.IsNormal() {
			if w.store.ActiveEvent() != nil {
				w.store.ResolveActiveEvent()
			}
			w.store.AddEvent(NewEventFromSample(sample, time.Now()))
			w.maybeNotifyNewEvent(sample, &settings)
		}
	}

	w.updateActiveMaxima(sample)

	if w.seeded {
		w.maybeNotifyEscalation(sample, &settings)
	}

	w.prevScenario = scenario
	w.prevRisk = risk
	w.seeded = true
}

// maybeNotifyNewEvent applies the notification gate for a freshly opened
// event: scenario whitelist, minimum risk level and the shared cooldown.
func (w *Watcher) maybeNotifyNewEvent(sample *telemetry.Sample, settings *Settings) {
	scenario := sample.Scenario.Current
	level := sample.Risk.Level

	if !settings.ScenarioEligible(scenario) {
		metrics.NotificationsSuppressed.WithLabelValues("scenario_filter").Inc()
		return
	}
	if !level.AtLeast(settings.MinRiskLevel) {
		metrics.NotificationsSuppressed.WithLabelValues("risk_threshold").Inc()
		return
	}
	now := time.Now()
	if now.Sub(w.store.LastAlertTime()) < newEventCooldown {
		metrics.NotificationsSuppressed.WithLabelValues("cooldown").Inc()
		return
	}

	w.store.SetLastAlertTime(now)
	if settings.ToastEnabled {
		w.notifier.ShowToast(scenario, level, sample)
		metrics.NotificationsSent.WithLabelValues("alert").Inc()
	}
	if settings.SoundEnabled {
		w.notifier.PlayAlert(level)
	}
}

// updateActiveMaxima tracks running maxima and duration while an episode
// is open. The merged values are written only when something actually
// increases, to avoid redundant store writes.
func (w *Watcher) updateActiveMaxima(sample *telemetry.Sample) {
	if sample.Scenario.Current.IsNormal() {
		return
	}
	active := w.store.ActiveEvent()
	if active == nil {
		return
	}

	var update EventUpdate
	if sample.Sensor.ForceMagnitude > active.MaxForce {
		v := sample.Sensor.ForceMagnitude
		update.MaxForce = &v
	}
	riskScore := sample.Risk.ContactRisk
	if sample.Risk.CollisionRisk > riskScore {
		riskScore = sample.Risk.CollisionRisk
	}
	if riskScore > active.MaxRiskScore {
		v := riskScore
		update.MaxRiskScore = &v
	}
	if sample.Risk.ContactRisk > active.Details.MaxContactRisk {
		v := sample.Risk.ContactRisk
		update.MaxContactRisk = &v
	}
	if sample.Risk.CollisionRisk > active.Details.MaxCollisionRisk {
		v := sample.Risk.CollisionRisk
		update.MaxCollisionRisk = &v
	}
	if sample.Robot.TCPSpeed > active.Details.MaxTCPSpeed {
		v := sample.Robot.TCPSpeed
		update.MaxTCPSpeed = &v
	}
	if sample.Robot.ProtectiveStop && !active.Details.ProtectiveStopped {
		v := true
		update.ProtectiveStopped = &v
	}
	if sample.Scenario.Elapsed != active.Duration {
		v := sample.Scenario.Elapsed
		update.Duration = &v
	}
	if sample.Risk.Level != active.RiskLevel && sample.Risk.Level.Valid() {
		v := sample.Risk.Level
		update.RiskLevel = &v
	}

	w.store.UpdateActiveEvent(update)
}

// maybeNotifyEscalation fires the escalation notification when the risk
// level strictly increases inside an abnormal scenario, even without a
// scenario transition.
func (w *Watcher) maybeNotifyEscalation(sample *telemetry.Sample, settings *Settings) {
	scenario := sample.Scenario.Current
	level := sample.Risk.Level

	if w.prevRisk == "" || scenario.IsNormal() {
		return
	}
	if level.Rank() <= w.prevRisk.Rank() {
		return
	}
	now := time.Now()
	if now.Sub(w.store.LastAlertTime()) < escalationCooldown {
		metrics.NotificationsSuppressed.WithLabelValues("cooldown").Inc()
		return
	}

	w.store.SetLastAlertTime(now)
	w.logger.WithFields(logrus.Fields{
		"scenario": scenario,
		"from":     w.prevRisk,
		"to":       level,
	}).Warn("Risk level escalated")
	if settings.ToastEnabled {
		w.notifier.ShowEscalationToast(scenario, w.prevRisk, level, sample)
		metrics.NotificationsSent.WithLabelValues("escalation").Inc()
	}
	if settings.SoundEnabled {
		w.notifier.PlayAlert(level)
	}
}
