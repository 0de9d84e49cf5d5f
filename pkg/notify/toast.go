package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/telemetry"
)

// Toast kinds carried to UI clients and external channels.
const (
	KindAlert      = "alert"
	KindRecovery   = "recovery"
	KindEscalation = "escalation"
)

// Toast is one transient operator notification. Duration tells the UI
// how long to keep it visible; critical notifications stay longer.
type Toast struct {
	Kind      string              `json:"kind"`
	Scenario  telemetry.Scenario  `json:"scenario"`
	RiskLevel telemetry.RiskLevel `json:"risk_level,omitempty"`
	Title     string              `json:"title"`
	Message   string              `json:"message"`
	Duration  time.Duration       `json:"duration_ms"`
	Timestamp time.Time           `json:"timestamp"`
}

// Sink delivers a toast to one downstream channel (UI fan-out, AMQP).
// Delivery is best-effort; errors are logged by the dispatcher and never
// propagate to the watcher.
type Sink interface {
	Deliver(toast Toast) error
}

// toastDuration maps severity to display time.
func toastDuration(level telemetry.RiskLevel) time.Duration {
	switch level {
	case telemetry.RiskCritical:
		return 10 * time.Second
	case telemetry.RiskHigh:
		return 6 * time.Second
	default:
		return 4 * time.Second
	}
}

// Dispatcher renders toasts and audio cues. It is stateless beyond the
// sound sequencer's overlap guard and implements alerts.Notifier.
type Dispatcher struct {
	logger *logrus.Logger
	sound  *Sequencer

	mu    sync.RWMutex
	sinks []Sink
}

// NewDispatcher creates a dispatcher. The sequencer may be nil when no
// audio backend is available; PlayAlert is then a no-op.
func NewDispatcher(logger *logrus.Logger, sound *Sequencer) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		sound:  sound,
	}
}

// AddSink registers a delivery channel.
func (d *Dispatcher) AddSink(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// ShowToast presents a new-event notification: scenario label plus one
// key metric from the triggering sample.
func (d *Dispatcher) ShowToast(scenario telemetry.Scenario, level telemetry.RiskLevel, sample *telemetry.Sample) {
	toast := Toast{
		Kind:      KindAlert,
		Scenario:  scenario,
		RiskLevel: level,
		Title:     fmt.Sprintf("%s detected", scenario.Label()),
		Duration:  toastDuration(level),
		Timestamp: time.Now(),
	}
	if sample != nil {
		toast.Message = fmt.Sprintf("Force %.1f N, risk %s", sample.Sensor.ForceMagnitude, level)
	}
	d.deliver(toast)
}

// ShowRecoveryToast announces the end of an abnormal episode.
func (d *Dispatcher) ShowRecoveryToast(scenario telemetry.Scenario) {
	d.deliver(Toast{
		Kind:      KindRecovery,
		Scenario:  scenario,
		Title:     fmt.Sprintf("%s resolved", scenario.Label()),
		Message:   "Returned to normal operation",
		Duration:  toastDuration(telemetry.RiskLow),
		Timestamp: time.Now(),
	})
}

// ShowEscalationToast announces a risk level increase within an episode.
func (d *Dispatcher) ShowEscalationToast(scenario telemetry.Scenario, from, to telemetry.RiskLevel, sample *telemetry.Sample) {
	toast := Toast{
		Kind:      KindEscalation,
		Scenario:  scenario,
		RiskLevel: to,
		Title:     fmt.Sprintf("%s risk escalated", scenario.Label()),
		Message:   fmt.Sprintf("Risk level %s -> %s", from, to),
		Duration:  toastDuration(to),
		Timestamp: time.Now(),
	}
	if sample != nil {
		toast.Message = fmt.Sprintf("Risk level %s -> %s, force %.1f N", from, to, sample.Sensor.ForceMagnitude)
	}
	d.deliver(toast)
}

// PlayAlert synthesizes the severity tone pattern.
func (d *Dispatcher) PlayAlert(level telemetry.RiskLevel) {
	if d.sound == nil {
		return
	}
	d.sound.PlayAlert(level)
}

func (d *Dispatcher) deliver(toast Toast) {
	d.mu.RLock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.Deliver(toast); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"kind":     toast.Kind,
				"scenario": toast.Scenario,
			}).Warn("Toast delivery failed")
		}
	}
}
