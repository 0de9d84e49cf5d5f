package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/telemetry"
)

// EventDetails is the per-episode snapshot of peak readings.
type EventDetails struct {
	MaxContactRisk    float64 `json:"max_contact_risk"`
	MaxCollisionRisk  float64 `json:"max_collision_risk"`
	MaxTCPSpeed       float64 `json:"max_tcp_speed"`
	ProtectiveStopped bool    `json:"protective_stopped"`
}

// DetectedEvent is the lifecycle record of one abnormal episode.
// Maxima are tracked monotonically: they never decrease while the
// episode is open.
type DetectedEvent struct {
	ID           string              `json:"id"`
	StartedAt    time.Time           `json:"started_at"`
	Scenario     telemetry.Scenario  `json:"scenario"`
	RiskLevel    telemetry.RiskLevel `json:"risk_level"`
	MaxForce     float64             `json:"max_force"`
	MaxRiskScore float64             `json:"max_risk_score"`
	Duration     float64             `json:"duration"`
	Resolved     bool                `json:"resolved"`
	ResolvedAt   *time.Time          `json:"resolved_at,omitempty"`
	Details      EventDetails        `json:"details"`
}

// NewEventID builds a unique event identifier from the generation time
// plus a random suffix.
func NewEventID(now time.Time) string {
	return fmt.Sprintf("evt-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

// NewEventFromSample constructs an event for a freshly detected abnormal
// scenario, seeded from the triggering sample.
func NewEventFromSample(sample *telemetry.Sample, now time.Time) DetectedEvent {
	riskScore := sample.Risk.ContactRisk
	if sample.Risk.CollisionRisk > riskScore {
		riskScore = sample.Risk.CollisionRisk
	}
	return DetectedEvent{
		ID:           NewEventID(now),
		StartedAt:    now,
		Scenario:     sample.Scenario.Current,
		RiskLevel:    sample.Risk.Level,
		MaxForce:     sample.Sensor.ForceMagnitude,
		MaxRiskScore: riskScore,
		Duration:     sample.Scenario.Elapsed,
		Details: EventDetails{
			MaxContactRisk:    sample.Risk.ContactRisk,
			MaxCollisionRisk:  sample.Risk.CollisionRisk,
			MaxTCPSpeed:       sample.Robot.TCPSpeed,
			ProtectiveStopped: sample.Robot.ProtectiveStop,
		},
	}
}

// EventUpdate carries a partial mutation of the active event. Nil fields
// are left untouched. Callers pass values that are already the max of
// previous and incoming; the store does not recompute maxima.
type EventUpdate struct {
	RiskLevel         *telemetry.RiskLevel
	MaxForce          *float64
	MaxRiskScore      *float64
	Duration          *float64
	MaxContactRisk    *float64
	MaxCollisionRisk  *float64
	MaxTCPSpeed       *float64
	ProtectiveStopped *bool
}

// Empty reports whether the update carries no changes.
func (u *EventUpdate) Empty() bool {
	return u.RiskLevel == nil && u.MaxForce == nil && u.MaxRiskScore == nil &&
		u.Duration == nil && u.MaxContactRisk == nil && u.MaxCollisionRisk == nil &&
		u.MaxTCPSpeed == nil && u.ProtectiveStopped == nil
}

func (u *EventUpdate) applyTo(ev *DetectedEvent) {
	if u.RiskLevel != nil {
		ev.RiskLevel = *u.RiskLevel
	}
	if u.MaxForce != nil {
		ev.MaxForce = *u.MaxForce
	}
	if u.MaxRiskScore != nil {
		ev.MaxRiskScore = *u.MaxRiskScore
	}
	if u.Duration != nil {
		ev.Duration = *u.Duration
	}
	if u.MaxContactRisk != nil {
		ev.Details.MaxContactRisk = *u.MaxContactRisk
	}
	if u.MaxCollisionRisk != nil {
		ev.Details.MaxCollisionRisk = *u.MaxCollisionRisk
	}
	if u.MaxTCPSpeed != nil {
		ev.Details.MaxTCPSpeed = *u.MaxTCPSpeed
	}
	if u.ProtectiveStopped != nil {
		ev.Details.ProtectiveStopped = *u.ProtectiveStopped
	}
}

// Settings is the operator-configurable notification policy.
type Settings struct {
	SoundEnabled     bool                 `json:"sound_enabled"`
	ToastEnabled     bool                 `json:"toast_enabled"`
	MinRiskLevel     telemetry.RiskLevel  `json:"min_risk_level_for_alert"`
	ScenariosToAlert []telemetry.Scenario `json:"scenarios_to_alert"`
}

// DefaultSettings returns the policy applied until the operator changes it.
func DefaultSettings() Settings {
	return Settings{
		SoundEnabled: true,
		ToastEnabled: true,
		MinRiskLevel: telemetry.RiskMedium,
		ScenariosToAlert: []telemetry.Scenario{
			telemetry.ScenarioCollision,
			telemetry.ScenarioOverload,
			telemetry.ScenarioWear,
			telemetry.ScenarioRiskApproach,
		},
	}
}

// ScenarioEligible reports whether the scenario is whitelisted for
// notification.
func (s *Settings) ScenarioEligible(scenario telemetry.Scenario) bool {
	for _, allowed := range s.ScenariosToAlert {
		if allowed == scenario {
			return true
		}
	}
	return false
}

// SettingsPatch carries a partial settings mutation.
type SettingsPatch struct {
	SoundEnabled     *bool                `json:"sound_enabled,omitempty"`
	ToastEnabled     *bool                `json:"toast_enabled,omitempty"`
	MinRiskLevel     *telemetry.RiskLevel `json:"min_risk_level_for_alert,omitempty"`
	ScenariosToAlert []telemetry.Scenario `json:"scenarios_to_alert,omitempty"`
}
