package telemetry

import (
	"encoding/json"
	"fmt"
	"time"
)

// RiskLevel is the ordered operator-facing severity scale.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Rank returns the position of the level on the low < medium < high < critical
// scale. Unknown levels rank below low.
func (r RiskLevel) Rank() int {
	rank, ok := riskRank[r]
	if !ok {
		return -1
	}
	return rank
}

// AtLeast reports whether r meets or exceeds the given threshold.
func (r RiskLevel) AtLeast(min RiskLevel) bool {
	return r.Rank() >= min.Rank()
}

// Valid reports whether r is one of the known levels.
func (r RiskLevel) Valid() bool {
	_, ok := riskRank[r]
	return ok
}

// Scenario identifies the operating scenario classified by the backend.
type Scenario string

const (
	ScenarioNormal       Scenario = "normal"
	ScenarioCollision    Scenario = "collision"
	ScenarioOverload     Scenario = "overload"
	ScenarioWear         Scenario = "wear"
	ScenarioRiskApproach Scenario = "risk_approach"
)

var scenarioLabels = map[Scenario]string{
	ScenarioNormal:       "Normal operation",
	ScenarioCollision:    "Collision",
	ScenarioOverload:     "Overload",
	ScenarioWear:         "Tool wear",
	ScenarioRiskApproach: "Risk approach",
}

// Label returns a human-readable name for the scenario.
func (s Scenario) Label() string {
	if label, ok := scenarioLabels[s]; ok {
		return label
	}
	return string(s)
}

// IsNormal reports whether the scenario is the normal operating state.
func (s Scenario) IsNormal() bool {
	return s == ScenarioNormal
}

// SafetyMode mirrors the manipulator controller safety state.
type SafetyMode string

const (
	SafetyNormal         SafetyMode = "normal"
	SafetyReduced        SafetyMode = "reduced"
	SafetyProtectiveStop SafetyMode = "protective_stop"
)

// RobotState carries the manipulator sub-record of a sample.
type RobotState struct {
	TCPSpeed        float64    `json:"tcp_speed"`
	JointTorqueSum  float64    `json:"joint_torque_sum"`
	JointCurrentAvg float64    `json:"joint_current_avg"`
	SafetyMode      SafetyMode `json:"safety_mode"`
	ProtectiveStop  bool       `json:"protective_stop"`
}

// SensorState carries the six-axis force/torque sensor sub-record.
type SensorState struct {
	Fx             float64 `json:"fx"`
	Fy             float64 `json:"fy"`
	Fz             float64 `json:"fz"`
	Tx             float64 `json:"tx"`
	Ty             float64 `json:"ty"`
	Tz             float64 `json:"tz"`
	ForceMagnitude float64 `json:"force_magnitude"`
	ForceRate      float64 `json:"force_rate"`
	ForceSpike     bool    `json:"force_spike"`
}

// CorrelationState carries cross-signal analysis computed by the backend.
type CorrelationState struct {
	TorqueForceRatio float64 `json:"torque_force_ratio"`
	AnomalyDetected  bool    `json:"anomaly_detected"`
}

// RiskState carries the backend risk assessment. Scores are in [0,1].
type RiskState struct {
	ContactRisk   float64   `json:"contact_risk"`
	CollisionRisk float64   `json:"collision_risk"`
	Level         RiskLevel `json:"level"`
}

// ScenarioState carries the scenario classification and its timing.
// Remaining is zero when the scenario is unbounded.
type ScenarioState struct {
	Current   Scenario `json:"current"`
	Elapsed   float64  `json:"elapsed"`
	Remaining float64  `json:"remaining,omitempty"`
}

// Sample is one integrated telemetry reading combining robot and
// force/torque sensor state at a timestamp. Samples are immutable once
// received from the stream.
type Sample struct {
	Timestamp   string           `json:"timestamp"`
	Robot       RobotState       `json:"robot"`
	Sensor      SensorState      `json:"sensor"`
	Correlation CorrelationState `json:"correlation"`
	Risk        RiskState        `json:"risk"`
	Scenario    ScenarioState    `json:"scenario"`
}

// Time parses the sample timestamp. The backend emits ISO-8601.
func (s *Sample) Time() (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid sample timestamp %q: %w", s.Timestamp, err)
	}
	return t, nil
}

// Envelope is the raw wire shape of one stream message: either a sample
// or an error-shaped payload carrying a non-empty Error field.
type Envelope struct {
	Error string `json:"error,omitempty"`
	Sample
}

// DecodeMessage parses one stream message. It returns the decoded sample,
// or a nil sample and a stream error when the payload is error-shaped.
func DecodeMessage(data []byte) (*Sample, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed stream message: %w", err)
	}
	if env.Error != "" {
		return nil, fmt.Errorf("stream error: %s", env.Error)
	}
	sample := env.Sample
	return &sample, nil
}
