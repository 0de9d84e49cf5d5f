package notify

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/telemetry"
)

// TonePlayer abstracts the platform audio backend, so the severity to
// pattern mapping stays portable.
type TonePlayer interface {
	PlayTone(frequency float64, duration time.Duration, volume float64) error
}

// Tone is one step of an alert pattern.
type Tone struct {
	Frequency float64
	Duration  time.Duration
	Volume    float64
}

// patternFor encodes severity as a tone sequence: one short low tone for
// low, two mid tones for medium, three higher tones for high, four
// ascending tones plus a sustained high tone for critical.
func patternFor(level telemetry.RiskLevel) []Tone {
	switch level {
	case telemetry.RiskMedium:
		return []Tone{
			{Frequency: 660, Duration: 150 * time.Millisecond, Volume: 0.5},
			{Frequency: 660, Duration: 150 * time.Millisecond, Volume: 0.5},
		}
	case telemetry.RiskHigh:
		return []Tone{
			{Frequency: 880, Duration: 150 * time.Millisecond, Volume: 0.6},
			{Frequency: 880, Duration: 150 * time.Millisecond, Volume: 0.6},
			{Frequency: 880, Duration: 150 * time.Millisecond, Volume: 0.6},
		}
	case telemetry.RiskCritical:
		return []Tone{
			{Frequency: 880, Duration: 120 * time.Millisecond, Volume: 0.7},
			{Frequency: 1100, Duration: 120 * time.Millisecond, Volume: 0.7},
			{Frequency: 1320, Duration: 120 * time.Millisecond, Volume: 0.7},
			{Frequency: 1540, Duration: 120 * time.Millisecond, Volume: 0.7},
			{Frequency: 1760, Duration: 600 * time.Millisecond, Volume: 0.8},
		}
	default:
		return []Tone{
			{Frequency: 440, Duration: 150 * time.Millisecond, Volume: 0.4},
		}
	}
}

// Sequencer plays severity patterns through a TonePlayer. Calls while a
// sequence is already playing are dropped, not queued, to avoid audio
// buildup under rapid events. Synthesis failures are swallowed.
type Sequencer struct {
	logger  *logrus.Logger
	player  TonePlayer
	playing atomic.Bool
}

// NewSequencer creates a sequencer for the given audio backend.
func NewSequencer(logger *logrus.Logger, player TonePlayer) *Sequencer {
	return &Sequencer{
		logger: logger,
		player: player,
	}
}

// PlayAlert plays the pattern for the given level asynchronously.
func (s *Sequencer) PlayAlert(level telemetry.RiskLevel) {
	if s.player == nil {
		return
	}
	if !s.playing.CompareAndSwap(false, true) {
		s.logger.WithField("risk", level).Debug("Alert tone dropped, sequence in progress")
		return
	}

	pattern := patternFor(level)
	go func() {
		defer s.playing.Store(false)
		for _, tone := range pattern {
			if err := s.player.PlayTone(tone.Frequency, tone.Duration, tone.Volume); err != nil {
				s.logger.WithError(err).Debug("Tone synthesis failed")
				return
			}
		}
	}()
}

// IsPlaying reports whether a sequence is in progress.
func (s *Sequencer) IsPlaying() bool {
	return s.playing.Load()
}

// LogPlayer is the fallback audio backend for headless deployments: it
// holds the pattern timing and logs each tone instead of synthesizing it.
type LogPlayer struct {
	Logger *logrus.Logger
}

// PlayTone logs the tone and sleeps for its duration.
func (p *LogPlayer) PlayTone(frequency float64, duration time.Duration, volume float64) error {
	p.Logger.WithFields(logrus.Fields{
		"frequency": frequency,
		"duration":  duration,
		"volume":    volume,
	}).Debug("Alert tone")
	time.Sleep(duration)
	return nil
}
