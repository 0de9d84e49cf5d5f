package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/telemetry"
)

// StreamConfig configures the upstream telemetry subscription.
type StreamConfig struct {
	BaseURL        string
	Interval       time.Duration
	BufferSize     int
	Enabled        bool
	ReconnectDelay time.Duration
}

// HTTPConfig configures the operator-facing HTTP server.
type HTTPConfig struct {
	Port          int
	EnableMetrics bool
}

// AlertConfig seeds the operator notification policy.
type AlertConfig struct {
	SoundEnabled     bool
	ToastEnabled     bool
	MinRiskLevel     telemetry.RiskLevel
	ScenariosToAlert []telemetry.Scenario
}

// AMQPConfig configures the external notification queue. Empty URL
// disables AMQP publishing.
type AMQPConfig struct {
	URL       string
	QueueName string
}

// Config is the complete daemon configuration.
type Config struct {
	Stream   StreamConfig
	HTTP     HTTPConfig
	Alerts   AlertConfig
	AMQP     AMQPConfig
	LogLevel logrus.Level
}

// Load reads the configuration from environment variables. A .env file
// is honored when present.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables only")
	}

	cfg := &Config{
		Stream: StreamConfig{
			BaseURL:        getEnv("STREAM_BASE_URL", "ws://localhost:8000"),
			Interval:       getDuration(logger, "STREAM_INTERVAL", time.Second),
			BufferSize:     getInt(logger, "STREAM_BUFFER_SIZE", 60),
			Enabled:        getBool("STREAM_ENABLED", true),
			ReconnectDelay: getDuration(logger, "STREAM_RECONNECT_DELAY", 3*time.Second),
		},
		HTTP: HTTPConfig{
			Port:          getInt(logger, "HTTP_PORT", 8085),
			EnableMetrics: getBool("HTTP_ENABLE_METRICS", true),
		},
		Alerts: AlertConfig{
			SoundEnabled: getBool("ALERT_SOUND_ENABLED", true),
			ToastEnabled: getBool("ALERT_TOAST_ENABLED", true),
		},
		AMQP: AMQPConfig{
			URL:       os.Getenv("AMQP_URL"),
			QueueName: getEnv("AMQP_QUEUE_NAME", "workcell_alerts"),
		},
	}

	minRisk := telemetry.RiskLevel(getEnv("ALERT_MIN_RISK_LEVEL", string(telemetry.RiskMedium)))
	if !minRisk.Valid() {
		return nil, fmt.Errorf("invalid ALERT_MIN_RISK_LEVEL %q", minRisk)
	}
	cfg.Alerts.MinRiskLevel = minRisk

	scenariosEnv := os.Getenv("ALERT_SCENARIOS")
	if scenariosEnv == "" {
		cfg.Alerts.ScenariosToAlert = []telemetry.Scenario{
			telemetry.ScenarioCollision,
			telemetry.ScenarioOverload,
			telemetry.ScenarioWear,
			telemetry.ScenarioRiskApproach,
		}
	} else {
		for _, raw := range strings.Split(scenariosEnv, ",") {
			scenario := telemetry.Scenario(strings.TrimSpace(raw))
			if scenario == "" {
				continue
			}
			cfg.Alerts.ScenariosToAlert = append(cfg.Alerts.ScenariosToAlert, scenario)
		}
	}

	levelStr := getEnv("LOG_LEVEL", "info")
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		logger.WithField("level", levelStr).Warn("Invalid LOG_LEVEL, defaulting to info")
		level = logrus.InfoLevel
	}
	cfg.LogLevel = level

	logger.WithFields(logrus.Fields{
		"stream_url":  cfg.Stream.BaseURL,
		"interval":    cfg.Stream.Interval,
		"buffer_size": cfg.Stream.BufferSize,
		"http_port":   cfg.HTTP.Port,
	}).Info("Configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value == "true" || value == "1"
}

func getInt(logger *logrus.Logger, key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logger.WithFields(logrus.Fields{"key": key, "value": value}).Warnf("Invalid integer, using default %d", fallback)
		return fallback
	}
	return parsed
}

func getDuration(logger *logrus.Logger, key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	// Accept bare seconds for compatibility with the backend's interval
	// query parameter.
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(seconds * float64(time.Second))
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logger.WithFields(logrus.Fields{"key": key, "value": value}).Warnf("Invalid duration, using default %s", fallback)
		return fallback
	}
	return parsed
}
