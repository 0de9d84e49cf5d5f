package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/alerts"
	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/config"
	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/httpsrv"
	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/notify"
	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/stream"
	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/telemetry"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Alert store seeded with the configured notification policy.
	store := alerts.NewStore(logger)
	store.UpdateSettings(alerts.SettingsPatch{
		SoundEnabled:     &cfg.Alerts.SoundEnabled,
		ToastEnabled:     &cfg.Alerts.ToastEnabled,
		MinRiskLevel:     &cfg.Alerts.MinRiskLevel,
		ScenariosToAlert: cfg.Alerts.ScenariosToAlert,
	})

	// Notification dispatch: WebSocket fan-out to dashboards, optional
	// AMQP forwarding for external paging, audible cues via the log
	// player in headless deployments.
	hub := httpsrv.NewAlertHub(logger)
	go hub.Run(rootCtx)
	store.Subscribe(hub)

	sequencer := notify.NewSequencer(logger, &notify.LogPlayer{Logger: logger})
	dispatcher := notify.NewDispatcher(logger, sequencer)
	dispatcher.AddSink(hub)

	var amqpPublisher *notify.AMQPPublisher
	if cfg.AMQP.URL != "" {
		amqpPublisher = notify.NewAMQPPublisher(logger, notify.AMQPConfig{
			URL:       cfg.AMQP.URL,
			QueueName: cfg.AMQP.QueueName,
		})
		if err := amqpPublisher.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP unavailable, notifications limited to WebSocket")
		}
		dispatcher.AddSink(amqpPublisher)
	} else {
		logger.Info("AMQP_URL not set, AMQP notification forwarding disabled")
	}

	watcher := alerts.NewWatcher(logger, store, dispatcher)

	streamClient := stream.NewClient(logger, stream.Config{
		BaseURL:        cfg.Stream.BaseURL,
		Interval:       cfg.Stream.Interval,
		BufferSize:     cfg.Stream.BufferSize,
		Enabled:        cfg.Stream.Enabled,
		ReconnectDelay: cfg.Stream.ReconnectDelay,
	}, func(sample *telemetry.Sample) {
		watcher.ProcessSample(sample)
	})

	if err := streamClient.Connect(); err != nil {
		// Not fatal: the client keeps retrying on its own timer.
		logger.WithError(err).Warn("Initial stream connection failed, retrying in background")
	}

	server := httpsrv.NewServer(logger, &httpsrv.Config{
		Port:          cfg.HTTP.Port,
		EnableMetrics: cfg.HTTP.EnableMetrics,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  30 * time.Second,
	}, streamClient, store, hub)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.WithField("signal", sig.String()).Info("Shutting down")

	rootCancel()
	streamClient.Close()
	if amqpPublisher != nil {
		amqpPublisher.Disconnect()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}

	logger.Info("Shutdown complete")
}
