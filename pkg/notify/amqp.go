package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/metrics"
)

// AMQPConfig holds the notification queue configuration.
type AMQPConfig struct {
	URL       string
	QueueName string
	// ReconnectDelay is the wait between reconnect attempts after the
	// broker connection drops.
	ReconnectDelay time.Duration
}

// AMQPPublisher forwards operator notifications to an AMQP queue for
// external paging systems. The publisher is a best-effort Sink: when the
// broker is down, deliveries fail and are dropped while a background
// reconnect keeps retrying.
type AMQPPublisher struct {
	logger *logrus.Logger
	config AMQPConfig

	mu        sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	stopChan  chan struct{}
}

// NewAMQPPublisher creates a publisher. Call Connect before use.
func NewAMQPPublisher(logger *logrus.Logger, config AMQPConfig) *AMQPPublisher {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	return &AMQPPublisher{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the broker connection and declares the queue.
func (p *AMQPPublisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return nil
	}
	if p.config.URL == "" || p.config.QueueName == "" {
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	conn, err := amqp.Dial(p.config.URL)
	if err != nil {
		metrics.AMQPConnectionErrors.Inc()
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		metrics.AMQPConnectionErrors.Inc()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		p.config.QueueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	); err != nil {
		channel.Close()
		conn.Close()
		metrics.AMQPConnectionErrors.Inc()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	p.conn = conn
	p.channel = channel
	p.connected = true
	p.stopChan = make(chan struct{})

	p.logger.WithFields(logrus.Fields{
		"queue": p.config.QueueName,
	}).Info("Connected to AMQP server")

	go p.monitorConnection()
	return nil
}

// monitorConnection watches for broker-side closes and keeps retrying
// until reconnected or stopped.
func (p *AMQPPublisher) monitorConnection() {
	p.mu.RLock()
	conn := p.conn
	stop := p.stopChan
	p.mu.RUnlock()
	if conn == nil {
		return
	}

	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-stop:
		return
	case amqpErr := <-closeChan:
		p.mu.Lock()
		p.connected = false
		p.conn = nil
		p.channel = nil
		p.mu.Unlock()

		if amqpErr != nil {
			metrics.AMQPConnectionErrors.Inc()
			p.logger.WithError(amqpErr).Warn("AMQP connection lost, reconnecting")
		}
	}

	for {
		select {
		case <-stop:
			return
		case <-time.After(p.config.ReconnectDelay):
		}
		if err := p.Connect(); err != nil {
			p.logger.WithError(err).Warn("AMQP reconnect failed")
			continue
		}
		return
	}
}

// Disconnect closes the broker connection. Idempotent.
func (p *AMQPPublisher) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return
	}
	close(p.stopChan)
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.connected = false
	p.conn = nil
	p.channel = nil
	p.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the broker connection status.
func (p *AMQPPublisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

// Deliver publishes one toast to the notification queue.
func (p *AMQPPublisher) Deliver(toast Toast) error {
	p.mu.RLock()
	channel := p.channel
	connected := p.connected
	p.mu.RUnlock()

	if !connected || channel == nil {
		return fmt.Errorf("not connected to AMQP server")
	}

	body, err := json.Marshal(toast)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if err := channel.Publish(
		"",                 // Exchange
		p.config.QueueName, // Routing key
		false,              // Mandatory
		false,              // Immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	metrics.AMQPPublishedMessages.Inc()
	return nil
}
