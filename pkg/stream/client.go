package stream

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/metrics"
	"github.com/Jinuk93/ur5e-ontology-rag-sub000/pkg/telemetry"
)

const (
	defaultInterval       = time.Second
	defaultBufferSize     = 60
	defaultReconnectDelay = 3 * time.Second
)

// Config holds stream client configuration.
type Config struct {
	// BaseURL is the backend base address, e.g. "ws://localhost:8000".
	BaseURL string
	// Interval is the requested server push cadence.
	Interval time.Duration
	// BufferSize is the maximum number of retained samples.
	BufferSize int
	// Enabled gates the connection. When false no connection is attempted
	// and any existing one is torn down.
	Enabled bool
	// ReconnectDelay is the fixed backoff before a retry after a transport
	// error.
	ReconnectDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
}

// SampleSink receives each valid sample in arrival order.
type SampleSink func(*telemetry.Sample)

// Client maintains a long-lived WebSocket subscription to the telemetry
// stream. It buffers the most recent BufferSize samples and supervises
// reconnection with a single-slot retry timer.
type Client struct {
	logger *logrus.Logger
	config Config

	mu                sync.Mutex
	conn              *websocket.Conn
	generation        uint64
	readings          []telemetry.Sample
	latest            *telemetry.Sample
	connected         bool
	lastErr           error
	enabled           bool
	closed            bool
	reconnectTimer    *time.Timer
	reconnectAttempts uint64

	sink SampleSink
}

// NewClient creates a stream client. The sink may be nil when only the
// buffered readings are of interest.
func NewClient(logger *logrus.Logger, config Config, sink SampleSink) *Client {
	config.applyDefaults()
	return &Client{
		logger:  logger,
		config:  config,
		enabled: config.Enabled,
		sink:    sink,
	}
}

// streamURL builds the subscription endpoint with the interval parameter.
func (c *Client) streamURL() (string, error) {
	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid stream base URL %q: %w", c.config.BaseURL, err)
	}
	u.Path = "/ws/stream"
	q := u.Query()
	q.Set("interval", fmt.Sprintf("%g", c.config.Interval.Seconds()))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect establishes the stream connection. When the client is disabled
// any live connection is torn down instead and Connect returns nil.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("stream client is closed")
	}
	if !c.enabled {
		c.teardownLocked()
		c.mu.Unlock()
		return nil
	}
	c.cancelReconnectLocked()
	c.closeConnLocked()
	c.mu.Unlock()

	return c.dial()
}

// dial performs the actual WebSocket handshake and starts the read loop.
func (c *Client) dial() error {
	target, err := c.streamURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.Dial(target, http.Header{})
	if err != nil {
		c.logger.WithError(err).WithField("url", target).Warn("Telemetry stream dial failed")
		c.mu.Lock()
		c.connected = false
		c.lastErr = err
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		metrics.StreamTransportErrors.Inc()
		return err
	}

	c.mu.Lock()
	if c.closed || !c.enabled {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.generation++
	gen := c.generation
	c.connected = true
	c.lastErr = nil
	c.mu.Unlock()

	metrics.StreamConnectionStatus.Set(1)
	c.logger.WithField("url", target).Info("Telemetry stream connected")

	go c.readLoop(conn, gen)
	return nil
}

// readLoop consumes messages until the connection fails. Samples are
// processed strictly in arrival order from the single connection.
func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleTransportError(gen, err)
			return
		}

		sample, err := telemetry.DecodeMessage(data)
		if err != nil {
			// Error-shaped or malformed payloads surface as the current
			// error but are not enqueued.
			c.mu.Lock()
			if gen == c.generation {
				c.lastErr = err
			}
			c.mu.Unlock()
			c.logger.WithError(err).Debug("Dropped stream message")
			continue
		}

		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		c.lastErr = nil
		c.latest = sample
		c.readings = append(c.readings, *sample)
		if len(c.readings) > c.config.BufferSize {
			c.readings = c.readings[len(c.readings)-c.config.BufferSize:]
		}
		sink := c.sink
		c.mu.Unlock()

		metrics.StreamSamplesReceived.Inc()
		if sink != nil {
			sink(sample)
		}
	}
}

// handleTransportError records the failure and schedules a single retry.
func (c *Client) handleTransportError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation || c.closed {
		return
	}

	c.connected = false
	c.lastErr = err
	c.closeConnLocked()
	metrics.StreamConnectionStatus.Set(0)
	metrics.StreamTransportErrors.Inc()

	if !c.enabled {
		return
	}

	c.logger.WithError(err).WithField("retry_in", c.config.ReconnectDelay).Warn("Telemetry stream lost, scheduling reconnect")
	c.scheduleReconnectLocked()
}

// scheduleReconnectLocked arms the retry timer, replacing any pending one
// so at most a single reconnect is ever in flight.
func (c *Client) scheduleReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, c.retry)
}

// retry is the timer callback for a scheduled reconnect.
func (c *Client) retry() {
	c.mu.Lock()
	c.reconnectTimer = nil
	if c.closed || !c.enabled {
		c.mu.Unlock()
		return
	}
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	c.mu.Unlock()

	metrics.StreamReconnectAttempts.Inc()
	c.logger.WithField("attempt", attempt).Info("Reconnecting telemetry stream")
	_ = c.dial()
}

// Reconnect force-closes any live connection and re-establishes one
// immediately, cancelling a pending retry. The sample buffer is retained.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("stream client is closed")
	}
	if !c.enabled {
		c.mu.Unlock()
		return nil
	}
	c.cancelReconnectLocked()
	c.closeConnLocked()
	c.connected = false
	c.reconnectAttempts++
	c.mu.Unlock()

	metrics.StreamReconnectAttempts.Inc()
	return c.dial()
}

// Disconnect tears down the connection and clears connected state. It is
// idempotent and cancels any pending retry.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.teardownLocked()
	c.mu.Unlock()
}

// SetEnabled gates the client. Disabling reports a disconnected state
// within the same synchronous call; enabling connects immediately.
func (c *Client) SetEnabled(enabled bool) {
	c.mu.Lock()
	if c.closed || c.enabled == enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = enabled
	if !enabled {
		c.teardownLocked()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	_ = c.Connect()
}

// Close permanently shuts the client down.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.teardownLocked()
	c.mu.Unlock()
}

// teardownLocked cancels the retry timer and closes the connection.
func (c *Client) teardownLocked() {
	c.cancelReconnectLocked()
	c.closeConnLocked()
	if c.connected {
		c.connected = false
		metrics.StreamConnectionStatus.Set(0)
	}
}

func (c *Client) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) closeConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		// Invalidate the read loop of the closed connection.
		c.generation++
	}
}

// Readings returns a copy of the buffered samples, oldest first.
func (c *Client) Readings() []telemetry.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]telemetry.Sample, len(c.readings))
	copy(out, c.readings)
	return out
}

// Latest returns the most recent sample, or nil before the first message.
func (c *Client) Latest() *telemetry.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return nil
	}
	latest := *c.latest
	return &latest
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.enabled
}

// Err returns the last transport or payload error, cleared on the next
// successful message.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ReconnectAttempts returns the monotonically increasing retry counter.
func (c *Client) ReconnectAttempts() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectAttempts
}

// HasPendingReconnect reports whether a retry timer is armed.
func (c *Client) HasPendingReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectTimer != nil
}
