package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps a single characteristic value forwarded to the broker.
const maxPayloadSize = 1 << 20

// Client is one thing's broker session. The cloud id of the thing is the
// client id, and its certificate authenticates the TLS connection. Tracked
// subscriptions are restored after paho reconnects. Safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	opts   Options
	qos    byte

	mu            sync.RWMutex
	up            bool
	subscriptions map[string]MessageHandler
	onLost        func(error)
	logger        Logger
}

// Logger is satisfied by *logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives a message for a subscribed topic. It runs on
// paho's delivery goroutine. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Connect opens the session and waits for the broker's CONNACK.
func Connect(opts Options) (*Client, error) {
	if opts.ClientID == "" {
		return nil, ErrInvalidClientID
	}
	if opts.QoS < 0 || opts.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}

	c := &Client{
		opts:          opts,
		qos:           byte(opts.QoS),
		subscriptions: make(map[string]MessageHandler),
	}

	po := buildClientOptions(opts)
	po.SetOnConnectHandler(func(pahomqtt.Client) { c.connected() })
	po.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) })
	c.client = pahomqtt.NewClient(po)

	if err := await(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		c.client.Disconnect(0)
		return nil, err
	}

	// OnConnect fires asynchronously; do not make the caller wait for it.
	c.mu.Lock()
	c.up = true
	c.mu.Unlock()
	return c, nil
}

// await waits for a paho token and wraps a timeout or failure in op.
func await(tok pahomqtt.Token, timeout time.Duration, op error) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("%w: no broker response within %v", op, timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", op, err)
	}
	return nil
}

// ClientID returns the cloud id the session was opened with.
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

func (c *Client) connected() {
	c.mu.Lock()
	c.up = true
	subs := make(map[string]MessageHandler, len(c.subscriptions))
	for topic, h := range c.subscriptions {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		// A failure here shows up as a lost session again.
		c.client.Subscribe(topic, c.qos, c.deliver(h))
	}
}

func (c *Client) lost(err error) {
	c.mu.Lock()
	c.up = false
	fn := c.onLost
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// SetOnDisconnect registers a callback for a lost connection.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onLost = fn
	c.mu.Unlock()
}

// SetLogger sets the logger for handler failures.
func (c *Client) SetLogger(l Logger) {
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

// IsConnected reports whether the session is up. False for a nil Client.
func (c *Client) IsConnected() bool {
	if c == nil || c.client == nil {
		return false
	}
	c.mu.RLock()
	up := c.up
	c.mu.RUnlock()
	return up && c.client.IsConnected()
}

// HealthCheck returns ErrNotConnected while the session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Publish sends payload to topic at the session QoS, not retained.
func (c *Client) Publish(topic string, payload []byte) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case len(payload) > maxPayloadSize:
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	case !c.IsConnected():
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, c.qos, false, payload), defaultPublishTimeout, ErrPublishFailed)
}

// Close disconnects, giving in-flight messages a short quiesce period.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.mu.Lock()
	c.up = false
	c.mu.Unlock()
	return nil
}

// deliver adapts a MessageHandler to paho, logging errors and panics.
func (c *Client) deliver(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.mu.RLock()
		log := c.logger
		c.mu.RUnlock()

		defer func() {
			if r := recover(); r != nil && log != nil {
				log.Error("mqtt handler panicked", "client_id", c.opts.ClientID, "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := h(msg.Topic(), msg.Payload()); err != nil && log != nil {
			log.Warn("mqtt handler failed", "client_id", c.opts.ClientID, "topic", msg.Topic(), "error", err)
		}
	}
}
