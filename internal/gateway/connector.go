package gateway

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/infrastructure/config"
	"github.com/nerrad567/geeny-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/geeny-gateway/internal/thing"
)

// ConnectorFactory builds the broker connector of a registered thing.
type ConnectorFactory interface {
	Connector(info device.Info) thing.BrokerConnector
}

// CertificateSource locates the certificates issued to a thing.
// *cloud.CertificateStore implements it.
type CertificateSource interface {
	Paths(peripheralID string) (device.CertificatePaths, bool)
}

// session is the part of *mqtt.Client a connector drives.
type session interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	SetOnDisconnect(callback func(err error))
	Close() error
}

// MQTTConnectorFactory creates one MQTT session per registered thing.
type MQTTConnectorFactory struct {
	cfg    config.MQTTConfig
	certs  CertificateSource
	logger Logger
	dial   func(opts mqtt.Options) (session, error)
}

// NewMQTTConnectorFactory creates a factory for the configured broker.
func NewMQTTConnectorFactory(cfg config.MQTTConfig, certs CertificateSource, logger Logger) *MQTTConnectorFactory {
	if logger == nil {
		logger = noopLogger{}
	}
	f := &MQTTConnectorFactory{cfg: cfg, certs: certs, logger: logger}
	f.dial = func(opts mqtt.Options) (session, error) {
		c, err := mqtt.Connect(opts)
		if err != nil {
			return nil, err
		}
		c.SetLogger(logger)
		return c, nil
	}
	return f
}

// Connector returns a connector for info. The session is opened on the
// first Connect.
func (f *MQTTConnectorFactory) Connector(info device.Info) thing.BrokerConnector {
	return &mqttConnector{
		peripheralID: info.PeripheralID,
		topics:       mqtt.Topics{CloudID: info.CloudID},
		open:         func() (session, error) { return f.open(info) },
		logger:       f.logger,
	}
}

func (f *MQTTConnectorFactory) open(info device.Info) (session, error) {
	var tlsCfg *tls.Config
	if f.cfg.Broker.TLS {
		paths, ok := f.certs.Paths(info.PeripheralID)
		if !ok {
			return nil, fmt.Errorf("%w: none recorded for %s", mqtt.ErrCertificateNotFound, info.PeripheralID)
		}
		var err error
		tlsCfg, err = mqtt.LoadClientTLS(mqtt.CertificateFiles{
			CA:            paths.CA,
			Cert:          paths.Cert,
			Key:           paths.Key,
			KeyPassphrase: info.CloudID,
		})
		if err != nil {
			return nil, err
		}
	}
	return f.dial(mqtt.OptionsFromConfig(f.cfg, info.CloudID, tlsCfg))
}

// mqttConnector implements thing.BrokerConnector over one MQTT session.
// Topics are prefixed with the cloud id on the way out and stripped on the
// way in.
type mqttConnector struct {
	peripheralID string
	topics       mqtt.Topics
	open         func() (session, error)
	logger       Logger

	mu      sync.Mutex
	sess    session
	dialing bool
	gen     int
	waiters []func(thing.BrokerStatus)
	handler func(topic string, data []byte)
}

// Connect implements thing.BrokerConnector. An open session reports
// BrokerConnected at once; otherwise a dial starts in the background and
// every caller waiting on it is told the outcome.
func (c *mqttConnector) Connect(onStatus func(thing.BrokerStatus)) {
	c.mu.Lock()
	if c.sess != nil && c.sess.IsConnected() {
		c.mu.Unlock()
		onStatus(thing.BrokerStatus{State: thing.BrokerConnected})
		return
	}
	c.waiters = append(c.waiters, onStatus)
	if c.dialing {
		c.mu.Unlock()
		return
	}
	stale := c.sess
	c.sess = nil
	c.dialing = true
	gen := c.gen
	c.mu.Unlock()

	if stale != nil {
		_ = stale.Close() //nolint:errcheck // replaced by a fresh session
	}
	onStatus(thing.BrokerStatus{State: thing.BrokerConnecting})
	go c.dial(gen)
}

func (c *mqttConnector) dial(gen int) {
	s, err := c.open()

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.dialing = false
	abandoned := gen != c.gen
	if err == nil && !abandoned {
		c.sess = s
	}
	c.mu.Unlock()

	status := thing.BrokerStatus{State: thing.BrokerConnected}
	switch {
	case err != nil:
		c.logger.Warn("broker connect failed", "peripheral_id", c.peripheralID, "error", err)
		status = thing.BrokerStatus{State: thing.BrokerError, Err: err}
	case abandoned:
		_ = s.Close() //nolint:errcheck // disconnected while dialing
		status = thing.BrokerStatus{State: thing.BrokerDisconnected}
	default:
		c.logger.Info("broker connected", "peripheral_id", c.peripheralID, "client_id", c.topics.CloudID)
		s.SetOnDisconnect(func(err error) {
			c.logger.Warn("broker connection lost", "peripheral_id", c.peripheralID, "error", err)
		})
	}

	for _, w := range waiters {
		w(status)
	}
}

// Disconnect implements thing.BrokerConnector.
func (c *mqttConnector) Disconnect() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.gen++
	c.mu.Unlock()

	if s != nil {
		_ = s.Close() //nolint:errcheck // Close never fails
	}
}

// Publish implements thing.BrokerConnector.
func (c *mqttConnector) Publish(topic string, data []byte) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.Publish(c.topics.Characteristic(topic), data)
}

// Subscribe implements thing.BrokerConnector.
func (c *mqttConnector) Subscribe(topic string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.Subscribe(c.topics.Characteristic(topic), c.deliver)
}

// Unsubscribe implements thing.BrokerConnector.
func (c *mqttConnector) Unsubscribe(topic string) error {
	s, err := c.session()
	if err != nil {
		return err
	}
	return s.Unsubscribe(c.topics.Characteristic(topic))
}

// SetMessageHandler implements thing.BrokerConnector.
func (c *mqttConnector) SetMessageHandler(h func(topic string, data []byte)) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *mqttConnector) session() (session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, mqtt.ErrNotConnected
	}
	return c.sess, nil
}

// deliver routes an inbound message of this thing to the handler under
// its characteristic topic.
func (c *mqttConnector) deliver(full string, payload []byte) error {
	topic, ok := c.topics.Parse(full)
	if !ok {
		c.logger.Debug("broker message for another thing dropped", "topic", full)
		return nil
	}

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(topic, payload)
	}
	return nil
}
