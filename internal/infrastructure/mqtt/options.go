package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/geeny-gateway/internal/infrastructure/config"
)

// Connection constants.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 60 * time.Second

	maxQoS = 2
)

// Options configures one broker connection. Each registered thing gets
// its own connection, identified by the thing's cloud id.
type Options struct {
	Broker    config.MQTTBrokerConfig
	QoS       int
	Reconnect config.MQTTReconnectConfig

	// ClientID is the thing's cloud id.
	ClientID string

	// TLSConfig carries the thing's client certificate. Used when
	// Broker.TLS is set; nil falls back to the system roots.
	TLSConfig *tls.Config
}

// OptionsFromConfig fills the broker settings from cfg.
func OptionsFromConfig(cfg config.MQTTConfig, clientID string, tlsCfg *tls.Config) Options {
	return Options{
		Broker:    cfg.Broker,
		QoS:       cfg.QoS,
		Reconnect: cfg.Reconnect,
		ClientID:  clientID,
		TLSConfig: tlsCfg,
	}
}

// BrokerURL returns the paho broker address, ssl:// when TLS is enabled.
func (o Options) BrokerURL() string {
	scheme := "tcp"
	if o.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, o.Broker.Host, o.Broker.Port)
}

// buildClientOptions creates paho MQTT options.
//
// Sessions are clean; subscriptions are restored by the Client after a
// reconnect. Protocol version is pinned to 3.1.1.
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.BrokerURL())
	opts.SetClientID(o.ClientID)
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	if o.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(time.Duration(o.Reconnect.MaxDelay) * time.Second)
	}
	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := defaultKeepAlive
	if o.Broker.KeepAlive > 0 {
		keepAlive = time.Duration(o.Broker.KeepAlive) * time.Second
	}
	opts.SetKeepAlive(keepAlive)

	if o.Broker.TLS {
		tlsCfg := o.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{MinVersion: tlsMinVersion}
		}
		opts.SetTLSConfig(tlsCfg)
	}

	return opts
}
