package thing

import "fmt"

// BrokerState is the connection state reported by a BrokerConnector.
type BrokerState int

// Broker states.
const (
	BrokerConnecting BrokerState = iota
	BrokerConnected
	BrokerDisconnected
	BrokerError
)

func (s BrokerState) String() string {
	switch s {
	case BrokerConnecting:
		return "connecting"
	case BrokerConnected:
		return "connected"
	case BrokerDisconnected:
		return "disconnected"
	case BrokerError:
		return "error"
	default:
		return fmt.Sprintf("BrokerState(%d)", int(s))
	}
}

// BrokerStatus is a connection status update. Err is set for BrokerError.
type BrokerStatus struct {
	State BrokerState
	Err   error
}

// BrokerConnector is the broker capability of a registered thing. Topics
// are characteristic topics; the connector maps them to broker addresses.
type BrokerConnector interface {
	// Connect establishes the connection if needed and reports status
	// changes to onStatus. When already connected, onStatus receives
	// BrokerConnected right away.
	Connect(onStatus func(BrokerStatus))

	// Disconnect closes the connection.
	Disconnect()

	Publish(topic string, data []byte) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error

	// SetMessageHandler installs the receiver of inbound messages.
	SetMessageHandler(h func(topic string, data []byte))
}
