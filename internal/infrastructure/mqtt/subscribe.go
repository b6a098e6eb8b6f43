package mqtt

import "fmt"

// Subscribe routes messages on topic to h at the session QoS. The
// subscription is kept across reconnects until Unsubscribe.
func (c *Client) Subscribe(topic string, h MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case h == nil:
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.track(topic, h)
	err := await(c.client.Subscribe(topic, c.qos, c.deliver(h)), defaultPublishTimeout, ErrSubscribeFailed)
	if err != nil {
		c.track(topic, nil)
	}
	return err
}

// Unsubscribe stops routing topic. The subscription is forgotten even when
// the broker does not acknowledge.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.track(topic, nil)
	return await(c.client.Unsubscribe(topic), defaultPublishTimeout, ErrUnsubscribeFailed)
}

// track records h for topic, or forgets topic when h is nil.
func (c *Client) track(topic string, h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		delete(c.subscriptions, topic)
		return
	}
	c.subscriptions[topic] = h
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether topic is tracked.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}
