package thing

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/device"
)

// Options configures a Thing.
type Options struct {
	Info device.Info

	// Peripheral backs device-side operations. Nil for virtual things.
	Peripheral ble.Peripheral

	// Router installs the Thing as the peripheral's handler. Pass the
	// scheduler that connected the peripheral so the install is ordered
	// with GATT detection. Nil sets the handler directly.
	Router HandlerRouter

	// Connector backs broker-side operations. Nil until registered.
	Connector BrokerConnector

	// BrokerExecutor runs the broker publish for each device value, off
	// the BLE executor. Defaults to a bounded worker owned by the Thing.
	BrokerExecutor ble.Executor

	Logger   Logger
	Recorder Recorder

	// Now defaults to time.Now.
	Now func() time.Time
}

// HandlerRouter installs peripheral handlers. *ble.Scheduler implements it.
type HandlerRouter interface {
	Attach(p ble.Peripheral, h ble.PeripheralHandler)
}

// Thing routes values between a device's characteristics and broker topics.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Device events arrive on the BLE executor. They only take the internal
//     lock briefly and hand broker work to the broker worker, so a slow
//     broker never holds up the radio.
//   - Transforms run without the lock held and may call back into the
//     Thing.
//
// Routing:
//   - publishing holds one registration per characteristic UUID, and
//     subscribing one per topic. Each is a single-slot queue: a persistent
//     registration is only replaced by another persistent one.
//   - A one-shot registration is removed when its value arrives.
type Thing struct {
	mu         sync.Mutex
	info       device.Info
	peripheral ble.Peripheral
	connector  BrokerConnector

	publishing  *queue // key: upper-cased characteristic UUID
	subscribing *queue // key: characteristic topic

	// broker runs device-value publishes; owned is set when the Thing
	// created it and must stop it on Close.
	broker ble.Executor
	owned  *brokerWorker

	logger   Logger
	recorder Recorder
	now      func() time.Time
}

// New creates a Thing and takes over the event streams of its peripheral
// and connector. A physical thing with AutoPublish set starts publishing
// every notifying characteristic.
func New(opts Options) *Thing {
	t := &Thing{
		info:        opts.Info.Clone(),
		peripheral:  opts.Peripheral,
		connector:   opts.Connector,
		publishing:  newQueue(),
		subscribing: newQueue(),
		logger:      opts.Logger,
		recorder:    opts.Recorder,
		now:         opts.Now,
	}
	if t.logger == nil {
		t.logger = noopLogger{}
	}
	if t.recorder == nil {
		t.recorder = noopRecorder{}
	}
	if t.now == nil {
		t.now = time.Now
	}
	t.broker = opts.BrokerExecutor
	if t.broker == nil {
		t.owned = newBrokerWorker(t.logger)
		t.broker = t.owned
	}

	if t.connector != nil {
		t.connector.SetMessageHandler(t.HandleBrokerMessage)
	}
	if t.peripheral != nil {
		if opts.Router != nil {
			opts.Router.Attach(t.peripheral, peripheralEvents{t})
		} else {
			t.peripheral.SetHandler(peripheralEvents{t})
		}
		if t.connector != nil && t.info.AutoPublish {
			t.startAutoPublish()
		}
	}
	return t
}

// Info returns a copy of the thing's description.
func (t *Thing) Info() device.Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.Clone()
}

// SetInfo replaces the thing's description. Switching AutoPublish on
// publishes every notifying characteristic; switching it off stops them.
func (t *Thing) SetInfo(info device.Info) {
	t.mu.Lock()
	was := t.info.AutoPublish
	t.info = info.Clone()
	t.mu.Unlock()

	switch {
	case !was && info.AutoPublish:
		t.startAutoPublish()
	case was && !info.AutoPublish:
		t.stopAutoPublish()
	}
}

// PeripheralID returns the id of the thing's peripheral.
func (t *Thing) PeripheralID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info.PeripheralID
}

// IsPhysical reports whether the thing is backed by a peripheral.
func (t *Thing) IsPhysical() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peripheral != nil
}

// Publishing returns the UUIDs of characteristics with a live publish
// registration, sorted.
func (t *Thing) Publishing() []string {
	t.mu.Lock()
	keys := t.publishing.keys()
	t.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Subscriptions returns the topics with a live subscribe registration,
// sorted.
func (t *Thing) Subscriptions() []string {
	t.mu.Lock()
	keys := t.subscribing.keys()
	t.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// ReadAndPublish registers tr for values of char and asks the device for
// them. A persistent registration enables notifications; otherwise a single
// read is issued. Characteristics that cannot notify are always read once.
func (t *Thing) ReadAndPublish(char device.Characteristic, persistent bool, tr Transform) error {
	if tr == nil {
		tr = Identity
	}

	t.mu.Lock()
	p := t.peripheral
	if p == nil {
		t.mu.Unlock()
		tr(Result{Err: ErrIllegalState})
		return ErrIllegalState
	}
	if !char.Properties.CanNotify() {
		persistent = false
	}
	// Register before asking the device: the value can arrive before
	// SetNotify or ReadValue returns.
	stored := t.publishing.put(uuidKey(char.UUID), entry{char: char, transform: tr, persistent: persistent})
	t.mu.Unlock()

	if !stored {
		t.logger.Debug("publish registration kept", "peripheral_id", p.ID(), "characteristic", char.UUID)
	}
	if persistent {
		p.SetNotify(true, char.UUID)
	} else {
		p.ReadValue(char.UUID)
	}
	return nil
}

// StopPublishing removes the publish registration of char and disables its
// notifications.
func (t *Thing) StopPublishing(char device.Characteristic) {
	t.mu.Lock()
	t.publishing.remove(uuidKey(char.UUID))
	p := t.peripheral
	t.mu.Unlock()

	if p != nil {
		p.SetNotify(false, char.UUID)
	}
}

// Subscribe registers tr for broker messages on the topic of char and
// subscribes the connector to it, connecting first if needed.
func (t *Thing) Subscribe(char device.Characteristic, tr Transform) error {
	if tr == nil {
		tr = Identity
	}
	if char.Topic == "" {
		t.logger.Warn("subscribe skipped", "characteristic", char.UUID, "error", ErrNotSubscribable)
		return nil
	}

	t.mu.Lock()
	c := t.connector
	if c == nil {
		t.mu.Unlock()
		return ErrIllegalState
	}
	t.subscribing.put(char.Topic, entry{char: char, transform: tr, persistent: true})
	t.mu.Unlock()

	t.withBroker(c, "subscribe", func() error { return c.Subscribe(char.Topic) })
	return nil
}

// Unsubscribe removes the subscribe registration of char and unsubscribes
// the connector from its topic.
func (t *Thing) Unsubscribe(char device.Characteristic) error {
	t.mu.Lock()
	c := t.connector
	if c == nil {
		t.mu.Unlock()
		return ErrIllegalState
	}
	t.subscribing.remove(char.Topic)
	t.mu.Unlock()

	t.withBroker(c, "unsubscribe", func() error { return c.Unsubscribe(char.Topic) })
	return nil
}

// PublishToCloud publishes data on the topic of char without interception.
func (t *Thing) PublishToCloud(data []byte, char device.Characteristic) error {
	t.mu.Lock()
	c := t.connector
	t.mu.Unlock()
	if c == nil {
		return ErrIllegalState
	}

	t.withBroker(c, "publish", func() error {
		if err := c.Publish(char.Topic, data); err != nil {
			return err
		}
		t.record(char, DirectionToCloud, data)
		return nil
	})
	return nil
}

// WriteToDevice writes data to char without interception. Characteristics
// that accept no writes are skipped.
func (t *Thing) WriteToDevice(data []byte, char device.Characteristic) error {
	t.mu.Lock()
	p := t.peripheral
	t.mu.Unlock()
	if p == nil {
		return ErrIllegalState
	}
	if !char.Properties.CanWrite() {
		t.logger.Warn("write skipped", "peripheral_id", p.ID(), "characteristic", char.UUID,
			"properties", char.Properties.String(), "error", ErrNotWriteCapable)
		return nil
	}

	p.WriteValue(data, char.UUID, char.Properties.WriteMode())
	t.record(char, DirectionToDevice, data)
	return nil
}

// HandleBrokerMessage routes an inbound broker message to the device
// through the subscribe registration of topic.
func (t *Thing) HandleBrokerMessage(topic string, data []byte) {
	t.mu.Lock()
	e, ok := t.subscribing.get(topic)
	t.mu.Unlock()
	if !ok {
		t.logger.Debug("broker message dropped", "topic", topic)
		return
	}

	out := e.transform(Result{Data: data})
	if out == nil {
		return
	}
	// Subscriptions are persistent; the registration stays for the next
	// message.
	if err := t.WriteToDevice(out, e.char); err != nil {
		t.logger.Warn("broker message not written", "topic", topic, "error", err)
	}
}

// Close stops every registration and disconnects the broker.
func (t *Thing) Close() {
	t.mu.Lock()
	p, c := t.peripheral, t.connector
	published := t.publishing.keys()
	t.publishing = newQueue()
	t.subscribing = newQueue()
	t.mu.Unlock()

	if p != nil {
		for _, uuid := range published {
			p.SetNotify(false, uuid)
		}
	}
	// Stop the worker first, or a queued publish would reconnect the broker
	// right after Disconnect.
	if t.owned != nil {
		t.owned.close()
	}
	if c != nil {
		c.Disconnect()
	}
}

// valueUpdated handles a value pushed or read from the device.
func (t *Thing) valueUpdated(characteristic string, value []byte, err error) {
	key := uuidKey(characteristic)

	t.mu.Lock()
	e, ok := t.publishing.get(key)
	// A one-shot registration is consumed by its first value, failed or not.
	if ok && !e.persistent {
		t.publishing.remove(key)
	}
	c := t.connector
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("device value dropped", "characteristic", characteristic)
		return
	}

	// The transform still sees the error so one-shot callers learn the read
	// failed. Nothing is published.
	if err != nil {
		e.transform(Result{Err: err})
		t.logger.Debug("device value error", "characteristic", characteristic, "error", err)
		return
	}

	// Drivers may reuse value; the transform gets its own copy.
	out := e.transform(Result{Data: slices.Clone(value)})
	if out == nil {
		return
	}
	if c == nil {
		t.logger.Debug("device value not published", "characteristic", characteristic, "error", ErrIllegalState)
		return
	}
	// Connect and Publish may wait on the broker; keep them off the caller,
	// which is the BLE executor.
	t.broker.Submit(func() {
		if err := t.PublishToCloud(out, e.char); err != nil {
			t.logger.Warn("device value not published", "characteristic", characteristic, "error", err)
		}
	})
}

// withBroker runs op once the connector reports a connection. Failures are
// logged.
func (t *Thing) withBroker(c BrokerConnector, op string, fn func() error) {
	// The connector reports every reconnect; op belongs to the first one.
	var once sync.Once
	c.Connect(func(st BrokerStatus) {
		switch st.State {
		case BrokerConnected:
			once.Do(func() {
				if err := fn(); err != nil {
					t.logger.Error("broker "+op+" failed", "error", err)
				}
			})
		case BrokerError:
			t.logger.Error("broker connection failed", "op", op, "error", st.Err)
		case BrokerDisconnected:
			t.logger.Debug("broker disconnected", "op", op)
		}
	})
}

func (t *Thing) startAutoPublish() {
	for _, char := range t.notifying() {
		if err := t.ReadAndPublish(char, true, Identity); err != nil {
			t.logger.Debug("auto-publish skipped", "characteristic", char.UUID, "error", err)
		}
	}
}

func (t *Thing) stopAutoPublish() {
	for _, char := range t.notifying() {
		t.StopPublishing(char)
	}
}

func (t *Thing) notifying() []device.Characteristic {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []device.Characteristic
	for _, c := range t.info.Characteristics {
		if c.Properties.CanNotify() {
			out = append(out, c)
		}
	}
	return out
}

func (t *Thing) record(char device.Characteristic, dir Direction, data []byte) {
	t.mu.Lock()
	ev := Event{
		PeripheralID:   t.info.PeripheralID,
		CloudID:        t.info.CloudID,
		Characteristic: char.UUID,
		Topic:          char.Topic,
		Direction:      dir,
		Data:           slices.Clone(data),
		Timestamp:      t.now(),
	}
	t.mu.Unlock()
	t.recorder.Record(ev)
}

func (t *Thing) String() string {
	info := t.Info()
	return fmt.Sprintf("thing(%s %q)", info.PeripheralID, info.DisplayName())
}

func uuidKey(uuid string) string {
	return strings.ToUpper(uuid)
}

// peripheralEvents adapts a Thing to ble.PeripheralHandler.
type peripheralEvents struct {
	t *Thing
}

func (peripheralEvents) ServicesDiscovered(ble.Peripheral, []string, error) {}

func (peripheralEvents) CharacteristicsDiscovered(ble.Peripheral, string, []ble.CharacteristicInfo, error) {
}

func (h peripheralEvents) ValueUpdated(_ ble.Peripheral, characteristic string, value []byte, err error) {
	h.t.valueUpdated(characteristic, value, err)
}
