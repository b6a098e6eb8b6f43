package gateway

import (
	"sync"

	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/thing"
)

// ThingProvider hands out one Thing per peripheral id. Registered things get
// a broker connector and, while their peripheral is connected, the
// peripheral. Unregistered things get neither.
type ThingProvider struct {
	radio      Radio
	connectors ConnectorFactory
	logger     Logger
	recorder   thing.Recorder

	mu           sync.Mutex
	registered   map[string]*thing.Thing
	unregistered map[string]*thing.Thing
}

// NewThingProvider creates a provider.
func NewThingProvider(radio Radio, connectors ConnectorFactory, logger Logger, recorder thing.Recorder) *ThingProvider {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ThingProvider{
		radio:        radio,
		connectors:   connectors,
		logger:       logger,
		recorder:     recorder,
		registered:   make(map[string]*thing.Thing),
		unregistered: make(map[string]*thing.Thing),
	}
}

// Thing returns the Thing for info, creating it on first use. A registered
// thing that was created while its peripheral was away is rebuilt once the
// peripheral is connected.
func (p *ThingProvider) Thing(info device.Info) *thing.Thing {
	id := info.PeripheralID

	p.mu.Lock()
	defer p.mu.Unlock()

	if !info.IsRegistered() {
		if t, ok := p.unregistered[id]; ok {
			return t
		}
		t := thing.New(thing.Options{Info: info, Logger: p.logger, Recorder: p.recorder})
		p.unregistered[id] = t
		return t
	}

	peripheral, connected := p.radio.ConnectedPeripheral(id)
	if t, ok := p.registered[id]; ok {
		if t.IsPhysical() || !connected {
			return t
		}
		p.logger.Debug("peripheral back, rebuilding thing", "peripheral_id", id)
		t.Close()
		delete(p.registered, id)
	}
	if stale, ok := p.unregistered[id]; ok {
		stale.Close()
		delete(p.unregistered, id)
	}

	opts := thing.Options{
		Info:      info,
		Connector: p.connectors.Connector(info),
		Logger:    p.logger,
		Recorder:  p.recorder,
	}
	if connected {
		// The scheduler may still be refreshing this peripheral's GATT cache.
		opts.Peripheral = peripheral
		opts.Router = p.radio
	}
	t := thing.New(opts)
	p.registered[id] = t
	return t
}

// Registered returns the cached registered Thing of a peripheral.
func (p *ThingProvider) Registered(peripheralID string) (*thing.Thing, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.registered[peripheralID]
	return t, ok
}

// Close closes every Thing and empties the cache.
func (p *ThingProvider) Close() {
	p.mu.Lock()
	things := make([]*thing.Thing, 0, len(p.registered)+len(p.unregistered))
	for _, t := range p.registered {
		things = append(things, t)
	}
	for _, t := range p.unregistered {
		things = append(things, t)
	}
	p.registered = make(map[string]*thing.Thing)
	p.unregistered = make(map[string]*thing.Thing)
	p.mu.Unlock()

	for _, t := range things {
		t.Close()
	}
}
