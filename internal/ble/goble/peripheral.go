package goble

import (
	"slices"
	"sync"

	gble "github.com/go-ble/ble"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/device"
)

const opQueueSize = 64

// Peripheral implements ble.Peripheral for a device seen by a Radio.
// GATT operations run in order on a per-connection worker goroutine.
type Peripheral struct {
	id     string
	exec   ble.Executor
	logger Logger

	mu       sync.Mutex
	name     string
	state    ble.PeripheralState
	handler  ble.PeripheralHandler
	client   gble.Client
	ops      chan func(gble.Client)
	stop     chan struct{}
	services map[string]*gble.Service
	chars    map[string]*gble.Characteristic
}

func newPeripheral(id, name string, exec ble.Executor, logger Logger) *Peripheral {
	return &Peripheral{id: id, name: name, exec: exec, logger: logger}
}

// ID implements ble.Peripheral.
func (p *Peripheral) ID() string { return p.id }

// Name implements ble.Peripheral.
func (p *Peripheral) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *Peripheral) setName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
}

// State implements ble.Peripheral.
func (p *Peripheral) State() ble.PeripheralState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peripheral) setState(s ble.PeripheralState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

// Handler implements ble.Peripheral.
func (p *Peripheral) Handler() ble.PeripheralHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

// SetHandler implements ble.Peripheral.
func (p *Peripheral) SetHandler(h ble.PeripheralHandler) ble.PeripheralHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.handler
	p.handler = h
	return prev
}

func (p *Peripheral) attach(client gble.Client) {
	ops := make(chan func(gble.Client), opQueueSize)
	stop := make(chan struct{})

	p.mu.Lock()
	p.client = client
	p.ops = ops
	p.stop = stop
	p.state = ble.PeripheralConnected
	p.services = make(map[string]*gble.Service)
	p.chars = make(map[string]*gble.Characteristic)
	p.mu.Unlock()

	go func() {
		for {
			select {
			case op := <-ops:
				op(client)
			case <-stop:
				return
			}
		}
	}()
}

func (p *Peripheral) detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		close(p.stop)
	}
	p.client = nil
	p.ops = nil
	p.stop = nil
	p.state = ble.PeripheralDisconnected
}

func (p *Peripheral) cancelConnection() error {
	p.mu.Lock()
	client := p.client
	if client != nil {
		p.state = ble.PeripheralDisconnecting
	}
	p.mu.Unlock()

	if client == nil {
		return ble.ErrNotConnected
	}
	return client.CancelConnection()
}

// enqueue schedules op on the worker. It reports false when the
// peripheral is not connected.
func (p *Peripheral) enqueue(op func(gble.Client)) bool {
	p.mu.Lock()
	ops, stop := p.ops, p.stop
	p.mu.Unlock()

	if ops == nil {
		return false
	}
	select {
	case ops <- op:
		return true
	case <-stop:
		return false
	}
}

// emit delivers an event to whichever handler is installed when the
// executor runs it.
func (p *Peripheral) emit(fn func(h ble.PeripheralHandler)) {
	p.exec.Submit(func() {
		if h := p.Handler(); h != nil {
			fn(h)
		}
	})
}

// DiscoverServices implements ble.Peripheral.
func (p *Peripheral) DiscoverServices() {
	ok := p.enqueue(func(c gble.Client) {
		svcs, err := c.DiscoverServices(nil)
		uuids := make([]string, 0, len(svcs))
		p.mu.Lock()
		for _, s := range svcs {
			u := formatUUID(s.UUID)
			p.services[u] = s
			uuids = append(uuids, u)
		}
		p.mu.Unlock()
		p.emit(func(h ble.PeripheralHandler) { h.ServicesDiscovered(p, uuids, err) })
	})
	if !ok {
		p.emit(func(h ble.PeripheralHandler) { h.ServicesDiscovered(p, nil, ble.ErrNotConnected) })
	}
}

// DiscoverCharacteristics implements ble.Peripheral. Descriptors of
// notifying characteristics are discovered too, since subscribing needs
// their client configuration descriptor.
func (p *Peripheral) DiscoverCharacteristics(service string) {
	ok := p.enqueue(func(c gble.Client) {
		p.mu.Lock()
		svc := p.services[service]
		p.mu.Unlock()
		if svc == nil {
			p.emit(func(h ble.PeripheralHandler) {
				h.CharacteristicsDiscovered(p, service, nil, errUnknownService)
			})
			return
		}

		chars, err := c.DiscoverCharacteristics(nil, svc)
		infos := make([]ble.CharacteristicInfo, 0, len(chars))
		for _, ch := range chars {
			props := toProperties(ch.Property)
			if props.CanNotify() {
				if _, derr := c.DiscoverDescriptors(nil, ch); derr != nil {
					p.logger.Warn("discovering descriptors failed",
						"peripheral_id", p.id, "characteristic", formatUUID(ch.UUID), "error", derr)
				}
			}
			u := formatUUID(ch.UUID)
			p.mu.Lock()
			p.chars[u] = ch
			p.mu.Unlock()
			infos = append(infos, ble.CharacteristicInfo{UUID: u, Properties: props})
		}
		p.emit(func(h ble.PeripheralHandler) { h.CharacteristicsDiscovered(p, service, infos, err) })
	})
	if !ok {
		p.emit(func(h ble.PeripheralHandler) {
			h.CharacteristicsDiscovered(p, service, nil, ble.ErrNotConnected)
		})
	}
}

func (p *Peripheral) characteristic(uuid string) *gble.Characteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chars[uuid]
}

// ReadValue implements ble.Peripheral.
func (p *Peripheral) ReadValue(characteristic string) {
	ok := p.enqueue(func(c gble.Client) {
		ch := p.characteristic(characteristic)
		if ch == nil {
			p.emit(func(h ble.PeripheralHandler) { h.ValueUpdated(p, characteristic, nil, errUnknownCharacteristic) })
			return
		}
		v, err := c.ReadCharacteristic(ch)
		p.emit(func(h ble.PeripheralHandler) { h.ValueUpdated(p, characteristic, v, err) })
	})
	if !ok {
		p.emit(func(h ble.PeripheralHandler) { h.ValueUpdated(p, characteristic, nil, ble.ErrNotConnected) })
	}
}

// SetNotify implements ble.Peripheral. Indications are used when the
// characteristic cannot notify.
func (p *Peripheral) SetNotify(enabled bool, characteristic string) {
	ok := p.enqueue(func(c gble.Client) {
		ch := p.characteristic(characteristic)
		if ch == nil {
			p.logger.Warn("notify on unknown characteristic", "peripheral_id", p.id, "characteristic", characteristic)
			return
		}
		props := toProperties(ch.Property)
		ind := !props.Has(device.PropNotify) && props.Has(device.PropIndicate)

		var err error
		if enabled {
			err = c.Subscribe(ch, ind, func(b []byte) {
				v := slices.Clone(b)
				p.emit(func(h ble.PeripheralHandler) { h.ValueUpdated(p, characteristic, v, nil) })
			})
		} else {
			err = c.Unsubscribe(ch, ind)
		}
		if err != nil {
			p.logger.Warn("changing notification state failed",
				"peripheral_id", p.id, "characteristic", characteristic, "enabled", enabled, "error", err)
		}
	})
	if !ok {
		p.logger.Debug("notify on disconnected peripheral", "peripheral_id", p.id, "characteristic", characteristic)
	}
}

// WriteValue implements ble.Peripheral.
func (p *Peripheral) WriteValue(data []byte, characteristic string, mode device.WriteMode) {
	value := slices.Clone(data)
	ok := p.enqueue(func(c gble.Client) {
		ch := p.characteristic(characteristic)
		if ch == nil {
			p.logger.Warn("write to unknown characteristic", "peripheral_id", p.id, "characteristic", characteristic)
			return
		}
		if err := c.WriteCharacteristic(ch, value, mode == device.WriteWithoutResponse); err != nil {
			p.logger.Warn("write failed", "peripheral_id", p.id, "characteristic", characteristic, "error", err)
		}
	})
	if !ok {
		p.logger.Debug("write on disconnected peripheral", "peripheral_id", p.id, "characteristic", characteristic)
	}
}
