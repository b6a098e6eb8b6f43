package bletest

import (
	"slices"
	"sync"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/device"
)

// NotifyCall records a SetNotify call.
type NotifyCall struct {
	Characteristic string
	Enabled        bool
}

// WriteCall records a WriteValue call.
type WriteCall struct {
	Characteristic string
	Data           []byte
	Mode           device.WriteMode
}

// Service describes a GATT service served by an auto-responding Peripheral.
type Service struct {
	UUID            string
	Characteristics []ble.CharacteristicInfo
}

// Peripheral is an in-memory ble.Peripheral.
//
// By default every operation is only recorded. After SetGATT the peripheral
// answers discovery and reads itself, synchronously.
type Peripheral struct {
	mu      sync.Mutex
	id      string
	name    string
	state   ble.PeripheralState
	handler ble.PeripheralHandler

	auto     bool
	services []Service
	values   map[string][]byte

	serviceDiscoveries int
	charDiscoveries    []string
	reads              []string
	notifies           []NotifyCall
	writes             []WriteCall
}

// NewPeripheral creates a disconnected Peripheral.
func NewPeripheral(id, name string) *Peripheral {
	return &Peripheral{id: id, name: name, values: make(map[string][]byte)}
}

// SetGATT makes the peripheral answer discovery with services and reads
// with values.
func (p *Peripheral) SetGATT(services []Service, values map[string][]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.auto = true
	p.services = services
	p.values = values
}

// ID implements ble.Peripheral.
func (p *Peripheral) ID() string { return p.id }

// Name implements ble.Peripheral.
func (p *Peripheral) Name() string { return p.name }

// State implements ble.Peripheral.
func (p *Peripheral) State() ble.PeripheralState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SetState sets the connection state.
func (p *Peripheral) SetState(s ble.PeripheralState) {
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

// DiscoverServices implements ble.Peripheral.
func (p *Peripheral) DiscoverServices() {
	p.mu.Lock()
	p.serviceDiscoveries++
	auto := p.auto
	var uuids []string
	for _, s := range p.services {
		uuids = append(uuids, s.UUID)
	}
	p.mu.Unlock()

	if auto {
		p.SimulateServices(uuids, nil)
	}
}

// DiscoverCharacteristics implements ble.Peripheral.
func (p *Peripheral) DiscoverCharacteristics(service string) {
	p.mu.Lock()
	p.charDiscoveries = append(p.charDiscoveries, service)
	auto := p.auto
	var chars []ble.CharacteristicInfo
	for _, s := range p.services {
		if s.UUID == service {
			chars = slices.Clone(s.Characteristics)
		}
	}
	p.mu.Unlock()

	if auto {
		p.SimulateCharacteristics(service, chars, nil)
	}
}

// ReadValue implements ble.Peripheral.
func (p *Peripheral) ReadValue(characteristic string) {
	p.mu.Lock()
	p.reads = append(p.reads, characteristic)
	auto := p.auto
	value, ok := p.values[characteristic]
	p.mu.Unlock()

	if auto && ok {
		p.SimulateValue(characteristic, value, nil)
	}
}

// SetNotify implements ble.Peripheral.
func (p *Peripheral) SetNotify(enabled bool, characteristic string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifies = append(p.notifies, NotifyCall{Characteristic: characteristic, Enabled: enabled})
}

// WriteValue implements ble.Peripheral.
func (p *Peripheral) WriteValue(data []byte, characteristic string, mode device.WriteMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, WriteCall{Characteristic: characteristic, Data: slices.Clone(data), Mode: mode})
}

// ServiceDiscoveries returns the number of DiscoverServices calls.
func (p *Peripheral) ServiceDiscoveries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serviceDiscoveries
}

// CharacteristicDiscoveries returns the services passed to
// DiscoverCharacteristics, in order.
func (p *Peripheral) CharacteristicDiscoveries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.charDiscoveries)
}

// Reads returns the characteristics passed to ReadValue, in order.
func (p *Peripheral) Reads() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.reads)
}

// Notifies returns the recorded SetNotify calls.
func (p *Peripheral) Notifies() []NotifyCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.notifies)
}

// Writes returns the recorded WriteValue calls.
func (p *Peripheral) Writes() []WriteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.writes)
}

// ClearCalls forgets every recorded call.
func (p *Peripheral) ClearCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.serviceDiscoveries = 0
	p.charDiscoveries = nil
	p.reads = nil
	p.notifies = nil
	p.writes = nil
}

// SimulateServices delivers a service discovery result.
func (p *Peripheral) SimulateServices(services []string, err error) {
	if h := p.Handler(); h != nil {
		h.ServicesDiscovered(p, services, err)
	}
}

// SimulateCharacteristics delivers a characteristic discovery result.
func (p *Peripheral) SimulateCharacteristics(service string, chars []ble.CharacteristicInfo, err error) {
	if h := p.Handler(); h != nil {
		h.CharacteristicsDiscovered(p, service, chars, err)
	}
}

// SimulateValue delivers a value update.
func (p *Peripheral) SimulateValue(characteristic string, value []byte, err error) {
	if h := p.Handler(); h != nil {
		h.ValueUpdated(p, characteristic, value, err)
	}
}
