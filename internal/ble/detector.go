package ble

import (
	"strings"

	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/protocol"
)

// Detector walks a connected peripheral's GATT tree and decodes the native
// descriptor when the peripheral exposes one.
//
// Thread Safety:
//   - Not safe for concurrent use. Every method runs on the scheduler's
//     executor, which also delivers the peripheral events.
//   - One detection at a time. A second Discover fails with ErrBusy.
//
// Handler ownership:
//   - While detecting, the Detector is the peripheral's handler. Values for
//     characteristics other than the descriptor are forwarded to the
//     handler it displaced.
//   - On completion the displaced handler is put back, but only while the
//     Detector still owns the peripheral. A handler installed through
//     handOver takes the displaced handler's place instead.
//   - If something else installed a handler directly, the Detector no
//     longer receives events. The next Discover notices this and fails the
//     orphaned detection with ErrDisplaced rather than staying busy.
type Detector struct {
	logger Logger

	target    Peripheral
	previous  PeripheralHandler
	remaining map[string]struct{}
	chars     []device.Characteristic
	candidate string
	reading   bool
	done      func(GATTResult, error)
}

// NewDetector creates an idle Detector.
func NewDetector(logger Logger) *Detector {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Detector{logger: logger}
}

// Busy reports whether a detection is in flight.
func (d *Detector) Busy() bool {
	return d.done != nil
}

// Discover starts a detection. done is called exactly once, with ErrBusy
// right away if another detection is in flight.
func (d *Detector) Discover(p Peripheral, done func(GATTResult, error)) {
	if d.displaced() {
		d.logger.Warn("gatt detection lost its peripheral handler", "peripheral_id", d.target.ID())
		d.finish(GATTResult{}, ErrDisplaced)
	}
	if d.done != nil {
		done(GATTResult{}, ErrBusy)
		return
	}
	if p.State() != PeripheralConnected {
		done(GATTResult{}, ErrNotConnected)
		return
	}

	d.target = p
	d.remaining = make(map[string]struct{})
	d.chars = nil
	d.candidate = ""
	d.reading = false
	d.done = done
	d.previous = p.SetHandler(d)

	d.logger.Debug("gatt detection started", "peripheral_id", p.ID())
	p.DiscoverServices()
}

// abort ends an in-flight detection on p with err.
func (d *Detector) abort(p Peripheral, err error) {
	if d.target == nil || !strings.EqualFold(d.target.ID(), p.ID()) {
		return
	}
	d.finish(GATTResult{}, err)
}

// handOver makes h the receiver of p's events. A detection running on p
// keeps the peripheral and installs h when it ends.
func (d *Detector) handOver(p Peripheral, h PeripheralHandler) {
	if d.active(p) && !d.displaced() {
		d.previous = h
		return
	}
	p.SetHandler(h)
}

// displaced reports whether the running detection lost the peripheral's
// handler slot to someone else.
func (d *Detector) displaced() bool {
	return d.done != nil && d.target.Handler() != PeripheralHandler(d)
}

func (d *Detector) active(p Peripheral) bool {
	return d.done != nil && strings.EqualFold(d.target.ID(), p.ID())
}

// ServicesDiscovered implements PeripheralHandler.
func (d *Detector) ServicesDiscovered(p Peripheral, services []string, err error) {
	if !d.active(p) {
		return
	}
	if err != nil {
		d.finish(GATTResult{}, err)
		return
	}
	if len(services) == 0 {
		d.finish(GATTResult{Characteristics: []device.Characteristic{}}, nil)
		return
	}

	var order []string
	for _, svc := range services {
		key := strings.ToUpper(svc)
		if _, dup := d.remaining[key]; dup {
			continue
		}
		d.remaining[key] = struct{}{}
		order = append(order, svc)
	}
	for _, svc := range order {
		p.DiscoverCharacteristics(svc)
	}
}

// CharacteristicsDiscovered implements PeripheralHandler.
func (d *Detector) CharacteristicsDiscovered(p Peripheral, service string, chars []CharacteristicInfo, err error) {
	if !d.active(p) || d.reading {
		return
	}
	if err != nil {
		d.finish(GATTResult{}, err)
		return
	}

	key := strings.ToUpper(service)
	if _, pending := d.remaining[key]; !pending {
		return
	}

	isDescriptorService := strings.EqualFold(service, protocol.ServiceID)
	for _, c := range chars {
		d.chars = append(d.chars, device.NewCharacteristic(c.UUID, c.Properties))
		if isDescriptorService && strings.EqualFold(c.UUID, protocol.CharacteristicID) {
			d.candidate = c.UUID
		}
	}

	delete(d.remaining, key)
	if len(d.remaining) > 0 {
		return
	}

	if d.candidate == "" {
		d.finish(d.result(nil), nil)
		return
	}
	d.reading = true
	p.ReadValue(d.candidate)
}

// ValueUpdated implements PeripheralHandler. Updates for other
// characteristics are passed on to the displaced handler.
func (d *Detector) ValueUpdated(p Peripheral, characteristic string, value []byte, err error) {
	if !d.active(p) || !d.reading || !strings.EqualFold(characteristic, d.candidate) {
		if d.previous != nil {
			d.previous.ValueUpdated(p, characteristic, value, err)
		}
		return
	}
	if err != nil {
		d.finish(GATTResult{}, err)
		return
	}

	info, ok := protocol.Decode(value)
	if !ok {
		d.logger.Debug("descriptor not decodable", "peripheral_id", p.ID(), "len", len(value))
		d.finish(d.result(nil), nil)
		return
	}
	d.finish(d.result(&info), nil)
}

func (d *Detector) result(info *protocol.Info) GATTResult {
	chars := d.chars
	if chars == nil {
		chars = []device.Characteristic{}
	}
	return GATTResult{Characteristics: chars, Protocol: info}
}

func (d *Detector) finish(res GATTResult, err error) {
	done := d.done
	target := d.target
	previous := d.previous

	d.target = nil
	d.previous = nil
	d.remaining = nil
	d.chars = nil
	d.candidate = ""
	d.reading = false
	d.done = nil

	// Whoever displaced the detector keeps the peripheral.
	if target.Handler() == PeripheralHandler(d) {
		target.SetHandler(previous)
	}

	if err != nil {
		d.logger.Debug("gatt detection failed", "peripheral_id", target.ID(), "error", err)
	} else {
		d.logger.Debug("gatt detection finished", "peripheral_id", target.ID(),
			"characteristics", len(res.Characteristics), "native", res.Protocol != nil)
	}
	done(res, err)
}
