package bletest

import (
	"slices"
	"sync"

	"github.com/nerrad567/geeny-gateway/internal/ble"
)

// Radio is an in-memory ble.Radio.
type Radio struct {
	mu        sync.Mutex
	state     ble.RadioState
	handler   ble.RadioHandler
	scanning  bool
	scans     [][]string
	stopScans int
	connects  []string
}

// NewRadio creates a Radio in the given state.
func NewRadio(state ble.RadioState) *Radio {
	return &Radio{state: state}
}

// State implements ble.Radio.
func (r *Radio) State() ble.RadioState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Scan implements ble.Radio.
func (r *Radio) Scan(services []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanning = true
	r.scans = append(r.scans, slices.Clone(services))
}

// StopScan implements ble.Radio.
func (r *Radio) StopScan() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanning = false
	r.stopScans++
}

// Connect implements ble.Radio.
func (r *Radio) Connect(p ble.Peripheral) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects = append(r.connects, p.ID())
	if fp, ok := p.(*Peripheral); ok {
		fp.SetState(ble.PeripheralConnecting)
	}
}

// SetHandler implements ble.Radio.
func (r *Radio) SetHandler(h ble.RadioHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Scanning reports whether a scan is running.
func (r *Radio) Scanning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanning
}

// ScanCount returns the number of Scan calls.
func (r *Radio) ScanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.scans)
}

// StopScanCount returns the number of StopScan calls.
func (r *Radio) StopScanCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopScans
}

// Connects returns the ids passed to Connect, in order.
func (r *Radio) Connects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.connects)
}

func (r *Radio) currentHandler() ble.RadioHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handler
}

// SetState changes the radio state and notifies the handler.
func (r *Radio) SetState(state ble.RadioState) {
	r.mu.Lock()
	r.state = state
	if state != ble.RadioPoweredOn {
		r.scanning = false
	}
	h := r.handler
	r.mu.Unlock()

	if h != nil {
		h.StateChanged(state)
	}
}

// SimulateDiscovery reports an advertisement from p.
func (r *Radio) SimulateDiscovery(p ble.Peripheral, adv ble.Advertisement) {
	if h := r.currentHandler(); h != nil {
		h.PeripheralDiscovered(p, adv)
	}
}

// SimulateConnected marks p connected and reports it.
func (r *Radio) SimulateConnected(p *Peripheral) {
	p.SetState(ble.PeripheralConnected)
	if h := r.currentHandler(); h != nil {
		h.PeripheralConnected(p)
	}
}

// SimulateDisconnected marks p disconnected and reports it.
func (r *Radio) SimulateDisconnected(p *Peripheral, err error) {
	p.SetState(ble.PeripheralDisconnected)
	if h := r.currentHandler(); h != nil {
		h.PeripheralDisconnected(p, err)
	}
}

// SimulateConnectFailed marks p disconnected and reports the failure.
func (r *Radio) SimulateConnectFailed(p *Peripheral, err error) {
	p.SetState(ble.PeripheralDisconnected)
	if h := r.currentHandler(); h != nil {
		h.PeripheralConnectFailed(p, err)
	}
}
