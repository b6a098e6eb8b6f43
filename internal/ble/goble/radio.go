package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gble "github.com/go-ble/ble"

	"github.com/nerrad567/geeny-gateway/internal/ble"
)

const defaultConnectTimeout = 10 * time.Second

// hostDevice is the part of gble.Device the adapter uses.
type hostDevice interface {
	Scan(ctx context.Context, allowDup bool, h gble.AdvHandler) error
	Dial(ctx context.Context, a gble.Addr) (gble.Client, error)
	Stop() error
}

// Options configures a Radio.
type Options struct {
	// HCIIndex selects the controller, e.g. 0 for hci0.
	HCIIndex int

	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration

	// Executor receives every driver event. Required.
	Executor ble.Executor

	Logger Logger
}

// Radio implements ble.Radio on top of a go-ble host device.
type Radio struct {
	dev            hostDevice
	exec           ble.Executor
	logger         Logger
	connectTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       ble.RadioState
	handler     ble.RadioHandler
	scanCancel  context.CancelFunc
	peripherals map[string]*Peripheral
}

// Open opens the HCI controller and returns a Radio. When the controller
// cannot be opened the Radio still works but reports RadioUnsupported, so
// every task fails with ble.ErrUnsupported.
func Open(opts Options) (*Radio, error) {
	dev, err := openHCI(opts.HCIIndex)
	r, nerr := newRadio(dev, opts)
	if nerr != nil {
		return nil, nerr
	}
	if err != nil {
		r.logger.Error("opening HCI device failed", "hci", opts.HCIIndex, "error", err)
		r.dev = nil
		r.state = ble.RadioUnsupported
	}
	return r, nil
}

// Disabled returns a Radio without a controller. It reports
// RadioUnsupported and never touches the HCI device.
func Disabled(opts Options) (*Radio, error) {
	r, err := newRadio(nil, opts)
	if err != nil {
		return nil, err
	}
	r.state = ble.RadioUnsupported
	return r, nil
}

func newRadio(dev hostDevice, opts Options) (*Radio, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	r := &Radio{
		dev:            dev,
		exec:           opts.Executor,
		logger:         opts.Logger,
		connectTimeout: opts.ConnectTimeout,
		state:          ble.RadioPoweredOn,
		peripherals:    make(map[string]*Peripheral),
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	if r.connectTimeout <= 0 {
		r.connectTimeout = defaultConnectTimeout
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r, nil
}

// State implements ble.Radio.
func (r *Radio) State() ble.RadioState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetHandler implements ble.Radio.
func (r *Radio) SetHandler(h ble.RadioHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *Radio) post(fn func(h ble.RadioHandler)) {
	r.exec.Submit(func() {
		r.mu.Lock()
		h := r.handler
		r.mu.Unlock()
		if h != nil {
			fn(h)
		}
	})
}

// Scan implements ble.Radio. Duplicate advertisements are reported so a
// connect can see a target that advertised before the scan began.
func (r *Radio) Scan(services []string) {
	r.mu.Lock()
	if r.dev == nil {
		r.mu.Unlock()
		return
	}
	if r.scanCancel != nil {
		r.scanCancel()
	}
	ctx, cancel := context.WithCancel(r.ctx)
	r.scanCancel = cancel
	r.mu.Unlock()

	go func() {
		err := r.dev.Scan(ctx, true, func(a gble.Advertisement) {
			r.handleAdvertisement(a, services)
		})
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			r.logger.Warn("scan stopped", "error", err)
		}
	}()
}

// StopScan implements ble.Radio.
func (r *Radio) StopScan() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scanCancel != nil {
		r.scanCancel()
		r.scanCancel = nil
	}
}

func (r *Radio) handleAdvertisement(a gble.Advertisement, filter []string) {
	adv := ble.Advertisement{
		LocalName: a.LocalName(),
		Services:  formatUUIDs(a.Services()),
		RSSI:      a.RSSI(),
	}
	if !matchesFilter(adv.Services, filter) {
		return
	}

	p := r.peripheral(a.Addr().String(), adv.LocalName)
	r.post(func(h ble.RadioHandler) {
		h.PeripheralDiscovered(p, adv)
	})
}

func matchesFilter(advertised, filter []string) bool {
	if filter == nil {
		return true
	}
	for _, want := range filter {
		for _, got := range advertised {
			if strings.EqualFold(want, got) {
				return true
			}
		}
	}
	return false
}

// peripheral returns the Peripheral for an address, creating it on first
// sight so the core keeps one reference per device.
func (r *Radio) peripheral(addr, name string) *Peripheral {
	id := strings.ToUpper(addr)

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peripherals[id]
	if !ok {
		p = newPeripheral(id, name, r.exec, r.logger)
		r.peripherals[id] = p
	} else if name != "" {
		p.setName(name)
	}
	return p
}

// Connect implements ble.Radio.
func (r *Radio) Connect(bp ble.Peripheral) {
	p := r.peripheral(bp.ID(), "")
	if r.dev == nil {
		r.post(func(h ble.RadioHandler) { h.PeripheralConnectFailed(p, ble.ErrUnsupported) })
		return
	}

	p.setState(ble.PeripheralConnecting)
	go func() {
		ctx, cancel := context.WithTimeout(r.ctx, r.connectTimeout)
		defer cancel()

		client, err := r.dev.Dial(ctx, gble.NewAddr(p.ID()))
		if err != nil {
			p.setState(ble.PeripheralDisconnected)
			r.post(func(h ble.RadioHandler) { h.PeripheralConnectFailed(p, err) })
			return
		}

		p.attach(client)
		r.post(func(h ble.RadioHandler) { h.PeripheralConnected(p) })

		go func() {
			<-client.Disconnected()
			p.detach()
			r.post(func(h ble.RadioHandler) { h.PeripheralDisconnected(p, nil) })
		}()
	}()
}

// Disconnect drops the connection to a peripheral.
func (r *Radio) Disconnect(id string) error {
	r.mu.Lock()
	p, ok := r.peripherals[strings.ToUpper(id)]
	r.mu.Unlock()
	if !ok {
		return ble.ErrNotConnected
	}
	return p.cancelConnection()
}

// Close stops scanning, drops every connection and releases the device.
func (r *Radio) Close() error {
	r.cancel()

	r.mu.Lock()
	peripherals := make([]*Peripheral, 0, len(r.peripherals))
	for _, p := range r.peripherals {
		peripherals = append(peripherals, p)
	}
	dev := r.dev
	r.mu.Unlock()

	for _, p := range peripherals {
		_ = p.cancelConnection() //nolint:errcheck // best effort on shutdown
	}
	if dev == nil {
		return nil
	}
	return dev.Stop()
}
