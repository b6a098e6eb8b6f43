package ble

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/protocol"
)

// TaskKind names a scheduler task variant.
type TaskKind string

// Task kinds.
const (
	TaskScan    TaskKind = "scan"
	TaskConnect TaskKind = "connect"
)

// Observer is notified when a task is retired. err is nil on success.
type Observer interface {
	TaskFinished(kind TaskKind, err error)
}

// MultiObserver fans a retired task out to several observers.
type MultiObserver []Observer

// TaskFinished implements Observer.
func (m MultiObserver) TaskFinished(kind TaskKind, err error) {
	for _, o := range m {
		if o != nil {
			o.TaskFinished(kind, err)
		}
	}
}

type noopObserver struct{}

func (noopObserver) TaskFinished(TaskKind, error) {}

// ScanResult is the terminal result of a scan.
type ScanResult struct {
	Things []device.Info
	Err    error
}

// ConnectResult is the terminal result of a connect.
type ConnectResult struct {
	Peripheral Peripheral
	Err        error
}

// GATTResult is the outcome of GATT detection on one peripheral.
type GATTResult struct {
	Characteristics []device.Characteristic
	Protocol        *protocol.Info
}

func (r GATTResult) clone() GATTResult {
	out := GATTResult{Characteristics: append([]device.Characteristic(nil), r.Characteristics...)}
	if r.Protocol != nil {
		p := *r.Protocol
		out.Protocol = &p
	}
	return out
}

// DetectResult is the terminal result of DetectGATT.
type DetectResult struct {
	GATT GATTResult
	Err  error
}

// Options configures a Scheduler.
type Options struct {
	// Radio is the driver capability. Required.
	Radio Radio

	// Executor confines all scheduler state. The radio driver must
	// deliver its events on the same executor. Required.
	Executor Executor

	// Clock creates scan timers. Defaults to SystemClock.
	Clock Clock

	Logger   Logger
	Observer Observer
}

// Scheduler serializes scan and connect activity into a single active task
// and tracks connected peripherals. It implements RadioHandler.
//
// Thread Safety:
//   - Submit methods, Attach and the connected-peripheral queries are safe
//     from any goroutine. Everything else runs on the executor.
//   - The radio and every peripheral must deliver events on the same
//     executor, so task state, the GATT cache and the detector need no lock.
//   - Results are delivered on buffered channels and never block the
//     executor, even when nobody reads them.
type Scheduler struct {
	radio    Radio
	exec     Executor
	clock    Clock
	detector *Detector
	logger   Logger
	observer Observer

	// Executor-confined.
	active task
	cache  map[string]GATTResult

	// connected is written on the executor and read from any goroutine.
	connMu    sync.RWMutex
	connected map[string]Peripheral
}

// NewScheduler creates a Scheduler and installs it as the radio's handler.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Radio == nil {
		return nil, fmt.Errorf("radio is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}

	s := &Scheduler{
		radio:     opts.Radio,
		exec:      opts.Executor,
		clock:     opts.Clock,
		logger:    opts.Logger,
		observer:  opts.Observer,
		cache:     make(map[string]GATTResult),
		connected: make(map[string]Peripheral),
	}
	if s.clock == nil {
		s.clock = SystemClock()
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.observer == nil {
		s.observer = noopObserver{}
	}
	s.detector = NewDetector(s.logger)

	opts.Radio.SetHandler(s)
	return s, nil
}

// SubmitScan starts a scan that runs for timeout and then reports every
// peripheral it saw. The result channel receives exactly one value.
func (s *Scheduler) SubmitScan(timeout time.Duration) <-chan ScanResult {
	out := make(chan ScanResult, 1)
	s.exec.Submit(func() {
		if s.active != nil {
			out <- ScanResult{Err: ErrBusy}
			return
		}
		t := newScanTask(s, timeout, out)
		s.active = t
		s.logger.Debug("scan task submitted", "timeout", timeout)
		s.dispatch(t)
	})
	return out
}

// SubmitConnect connects to the peripheral with the given identifier.
// A peripheral that is already connected is returned without using the
// task slot. The handle's result channel receives exactly one value.
func (s *Scheduler) SubmitConnect(id string) *ConnectHandle {
	h := &ConnectHandle{done: make(chan ConnectResult, 1)}

	canonical, err := ParseIdentifier(id)
	if err != nil {
		h.done <- ConnectResult{Err: err}
		return h
	}

	s.exec.Submit(func() {
		if p, ok := s.ConnectedPeripheral(canonical); ok {
			h.done <- ConnectResult{Peripheral: p}
			return
		}
		if s.active != nil {
			h.done <- ConnectResult{Err: ErrBusy}
			return
		}
		t := newConnectTask(s, canonical, h.done)
		h.task = t
		s.active = t
		s.logger.Debug("connect task submitted", "peripheral_id", canonical)
		s.dispatch(t)
	})

	h.cancel = func() {
		s.exec.Submit(func() {
			if h.task != nil {
				h.task.cancel()
			}
		})
	}
	return h
}

// DetectGATT harvests the characteristics of a connected peripheral and
// decodes its native descriptor when present.
//
// A result cached from an earlier detection is delivered at once. A fresh
// detection still runs and refreshes the cache, but the caller only ever
// receives one value.
func (s *Scheduler) DetectGATT(p Peripheral) <-chan DetectResult {
	out := make(chan DetectResult, 1)
	s.exec.Submit(func() {
		id := p.ID()
		delivered := false
		if cached, ok := s.cache[id]; ok {
			out <- DetectResult{GATT: cached.clone()}
			delivered = true
		}

		s.detector.Discover(p, func(res GATTResult, err error) {
			if err == nil {
				if _, still := s.ConnectedPeripheral(id); still {
					s.cache[id] = res
				}
			}
			if delivered {
				if err != nil {
					s.logger.Debug("gatt refresh skipped", "peripheral_id", id, "error", err)
				}
				return
			}
			out <- DetectResult{GATT: res.clone(), Err: err}
		})
	})
	return out
}

// Attach makes h the receiver of p's events. The install runs on the
// executor, ordered with GATT detection: a detection running on p keeps
// the peripheral until it ends and then hands it to h. Use Attach rather
// than p.SetHandler for any peripheral the scheduler connected.
func (s *Scheduler) Attach(p Peripheral, h PeripheralHandler) {
	s.exec.Submit(func() {
		s.detector.handOver(p, h)
	})
}

// ConnectedPeripheral returns a connected peripheral by canonical identifier.
func (s *Scheduler) ConnectedPeripheral(id string) (Peripheral, bool) {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	p, ok := s.connected[strings.ToUpper(id)]
	return p, ok
}

// IsConnected reports whether a peripheral is currently connected.
func (s *Scheduler) IsConnected(id string) bool {
	_, ok := s.ConnectedPeripheral(id)
	return ok
}

// dispatch starts t if the radio allows it, fails it when the radio state
// is unrecoverable, and otherwise leaves it pending until the next state
// change.
func (s *Scheduler) dispatch(t task) {
	state := s.radio.State()
	if state == RadioPoweredOn {
		t.start()
		return
	}
	if err := stateError(state); err != nil {
		t.fail(err)
		return
	}
	s.logger.Debug("task deferred until radio is ready", "kind", t.kind(), "radio_state", state)
}

// retire frees the task slot. Only the active task can be retired, so a
// second call for the same task is a no-op.
func (s *Scheduler) retire(t task, err error) {
	if s.active != t {
		return
	}
	s.active = nil
	s.observer.TaskFinished(t.kind(), err)
	if err != nil {
		s.logger.Debug("task retired", "kind", t.kind(), "error", err)
	} else {
		s.logger.Debug("task retired", "kind", t.kind())
	}
}

func (s *Scheduler) addConnected(p Peripheral) {
	s.connMu.Lock()
	s.connected[strings.ToUpper(p.ID())] = p
	s.connMu.Unlock()
}

func (s *Scheduler) removeConnected(p Peripheral) {
	id := strings.ToUpper(p.ID())
	s.connMu.Lock()
	delete(s.connected, id)
	s.connMu.Unlock()
	delete(s.cache, id)
}

// StateChanged implements RadioHandler.
func (s *Scheduler) StateChanged(state RadioState) {
	s.logger.Info("radio state changed", "state", state)
	if s.active != nil && !s.active.isStarted() {
		s.dispatch(s.active)
	}
}

// PeripheralDiscovered implements RadioHandler.
func (s *Scheduler) PeripheralDiscovered(p Peripheral, adv Advertisement) {
	switch t := s.active.(type) {
	case *scanTask:
		t.discovered(p, adv)
	case *connectTask:
		t.discovered(p, adv)
	}
}

// PeripheralConnected implements RadioHandler.
func (s *Scheduler) PeripheralConnected(p Peripheral) {
	s.addConnected(p)
	s.logger.Info("peripheral connected", "peripheral_id", p.ID())

	if t, ok := s.active.(*connectTask); ok {
		t.connected(p)
	}
}

// PeripheralDisconnected implements RadioHandler.
func (s *Scheduler) PeripheralDisconnected(p Peripheral, err error) {
	s.removeConnected(p)
	s.detector.abort(p, ErrNotConnected)
	s.logger.Info("peripheral disconnected", "peripheral_id", p.ID(), "error", err)

	if t, ok := s.active.(*connectTask); ok {
		t.connectFailed(p, err)
	}
}

// PeripheralConnectFailed implements RadioHandler.
func (s *Scheduler) PeripheralConnectFailed(p Peripheral, err error) {
	s.removeConnected(p)
	s.logger.Warn("peripheral connect failed", "peripheral_id", p.ID(), "error", err)

	if t, ok := s.active.(*connectTask); ok {
		t.connectFailed(p, err)
	}
}

// task is the closed set of scheduler task variants: *scanTask and
// *connectTask.
type task interface {
	kind() TaskKind
	isStarted() bool
	start()
	fail(err error)
}
