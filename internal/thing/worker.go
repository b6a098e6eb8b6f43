package thing

import "sync"

// brokerQueueSize bounds the broker work a Thing buffers for device values.
// A notify stream faster than the broker drops values beyond it.
const brokerQueueSize = 256

// brokerWorker runs broker operations in order on its own goroutine, so
// device events on the BLE executor never wait for a broker round-trip.
// It implements ble.Executor. The goroutine starts on first use.
type brokerWorker struct {
	logger Logger

	mu      sync.Mutex
	work    chan func()
	started bool
	closed  bool
}

func newBrokerWorker(logger Logger) *brokerWorker {
	return &brokerWorker{logger: logger, work: make(chan func(), brokerQueueSize)}
}

// Submit queues fn. Work submitted after close, or while the queue is
// full, is dropped.
func (w *brokerWorker) Submit(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if !w.started {
		w.started = true
		go w.run()
	}
	select {
	case w.work <- fn:
	default:
		w.logger.Warn("broker queue full, device value dropped", "capacity", brokerQueueSize)
	}
}

func (w *brokerWorker) run() {
	for fn := range w.work {
		if w.isClosed() {
			continue
		}
		fn()
	}
}

func (w *brokerWorker) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// close drops pending work and stops the goroutine.
func (w *brokerWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.work)
}
