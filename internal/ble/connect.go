package ble

import "strings"

type connectState int

const (
	connectIdle connectState = iota
	connectScanning
	connectConnecting
	connectConnected
	connectCancelled
	connectFailed
)

// ConnectHandle tracks a submitted connect.
type ConnectHandle struct {
	done   chan ConnectResult
	cancel func()

	// task is set on the executor when the connect takes the task slot.
	task *connectTask
}

// Done receives the single terminal result.
func (h *ConnectHandle) Done() <-chan ConnectResult {
	return h.done
}

// Cancel aborts the connect. The caller receives ErrCancelled right away;
// the radio side winds down on its next event. Cancelling a finished
// connect does nothing.
func (h *ConnectHandle) Cancel() {
	if h.cancel != nil {
		h.cancel()
	}
}

// connectTask finds a known peripheral by scanning for it, then connects.
type connectTask struct {
	s      *Scheduler
	target string
	state  connectState

	cancelRequested bool
	delivered       bool
	out             chan<- ConnectResult
}

func newConnectTask(s *Scheduler, target string, out chan<- ConnectResult) *connectTask {
	return &connectTask{s: s, target: target, out: out}
}

func (t *connectTask) kind() TaskKind { return TaskConnect }

func (t *connectTask) isStarted() bool { return t.state != connectIdle }

func (t *connectTask) terminal() bool {
	return t.state == connectConnected || t.state == connectCancelled || t.state == connectFailed
}

func (t *connectTask) deliver(r ConnectResult) {
	if t.delivered {
		return
	}
	t.delivered = true
	t.out <- r
}

func (t *connectTask) start() {
	if t.state != connectIdle {
		return
	}
	t.state = connectScanning
	t.s.radio.Scan(nil)
}

func (t *connectTask) matches(p Peripheral) bool {
	return strings.EqualFold(p.ID(), t.target)
}

func (t *connectTask) discovered(p Peripheral, _ Advertisement) {
	if t.state != connectScanning {
		return
	}
	if t.cancelRequested {
		t.s.radio.StopScan()
		t.state = connectCancelled
		t.s.retire(t, ErrCancelled)
		return
	}
	if !t.matches(p) {
		return
	}

	t.s.radio.StopScan()
	if p.State() == PeripheralConnected {
		t.s.addConnected(p)
		t.state = connectConnected
		t.deliver(ConnectResult{Peripheral: p})
		t.s.retire(t, nil)
		return
	}

	t.state = connectConnecting
	t.s.radio.Connect(p)
}

func (t *connectTask) connected(p Peripheral) {
	if t.state != connectConnecting || !t.matches(p) {
		return
	}
	if t.cancelRequested {
		t.state = connectCancelled
		t.s.retire(t, ErrCancelled)
		return
	}
	t.state = connectConnected
	t.deliver(ConnectResult{Peripheral: p})
	t.s.retire(t, nil)
}

// connectFailed handles both a failed connect and a disconnect of the
// target while the connect is pending.
func (t *connectTask) connectFailed(p Peripheral, err error) {
	if t.state != connectConnecting || !t.matches(p) {
		return
	}
	if t.cancelRequested {
		t.state = connectCancelled
		t.s.retire(t, ErrCancelled)
		return
	}
	if err == nil {
		err = ErrRetryLater
	}
	t.fail(err)
}

func (t *connectTask) cancel() {
	if t.terminal() || t.cancelRequested {
		return
	}
	t.cancelRequested = true
	t.deliver(ConnectResult{Err: ErrCancelled})

	// Never dispatched, so nothing on the radio needs winding down.
	if t.state == connectIdle {
		t.state = connectCancelled
		t.s.retire(t, ErrCancelled)
	}
}

func (t *connectTask) fail(err error) {
	if t.terminal() {
		return
	}
	if t.state == connectScanning {
		t.s.radio.StopScan()
	}
	t.state = connectFailed
	t.deliver(ConnectResult{Err: err})
	t.s.retire(t, err)
}
