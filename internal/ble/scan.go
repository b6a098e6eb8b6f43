package ble

import (
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/protocol"
)

type scanState int

const (
	scanIdle scanState = iota
	scanScanning
	scanCompleted
	scanTimedOut
	scanFailed
)

// scanTask collects advertisers until its timer fires. Its timer is armed
// at submission, so a scan that never gets the radio still terminates.
type scanTask struct {
	s       *Scheduler
	timeout time.Duration
	state   scanState
	found   map[string]device.Info
	timer   Timer
	out     chan<- ScanResult
}

func newScanTask(s *Scheduler, timeout time.Duration, out chan<- ScanResult) *scanTask {
	t := &scanTask{
		s:       s,
		timeout: timeout,
		found:   make(map[string]device.Info),
		out:     out,
	}
	// Timers fire on the clock's goroutine; the expiry is handled on the
	// executor like any radio event.
	t.timer = s.clock.AfterFunc(timeout, func() {
		s.exec.Submit(t.timedOut)
	})
	return t
}

func (t *scanTask) kind() TaskKind { return TaskScan }

func (t *scanTask) isStarted() bool { return t.state != scanIdle }

func (t *scanTask) terminal() bool {
	return t.state == scanCompleted || t.state == scanTimedOut || t.state == scanFailed
}

func (t *scanTask) start() {
	if t.state != scanIdle {
		return
	}
	t.state = scanScanning
	t.s.radio.Scan(nil)
}

func (t *scanTask) discovered(p Peripheral, adv Advertisement) {
	if t.state != scanScanning {
		return
	}
	name := adv.LocalName
	if name == "" {
		name = p.Name()
	}
	// A peripheral advertises repeatedly; the latest advertisement wins.
	id := strings.ToUpper(p.ID())
	t.found[id] = device.NewInfo(device.FamilyPhysical, name, id, advertisesNative(adv))
}

func (t *scanTask) timedOut() {
	switch t.state {
	case scanScanning:
		t.s.radio.StopScan()
		t.state = scanCompleted
		t.out <- ScanResult{Things: t.results()}
		t.s.retire(t, nil)
	case scanIdle:
		t.state = scanTimedOut
		t.out <- ScanResult{Err: ErrScanTimeout}
		t.s.retire(t, ErrScanTimeout)
	}
}

func (t *scanTask) fail(err error) {
	if t.terminal() {
		return
	}
	if t.state == scanScanning {
		t.s.radio.StopScan()
	}
	t.timer.Stop()
	t.state = scanFailed
	t.out <- ScanResult{Err: err}
	t.s.retire(t, err)
}

// results returns the collected things ordered by peripheral id.
func (t *scanTask) results() []device.Info {
	out := make([]device.Info, 0, len(t.found))
	for _, info := range t.found {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeripheralID < out[j].PeripheralID })
	return out
}

// advertisesNative reports whether adv lists the native descriptor service.
func advertisesNative(adv Advertisement) bool {
	for _, svc := range adv.Services {
		if strings.EqualFold(svc, protocol.ServiceID) {
			return true
		}
	}
	return false
}
