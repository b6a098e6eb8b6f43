package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/device"
)

// Radio is the blocking view of the BLE scheduler the gateway works with.
type Radio interface {
	Scan(ctx context.Context, timeout time.Duration) ([]device.Info, error)
	Connect(ctx context.Context, peripheralID string) (ble.Peripheral, error)
	DetectGATT(ctx context.Context, p ble.Peripheral) (ble.GATTResult, error)
	ConnectedPeripheral(peripheralID string) (ble.Peripheral, bool)

	// Attach hands a connected peripheral's events to h without racing a
	// GATT detection that still holds it.
	Attach(p ble.Peripheral, h ble.PeripheralHandler)
}

// SchedulerRadio adapts a *ble.Scheduler to Radio.
type SchedulerRadio struct {
	sched *ble.Scheduler
}

// NewSchedulerRadio wraps s.
func NewSchedulerRadio(s *ble.Scheduler) *SchedulerRadio {
	return &SchedulerRadio{sched: s}
}

// Scan runs a scan for timeout. A cancelled context abandons the wait; the
// scan itself runs to its timeout and frees the task slot then.
func (r *SchedulerRadio) Scan(ctx context.Context, timeout time.Duration) ([]device.Info, error) {
	select {
	case res := <-r.sched.SubmitScan(timeout):
		return res.Things, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ble.ErrCancelled, ctx.Err())
	}
}

// Connect connects to a peripheral. A cancelled context cancels the connect.
func (r *SchedulerRadio) Connect(ctx context.Context, peripheralID string) (ble.Peripheral, error) {
	h := r.sched.SubmitConnect(peripheralID)
	select {
	case res := <-h.Done():
		return res.Peripheral, res.Err
	case <-ctx.Done():
		h.Cancel()
		return nil, fmt.Errorf("%w: %w", ble.ErrCancelled, ctx.Err())
	}
}

// DetectGATT detects the characteristics of a connected peripheral.
func (r *SchedulerRadio) DetectGATT(ctx context.Context, p ble.Peripheral) (ble.GATTResult, error) {
	select {
	case res := <-r.sched.DetectGATT(p):
		return res.GATT, res.Err
	case <-ctx.Done():
		return ble.GATTResult{}, fmt.Errorf("%w: %w", ble.ErrCancelled, ctx.Err())
	}
}

// ConnectedPeripheral returns a connected peripheral.
func (r *SchedulerRadio) ConnectedPeripheral(peripheralID string) (ble.Peripheral, bool) {
	return r.sched.ConnectedPeripheral(peripheralID)
}

// Attach routes p's events to h through the scheduler's executor.
func (r *SchedulerRadio) Attach(p ble.Peripheral, h ble.PeripheralHandler) {
	r.sched.Attach(p, h)
}
