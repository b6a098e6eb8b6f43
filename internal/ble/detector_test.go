package ble_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/ble/bletest"
	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/protocol"
)

// recordingHandler stands in for the handler a detection displaces.
type recordingHandler struct {
	mu     sync.Mutex
	values []string
}

func (h *recordingHandler) ServicesDiscovered(ble.Peripheral, []string, error) {}

func (h *recordingHandler) CharacteristicsDiscovered(ble.Peripheral, string, []ble.CharacteristicInfo, error) {
}

func (h *recordingHandler) ValueUpdated(_ ble.Peripheral, characteristic string, _ []byte, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, characteristic)
}

func (h *recordingHandler) Values() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.values...)
}

func descriptorPayload(t *testing.T) []byte {
	t.Helper()
	b, ok := protocol.Encode(protocol.Info{
		ProtocolVersion: 1,
		SerialNumber:    "00010203-0405-0607-0809-0A0B0C0D0E0F",
		DeviceTypeID:    "3C7B2B4E-1A61-4C3B-8F1E-6A3B9C0D2E11",
	})
	if !ok {
		t.Fatal("Encode() failed")
	}
	return b
}

func nativeGATT() []bletest.Service {
	return []bletest.Service{
		{UUID: "180F", Characteristics: []ble.CharacteristicInfo{
			{UUID: "2A19", Properties: device.PropRead | device.PropNotify},
		}},
		{UUID: "0f050001-3225-44b1-b97d-d3274acb29de", Characteristics: []ble.CharacteristicInfo{
			{UUID: "0f050002-3225-44b1-b97d-d3274acb29de", Properties: device.PropRead},
			{UUID: "0F050003-3225-44B1-B97D-D3274ACB29DE", Properties: device.PropWrite},
		}},
	}
}

func connectedPeripheral(id string) (*bletest.Peripheral, *recordingHandler) {
	p := bletest.NewPeripheral(id, "thermo")
	p.SetState(ble.PeripheralConnected)
	prev := &recordingHandler{}
	p.SetHandler(prev)
	return p, prev
}

type detection struct {
	res   ble.GATTResult
	err   error
	calls int
}

func discover(d *ble.Detector, p ble.Peripheral) *detection {
	out := &detection{}
	d.Discover(p, func(res ble.GATTResult, err error) {
		out.res, out.err = res, err
		out.calls++
	})
	return out
}

func TestDetector_NativeDevice(t *testing.T) {
	p, prev := connectedPeripheral(targetID)
	p.SetGATT(nativeGATT(), map[string][]byte{
		"0f050002-3225-44b1-b97d-d3274acb29de": descriptorPayload(t),
	})

	got := discover(ble.NewDetector(nil), p)

	if got.calls != 1 || got.err != nil {
		t.Fatalf("calls = %d, err = %v", got.calls, got.err)
	}
	if got.res.Protocol == nil || got.res.Protocol.SerialNumber != "00010203-0405-0607-0809-0A0B0C0D0E0F" {
		t.Errorf("Protocol = %+v", got.res.Protocol)
	}
	if len(got.res.Characteristics) != 3 {
		t.Fatalf("len(Characteristics) = %d, want 3", len(got.res.Characteristics))
	}
	first := got.res.Characteristics[0]
	if first.UUID != "2A19" || first.Topic != "2A19" || first.Description != "2A19" || !first.Properties.CanNotify() {
		t.Errorf("Characteristics[0] = %+v", first)
	}
	if reads := p.Reads(); len(reads) != 1 {
		t.Errorf("Reads = %v, want one candidate read", reads)
	}
	if p.Handler() != ble.PeripheralHandler(prev) {
		t.Error("previous handler not restored")
	}
}

func TestDetector_NoServices(t *testing.T) {
	p, prev := connectedPeripheral(targetID)
	p.SetGATT(nil, nil)

	got := discover(ble.NewDetector(nil), p)

	if got.err != nil || got.res.Protocol != nil {
		t.Fatalf("result = %+v, %v", got.res, got.err)
	}
	if got.res.Characteristics == nil || len(got.res.Characteristics) != 0 {
		t.Errorf("Characteristics = %#v, want empty list", got.res.Characteristics)
	}
	if len(p.CharacteristicDiscoveries()) != 0 {
		t.Error("characteristics discovered without services")
	}
	if p.Handler() != ble.PeripheralHandler(prev) {
		t.Error("previous handler not restored")
	}
}

func TestDetector_NonNativeSkipsRead(t *testing.T) {
	p, _ := connectedPeripheral(targetID)
	p.SetGATT(nativeGATT()[:1], nil)

	got := discover(ble.NewDetector(nil), p)

	if got.err != nil || got.res.Protocol != nil || len(got.res.Characteristics) != 1 {
		t.Errorf("result = %+v, %v", got.res, got.err)
	}
	if len(p.Reads()) != 0 {
		t.Error("read issued without a candidate")
	}
}

func TestDetector_UndecodablePayload(t *testing.T) {
	p, _ := connectedPeripheral(targetID)
	p.SetGATT(nativeGATT(), map[string][]byte{
		"0f050002-3225-44b1-b97d-d3274acb29de": {0x02, 0x00, 0x01},
	})

	got := discover(ble.NewDetector(nil), p)

	if got.err != nil {
		t.Fatalf("err = %v, want nil", got.err)
	}
	if got.res.Protocol != nil {
		t.Errorf("Protocol = %+v, want nil", got.res.Protocol)
	}
	if len(got.res.Characteristics) != 3 {
		t.Errorf("len(Characteristics) = %d, want 3", len(got.res.Characteristics))
	}
}

func TestDetector_Errors(t *testing.T) {
	boom := errors.New("att error")

	tests := []struct {
		name string
		run  func(p *bletest.Peripheral)
	}{
		{"services", func(p *bletest.Peripheral) {
			p.SimulateServices(nil, boom)
		}},
		{"characteristics", func(p *bletest.Peripheral) {
			p.SimulateServices([]string{"180F", "180A"}, nil)
			p.SimulateCharacteristics("180F", nil, boom)
		}},
		{"candidate read", func(p *bletest.Peripheral) {
			p.SimulateServices([]string{protocol.ServiceID}, nil)
			p.SimulateCharacteristics(protocol.ServiceID, []ble.CharacteristicInfo{{UUID: protocol.CharacteristicID, Properties: device.PropRead}}, nil)
			p.SimulateValue(protocol.CharacteristicID, nil, boom)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, prev := connectedPeripheral(targetID)
			got := discover(ble.NewDetector(nil), p)
			tt.run(p)

			if got.calls != 1 || !errors.Is(got.err, boom) {
				t.Errorf("calls = %d, err = %v; want one %v", got.calls, got.err, boom)
			}
			if p.Handler() != ble.PeripheralHandler(prev) {
				t.Error("previous handler not restored")
			}
		})
	}
}

func TestDetector_WaitsForEveryService(t *testing.T) {
	p, _ := connectedPeripheral(targetID)
	got := discover(ble.NewDetector(nil), p)

	p.SimulateServices([]string{"180F", "180A", "180F"}, nil)
	if d := p.CharacteristicDiscoveries(); len(d) != 2 {
		t.Fatalf("CharacteristicDiscoveries = %v, want one per distinct service", d)
	}

	p.SimulateCharacteristics("180F", []ble.CharacteristicInfo{{UUID: "2A19"}}, nil)
	if got.calls != 0 {
		t.Fatal("detection finished with a service outstanding")
	}
	p.SimulateCharacteristics("180a", []ble.CharacteristicInfo{{UUID: "2A29"}}, nil)
	if got.calls != 1 || len(got.res.Characteristics) != 2 {
		t.Errorf("calls = %d, result = %+v", got.calls, got.res)
	}
}

func TestDetector_Busy(t *testing.T) {
	d := ble.NewDetector(nil)
	p, _ := connectedPeripheral(targetID)
	q, _ := connectedPeripheral(otherID)

	first := discover(d, p)
	second := discover(d, q)

	if !errors.Is(second.err, ble.ErrBusy) || second.calls != 1 {
		t.Errorf("second = %+v, want ErrBusy", second)
	}
	if q.ServiceDiscoveries() != 0 {
		t.Error("busy detection touched the peripheral")
	}

	p.SimulateServices(nil, nil)
	if first.calls != 1 || first.err != nil {
		t.Errorf("first = %+v", first)
	}
	if d.Busy() {
		t.Error("Busy() = true after completion")
	}
}

func TestDetector_DisplacedDetectionIsReleased(t *testing.T) {
	d := ble.NewDetector(nil)
	p, _ := connectedPeripheral(targetID)
	q, _ := connectedPeripheral(otherID)

	orphan := discover(d, p)
	owner := &recordingHandler{}
	p.SetHandler(owner)

	next := discover(d, q)
	if orphan.calls != 1 || !errors.Is(orphan.err, ble.ErrDisplaced) {
		t.Errorf("displaced detection = %+v, want ErrDisplaced", orphan)
	}
	if next.calls != 0 || !d.Busy() {
		t.Error("detection of the other peripheral did not start")
	}
	if p.Handler() != ble.PeripheralHandler(owner) {
		t.Error("releasing the displaced detection replaced the new handler")
	}
}

func TestDetector_NotConnected(t *testing.T) {
	p := bletest.NewPeripheral(targetID, "x")
	got := discover(ble.NewDetector(nil), p)
	if !errors.Is(got.err, ble.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", got.err)
	}
}

func TestDetector_ForwardsOtherValues(t *testing.T) {
	p, prev := connectedPeripheral(targetID)
	discover(ble.NewDetector(nil), p)

	p.SimulateValue("2A19", []byte{0x50}, nil)

	if v := prev.Values(); len(v) != 1 || v[0] != "2A19" {
		t.Errorf("displaced handler values = %v", v)
	}
}

func connectThrough(t *testing.T, env *testEnv, p *bletest.Peripheral) {
	t.Helper()
	h := env.sched.SubmitConnect(p.ID())
	env.radio.SimulateDiscovery(p, ble.Advertisement{})
	env.radio.SimulateConnected(p)
	if got, _ := recv(h.Done()); got.Err != nil {
		t.Fatalf("connect error = %v", got.Err)
	}
}

func TestScheduler_DetectGATTCache(t *testing.T) {
	env := newTestEnv(t, ble.RadioPoweredOn)
	p := bletest.NewPeripheral(targetID, "thermo")
	p.SetGATT(nativeGATT(), map[string][]byte{
		"0f050002-3225-44b1-b97d-d3274acb29de": descriptorPayload(t),
	})
	connectThrough(t, env, p)

	first, ok := recv(env.sched.DetectGATT(p))
	if !ok || first.Err != nil || first.GATT.Protocol == nil {
		t.Fatalf("first detection = %+v, %v", first, ok)
	}

	// Stop answering so only a cached result can complete the second call.
	p.SetGATT(nil, nil)
	p.ClearCalls()
	ch := env.sched.DetectGATT(p)

	second, ok := recv(ch)
	if !ok || second.GATT.Protocol == nil || len(second.GATT.Characteristics) != 3 {
		t.Fatalf("cached detection = %+v, %v", second, ok)
	}
	if p.ServiceDiscoveries() != 1 {
		t.Errorf("ServiceDiscoveries = %d, want a refresh", p.ServiceDiscoveries())
	}
	if _, ok := recv(ch); ok {
		t.Error("DetectGATT delivered more than one result")
	}

	// The refresh replaced the cache with the empty tree.
	third, _ := recv(env.sched.DetectGATT(p))
	if len(third.GATT.Characteristics) != 0 {
		t.Errorf("refreshed cache = %+v", third.GATT)
	}
}

func TestScheduler_DisconnectAbortsDetection(t *testing.T) {
	env := newTestEnv(t, ble.RadioPoweredOn)
	p := bletest.NewPeripheral(targetID, "thermo")
	prev := &recordingHandler{}
	p.SetHandler(prev)
	connectThrough(t, env, p)

	ch := env.sched.DetectGATT(p)
	env.radio.SimulateDisconnected(p, nil)

	got, ok := recv(ch)
	if !ok || !errors.Is(got.Err, ble.ErrNotConnected) {
		t.Errorf("result = %+v, %v; want ErrNotConnected", got, ok)
	}
	if p.Handler() != ble.PeripheralHandler(prev) {
		t.Error("handler not restored after abort")
	}
}

// Something that sets a handler directly while a cache refresh is still
// running must not leave the detector busy or get unhooked later.
func TestScheduler_DirectHandlerDisplacesRefresh(t *testing.T) {
	env := newTestEnv(t, ble.RadioPoweredOn)
	p := bletest.NewPeripheral(targetID, "thermo")
	connectThrough(t, env, p)

	first := env.sched.DetectGATT(p)
	p.SimulateServices(nil, nil)
	if got, ok := recv(first); !ok || got.Err != nil {
		t.Fatalf("first detection = %+v, %v", got, ok)
	}

	// The cached answer comes at once; the refresh behind it stays pending.
	if _, ok := recv(env.sched.DetectGATT(p)); !ok {
		t.Fatal("cached detection not delivered")
	}
	if p.ServiceDiscoveries() != 2 {
		t.Fatalf("ServiceDiscoveries = %d, want a pending refresh", p.ServiceDiscoveries())
	}

	owner := &recordingHandler{}
	p.SetHandler(owner)

	q := bletest.NewPeripheral(otherID, "plain")
	connectThrough(t, env, q)
	ch := env.sched.DetectGATT(q)
	q.SimulateServices(nil, nil)
	if got, ok := recv(ch); !ok || got.Err != nil {
		t.Fatalf("DetectGATT(other) = %+v, %v; want success", got, ok)
	}

	env.radio.SimulateDisconnected(p, nil)
	if p.Handler() != ble.PeripheralHandler(owner) {
		t.Errorf("handler after disconnect = %T, want the displacing handler", p.Handler())
	}
}

func TestScheduler_AttachWaitsForDetection(t *testing.T) {
	env := newTestEnv(t, ble.RadioPoweredOn)
	p := bletest.NewPeripheral(targetID, "thermo")
	connectThrough(t, env, p)

	ch := env.sched.DetectGATT(p)
	h := &recordingHandler{}
	env.sched.Attach(p, h)
	if p.Handler() == ble.PeripheralHandler(h) {
		t.Fatal("Attach took the peripheral from a running detection")
	}

	// Values outside the detection reach the attached handler already.
	p.SimulateValue("2A19", []byte{1}, nil)
	if got := h.Values(); len(got) != 1 || got[0] != "2A19" {
		t.Errorf("forwarded values = %v", got)
	}

	p.SimulateServices(nil, nil)
	if _, ok := recv(ch); !ok {
		t.Fatal("detection did not finish")
	}
	if p.Handler() != ble.PeripheralHandler(h) {
		t.Errorf("handler after detection = %T, want the attached handler", p.Handler())
	}

	// With no detection running the handler is installed at once.
	other := &recordingHandler{}
	env.sched.Attach(p, other)
	if p.Handler() != ble.PeripheralHandler(other) {
		t.Error("Attach on an idle peripheral did not install the handler")
	}
}
