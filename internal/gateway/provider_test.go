package gateway

import (
	"testing"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/ble/bletest"
	"github.com/nerrad567/geeny-gateway/internal/device"
)

func TestThingProvider(t *testing.T) {
	radio := newMockRadio()
	connectors := &mockConnectors{}
	p := NewThingProvider(radio, connectors, nil, nil)
	t.Cleanup(p.Close)

	unregistered := scanned(nativeID, true)
	u := p.Thing(unregistered)
	if u.IsPhysical() {
		t.Error("unregistered thing is physical")
	}
	if p.Thing(unregistered) != u {
		t.Error("unregistered thing not cached")
	}
	if len(connectors.Built(nativeID)) != 0 {
		t.Error("connector built for an unregistered thing")
	}

	registered := unregistered.With(device.Update{CloudID: device.Ptr("cloud-1")})
	virtual := p.Thing(registered)
	if virtual == u {
		t.Fatal("registration did not replace the unregistered thing")
	}
	if virtual.IsPhysical() {
		t.Error("thing without a connected peripheral is physical")
	}
	if p.Thing(registered) != virtual {
		t.Error("registered thing not cached")
	}

	// The peripheral comes back.
	periph := bletest.NewPeripheral(nativeID, "thermo")
	periph.SetState(ble.PeripheralConnected)
	radio.connected[nativeID] = periph

	physical := p.Thing(registered)
	if !physical.IsPhysical() {
		t.Fatal("thing not rebuilt with its peripheral")
	}
	if radio.Attached() != 1 {
		t.Errorf("Attach calls = %d, want the peripheral routed through the radio", radio.Attached())
	}
	built := connectors.Built(nativeID)
	if len(built) != 2 || !built[0].Disconnected() {
		t.Errorf("connectors = %d, first disconnected = %v", len(built), len(built) > 0 && built[0].Disconnected())
	}
	if got, ok := p.Registered(nativeID); !ok || got != physical {
		t.Error("Registered() lookup failed")
	}

	p.Close()
	if !built[1].Disconnected() {
		t.Error("Close() did not close the thing")
	}
	if _, ok := p.Registered(nativeID); ok {
		t.Error("cache not cleared by Close()")
	}
}
