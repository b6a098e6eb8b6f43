package gateway

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/ble/bletest"
	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/protocol"
	"github.com/nerrad567/geeny-gateway/internal/thing"
)

const (
	nativeID = "AA:BB:CC:DD:EE:01"
	plainID  = "AA:BB:CC:DD:EE:02"
)

// mockRadio serves canned scan and discovery results.
type mockRadio struct {
	mu          sync.Mutex
	scanResult  []device.Info
	scanErr     error
	scanTimeout time.Duration
	connectErr  error
	gatt        ble.GATTResult
	connected   map[string]ble.Peripheral
	attached    int
}

func newMockRadio() *mockRadio {
	return &mockRadio{connected: make(map[string]ble.Peripheral)}
}

func (r *mockRadio) Scan(_ context.Context, timeout time.Duration) ([]device.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanTimeout = timeout
	return r.scanResult, r.scanErr
}

func (r *mockRadio) Connect(_ context.Context, id string) (ble.Peripheral, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	p := bletest.NewPeripheral(id, "thermo")
	p.SetState(ble.PeripheralConnected)
	r.connected[id] = p
	return p, nil
}

func (r *mockRadio) DetectGATT(context.Context, ble.Peripheral) (ble.GATTResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gatt, nil
}

func (r *mockRadio) ConnectedPeripheral(id string) (ble.Peripheral, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.connected[id]
	return p, ok
}

func (r *mockRadio) Attach(p ble.Peripheral, h ble.PeripheralHandler) {
	r.mu.Lock()
	r.attached++
	r.mu.Unlock()
	p.SetHandler(h)
}

func (r *mockRadio) Attached() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached
}

// mockRegistrar keeps registrations in memory.
type mockRegistrar struct {
	mu          sync.Mutex
	things      map[string]device.Info
	registerErr error
	resets      int
}

func newMockRegistrar() *mockRegistrar {
	return &mockRegistrar{things: make(map[string]device.Info)}
}

func (r *mockRegistrar) Register(_ context.Context, name string, info device.Info) (device.Info, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return device.Info{}, r.registerErr
	}
	out := info.With(device.Update{UserGivenName: device.Ptr(name), CloudID: device.Ptr("cloud-" + info.PeripheralID)})
	r.things[info.PeripheralID] = out
	return out, nil
}

func (r *mockRegistrar) IsRegistered(info device.Info) bool {
	_, ok := r.Lookup(info.PeripheralID)
	return ok
}

func (r *mockRegistrar) Registered() []device.Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Info, 0, len(r.things))
	for _, info := range r.things {
		out = append(out, info)
	}
	return out
}

func (r *mockRegistrar) Lookup(id string) (device.Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.things[id]
	return info, ok
}

func (r *mockRegistrar) Update(_ context.Context, info device.Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.things[info.PeripheralID] = info
	return nil
}

func (r *mockRegistrar) Reset(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.things = make(map[string]device.Info)
	r.resets++
	return nil
}

// mockLogin is an in-memory cloud session.
type mockLogin struct {
	mu       sync.Mutex
	token    string
	loginErr error
}

func (s *mockLogin) Login(_ context.Context, user, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loginErr != nil {
		return "", s.loginErr
	}
	s.token = "token-" + user
	return s.token, nil
}

func (s *mockLogin) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

func (s *mockLogin) HasToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// mockConnector reports every connect as successful.
type mockConnector struct {
	mu           sync.Mutex
	published    []string
	disconnected bool
}

func (c *mockConnector) Connect(onStatus func(thing.BrokerStatus)) {
	onStatus(thing.BrokerStatus{State: thing.BrokerConnected})
}

func (c *mockConnector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *mockConnector) Publish(topic string, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, topic)
	return nil
}

func (c *mockConnector) Subscribe(string) error                 { return nil }
func (c *mockConnector) Unsubscribe(string) error               { return nil }
func (c *mockConnector) SetMessageHandler(func(string, []byte)) {}

func (c *mockConnector) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// mockConnectors hands out mockConnectors and remembers them.
type mockConnectors struct {
	mu    sync.Mutex
	built map[string][]*mockConnector
}

func (f *mockConnectors) Connector(info device.Info) thing.BrokerConnector {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.built == nil {
		f.built = make(map[string][]*mockConnector)
	}
	c := &mockConnector{}
	f.built[info.PeripheralID] = append(f.built[info.PeripheralID], c)
	return c
}

func (f *mockConnectors) Built(id string) []*mockConnector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mockConnector(nil), f.built[id]...)
}

type testGateway struct {
	*Gateway
	radio      *mockRadio
	registrar  *mockRegistrar
	session    *mockLogin
	connectors *mockConnectors
	scans      [][]device.Info
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	tg := &testGateway{
		radio:      newMockRadio(),
		registrar:  newMockRegistrar(),
		session:    &mockLogin{},
		connectors: &mockConnectors{},
	}
	tg.Gateway = New(Options{
		Radio:      tg.radio,
		Registrar:  tg.registrar,
		Session:    tg.session,
		Connectors: tg.connectors,
		OnScan:     func(things []device.Info) { tg.scans = append(tg.scans, things) },
	})
	t.Cleanup(tg.Close)
	return tg
}

func scanned(id string, native bool) device.Info {
	return device.NewInfo(device.FamilyPhysical, "thermo", id, native)
}

func nativeGATT() ble.GATTResult {
	return ble.GATTResult{
		Protocol: &protocol.Info{ProtocolVersion: 1, SerialNumber: "serial-1", DeviceTypeID: "type-1"},
		Characteristics: []device.Characteristic{
			device.NewCharacteristic("2A19", device.PropRead|device.PropNotify),
			device.NewCharacteristic("2A1A", device.PropWrite),
		},
	}
}

func ids(infos []device.Info) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.PeripheralID
	}
	return out
}

func TestScanForThings(t *testing.T) {
	tests := []struct {
		name string
		opts ScanOptions
		want []string
	}{
		{"all", ScanOptions{}, []string{nativeID, plainID, "AA:BB:CC:DD:EE:03"}},
		{"only native", ScanOptions{OnlyNative: true}, []string{nativeID, "AA:BB:CC:DD:EE:03"}},
		{"omit registered", ScanOptions{OmitRegistered: true}, []string{nativeID, plainID}},
		{"both", ScanOptions{OnlyNative: true, OmitRegistered: true}, []string{nativeID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newTestGateway(t)
			gw.radio.scanResult = []device.Info{
				scanned(plainID, false),
				scanned("AA:BB:CC:DD:EE:03", true),
				scanned(nativeID, true),
			}
			gw.registrar.things["AA:BB:CC:DD:EE:03"] = scanned("AA:BB:CC:DD:EE:03", true).
				With(device.Update{CloudID: device.Ptr("cloud-3")})

			got, err := gw.ScanForThings(context.Background(), tt.opts)
			if err != nil {
				t.Fatalf("ScanForThings() error = %v", err)
			}
			if g := ids(got); !slices.Equal(g, tt.want) {
				t.Fatalf("ids = %v, want %v", g, tt.want)
			}
			if len(gw.scans) != 1 {
				t.Errorf("OnScan calls = %d, want 1", len(gw.scans))
			}
		})
	}
}

func TestScanForThings_DefaultsAndErrors(t *testing.T) {
	gw := newTestGateway(t)

	if _, err := gw.ScanForThings(context.Background(), ScanOptions{}); err != nil {
		t.Fatalf("ScanForThings() error = %v", err)
	}
	if gw.radio.scanTimeout != DefaultScanTimeout {
		t.Errorf("timeout = %v, want %v", gw.radio.scanTimeout, DefaultScanTimeout)
	}

	gw.radio.scanErr = ble.ErrBusy
	if _, err := gw.ScanForThings(context.Background(), ScanOptions{Timeout: time.Second}); !errors.Is(err, ble.ErrBusy) {
		t.Errorf("error = %v, want ErrBusy", err)
	}
	if len(gw.scans) != 1 {
		t.Error("OnScan called for a failed scan")
	}
}

func TestConnectAndDiscover(t *testing.T) {
	gw := newTestGateway(t)
	gw.radio.gatt = nativeGATT()

	info, err := gw.ConnectAndDiscover(context.Background(), scanned("aa:bb:cc:dd:ee:01", false))
	if err != nil {
		t.Fatalf("ConnectAndDiscover() error = %v", err)
	}
	if info.PeripheralID != nativeID {
		t.Errorf("PeripheralID = %q, want canonical %q", info.PeripheralID, nativeID)
	}
	if !info.IsNative || info.Protocol == nil || info.Protocol.SerialNumber != "serial-1" {
		t.Errorf("protocol not applied: %+v", info)
	}
	if len(info.Characteristics) != 2 {
		t.Errorf("len(Characteristics) = %d, want 2", len(info.Characteristics))
	}
	if !gw.IsThingConnected(info) {
		t.Error("IsThingConnected() = false after connect")
	}

	seen, err := gw.ThingInfo("aa:bb:cc:dd:ee:01")
	if err != nil || !seen.IsNative {
		t.Errorf("ThingInfo() = %+v, %v", seen, err)
	}
}

func TestConnectAndDiscover_Errors(t *testing.T) {
	gw := newTestGateway(t)

	if _, err := gw.ConnectAndDiscover(context.Background(), scanned("nope", false)); !errors.Is(err, ble.ErrInvalidIdentifier) {
		t.Errorf("error = %v, want ErrInvalidIdentifier", err)
	}

	gw.radio.connectErr = ble.ErrRetryLater
	if _, err := gw.ConnectAndDiscover(context.Background(), scanned(nativeID, true)); !errors.Is(err, ble.ErrRetryLater) {
		t.Errorf("error = %v, want ErrRetryLater", err)
	}
}

func TestRegisterThing(t *testing.T) {
	gw := newTestGateway(t)
	gw.radio.gatt = nativeGATT()

	info, err := gw.ConnectAndDiscover(context.Background(), scanned(nativeID, true))
	if err != nil {
		t.Fatalf("ConnectAndDiscover() error = %v", err)
	}
	th, err := gw.RegisterThing(context.Background(), "Kitchen", info)
	if err != nil {
		t.Fatalf("RegisterThing() error = %v", err)
	}
	if !th.IsPhysical() {
		t.Error("registered thing with a connected peripheral is not physical")
	}
	if got := th.Info(); got.CloudID != "cloud-"+nativeID || got.UserGivenName != "Kitchen" {
		t.Errorf("Info() = %+v", got)
	}
	if got := th.Publishing(); len(got) != 1 || got[0] != "2A19" {
		t.Errorf("Publishing() = %v, want the notifying characteristic", got)
	}
	if !gw.IsThingRegistered(info) {
		t.Error("IsThingRegistered() = false")
	}

	again, ok := gw.RegisteredThing(info)
	if !ok || again != th {
		t.Error("RegisteredThing() did not return the same Thing")
	}
	if all := gw.RegisteredThings(); len(all) != 1 || all[0] != th {
		t.Errorf("RegisteredThings() = %v", all)
	}
}

func TestRegisterThing_Error(t *testing.T) {
	gw := newTestGateway(t)
	gw.registrar.registerErr = errors.New("no credentials")

	if _, err := gw.RegisterThing(context.Background(), "x", scanned(nativeID, true)); err == nil {
		t.Fatal("RegisterThing() error = nil")
	}
	if _, ok := gw.RegisteredThing(scanned(nativeID, true)); ok {
		t.Error("failed registration left a thing behind")
	}
}

func TestUpdateThing(t *testing.T) {
	gw := newTestGateway(t)
	gw.radio.gatt = nativeGATT()
	ctx := context.Background()

	if err := gw.UpdateThing(ctx, scanned(nativeID, true)); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("UpdateThing() unregistered error = %v, want ErrNotRegistered", err)
	}

	info, _ := gw.ConnectAndDiscover(ctx, scanned(nativeID, true))
	th, err := gw.RegisterThing(ctx, "Kitchen", info)
	if err != nil {
		t.Fatalf("RegisterThing() error = %v", err)
	}

	updated := th.Info().With(device.Update{AutoPublish: device.Ptr(false)})
	if err := gw.UpdateThing(ctx, updated); err != nil {
		t.Fatalf("UpdateThing() error = %v", err)
	}
	if th.Info().AutoPublish {
		t.Error("live thing kept AutoPublish")
	}
	if len(th.Publishing()) != 0 {
		t.Errorf("Publishing() = %v after disabling auto-publish", th.Publishing())
	}
	if stored, _ := gw.registrar.Lookup(nativeID); stored.AutoPublish {
		t.Error("update not persisted")
	}
}

func TestThingInfo_Unknown(t *testing.T) {
	gw := newTestGateway(t)

	if _, err := gw.ThingInfo(nativeID); !errors.Is(err, ErrUnknownThing) {
		t.Errorf("error = %v, want ErrUnknownThing", err)
	}
	if _, err := gw.ThingInfo(""); !errors.Is(err, ble.ErrInvalidIdentifier) {
		t.Errorf("error = %v, want ErrInvalidIdentifier", err)
	}
}

func TestSessionAndReset(t *testing.T) {
	gw := newTestGateway(t)
	gw.radio.gatt = nativeGATT()
	ctx := context.Background()

	if gw.IsLoggedIn() {
		t.Fatal("logged in before Login")
	}
	if err := gw.Login(ctx, "user@example.com", "secret"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !gw.IsLoggedIn() {
		t.Error("IsLoggedIn() = false after Login")
	}

	info, _ := gw.ConnectAndDiscover(ctx, scanned(nativeID, true))
	if _, err := gw.RegisterThing(ctx, "Kitchen", info); err != nil {
		t.Fatalf("RegisterThing() error = %v", err)
	}

	if err := gw.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if gw.IsLoggedIn() {
		t.Error("still logged in after Reset")
	}
	if gw.IsThingRegistered(info) {
		t.Error("registration survived Reset")
	}
	if built := gw.connectors.Built(nativeID); len(built) != 1 || !built[0].Disconnected() {
		t.Error("broker connector not disconnected by Reset")
	}
	if _, err := gw.ThingInfo(nativeID); !errors.Is(err, ErrUnknownThing) {
		t.Errorf("ThingInfo() after Reset error = %v, want ErrUnknownThing", err)
	}
}

func TestLogin_Error(t *testing.T) {
	gw := newTestGateway(t)
	gw.session.loginErr = errors.New("invalid credentials")

	if err := gw.Login(context.Background(), "u", "p"); err == nil {
		t.Error("Login() error = nil")
	}
	if gw.IsLoggedIn() {
		t.Error("IsLoggedIn() = true after failed login")
	}
}
