package goble

import (
	"context"
	"errors"
	"testing"
	"time"

	gble "github.com/go-ble/ble"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/device"
)

// fakeAdv embeds gble.Advertisement and overrides only what the adapter reads.
type fakeAdv struct {
	gble.Advertisement
	addr     string
	name     string
	services []gble.UUID
}

func (a fakeAdv) LocalName() string        { return a.name }
func (a fakeAdv) Services() []gble.UUID    { return a.services }
func (a fakeAdv) RSSI() int                { return -60 }
func (a fakeAdv) Addr() gble.Addr          { return gble.NewAddr(a.addr) }
func (a fakeAdv) ManufacturerData() []byte { return nil }

// fakeClient embeds gble.Client and overrides the GATT calls used.
type fakeClient struct {
	gble.Client
	disconnected chan struct{}
	svc          *gble.Service
	char         *gble.Characteristic
	value        []byte
	notify       func([]byte)
	writes       chan []byte
}

func (c *fakeClient) Disconnected() <-chan struct{} { return c.disconnected }
func (c *fakeClient) CancelConnection() error {
	close(c.disconnected)
	return nil
}
func (c *fakeClient) DiscoverServices([]gble.UUID) ([]*gble.Service, error) {
	return []*gble.Service{c.svc}, nil
}
func (c *fakeClient) DiscoverCharacteristics([]gble.UUID, *gble.Service) ([]*gble.Characteristic, error) {
	return []*gble.Characteristic{c.char}, nil
}
func (c *fakeClient) DiscoverDescriptors([]gble.UUID, *gble.Characteristic) ([]*gble.Descriptor, error) {
	return nil, nil
}
func (c *fakeClient) ReadCharacteristic(*gble.Characteristic) ([]byte, error) {
	return c.value, nil
}
func (c *fakeClient) WriteCharacteristic(_ *gble.Characteristic, v []byte, _ bool) error {
	c.writes <- v
	return nil
}
func (c *fakeClient) Subscribe(_ *gble.Characteristic, _ bool, h gble.NotificationHandler) error {
	c.notify = h
	h([]byte{0x2A})
	return nil
}

type fakeHost struct {
	advs    []gble.Advertisement
	client  gble.Client
	dialErr error
}

func (d *fakeHost) Scan(ctx context.Context, _ bool, h gble.AdvHandler) error {
	for _, a := range d.advs {
		h(a)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeHost) Dial(context.Context, gble.Addr) (gble.Client, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.client, nil
}

func (d *fakeHost) Stop() error { return nil }

// eventRecorder is a RadioHandler and PeripheralHandler writing to channels.
type eventRecorder struct {
	discovered chan ble.Advertisement
	connected  chan ble.Peripheral
	failed     chan error
	gone       chan ble.Peripheral
	services   chan []string
	chars      chan []ble.CharacteristicInfo
	values     chan []byte
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		discovered: make(chan ble.Advertisement, 8),
		connected:  make(chan ble.Peripheral, 1),
		failed:     make(chan error, 1),
		gone:       make(chan ble.Peripheral, 1),
		services:   make(chan []string, 1),
		chars:      make(chan []ble.CharacteristicInfo, 1),
		values:     make(chan []byte, 4),
	}
}

func (e *eventRecorder) StateChanged(ble.RadioState) {}
func (e *eventRecorder) PeripheralDiscovered(_ ble.Peripheral, adv ble.Advertisement) {
	e.discovered <- adv
}
func (e *eventRecorder) PeripheralConnected(p ble.Peripheral)            { e.connected <- p }
func (e *eventRecorder) PeripheralDisconnected(p ble.Peripheral, _ error) { e.gone <- p }
func (e *eventRecorder) PeripheralConnectFailed(_ ble.Peripheral, err error) {
	e.failed <- err
}
func (e *eventRecorder) ServicesDiscovered(_ ble.Peripheral, s []string, _ error) { e.services <- s }
func (e *eventRecorder) CharacteristicsDiscovered(_ ble.Peripheral, _ string, c []ble.CharacteristicInfo, _ error) {
	e.chars <- c
}
func (e *eventRecorder) ValueUpdated(_ ble.Peripheral, _ string, v []byte, _ error) { e.values <- v }

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func TestFormatUUID(t *testing.T) {
	long := gble.MustParse("0F050001-3225-44B1-B97D-D3274ACB29DE")
	if got := formatUUID(long); got != "0F050001-3225-44B1-B97D-D3274ACB29DE" {
		t.Errorf("formatUUID(128-bit) = %q", got)
	}
	if got := formatUUID(gble.UUID16(0x180f)); got != "180F" {
		t.Errorf("formatUUID(16-bit) = %q", got)
	}
}

func TestToProperties(t *testing.T) {
	got := toProperties(gble.CharRead | gble.CharNotify | gble.CharWriteNR)
	want := device.PropRead | device.PropNotify | device.PropWriteWithoutResponse
	if got != want {
		t.Errorf("toProperties() = %v, want %v", got, want)
	}
}

func TestMatchesFilter(t *testing.T) {
	if !matchesFilter([]string{"180F"}, nil) {
		t.Error("nil filter rejected an advertisement")
	}
	if !matchesFilter([]string{"180F"}, []string{"180f"}) {
		t.Error("filter match should ignore case")
	}
	if matchesFilter(nil, []string{"180F"}) {
		t.Error("filter matched an advertisement without services")
	}
}

func TestRadioScanReportsAdvertisements(t *testing.T) {
	host := &fakeHost{advs: []gble.Advertisement{
		fakeAdv{addr: "aa:bb:cc:dd:ee:01", name: "thermo", services: []gble.UUID{gble.UUID16(0x180f)}},
	}}
	r, err := newRadio(host, Options{Executor: ble.Inline{}})
	if err != nil {
		t.Fatalf("newRadio() error = %v", err)
	}
	defer r.Close()

	rec := newEventRecorder()
	r.SetHandler(rec)
	r.Scan(nil)
	defer r.StopScan()

	adv := wait(t, rec.discovered)
	if adv.LocalName != "thermo" || len(adv.Services) != 1 || adv.Services[0] != "180F" {
		t.Errorf("advertisement = %+v", adv)
	}
}

func TestRadioConnectFailure(t *testing.T) {
	dialErr := errors.New("page timeout")
	r, _ := newRadio(&fakeHost{dialErr: dialErr}, Options{Executor: ble.Inline{}})
	defer r.Close()

	rec := newEventRecorder()
	r.SetHandler(rec)
	r.Connect(r.peripheral("AA:BB:CC:DD:EE:01", ""))

	if err := wait(t, rec.failed); !errors.Is(err, dialErr) {
		t.Errorf("failure = %v, want %v", err, dialErr)
	}
}

func TestDisabledRadio(t *testing.T) {
	r, err := Disabled(Options{Executor: ble.Inline{}})
	if err != nil {
		t.Fatalf("Disabled() error = %v", err)
	}
	if r.State() != ble.RadioUnsupported {
		t.Errorf("State() = %v, want RadioUnsupported", r.State())
	}

	rec := newEventRecorder()
	r.SetHandler(rec)
	r.Connect(r.peripheral("AA:BB:CC:DD:EE:02", ""))
	if err := wait(t, rec.failed); !errors.Is(err, ble.ErrUnsupported) {
		t.Errorf("failure = %v, want %v", err, ble.ErrUnsupported)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestRadioConnectAndGATT(t *testing.T) {
	client := &fakeClient{
		disconnected: make(chan struct{}),
		svc:          &gble.Service{UUID: gble.UUID16(0x180f)},
		char:         &gble.Characteristic{UUID: gble.UUID16(0x2a19), Property: gble.CharRead | gble.CharNotify | gble.CharWrite},
		value:        []byte{0x64},
		writes:       make(chan []byte, 1),
	}
	r, _ := newRadio(&fakeHost{client: client}, Options{Executor: ble.Inline{}})
	defer r.Close()

	rec := newEventRecorder()
	r.SetHandler(rec)
	r.Connect(r.peripheral("AA:BB:CC:DD:EE:01", "thermo"))

	p := wait(t, rec.connected)
	if p.State() != ble.PeripheralConnected {
		t.Fatalf("State() = %v", p.State())
	}
	p.SetHandler(rec)

	p.DiscoverServices()
	if s := wait(t, rec.services); len(s) != 1 || s[0] != "180F" {
		t.Fatalf("services = %v", s)
	}
	p.DiscoverCharacteristics("180F")
	chars := wait(t, rec.chars)
	if len(chars) != 1 || chars[0].UUID != "2A19" || !chars[0].Properties.CanNotify() {
		t.Fatalf("characteristics = %+v", chars)
	}

	p.ReadValue("2A19")
	if v := wait(t, rec.values); len(v) != 1 || v[0] != 0x64 {
		t.Errorf("read value = %x", v)
	}
	p.SetNotify(true, "2A19")
	if v := wait(t, rec.values); len(v) != 1 || v[0] != 0x2A {
		t.Errorf("notified value = %x", v)
	}
	p.WriteValue([]byte{0x01}, "2A19", device.WriteWithResponse)
	if v := wait(t, client.writes); len(v) != 1 || v[0] != 0x01 {
		t.Errorf("written value = %x", v)
	}

	if err := r.Disconnect("aa:bb:cc:dd:ee:01"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	wait(t, rec.gone)
	if p.State() != ble.PeripheralDisconnected {
		t.Errorf("State() after disconnect = %v", p.State())
	}
}
