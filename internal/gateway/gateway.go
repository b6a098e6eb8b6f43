package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/geeny-gateway/internal/ble"
	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/thing"
)

// DefaultScanTimeout is used when ScanOptions.Timeout is zero.
const DefaultScanTimeout = 2 * time.Second

// Registrar registers things with the cloud and caches the result.
// *cloud.Registrar implements it.
type Registrar interface {
	Register(ctx context.Context, userGivenName string, info device.Info) (device.Info, error)
	IsRegistered(info device.Info) bool
	Registered() []device.Info
	Lookup(peripheralID string) (device.Info, bool)
	Update(ctx context.Context, info device.Info) error
	Reset(ctx context.Context) error
}

// Session holds the user's cloud session. *cloud.TokenManager implements it.
type Session interface {
	Login(ctx context.Context, username, password string) (string, error)
	Logout() error
	HasToken() bool
}

// Options configures a Gateway. Radio, Registrar, Session and Connectors
// are required.
type Options struct {
	Radio      Radio
	Registrar  Registrar
	Session    Session
	Connectors ConnectorFactory
	Logger     Logger
	Recorder   thing.Recorder

	// OnScan, if set, receives the things of every successful scan.
	OnScan func(things []device.Info)
}

// ScanOptions filters a scan.
type ScanOptions struct {
	Timeout        time.Duration
	OnlyNative     bool
	OmitRegistered bool
}

// Gateway is the facade over scanning, discovery, registration and the
// cloud session.
type Gateway struct {
	radio     Radio
	registrar Registrar
	session   Session
	things    *ThingProvider
	logger    Logger
	onScan    func([]device.Info)

	mu   sync.Mutex
	seen map[string]device.Info
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Gateway{
		radio:     opts.Radio,
		registrar: opts.Registrar,
		session:   opts.Session,
		things:    NewThingProvider(opts.Radio, opts.Connectors, logger, opts.Recorder),
		logger:    logger,
		onScan:    opts.OnScan,
		seen:      make(map[string]device.Info),
	}
}

// ScanForThings scans for nearby things.
func (g *Gateway) ScanForThings(ctx context.Context, opts ScanOptions) ([]device.Info, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	found, err := g.radio.Scan(ctx, timeout)
	if err != nil {
		return nil, err
	}

	things := make([]device.Info, 0, len(found))
	for _, info := range found {
		if opts.OnlyNative && !info.IsNative {
			continue
		}
		if registered, ok := g.registrar.Lookup(info.PeripheralID); ok {
			if opts.OmitRegistered {
				continue
			}
			info = registered
		}
		things = append(things, info)
	}
	sort.Slice(things, func(i, j int) bool { return things[i].PeripheralID < things[j].PeripheralID })

	g.remember(things...)
	g.logger.Info("scan finished", "found", len(found), "returned", len(things))
	if g.onScan != nil {
		g.onScan(things)
	}
	return things, nil
}

// ConnectAndDiscover connects to the thing's peripheral and detects its
// characteristics and protocol. Cancelling ctx cancels the connect.
func (g *Gateway) ConnectAndDiscover(ctx context.Context, info device.Info) (device.Info, error) {
	id, err := ble.ParseIdentifier(info.PeripheralID)
	if err != nil {
		return device.Info{}, err
	}
	info.PeripheralID = id

	p, err := g.radio.Connect(ctx, id)
	if err != nil {
		return device.Info{}, err
	}
	gatt, err := g.radio.DetectGATT(ctx, p)
	if err != nil {
		return device.Info{}, err
	}

	discovered := info.With(device.Update{
		Protocol:        gatt.Protocol,
		Characteristics: gatt.Characteristics,
	})
	if discovered.Characteristics == nil {
		discovered.Characteristics = []device.Characteristic{}
	}
	g.remember(discovered)
	g.logger.Info("thing discovered",
		"peripheral_id", id,
		"native", discovered.IsNative,
		"characteristics", len(discovered.Characteristics))
	return discovered, nil
}

// RegisterThing registers a native thing under name and returns its Thing.
func (g *Gateway) RegisterThing(ctx context.Context, name string, info device.Info) (*thing.Thing, error) {
	registered, err := g.registrar.Register(ctx, name, info)
	if err != nil {
		return nil, err
	}
	g.remember(registered)
	g.logger.Info("thing registered", "peripheral_id", registered.PeripheralID, "cloud_id", registered.CloudID)
	return g.things.Thing(registered), nil
}

// UpdateThing persists a new description of a registered thing and applies
// it to the live Thing.
func (g *Gateway) UpdateThing(ctx context.Context, info device.Info) error {
	if !g.registrar.IsRegistered(info) {
		return fmt.Errorf("%w: %s", ErrNotRegistered, info.PeripheralID)
	}
	if err := g.registrar.Update(ctx, info); err != nil {
		return err
	}
	g.remember(info)
	if t, ok := g.things.Registered(info.PeripheralID); ok {
		t.SetInfo(info)
	}
	return nil
}

// RegisteredThings returns a Thing for every registered thing.
func (g *Gateway) RegisteredThings() []*thing.Thing {
	infos := g.registrar.Registered()
	things := make([]*thing.Thing, 0, len(infos))
	for _, info := range infos {
		things = append(things, g.things.Thing(info))
	}
	return things
}

// RegisteredThing returns the Thing of a registered thing.
func (g *Gateway) RegisteredThing(info device.Info) (*thing.Thing, bool) {
	registered, ok := g.registrar.Lookup(info.PeripheralID)
	if !ok {
		return nil, false
	}
	return g.things.Thing(registered), true
}

// Thing returns the Thing for info, registered or not.
func (g *Gateway) Thing(info device.Info) *thing.Thing {
	if registered, ok := g.registrar.Lookup(info.PeripheralID); ok {
		info = registered
	}
	return g.things.Thing(info)
}

// IsThingRegistered reports whether the thing has been registered.
func (g *Gateway) IsThingRegistered(info device.Info) bool {
	return g.registrar.IsRegistered(info)
}

// IsThingConnected reports whether the thing's peripheral is connected.
func (g *Gateway) IsThingConnected(info device.Info) bool {
	_, ok := g.radio.ConnectedPeripheral(info.PeripheralID)
	return ok
}

// ThingInfo returns the best known description of a peripheral: the
// registration if any, otherwise what the last scan or discovery saw.
func (g *Gateway) ThingInfo(peripheralID string) (device.Info, error) {
	id, err := ble.ParseIdentifier(peripheralID)
	if err != nil {
		return device.Info{}, err
	}
	if info, ok := g.registrar.Lookup(id); ok {
		return info, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if info, ok := g.seen[id]; ok {
		return info.Clone(), nil
	}
	return device.Info{}, fmt.Errorf("%w: %s", ErrUnknownThing, id)
}

// Login opens a cloud session.
func (g *Gateway) Login(ctx context.Context, username, password string) error {
	if _, err := g.session.Login(ctx, username, password); err != nil {
		return err
	}
	g.logger.Info("logged in", "username", username)
	return nil
}

// Logout ends the cloud session.
func (g *Gateway) Logout() error {
	if err := g.session.Logout(); err != nil {
		return err
	}
	g.logger.Info("logged out")
	return nil
}

// IsLoggedIn reports whether a session token is held.
func (g *Gateway) IsLoggedIn() bool {
	return g.session.HasToken()
}

// Reset closes every Thing, ends the session and forgets all
// registrations.
func (g *Gateway) Reset(ctx context.Context) error {
	g.things.Close()

	g.mu.Lock()
	g.seen = make(map[string]device.Info)
	g.mu.Unlock()

	err := errors.Join(g.session.Logout(), g.registrar.Reset(ctx))
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	g.logger.Info("gateway reset")
	return nil
}

// Close closes every Thing.
func (g *Gateway) Close() {
	g.things.Close()
}

func (g *Gateway) remember(infos ...device.Info) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, info := range infos {
		g.seen[info.PeripheralID] = info.Clone()
	}
}
