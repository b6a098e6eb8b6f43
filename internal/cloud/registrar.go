package cloud

import (
	"context"
	"fmt"
	"sort"

	"github.com/nerrad567/geeny-gateway/internal/device"
	"github.com/nerrad567/geeny-gateway/internal/infrastructure/config"
)

// TokenSource supplies session tokens. *TokenManager implements it.
type TokenSource interface {
	HasToken() bool
	RefreshedToken(ctx context.Context) (string, error)
}

// ThingCreator creates things in the cloud. *Creator implements it.
type ThingCreator interface {
	Create(ctx context.Context, token, name, serialNumber, thingType string) (*CreatedThing, error)
}

// CertificateWriter stores issued certificates. *CertificateStore
// implements it.
type CertificateWriter interface {
	Store(ctx context.Context, peripheralID, passphrase string, b Bundle) (device.CertificatePaths, error)
}

// RegistrarOptions configures a Registrar. All fields but Logger are
// required.
type RegistrarOptions struct {
	Registry     *device.Registry
	Tokens       TokenSource
	Creator      ThingCreator
	Certificates CertificateWriter
	Logger       Logger

	// Types are the configured type mappings. Optional.
	Types config.CloudTypesConfig
}

// Registrar gives native things a cloud identity and keeps the
// registration cache current.
type Registrar struct {
	registry *device.Registry
	tokens   TokenSource
	creator  ThingCreator
	certs    CertificateWriter
	logger   Logger
	types    config.CloudTypesConfig
}

// NewRegistrar creates a Registrar.
func NewRegistrar(opts RegistrarOptions) *Registrar {
	r := &Registrar{
		registry: opts.Registry,
		tokens:   opts.Tokens,
		creator:  opts.Creator,
		certs:    opts.Certificates,
		logger:   opts.Logger,
		types:    opts.Types,
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	return r
}

// Register creates the thing in the cloud under userGivenName, stores its
// certificates and caches the registered description. A thing that already
// has a cloud id is returned unchanged.
func (r *Registrar) Register(ctx context.Context, userGivenName string, info device.Info) (device.Info, error) {
	if info.Protocol == nil {
		return device.Info{}, ErrNotNative
	}
	if info.IsRegistered() {
		return info, nil
	}
	if !r.tokens.HasToken() {
		return device.Info{}, ErrNoCredentials
	}

	token, err := r.tokens.RefreshedToken(ctx)
	if err != nil {
		return device.Info{}, err
	}

	thingType := info.Protocol.DeviceTypeID
	if mapped, ok := r.registry.ThingType(thingType); ok {
		thingType = mapped
	}

	created, err := r.creator.Create(ctx, token, userGivenName, info.Protocol.SerialNumber, thingType)
	if err != nil {
		return device.Info{}, err
	}
	r.logger.Info("thing created", "peripheral_id", info.PeripheralID, "cloud_id", created.ID)

	if _, err := r.certs.Store(ctx, info.PeripheralID, created.ID, created.Certs); err != nil {
		return device.Info{}, err
	}

	registered := info.With(device.Update{
		UserGivenName: device.Ptr(userGivenName),
		CloudID:       device.Ptr(created.ID),
	})
	if err := r.registry.Put(ctx, registered); err != nil {
		return device.Info{}, fmt.Errorf("caching registration: %w", err)
	}
	return registered, nil
}

// IsRegistered reports whether the registration cache knows the thing.
func (r *Registrar) IsRegistered(info device.Info) bool {
	_, ok := r.registry.Get(info.PeripheralID)
	return ok
}

// Registered returns every cached registration.
func (r *Registrar) Registered() []device.Info {
	return r.registry.List()
}

// Lookup returns the cached registration of a peripheral.
func (r *Registrar) Lookup(peripheralID string) (device.Info, bool) {
	return r.registry.Get(peripheralID)
}

// Update replaces the cached description of a registered thing.
func (r *Registrar) Update(ctx context.Context, info device.Info) error {
	return r.registry.Put(ctx, info)
}

// certificateRemover is implemented by certificate writers that can delete
// what they stored.
type certificateRemover interface {
	Remove(peripheralID string)
}

// Reset forgets every registration and deletes the stored certificates.
func (r *Registrar) Reset(ctx context.Context) error {
	if rm, ok := r.certs.(certificateRemover); ok {
		for _, info := range r.registry.List() {
			rm.Remove(info.PeripheralID)
		}
	}
	if err := r.registry.Reset(ctx); err != nil {
		return err
	}
	// Configured mappings outlive a reset.
	return r.SeedTypes(ctx)
}

// SeedTypes writes the configured thing and message type mappings to the
// registration cache. Entries already cached are overwritten.
func (r *Registrar) SeedTypes(ctx context.Context) error {
	for _, name := range sortedKeys(r.types.ThingTypes) {
		if err := r.registry.SetThingType(ctx, name, r.types.ThingTypes[name]); err != nil {
			return fmt.Errorf("seeding thing type %s: %w", name, err)
		}
	}
	for _, id := range sortedKeys(r.types.MessageTypes) {
		if err := r.registry.SetMessageType(ctx, id, r.types.MessageTypes[id]); err != nil {
			return fmt.Errorf("seeding message type %s: %w", id, err)
		}
	}
	if n := len(r.types.ThingTypes) + len(r.types.MessageTypes); n > 0 {
		r.logger.Debug("type mappings seeded",
			"thing_types", len(r.types.ThingTypes),
			"message_types", len(r.types.MessageTypes))
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
