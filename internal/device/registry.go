package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the registration cache. It wraps a Repository with an
// in-memory copy so lookups never touch the database.
//
// The cache is populated on startup via RefreshCache() and written through
// on every change. All public methods are thread-safe.
type Registry struct {
	repo Repository

	mu           sync.RWMutex
	things       map[string]Info
	certs        map[string]CertificatePaths
	messageTypes map[string]string
	thingTypes   map[string]string

	logger Logger
}

// NewRegistry creates a registration cache backed by repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:         repo,
		things:       make(map[string]Info),
		certs:        make(map[string]CertificatePaths),
		messageTypes: make(map[string]string),
		thingTypes:   make(map[string]string),
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads every table from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	infos, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading things: %w", err)
	}
	messageTypes, err := r.repo.MessageTypes(ctx)
	if err != nil {
		return fmt.Errorf("loading message types: %w", err)
	}
	thingTypes, err := r.repo.ThingTypes(ctx)
	if err != nil {
		return fmt.Errorf("loading thing types: %w", err)
	}

	certs := make(map[string]CertificatePaths)
	for _, info := range infos {
		paths, err := r.repo.Certificates(ctx, info.PeripheralID)
		if err == nil {
			certs[info.PeripheralID] = paths
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.things = make(map[string]Info, len(infos))
	for _, info := range infos {
		r.things[info.PeripheralID] = info.Clone()
	}
	r.certs = certs
	r.messageTypes = messageTypes
	r.thingTypes = thingTypes

	r.logger.Info("registration cache refreshed", "things", len(infos))
	return nil
}

// Get returns the stored thing for a peripheral id.
func (r *Registry) Get(peripheralID string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.things[peripheralID]
	if !ok {
		return Info{}, false
	}
	return info.Clone(), true
}

// Put stores info, replacing any previous entry for the same peripheral.
func (r *Registry) Put(ctx context.Context, info Info) error {
	if err := r.repo.Save(ctx, info); err != nil {
		return err
	}

	r.mu.Lock()
	r.things[info.PeripheralID] = info.Clone()
	r.mu.Unlock()

	r.logger.Debug("thing cached", "peripheral_id", info.PeripheralID, "cloud_id", info.CloudID)
	return nil
}

// List returns every stored thing ordered by peripheral id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.things))
	for _, info := range r.things {
		out = append(out, info.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeripheralID < out[j].PeripheralID })
	return out
}

// Delete removes a thing and its certificate paths.
func (r *Registry) Delete(ctx context.Context, peripheralID string) error {
	if err := r.repo.Delete(ctx, peripheralID); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.things, peripheralID)
	delete(r.certs, peripheralID)
	r.mu.Unlock()
	return nil
}

// SetCertificates records the PEM locations issued to a thing.
func (r *Registry) SetCertificates(ctx context.Context, peripheralID string, paths CertificatePaths) error {
	if err := r.repo.SaveCertificates(ctx, peripheralID, paths); err != nil {
		return err
	}

	r.mu.Lock()
	r.certs[peripheralID] = paths
	r.mu.Unlock()
	return nil
}

// Certificates returns the PEM locations issued to a thing.
func (r *Registry) Certificates(peripheralID string) (CertificatePaths, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.certs[peripheralID]
	return p, ok
}

// SetMessageType maps a characteristic id to a cloud message type id.
func (r *Registry) SetMessageType(ctx context.Context, characteristicID, messageTypeID string) error {
	if err := r.repo.SetMessageType(ctx, characteristicID, messageTypeID); err != nil {
		return err
	}

	r.mu.Lock()
	r.messageTypes[characteristicID] = messageTypeID
	r.mu.Unlock()
	return nil
}

// MessageType returns the message type id for a characteristic id.
func (r *Registry) MessageType(characteristicID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.messageTypes[characteristicID]
	return id, ok
}

// SetThingType maps a thing type name to a cloud thing type id.
func (r *Registry) SetThingType(ctx context.Context, name, thingTypeID string) error {
	if err := r.repo.SetThingType(ctx, name, thingTypeID); err != nil {
		return err
	}

	r.mu.Lock()
	r.thingTypes[name] = thingTypeID
	r.mu.Unlock()
	return nil
}

// ThingType returns the thing type id registered under name.
func (r *Registry) ThingType(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.thingTypes[name]
	return id, ok
}

// Reset deletes everything from the cache and the repository.
func (r *Registry) Reset(ctx context.Context) error {
	if err := r.repo.DeleteAll(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	r.things = make(map[string]Info)
	r.certs = make(map[string]CertificatePaths)
	r.messageTypes = make(map[string]string)
	r.thingTypes = make(map[string]string)
	r.mu.Unlock()

	r.logger.Warn("registration cache reset")
	return nil
}
