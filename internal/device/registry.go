package device

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry and Inbox.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry caches known devices and ignored identities in memory.
//
// The cache is populated by RefreshCache and kept in sync by the
// registry's own write operations. All methods are safe for concurrent use.
type Registry struct {
	repo Repository

	mu      sync.RWMutex
	known   map[string]KnownDevice
	ignored map[string]struct{}

	logger Logger
}

// NewRegistry creates a registry over repo. The cache starts empty.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:    repo,
		known:   make(map[string]KnownDevice),
		ignored: make(map[string]struct{}),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// RefreshCache reloads known devices and ignored inbox identities.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.ListKnown(ctx)
	if err != nil {
		return fmt.Errorf("loading known devices: %w", err)
	}
	ignored, err := r.repo.ListInbox(ctx, InboxIgnored)
	if err != nil {
		return fmt.Errorf("loading ignored identities: %w", err)
	}

	known := make(map[string]KnownDevice, len(devices))
	for _, d := range devices {
		known[d.Identity] = d.Clone()
	}
	skip := make(map[string]struct{}, len(ignored))
	for _, e := range ignored {
		skip[e.Identity] = struct{}{}
	}

	r.mu.Lock()
	r.known = known
	r.ignored = skip
	logger := r.logger
	r.mu.Unlock()

	logger.Info("device cache refreshed", "known", len(known), "ignored", len(skip))
	return nil
}

// IsKnown reports whether identity is a known device or has been ignored.
// It only reads the in-memory cache.
func (r *Registry) IsKnown(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.known[identity]; ok {
		return true
	}
	_, ok := r.ignored[identity]
	return ok
}

// ListKnown returns cached known devices sorted by identity.
func (r *Registry) ListKnown() []KnownDevice {
	r.mu.RLock()
	devices := make([]KnownDevice, 0, len(r.known))
	for _, d := range r.known {
		devices = append(devices, d.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].Identity < devices[j].Identity })
	return devices
}

// GetKnown returns the cached device for identity.
func (r *Registry) GetKnown(identity string) (KnownDevice, error) {
	r.mu.RLock()
	d, ok := r.known[identity]
	r.mu.RUnlock()
	if !ok {
		return KnownDevice{}, ErrDeviceNotFound
	}
	return d.Clone(), nil
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.known)
}

// AddKnown validates and stores a known device.
func (r *Registry) AddKnown(ctx context.Context, d KnownDevice) error {
	if err := ValidateKnownDevice(d); err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if err := r.repo.CreateKnown(ctx, d); err != nil {
		return err
	}

	r.mu.Lock()
	r.known[d.Identity] = d.Clone()
	r.mu.Unlock()

	r.getLogger().Info("known device added", "identity", d.Identity, "protocol", d.Protocol)
	return nil
}

// RemoveKnown deletes a known device. The engine will announce the
// identity again the next time it is heard after its ledger record ages out.
func (r *Registry) RemoveKnown(ctx context.Context, identity string) error {
	if err := r.repo.DeleteKnown(ctx, identity); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.known, identity)
	r.mu.Unlock()

	r.getLogger().Info("known device removed", "identity", identity)
	return nil
}

// Approve promotes inbox entry id to a known device.
func (r *Registry) Approve(ctx context.Context, id, name string) (KnownDevice, error) {
	d, err := r.repo.ApproveInbox(ctx, id, name)
	if err != nil {
		return KnownDevice{}, err
	}

	r.mu.Lock()
	r.known[d.Identity] = d.Clone()
	delete(r.ignored, d.Identity)
	r.mu.Unlock()

	r.getLogger().Info("inbox entry approved", "id", id, "identity", d.Identity)
	return d, nil
}

// Ignore marks inbox entry id as ignored. Its identity is suppressed
// from then on.
func (r *Registry) Ignore(ctx context.Context, id string) (InboxEntry, error) {
	e, err := r.repo.SetInboxStatus(ctx, id, InboxIgnored)
	if err != nil {
		return InboxEntry{}, err
	}

	r.mu.Lock()
	r.ignored[e.Identity] = struct{}{}
	r.mu.Unlock()

	r.getLogger().Info("inbox entry ignored", "id", id, "identity", e.Identity)
	return e, nil
}

func (r *Registry) getLogger() Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}
