package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockRepository is an in-memory Repository for unit tests.
type MockRepository struct {
	mu      sync.Mutex
	known   map[string]KnownDevice
	inbox   map[string]InboxEntry
	nextID  int
	listErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		known: make(map[string]KnownDevice),
		inbox: make(map[string]InboxEntry),
	}
}

func (m *MockRepository) ListKnown(_ context.Context) ([]KnownDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]KnownDevice, 0, len(m.known))
	for _, d := range m.known {
		out = append(out, d.Clone())
	}
	return out, nil
}

func (m *MockRepository) CreateKnown(_ context.Context, d KnownDevice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.known[d.Identity]; ok {
		return ErrDeviceExists
	}
	m.known[d.Identity] = d.Clone()
	return nil
}

func (m *MockRepository) DeleteKnown(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.known[identity]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.known, identity)
	return nil
}

func (m *MockRepository) UpsertInbox(_ context.Context, e InboxEntry) (InboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.inbox {
		if existing.Identity == e.Identity {
			existing.Label = e.Label
			existing.LastSeen = e.LastSeen
			existing.SeenCount++
			m.inbox[id] = existing
			return existing.Clone(), nil
		}
	}
	m.nextID++
	e.ID = string(rune('a' + m.nextID - 1))
	e.Status = InboxPending
	e.SeenCount = 1
	m.inbox[e.ID] = e.Clone()
	return e, nil
}

func (m *MockRepository) GetInbox(_ context.Context, id string) (InboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.inbox[id]
	if !ok {
		return InboxEntry{}, ErrInboxEntryNotFound
	}
	return e.Clone(), nil
}

func (m *MockRepository) ListInbox(_ context.Context, status InboxStatus) ([]InboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []InboxEntry
	for _, e := range m.inbox {
		if status == "" || e.Status == status {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

func (m *MockRepository) ApproveInbox(_ context.Context, id, name string) (KnownDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.inbox[id]
	if !ok {
		return KnownDevice{}, ErrInboxEntryNotFound
	}
	if name == "" {
		name = e.Label
	}
	if _, exists := m.known[e.Identity]; exists {
		return KnownDevice{}, ErrDeviceExists
	}
	d := KnownDevice{Identity: e.Identity, Name: name, Protocol: e.Protocol, Properties: e.Properties, CreatedAt: time.Now()}
	m.known[d.Identity] = d
	e.Status = InboxApproved
	m.inbox[id] = e
	return d.Clone(), nil
}

func (m *MockRepository) SetInboxStatus(_ context.Context, id string, status InboxStatus) (InboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !status.Valid() {
		return InboxEntry{}, ErrInvalidStatus
	}
	e, ok := m.inbox[id]
	if !ok {
		return InboxEntry{}, ErrInboxEntryNotFound
	}
	e.Status = status
	m.inbox[id] = e
	return e.Clone(), nil
}
