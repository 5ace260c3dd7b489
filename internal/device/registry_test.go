package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-discovery/internal/discovery"
)

func TestRegistry_RefreshCache(t *testing.T) {
	repo := NewMockRepository()
	repo.known["knx:00fa12345678"] = KnownDevice{Identity: "knx:00fa12345678", Protocol: "knxip"}
	repo.inbox["x"] = InboxEntry{ID: "x", Identity: "framed:a1b2c3d4e5f6", Status: InboxIgnored}
	repo.inbox["y"] = InboxEntry{ID: "y", Identity: "framed:000000000001", Status: InboxPending}

	r := NewRegistry(repo)
	if r.IsKnown("knx:00fa12345678") {
		t.Error("IsKnown() = true before RefreshCache")
	}

	if err := r.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	tests := []struct {
		identity string
		want     bool
	}{
		{"knx:00fa12345678", true},
		{"framed:a1b2c3d4e5f6", true},
		{"framed:000000000001", false},
		{"beacon:10.0.0.1", false},
	}
	for _, tt := range tests {
		if got := r.IsKnown(tt.identity); got != tt.want {
			t.Errorf("IsKnown(%q) = %v, want %v", tt.identity, got, tt.want)
		}
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRegistry_RefreshCacheError(t *testing.T) {
	repo := NewMockRepository()
	repo.listErr = errors.New("disk on fire")

	r := NewRegistry(repo)
	if err := r.RefreshCache(context.Background()); err == nil {
		t.Error("RefreshCache() should fail when the repository fails")
	}
}

func TestRegistry_AddAndRemoveKnown(t *testing.T) {
	r := NewRegistry(NewMockRepository())
	ctx := context.Background()

	d := KnownDevice{Identity: "announce:hvac-1", Name: "AHU", Protocol: "announce", Properties: map[string]string{"model": "X"}}
	if err := r.AddKnown(ctx, d); err != nil {
		t.Fatalf("AddKnown() error = %v", err)
	}
	if !r.IsKnown(d.Identity) {
		t.Error("IsKnown() = false after AddKnown")
	}
	if err := r.AddKnown(ctx, d); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate AddKnown() error = %v, want ErrDeviceExists", err)
	}
	if err := r.AddKnown(ctx, KnownDevice{Protocol: "announce"}); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("AddKnown(no identity) error = %v, want ErrInvalidDevice", err)
	}

	got, err := r.GetKnown(d.Identity)
	if err != nil {
		t.Fatalf("GetKnown() error = %v", err)
	}
	got.Properties["model"] = "mutated"
	again, _ := r.GetKnown(d.Identity) //nolint:errcheck // existence checked above
	if again.Properties["model"] != "X" {
		t.Error("GetKnown() returned a map shared with the cache")
	}

	if err := r.RemoveKnown(ctx, d.Identity); err != nil {
		t.Fatalf("RemoveKnown() error = %v", err)
	}
	if r.IsKnown(d.Identity) {
		t.Error("IsKnown() = true after RemoveKnown")
	}
	if err := r.RemoveKnown(ctx, d.Identity); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second RemoveKnown() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := r.GetKnown(d.Identity); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetKnown() after remove error = %v", err)
	}
}

func TestRegistry_ApproveAndIgnore(t *testing.T) {
	repo := NewMockRepository()
	r := NewRegistry(repo)
	inbox := NewInbox(repo)
	ctx := context.Background()

	first := buildEntry(t, inbox, "framed:a1b2c3d4e5f6", "Plug")
	second := buildEntry(t, inbox, "framed:0a0b0c0d0e0f", "Dongle")

	d, err := r.Approve(ctx, first.ID, "Kitchen plug")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if d.Name != "Kitchen plug" || !r.IsKnown(first.Identity) {
		t.Errorf("Approve() = %+v, IsKnown = %v", d, r.IsKnown(first.Identity))
	}

	e, err := r.Ignore(ctx, second.ID)
	if err != nil {
		t.Fatalf("Ignore() error = %v", err)
	}
	if e.Status != InboxIgnored || !r.IsKnown(second.Identity) {
		t.Errorf("Ignore() = %+v, IsKnown = %v", e, r.IsKnown(second.Identity))
	}

	if _, err := r.Approve(ctx, "missing", ""); !errors.Is(err, ErrInboxEntryNotFound) {
		t.Errorf("Approve(missing) error = %v", err)
	}
	if _, err := r.Ignore(ctx, "missing"); !errors.Is(err, ErrInboxEntryNotFound) {
		t.Errorf("Ignore(missing) error = %v", err)
	}

	// Approving an ignored entry clears the ignore.
	if _, err := r.Approve(ctx, second.ID, ""); err != nil {
		t.Fatalf("Approve(ignored) error = %v", err)
	}
	known, _ := r.GetKnown(second.Identity) //nolint:errcheck // checked via Name
	if known.Name != "Dongle" {
		t.Errorf("Approve() without name = %q, want label", known.Name)
	}
}

func TestRegistry_ConcurrentIsKnown(t *testing.T) {
	r := NewRegistry(NewMockRepository())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.AddKnown(ctx, KnownDevice{Identity: fmt.Sprintf("beacon:10.0.0.%d", i), Protocol: "beacon"}) //nolint:errcheck // identities are unique
		}()
		go func() {
			defer wg.Done()
			r.IsKnown(fmt.Sprintf("beacon:10.0.0.%d", i))
			r.ListKnown()
		}()
	}
	wg.Wait()

	if got := len(r.ListKnown()); got != 20 {
		t.Errorf("ListKnown() len = %d, want 20", got)
	}
}

func TestInbox_BuildResult(t *testing.T) {
	repo := NewMockRepository()
	inbox := NewInbox(repo)

	var builder discovery.ResultBuilder = inbox
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for range 3 {
		res, err := builder.BuildResult(discovery.Candidate{
			Identity:    "knx:00fa12345678",
			Label:       "IP Router",
			Protocol:    "knxip",
			Source:      "192.168.1.10:3671",
			FirstSeenAt: now,
		})
		if err != nil {
			t.Fatalf("BuildResult() error = %v", err)
		}
		if _, ok := res.(InboxEntry); !ok {
			t.Fatalf("BuildResult() result type %T, want InboxEntry", res)
		}
	}

	entries, err := inbox.List(context.Background(), InboxPending)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].SeenCount != 3 {
		t.Errorf("List() = %+v, want one entry seen 3 times", entries)
	}

	got, err := inbox.Get(context.Background(), entries[0].ID)
	if err != nil || got.Identity != "knx:00fa12345678" {
		t.Errorf("Get() = %+v, %v", got, err)
	}
}

func buildEntry(t *testing.T, inbox *Inbox, identity, label string) InboxEntry {
	t.Helper()
	res, err := inbox.BuildResult(discovery.Candidate{Identity: identity, Label: label, Protocol: "framed", FirstSeenAt: time.Now()})
	if err != nil {
		t.Fatalf("BuildResult(%s) error = %v", identity, err)
	}
	return res.(InboxEntry)
}
