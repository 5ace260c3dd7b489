package device

import (
	"maps"
	"time"
)

// KnownDevice is a device the site already manages. Frames carrying its
// identity never produce discovery events.
type KnownDevice struct {
	Identity   string            `json:"identity"`
	Name       string            `json:"name"`
	Protocol   string            `json:"protocol"`
	Properties map[string]string `json:"properties,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Clone returns a copy that shares no maps with d.
func (d KnownDevice) Clone() KnownDevice {
	d.Properties = maps.Clone(d.Properties)
	return d
}

// InboxStatus is the review state of an inbox entry.
type InboxStatus string

// Inbox statuses.
const (
	InboxPending  InboxStatus = "pending"
	InboxApproved InboxStatus = "approved"
	InboxIgnored  InboxStatus = "ignored"
)

// Valid reports whether s is one of the defined statuses.
func (s InboxStatus) Valid() bool {
	switch s {
	case InboxPending, InboxApproved, InboxIgnored:
		return true
	}
	return false
}

// InboxEntry is a discovered device awaiting review.
type InboxEntry struct {
	ID         string            `json:"id"`
	Identity   string            `json:"identity"`
	Label      string            `json:"label"`
	Protocol   string            `json:"protocol"`
	Properties map[string]string `json:"properties,omitempty"`
	Source     string            `json:"source"`
	Status     InboxStatus       `json:"status"`
	FirstSeen  time.Time         `json:"first_seen"`
	LastSeen   time.Time         `json:"last_seen"`

	// SeenCount is how many times the engine has announced this
	// identity across restarts and prunes.
	SeenCount int `json:"seen_count"`
}

// Clone returns a copy that shares no maps with e.
func (e InboxEntry) Clone() InboxEntry {
	e.Properties = maps.Clone(e.Properties)
	return e
}
