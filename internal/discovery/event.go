package discovery

import (
	"maps"
	"time"
)

// EventKind distinguishes discovery events.
type EventKind string

// Event kinds.
const (
	// EventDiscovered is emitted the first time an unknown identity is seen.
	EventDiscovered EventKind = "discovered"

	// EventVanished is emitted when an identity is pruned as stale.
	EventVanished EventKind = "vanished"
)

// Event is delivered to listeners. Each listener receives its own copy.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	Kind       EventKind         `json:"kind"`
	Identity   string            `json:"identity"`
	Label      string            `json:"label"`
	Properties map[string]string `json:"properties,omitempty"`

	// Protocol is the name of the codec that decoded the device.
	Protocol string `json:"protocol"`

	// Source is the sender address of the frame that created the record.
	// Empty for vanished events.
	Source string `json:"source,omitempty"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Timestamp   time.Time `json:"timestamp"`

	// Result is whatever the ResultBuilder produced for a discovered
	// device, or nil.
	Result any `json:"result,omitempty"`
}

func (ev Event) clone() Event {
	ev.Properties = maps.Clone(ev.Properties)
	return ev
}

// Listener receives discovery events.
type Listener func(Event)

// ListenerID identifies a registered listener.
type ListenerID uint64

// RegistryView reports whether an identity is already a configured device.
// IsKnown is called from the receive loop and must not block on I/O.
type RegistryView interface {
	IsKnown(identity string) bool
}

// Candidate is the input to a ResultBuilder.
type Candidate struct {
	Identity    string
	Label       string
	Properties  map[string]string
	Protocol    string
	Source      string
	FirstSeenAt time.Time
}

// ResultBuilder converts a newly discovered device into the representation
// the host application stores or presents (for example an inbox entry).
type ResultBuilder interface {
	BuildResult(c Candidate) (any, error)
}

// ResultBuilderFunc adapts a function to ResultBuilder.
type ResultBuilderFunc func(c Candidate) (any, error)

// BuildResult calls f(c).
func (f ResultBuilderFunc) BuildResult(c Candidate) (any, error) {
	return f(c)
}
