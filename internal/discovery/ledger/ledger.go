// Package ledger tracks which device identities have already been announced.
//
// The ledger is the engine's memory of the current discovery activity: it
// turns a stream of repeated announcements into a single "new device" result
// per identity and later reports identities that went quiet.
//
// All operations are serialised by one mutex and never block on I/O, so the
// receive loop can call them directly.
package ledger

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Outcome is the result of RecordIfNew.
type Outcome int

// RecordIfNew outcomes.
const (
	// NewRecord means the identity was not in the ledger and has been added.
	NewRecord Outcome = iota

	// AlreadyKnown means the identity was present; only its LastSeenAt changed.
	AlreadyKnown
)

// String returns the outcome name.
func (o Outcome) String() string {
	if o == NewRecord {
		return "new"
	}
	return "already_known"
}

// Record describes one announced identity.
type Record struct {
	Identity    string
	Label       string
	Properties  map[string]string
	FirstSeenAt time.Time
	LastSeenAt  time.Time

	// ScanID is the newest scan window open when the record was created,
	// or zero.
	ScanID uint64

	// pins holds every scan window open when the record was created.
	pins []uint64
}

func (r *Record) clone() Record {
	c := *r
	c.Properties = maps.Clone(r.Properties)
	c.pins = slices.Clone(r.pins)
	return c
}

// Ledger is a concurrency-safe table of announced identities.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*Record

	scans    map[uint64]struct{}
	lastScan uint64
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		records: make(map[string]*Record),
		scans:   make(map[uint64]struct{}),
	}
}

// RecordIfNew inserts identity if it is not yet present.
//
// For an existing identity only LastSeenAt is advanced; label and properties
// keep their first-seen values. The returned Record is a copy.
func (l *Ledger) RecordIfNew(identity, label string, properties map[string]string, now time.Time) (Record, Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.records[identity]; ok {
		touch(r, now)
		return r.clone(), AlreadyKnown
	}

	r := &Record{
		Identity:    identity,
		Label:       label,
		Properties:  maps.Clone(properties),
		FirstSeenAt: now,
		LastSeenAt:  now,
		ScanID:      l.lastScanLocked(),
		pins:        l.openScansLocked(),
	}
	l.records[identity] = r
	return r.clone(), NewRecord
}

// Touch advances LastSeenAt for identity. It reports whether the identity
// was present.
func (l *Ledger) Touch(identity string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[identity]
	if ok {
		touch(r, now)
	}
	return ok
}

// LastSeenAt never moves backwards.
func touch(r *Record, now time.Time) {
	if now.After(r.LastSeenAt) {
		r.LastSeenAt = now
	}
}

// Prune removes records not seen for longer than threshold and returns them.
// Records created while any still-open scan was active are kept.
func (l *Ledger) Prune(now time.Time, threshold time.Duration) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []Record
	for id, r := range l.records {
		if now.Sub(r.LastSeenAt) <= threshold {
			continue
		}
		if l.pinnedLocked(r) {
			continue
		}
		removed = append(removed, r.clone())
		delete(l.records, id)
	}
	sortRecords(removed)
	return removed
}

// BeginScan opens a scan window and returns its id. Records created while
// the window is open are pinned until EndScan.
func (l *Ledger) BeginScan() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastScan++
	l.scans[l.lastScan] = struct{}{}
	return l.lastScan
}

// EndScan closes a scan window. Unknown ids are ignored.
func (l *Ledger) EndScan(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.scans, id)
}

// ActiveScans returns the number of open scan windows.
func (l *Ledger) ActiveScans() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.scans)
}

// Get returns a copy of the record for identity.
func (l *Ledger) Get(identity string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[identity]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Snapshot returns copies of all records sorted by identity.
func (l *Ledger) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r.clone())
	}
	sortRecords(out)
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// lastScanLocked returns the newest open scan id, or zero.
func (l *Ledger) lastScanLocked() uint64 {
	var newest uint64
	for id := range l.scans {
		newest = max(newest, id)
	}
	return newest
}

// pinnedLocked reports whether any scan r was created under is still open.
func (l *Ledger) pinnedLocked(r *Record) bool {
	for _, id := range r.pins {
		if _, open := l.scans[id]; open {
			return true
		}
	}
	return false
}

// openScansLocked returns the open scan ids, or nil.
func (l *Ledger) openScansLocked() []uint64 {
	if len(l.scans) == 0 {
		return nil
	}
	return slices.Collect(maps.Keys(l.scans))
}

func sortRecords(rs []Record) {
	slices.SortFunc(rs, func(a, b Record) int {
		return strings.Compare(a.Identity, b.Identity)
	})
}
