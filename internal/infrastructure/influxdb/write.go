package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	measurementStats  = "discovery_stats"
	measurementEvents = "discovery_events"
)

// DiscoveryStats is one sample of engine counters.
type DiscoveryStats struct {
	Protocol string

	FramesDecoded  uint64
	DecodeErrors   uint64
	Discovered     uint64
	Vanished       uint64
	Duplicates     uint64
	KnownSkipped   uint64
	EventsDropped  uint64
	ListenerPanics uint64
	ScansStarted   uint64
	Rebinds        uint64
	LedgerSize     int
	Listeners      int
	Degraded       bool
}

// DiscoveryEvent is a single discovered or vanished device.
type DiscoveryEvent struct {
	Protocol string
	Kind     string
	Identity string
	Source   string
	At       time.Time
}

// WriteDiscoveryStats writes a discovery_stats point. Counters are
// cumulative since engine start.
func (c *Client) WriteDiscoveryStats(s DiscoveryStats, at time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		measurementStats,
		map[string]string{
			"protocol": s.Protocol,
			"site":     c.site,
		},
		map[string]interface{}{
			"frames_decoded":  int64(s.FramesDecoded),  //nolint:gosec // counters stay far below MaxInt64
			"decode_errors":   int64(s.DecodeErrors),   //nolint:gosec
			"discovered":      int64(s.Discovered),     //nolint:gosec
			"vanished":        int64(s.Vanished),       //nolint:gosec
			"duplicates":      int64(s.Duplicates),     //nolint:gosec
			"known_skipped":   int64(s.KnownSkipped),   //nolint:gosec
			"events_dropped":  int64(s.EventsDropped),  //nolint:gosec
			"listener_panics": int64(s.ListenerPanics), //nolint:gosec
			"scans_started":   int64(s.ScansStarted),   //nolint:gosec
			"rebinds":         int64(s.Rebinds),        //nolint:gosec
			"ledger_size":     s.LedgerSize,
			"listeners":       s.Listeners,
			"degraded":        s.Degraded,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}

// WriteDiscoveryEvent writes a discovery_events point. The identity is a
// field, not a tag, to keep series cardinality bounded.
func (c *Client) WriteDiscoveryEvent(ev DiscoveryEvent) {
	if !c.IsConnected() {
		return
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	point := write.NewPoint(
		measurementEvents,
		map[string]string{
			"protocol": ev.Protocol,
			"kind":     ev.Kind,
			"site":     c.site,
		},
		map[string]interface{}{
			"identity": ev.Identity,
			"source":   ev.Source,
			"count":    1,
		},
		at,
	)
	c.writeAPI.WritePoint(point)
}
