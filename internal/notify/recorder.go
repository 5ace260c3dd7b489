package notify

import (
	"github.com/nerrad567/gray-logic-discovery/internal/discovery"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/influxdb"
)

// EventSink receives one point per discovery event. Implemented by *influxdb.Client.
type EventSink interface {
	WriteDiscoveryEvent(ev influxdb.DiscoveryEvent)
}

// EventRecorder is an engine listener that writes events to InfluxDB.
type EventRecorder struct {
	sink EventSink
}

// NewEventRecorder creates a recorder over sink.
func NewEventRecorder(sink EventSink) *EventRecorder {
	return &EventRecorder{sink: sink}
}

// HandleEvent writes ev. Writes are non-blocking.
func (r *EventRecorder) HandleEvent(ev discovery.Event) {
	r.sink.WriteDiscoveryEvent(influxdb.DiscoveryEvent{
		Protocol: ev.Protocol,
		Kind:     string(ev.Kind),
		Identity: ev.Identity,
		Source:   ev.Source,
		At:       ev.Timestamp,
	})
}
