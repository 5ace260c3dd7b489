package notify

import (
	"time"

	"github.com/nerrad567/gray-logic-discovery/internal/device"
	"github.com/nerrad567/gray-logic-discovery/internal/discovery"
	"github.com/nerrad567/gray-logic-discovery/internal/infrastructure/mqtt"
)

// Publisher is the MQTT surface MQTTPublisher needs. Implemented by *mqtt.Client.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
	ClearRetained(topic string) error
	IsConnected() bool
}

// DeviceMessage is the retained per-device payload.
type DeviceMessage struct {
	Identity    string            `json:"identity"`
	Label       string            `json:"label"`
	Protocol    string            `json:"protocol"`
	Properties  map[string]string `json:"properties,omitempty"`
	Source      string            `json:"source,omitempty"`
	FirstSeenAt time.Time         `json:"first_seen_at"`
	LastSeenAt  time.Time         `json:"last_seen_at"`

	// InboxID is set when the event carried an inbox entry.
	InboxID string `json:"inbox_id,omitempty"`
}

// MQTTPublisher mirrors discovery events onto the MQTT bus.
//
// Discovered devices are published retained on the per-device topic so
// late subscribers see the current set; vanished devices clear that
// retained message. Every event is also published on the events topic.
type MQTTPublisher struct {
	pub    Publisher
	logger Logger
}

// NewMQTTPublisher creates a publisher. Register HandleEvent with
// Engine.AddListener.
func NewMQTTPublisher(pub Publisher, logger Logger) *MQTTPublisher {
	return &MQTTPublisher{pub: pub, logger: orNoop(logger)}
}

// HandleEvent publishes ev. Failures are logged; the engine does not retry.
func (p *MQTTPublisher) HandleEvent(ev discovery.Event) {
	if !p.pub.IsConnected() {
		p.logger.Debug("mqtt offline, skipping discovery event", "identity", ev.Identity, "kind", ev.Kind)
		return
	}

	topics := mqtt.Topics{}
	deviceTopic := topics.DiscoveryDevice(ev.Protocol, ev.Identity)

	switch ev.Kind {
	case discovery.EventDiscovered:
		if err := p.pub.PublishJSON(deviceTopic, deviceMessage(ev), true); err != nil {
			p.logger.Warn("publishing discovered device failed", "identity", ev.Identity, "error", err)
		}
	case discovery.EventVanished:
		if err := p.pub.ClearRetained(deviceTopic); err != nil {
			p.logger.Warn("clearing vanished device failed", "identity", ev.Identity, "error", err)
		}
	}

	if err := p.pub.PublishJSON(topics.DiscoveryEvents(), ev, false); err != nil {
		p.logger.Warn("publishing discovery event failed", "identity", ev.Identity, "error", err)
	}
}

func deviceMessage(ev discovery.Event) DeviceMessage {
	msg := DeviceMessage{
		Identity:    ev.Identity,
		Label:       ev.Label,
		Protocol:    ev.Protocol,
		Properties:  ev.Properties,
		Source:      ev.Source,
		FirstSeenAt: ev.FirstSeenAt,
		LastSeenAt:  ev.LastSeenAt,
	}
	if entry, ok := ev.Result.(device.InboxEntry); ok {
		msg.InboxID = entry.ID
	}
	return msg
}
