package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefixDiscovery is the root of every topic this service uses.
const TopicPrefixDiscovery = "graylogic/discovery"

// Topics provides builders for discovery MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DiscoveryDevice("knxip", "knx:00fa12345678")
//	// Returns: "graylogic/discovery/knxip/knx_00fa12345678"
type Topics struct{}

// DiscoveryDevice returns the retained per-device topic.
//
// Example: graylogic/discovery/framed/framed_a1b2c3d4e5f6
func (Topics) DiscoveryDevice(protocol, identity string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDiscovery, SanitizeSegment(protocol), SanitizeSegment(identity))
}

// DiscoveryEvents returns the topic carrying discovered/vanished events.
func (Topics) DiscoveryEvents() string {
	return TopicPrefixDiscovery + "/events"
}

// DiscoveryScanCommand returns the topic Core publishes scan requests to.
func (Topics) DiscoveryScanCommand() string {
	return TopicPrefixDiscovery + "/command/scan"
}

// DiscoveryStatus returns the retained service online/offline topic.
func (Topics) DiscoveryStatus() string {
	return TopicPrefixDiscovery + "/status"
}

// DiscoveryHealth returns the retained per-protocol health topic.
//
// Example: graylogic/discovery/health/knxip
func (Topics) DiscoveryHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixDiscovery, SanitizeSegment(protocol))
}

// SanitizeSegment makes s safe for use as a single topic level.
// Separators, wildcards and colons become underscores; an empty
// segment becomes "_".
func SanitizeSegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ':', ' ', 0:
			return '_'
		}
		return r
	}, s)
}
