package codec

import (
	"fmt"
	"net/netip"
	"strings"
	"time"
)

// MaxFrameSize is the largest datagram any codec accepts.
const MaxFrameSize = 2048

// RawFrame is one received datagram. The payload is owned by the frame and
// must not be modified after the frame is created.
type RawFrame struct {
	// Payload holds the datagram bytes.
	Payload []byte

	// Source is the sender's address and port.
	Source netip.AddrPort

	// ReceivedAt is when the socket returned the datagram.
	ReceivedAt time.Time
}

// PayloadKind discriminates decoded messages.
type PayloadKind string

// Payload kinds produced by the bundled codecs.
const (
	KindBeacon         PayloadKind = "beacon"
	KindSearchResponse PayloadKind = "search_response"
	KindAnnounce       PayloadKind = "announce"
	KindLeave          PayloadKind = "leave"
	KindStatus         PayloadKind = "status"
)

// Message is a validated, decoded frame.
type Message struct {
	// Identity uniquely names the physical device, prefixed by the codec
	// family (for example "knx:00fa12345678").
	Identity string

	// Kind describes what the device said.
	Kind PayloadKind

	// Label is a human-readable device name, possibly empty.
	Label string

	// Properties carries protocol-specific attributes such as host,
	// firmware or MAC address.
	Properties map[string]string
}

// Codec decodes frames for one protocol family.
type Codec interface {
	// Name returns the codec's configuration name.
	Name() string

	// Decode validates a frame and returns its message, or a *DecodeError.
	Decode(frame RawFrame) (Message, error)
}

// Prober is implemented by codecs that can solicit announcements.
type Prober interface {
	// Probe returns the payload sent when a scan window opens.
	Probe() []byte
}

// Settings configures codecs built by New.
type Settings struct {
	// BeaconFamily prefixes identities produced by the beacon codec.
	// Default: "beacon"
	BeaconFamily string

	// BeaconPattern is the byte constant matched by the beacon codec.
	// Default: DefaultBeaconPattern
	BeaconPattern []byte
}

// New returns the codec registered under name.
//
// Supported names: "beacon", "knxip", "framed", "announce".
func New(name string, s Settings) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case beaconName:
		return NewBeacon(s.BeaconFamily, s.BeaconPattern), nil
	case knxipName:
		return NewKNXnetIP(), nil
	case framedName:
		return NewFramed(), nil
	case announceName:
		return NewAnnounce(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// checkSize rejects empty and oversized frames.
func checkSize(codec string, payload []byte) error {
	if len(payload) == 0 {
		return malformed(codec, "empty frame")
	}
	if len(payload) > MaxFrameSize {
		return malformed(codec, "frame too large (%d bytes, max %d)", len(payload), MaxFrameSize)
	}
	return nil
}
