package codec

import (
	"bytes"
	"strconv"
)

const beaconName = "beacon"

// DefaultBeaconPattern is the 7-byte beacon sent by Gray Logic compatible
// devices ("GLDSC" followed by protocol version 1 and a reserved byte).
var DefaultBeaconPattern = []byte{0x47, 0x4C, 0x44, 0x53, 0x43, 0x01, 0x00}

// Beacon matches datagrams against a fixed byte pattern. The pattern carries
// no device data, so the identity is derived from the sender's address.
type Beacon struct {
	family  string
	pattern []byte
}

// NewBeacon returns a beacon codec. Empty arguments select "beacon" and
// DefaultBeaconPattern.
func NewBeacon(family string, pattern []byte) *Beacon {
	if family == "" {
		family = beaconName
	}
	if len(pattern) == 0 {
		pattern = DefaultBeaconPattern
	}
	return &Beacon{
		family:  family,
		pattern: bytes.Clone(pattern),
	}
}

// Name implements Codec.
func (b *Beacon) Name() string { return beaconName }

// Decode implements Codec.
func (b *Beacon) Decode(frame RawFrame) (Message, error) {
	if err := checkSize(beaconName, frame.Payload); err != nil {
		return Message{}, err
	}
	if len(frame.Payload) != len(b.pattern) {
		return Message{}, malformed(beaconName, "length %d, want %d", len(frame.Payload), len(b.pattern))
	}
	if !bytes.Equal(frame.Payload, b.pattern) {
		return Message{}, unrecognized(beaconName, "payload does not match beacon pattern")
	}
	if !frame.Source.IsValid() {
		return Message{}, malformed(beaconName, "missing source address")
	}

	host := frame.Source.Addr().Unmap().String()
	return Message{
		Identity: b.family + ":" + host,
		Kind:     KindBeacon,
		Label:    b.family + " " + host,
		Properties: map[string]string{
			"host": host,
			"port": strconv.Itoa(int(frame.Source.Port())),
		},
	}, nil
}

// Probe implements Prober. Beacon devices answer a repeated beacon.
func (b *Beacon) Probe() []byte {
	return bytes.Clone(b.pattern)
}
