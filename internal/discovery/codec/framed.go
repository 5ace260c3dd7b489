package codec

import (
	"encoding/binary"
	"fmt"
	"net"
	"unicode/utf8"
)

const framedName = "framed"

// Framed protocol constants.
const (
	framedSTX     = 0x02
	framedVersion = 0x01

	// STX + VER + FAMILY + MAC(6) + NAMELEN + FW(2) + CRC(2)
	framedMinSize = 14
	framedMACSize = 6

	// FamilyProbe marks a discovery request. Devices never send it.
	FamilyProbe byte = 0x00
)

// Device families carried in framed announcements.
var framedFamilies = map[byte]string{
	0x01: "smart_plug",
	0x02: "air_handler",
	0x03: "lighting_gateway",
	0x04: "sensor_dongle",
}

// FramedAnnouncement is the content of one framed datagram.
type FramedAnnouncement struct {
	Family  byte
	MAC     net.HardwareAddr
	Name    string
	FWMajor byte
	FWMinor byte
}

// Framed decodes the binary announcement frames sent by sensor dongles and
// smart plugs.
//
// Frame layout:
//
//	STX(0x02) VER(0x01) FAMILY MAC(6) NAMELEN NAME(n) FW_MAJOR FW_MINOR CRC16(2, big-endian)
//
// The CRC16-CCITT covers everything from VER up to FW_MINOR.
type Framed struct{}

// NewFramed returns a framed codec.
func NewFramed() *Framed { return &Framed{} }

// Name implements Codec.
func (*Framed) Name() string { return framedName }

// Decode implements Codec.
func (*Framed) Decode(frame RawFrame) (Message, error) {
	data := frame.Payload
	if err := checkSize(framedName, data); err != nil {
		return Message{}, err
	}
	if len(data) < framedMinSize {
		return Message{}, malformed(framedName, "too short (%d bytes, need at least %d)", len(data), framedMinSize)
	}
	if data[0] != framedSTX {
		return Message{}, malformed(framedName, "bad start byte 0x%02X", data[0])
	}
	nameLen := int(data[9])
	if want := framedMinSize + nameLen; len(data) != want {
		return Message{}, malformed(framedName, "length %d, name length implies %d", len(data), want)
	}

	crcAt := len(data) - 2
	got := binary.BigEndian.Uint16(data[crcAt:])
	if want := CRC16CCITT(data[1:crcAt]); got != want {
		return Message{}, checksumMismatch(framedName, got, want)
	}

	if data[1] != framedVersion {
		return Message{}, unrecognized(framedName, "version 0x%02X", data[1])
	}
	family, ok := framedFamilies[data[2]]
	if !ok {
		return Message{}, unrecognized(framedName, "device family 0x%02X", data[2])
	}

	name := data[10 : 10+nameLen]
	if !utf8.Valid(name) {
		return Message{}, malformed(framedName, "device name is not valid UTF-8")
	}
	mac := net.HardwareAddr(data[3 : 3+framedMACSize]).String()
	fw := data[10+nameLen : 12+nameLen]

	props := map[string]string{
		"family":   family,
		"mac":      mac,
		"firmware": fmt.Sprintf("%d.%d", fw[0], fw[1]),
	}
	if frame.Source.IsValid() {
		props["host"] = frame.Source.Addr().Unmap().String()
	}

	return Message{
		Identity:   framedName + ":" + mac,
		Kind:       KindAnnounce,
		Label:      string(name),
		Properties: props,
	}, nil
}

// Probe implements Prober.
func (*Framed) Probe() []byte {
	frame, _ := EncodeFramed(FramedAnnouncement{Family: FamilyProbe, MAC: make(net.HardwareAddr, framedMACSize)})
	return frame
}

// EncodeFramed builds a framed datagram including its CRC.
func EncodeFramed(a FramedAnnouncement) ([]byte, error) {
	if len(a.MAC) != framedMACSize {
		return nil, fmt.Errorf("%w: MAC must be %d bytes, got %d", ErrMalformed, framedMACSize, len(a.MAC))
	}
	if len(a.Name) > 0xFF {
		return nil, fmt.Errorf("%w: name longer than 255 bytes", ErrMalformed)
	}

	buf := make([]byte, 0, framedMinSize+len(a.Name))
	buf = append(buf, framedSTX, framedVersion, a.Family)
	buf = append(buf, a.MAC...)
	buf = append(buf, byte(len(a.Name)))
	buf = append(buf, a.Name...)
	buf = append(buf, a.FWMajor, a.FWMinor)
	buf = binary.BigEndian.AppendUint16(buf, CRC16CCITT(buf[1:]))
	return buf, nil
}
