package codec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const knxipName = "knxip"

// KNXnet/IP framing constants.
const (
	knxHeaderSize     = 0x06
	knxVersion10      = 0x10
	knxSearchRequest  = 0x0201
	knxSearchResponse = 0x0202

	knxHPAISize        = 0x08
	knxDeviceInfoSize  = 0x36
	knxDIBDeviceInfo   = 0x01
	knxFriendlyNameLen = 30
)

// DefaultKNXMulticast is the KNXnet/IP system setup multicast endpoint that
// SEARCH_REQUEST probes are sent to.
const DefaultKNXMulticast = "224.0.23.12:3671"

var knxMedia = map[byte]string{
	0x02: "tp1",
	0x04: "pl110",
	0x10: "rf",
	0x20: "ip",
}

// KNXnetIP decodes SEARCH_RESPONSE frames sent by KNXnet/IP routers and
// interfaces.
//
// Frame layout:
//
//	Header (6):   0x06 0x10 service(2) total_length(2)
//	HPAI (8):     0x08 protocol ip(4) port(2)
//	DIB (54):     0x36 0x01 medium status individual_address(2)
//	              project_id(2) serial(6) multicast(4) mac(6) name(30)
//	DIB (n):      supported service families (ignored)
type KNXnetIP struct{}

// NewKNXnetIP returns a KNXnet/IP codec.
func NewKNXnetIP() *KNXnetIP { return &KNXnetIP{} }

// Name implements Codec.
func (*KNXnetIP) Name() string { return knxipName }

// Decode implements Codec.
func (*KNXnetIP) Decode(frame RawFrame) (Message, error) {
	data := frame.Payload
	if err := checkSize(knxipName, data); err != nil {
		return Message{}, err
	}
	if len(data) < knxHeaderSize {
		return Message{}, malformed(knxipName, "too short (%d bytes, need at least %d)", len(data), knxHeaderSize)
	}
	if data[0] != knxHeaderSize || data[1] != knxVersion10 {
		return Message{}, malformed(knxipName, "bad header 0x%02X 0x%02X", data[0], data[1])
	}
	if total := int(binary.BigEndian.Uint16(data[4:6])); total != len(data) {
		return Message{}, malformed(knxipName, "total length %d, frame has %d bytes", total, len(data))
	}
	if service := binary.BigEndian.Uint16(data[2:4]); service != knxSearchResponse {
		return Message{}, unrecognized(knxipName, "service type 0x%04X", service)
	}

	body := data[knxHeaderSize:]
	if len(body) < knxHPAISize+knxDeviceInfoSize {
		return Message{}, malformed(knxipName, "body too short (%d bytes)", len(body))
	}

	hpai := body[:knxHPAISize]
	if hpai[0] != knxHPAISize {
		return Message{}, malformed(knxipName, "bad HPAI length %d", hpai[0])
	}
	endpointIP := net.IP(hpai[2:6]).String()
	endpointPort := binary.BigEndian.Uint16(hpai[6:8])

	dib := body[knxHPAISize : knxHPAISize+knxDeviceInfoSize]
	if dib[0] != knxDeviceInfoSize || dib[1] != knxDIBDeviceInfo {
		return Message{}, malformed(knxipName, "bad device info DIB (length %d, type 0x%02X)", dib[0], dib[1])
	}

	medium, ok := knxMedia[dib[2]]
	if !ok {
		medium = fmt.Sprintf("0x%02X", dib[2])
	}
	serial := hex.EncodeToString(dib[8:14])
	name := strings.TrimRight(string(dib[24:24+knxFriendlyNameLen]), "\x00 ")

	props := map[string]string{
		"individual_address": formatIndividualAddress(binary.BigEndian.Uint16(dib[4:6])),
		"project_id":         strconv.Itoa(int(binary.BigEndian.Uint16(dib[6:8]))),
		"serial":             serial,
		"multicast":          net.IP(dib[14:18]).String(),
		"mac":                net.HardwareAddr(dib[18:24]).String(),
		"medium":             medium,
		"programming_mode":   strconv.FormatBool(dib[3]&0x01 != 0),
		"host":               endpointIP,
		"port":               strconv.Itoa(int(endpointPort)),
	}
	// Routers behind NAT answer with 0.0.0.0; fall back to the sender.
	if endpointIP == "0.0.0.0" && frame.Source.IsValid() {
		props["host"] = frame.Source.Addr().Unmap().String()
		props["port"] = strconv.Itoa(int(frame.Source.Port()))
	}

	return Message{
		Identity:   "knx:" + serial,
		Kind:       KindSearchResponse,
		Label:      name,
		Properties: props,
	}, nil
}

// Probe implements Prober with a SEARCH_REQUEST asking for replies to the
// sender's address (NAT mode HPAI).
func (*KNXnetIP) Probe() []byte {
	buf := make([]byte, knxHeaderSize+knxHPAISize)
	buf[0] = knxHeaderSize
	buf[1] = knxVersion10
	binary.BigEndian.PutUint16(buf[2:4], knxSearchRequest)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(buf)))
	buf[6] = knxHPAISize
	buf[7] = 0x01 // IPv4 UDP
	return buf
}

// formatIndividualAddress converts a 16-bit individual address to "A.L.D" format.
func formatIndividualAddress(ia uint16) string {
	area := (ia >> 12) & 0x0F
	line := (ia >> 8) & 0x0F
	device := ia & 0xFF
	return fmt.Sprintf("%d.%d.%d", area, line, device)
}
