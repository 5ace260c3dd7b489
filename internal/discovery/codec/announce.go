package codec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	announceName    = "announce"
	announceVersion = 1
)

// announceMessage is the JSON document sent by announce-capable devices.
type announceMessage struct {
	Type     string         `json:"type"`
	Version  int            `json:"version"`
	Device   announceDevice `json:"device"`
	Checksum string         `json:"cs,omitempty"`
}

type announceDevice struct {
	ID        string            `json:"device_id"`
	Name      string            `json:"device_name"`
	Model     string            `json:"model,omitempty"`
	Firmware  string            `json:"firmware,omitempty"`
	Port      int               `json:"port,omitempty"`
	Attribute map[string]string `json:"attributes,omitempty"`
}

// Announce decodes JSON ANNOUNCE and LEAVE messages:
//
//	{"type":"ANNOUNCE","version":1,"device":{"device_id":"plug-42","device_name":"Kitchen plug"}}
//
// The optional "cs" field is the hex XOR-fold of the device id.
type Announce struct{}

// NewAnnounce returns an announce codec.
func NewAnnounce() *Announce { return &Announce{} }

// Name implements Codec.
func (*Announce) Name() string { return announceName }

// Decode implements Codec.
func (*Announce) Decode(frame RawFrame) (Message, error) {
	if err := checkSize(announceName, frame.Payload); err != nil {
		return Message{}, err
	}

	var m announceMessage
	if err := json.Unmarshal(frame.Payload, &m); err != nil {
		return Message{}, malformed(announceName, "invalid JSON: %v", err)
	}
	if m.Version != announceVersion {
		return Message{}, unrecognized(announceName, "version %d", m.Version)
	}

	var kind PayloadKind
	switch strings.ToUpper(m.Type) {
	case "ANNOUNCE":
		kind = KindAnnounce
	case "LEAVE":
		kind = KindLeave
	default:
		return Message{}, unrecognized(announceName, "message type %q", m.Type)
	}

	if m.Device.ID == "" {
		return Message{}, malformed(announceName, "missing device_id")
	}
	if m.Checksum != "" {
		raw, err := hex.DecodeString(m.Checksum)
		if err != nil || len(raw) != 1 {
			return Message{}, malformed(announceName, "bad checksum field %q", m.Checksum)
		}
		if want := XORFold([]byte(m.Device.ID)); raw[0] != want {
			return Message{}, checksumMismatch(announceName, uint16(raw[0]), uint16(want))
		}
	}

	props := make(map[string]string, len(m.Device.Attribute)+4)
	for k, v := range m.Device.Attribute {
		props[k] = v
	}
	if m.Device.Model != "" {
		props["model"] = m.Device.Model
	}
	if m.Device.Firmware != "" {
		props["firmware"] = m.Device.Firmware
	}
	if frame.Source.IsValid() {
		props["host"] = frame.Source.Addr().Unmap().String()
		port := m.Device.Port
		if port == 0 {
			port = int(frame.Source.Port())
		}
		props["port"] = strconv.Itoa(port)
	}

	return Message{
		Identity:   announceName + ":" + m.Device.ID,
		Kind:       kind,
		Label:      m.Device.Name,
		Properties: props,
	}, nil
}

// EncodeAnnounce builds an ANNOUNCE document with checksum for deviceID.
func EncodeAnnounce(deviceID, name string) []byte {
	m := announceMessage{
		Type:     "ANNOUNCE",
		Version:  announceVersion,
		Device:   announceDevice{ID: deviceID, Name: name},
		Checksum: fmt.Sprintf("%02x", XORFold([]byte(deviceID))),
	}
	data, _ := json.Marshal(m) //nolint:errcheck // plain structs always marshal
	return data
}
