// Package mqtt connects the discovery service to the Gray Logic MQTT bus.
//
// Discovered devices are announced as retained messages on
// graylogic/discovery/{protocol}/{identity}, lifecycle events stream on
// graylogic/discovery/events, and Gray Logic Core can trigger an active
// scan by publishing to graylogic/discovery/command/scan.
//
// The client wraps paho.mqtt.golang with:
//   - auto-reconnect with exponential backoff
//   - subscription restoration after reconnect
//   - Last Will and Testament on graylogic/discovery/status
//   - panic recovery around message handlers
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.DiscoveryDevice("knxip", "knx:00fa12345678")
//	err = client.PublishJSON(topic, payload, true)
package mqtt
