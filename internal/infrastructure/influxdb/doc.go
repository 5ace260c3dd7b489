// Package influxdb records discovery activity in InfluxDB.
//
// Two measurements are written:
//   - discovery_stats: periodic engine counters tagged by protocol and site
//   - discovery_events: one point per discovered or vanished device
//
// Writes are non-blocking and batched according to config.yaml
// (batch_size, flush_interval). Batch failures are reported through the
// SetOnError callback; connection and health check errors are returned
// directly.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteDiscoveryEvent(influxdb.DiscoveryEvent{Protocol: "knxip", Kind: "discovered", Identity: "knx:00fa12345678"})
package influxdb
