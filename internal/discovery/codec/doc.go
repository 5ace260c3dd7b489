// Package codec turns received UDP datagrams into validated discovery messages.
//
// Each supported device family has one Codec implementation. The engine
// picks a codec at construction time and calls Decode for every frame the
// socket delivers:
//
//	c, err := codec.New("knxip", codec.Settings{})
//	if err != nil {
//	    return err
//	}
//	msg, err := c.Decode(frame)
//	switch codec.KindOf(err) {
//	case codec.KindNone:
//	    // msg.Identity names the device
//	case codec.KindChecksumMismatch:
//	    // corrupted on the wire, drop it
//	}
//
// # Bundled codecs
//
//   - beacon: fixed byte pattern, identity taken from the sender address
//   - knxip: KNXnet/IP SEARCH_RESPONSE from routers and interfaces
//   - framed: binary dongle frames protected by CRC16-CCITT
//   - announce: JSON ANNOUNCE/LEAVE messages
//
// # Thread Safety
//
// Codecs hold no mutable state after construction. Decode may be called
// from any number of goroutines at once, and identical frames always
// produce identical results.
//
// # Active Scans
//
// Codecs that can solicit replies implement Prober. The engine sends the
// probe payload when a scan window opens.
package codec
