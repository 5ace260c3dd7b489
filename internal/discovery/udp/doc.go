// Package udp owns the discovery engine's UDP socket.
//
// A Channel binds exactly one socket and exposes a blocking Receive that
// returns after at most the configured receive timeout. The timeout is a
// heartbeat: callers use ErrTimeout to run housekeeping such as ledger
// pruning and HealthCheck, so no second timer goroutine is needed.
//
// # Health State Machine
//
//	Connected --(socket error)--> Degraded --(HealthCheck re-bind ok)--> Connected
//	Degraded --(re-bind failed)--> Degraded
//	Connected/Degraded --(Close)--> Closed
//
// A re-bind always closes the old handle before the new one is installed,
// so a Channel never holds two live sockets.
//
// # Usage
//
//	ch, err := udp.Open(udp.Options{Port: 3671, Broadcast: true, ReceiveTimeout: 10 * time.Second})
//	if err != nil {
//	    return err // *udp.BindError
//	}
//	defer ch.Close()
//
//	for {
//	    frame, err := ch.Receive()
//	    switch {
//	    case errors.Is(err, udp.ErrClosed):
//	        return nil
//	    case errors.Is(err, udp.ErrTimeout):
//	        _ = ch.HealthCheck()
//	        continue
//	    }
//	    handle(frame)
//	}
package udp
