// Package discovery implements the Gray Logic device discovery engine.
//
// The engine owns one UDP socket and turns the datagrams devices broadcast
// into discovery events:
//
//	socket -> codec -> registry / ledger dedup -> result builder -> listeners
//
// # Architecture
//
// Three kinds of goroutine run while the engine is started:
//
//   - receive loop: the only caller of Channel.Receive. It decodes frames,
//     consults the RegistryView and the ledger, and runs housekeeping
//     (pruning, scan expiry, socket health) on every receive timeout.
//   - dispatcher: builds discovery results and copies each event into the
//     per-listener queues in arrival order.
//   - one worker per listener: invokes the callback. A slow or panicking
//     listener cannot stall the receive loop or other listeners.
//
// # Lifecycle
//
//	Idle --Start--> Running --Stop--> Stopping --> Stopped
//
// An Engine is started once. Handle.Stop closes the socket, waits for the
// receive loop and dispatcher to exit and stops the listener workers; no
// callback starts after it returns.
//
// # Usage
//
//	engine, err := discovery.New(cfg, codec.NewKNXnetIP(), registry)
//	if err != nil {
//	    return err
//	}
//	engine.AddListener(func(ev discovery.Event) {
//	    log.Printf("%s %s", ev.Kind, ev.Identity)
//	})
//	handle, err := engine.Start(ctx)
//	if err != nil {
//	    return err // socket could not be bound
//	}
//	defer handle.Stop()
package discovery
