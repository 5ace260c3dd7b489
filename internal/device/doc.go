// Package device holds the site's known-device registry and the discovery
// inbox.
//
// The Registry is a read-mostly in-memory view over the known_devices
// table. The discovery engine consults it from its receive loop through
// IsKnown, so lookups never touch the database. Identities the operator
// has ignored in the inbox are treated as known too.
//
// The Inbox is the engine's result builder: every newly discovered device
// is upserted into discovery_inbox, where it waits for an operator to
// approve it (it becomes a known device) or ignore it.
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	engine, err := discovery.New(cfg, codec, registry)
//	engine.SetResultBuilder(device.NewInbox(repo))
package device
