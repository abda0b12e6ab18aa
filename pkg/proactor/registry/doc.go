// Package registry provides a generic thread-safe registry for values
// indexed by key, with change notification.
//
// The engine keeps its internal work streams and the sinks it created in
// registries. Shutdown code waits for a registry to empty instead of
// polling it:
//
//	streams := registry.New[string, Stream]()
//	if err := streams.Add("replies", s); err != nil {
//	    // registry.ErrExists
//	}
//
//	// elsewhere, when the stream finishes
//	streams.Delete("replies")
//
//	// during shutdown
//	if err := streams.WaitEmpty(ctx); err != nil {
//	    // ctx ended with streams still registered
//	}
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Range iterates over a
// snapshot, so it is safe to mutate the registry from the callback.
package registry
