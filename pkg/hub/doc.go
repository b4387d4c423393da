// Package hub provides the per-process connection registry and the websocket
// connection wrapper used by every collaboration channel.
//
// # Registry
//
// A Registry is the set of live connections for one logical channel. Add and
// Remove are idempotent and safe to call from any goroutine. Broadcast iterates
// a snapshot of the membership taken at call time, so concurrent joins and
// leaves never tear an in-progress broadcast:
//
//	reg := hub.NewRegistry("editor", logger)
//	reg.Add(conn)
//	res := reg.Broadcast(hub.Binary(payload), sender)
//	logger.Debug("fan-out", "delivered", res.Delivered, "failed", res.Failed)
//
// # Delivery
//
// Broadcast never waits for the network. Each Conn owns a bounded FIFO send
// queue drained by its own writer goroutine, so a slow client only fills its
// own queue. A full queue or a closed connection is reported as a per-target
// failure, logged once by the registry, and skipped.
//
// # Connection Lifecycle
//
//	StateOpen → StateActive → StateClosed
//
// A Conn is Open after the websocket upgrade, Active once the first frame is
// read or written, and Closed after an explicit Close, a read/write error, or a
// transport failure. A reconnecting client always gets a new Conn and ID.
package hub
