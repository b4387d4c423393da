// Package server is the composition root of the collaboration service.
//
// A Server owns one channel.Endpoint per configured channel and mounts each
// on its websocket path. Alongside the channels it exposes:
//
//   - the paragraph lock API under /api/locks
//   - the paragraph content API under /api/documents
//   - /healthz, which pings Redis and the document store
//   - /metrics, when a Prometheus gatherer is supplied
//
// # Lifecycle
//
// Start spawns each relay channel's subscriber. Shutdown reverses it:
// relays stop first, then every channel's connections are closed, then the
// HTTP server drains. Run does all of this around a listener and returns on
// SIGINT or SIGTERM.
//
// # Example Usage
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	srv, err := server.New(server.DefaultServerConfig(), server.Deps{
//	    Bus:   relay.NewRedisBus(rdb),
//	    Locks: lock.NewManager(rdb),
//	    Store: docstore.NewMemoryStore(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(srv.Run(context.Background()))
package server
