// Package relay makes channel broadcast consistent across server replicas.
//
// Every replica runs one Relay per relayed channel. Publish sends a payload to
// the shared Bus under the channel's topic; the Relay's subscriber goroutine
// receives every payload on that topic, including the ones this replica
// published, and hands each one to the local handler (normally a registry
// broadcast).
//
//	r := relay.New(bus, "intelligent_chat_channel", func(p []byte) {
//	    registry.Broadcast(hub.TextBytes(p), nil)
//	}, nil, logger)
//	r.Start(ctx)
//	defer r.Stop()
//
// # Failure Handling
//
// If the bus is unreachable, or an established subscription breaks, the
// subscriber logs the outage and retries with exponential backoff. While it is
// down, broadcast degrades to the publishing replica's own clients.
//
// # Ordering
//
// Payloads from one publisher reach a subscriber in publish order. There is no
// ordering across publishers and no deduplication.
package relay
