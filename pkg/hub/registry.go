package hub

import (
	"errors"
	"log/slog"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/vango-dev/collab/pkg/middleware"
)

// Connection is the registry's view of a client channel. The registry holds
// non-owning references: it never closes what it removes.
type Connection interface {
	ID() string
	Send(msg Message) error
	IsOpen() bool
}

// BroadcastResult summarizes one fan-out.
type BroadcastResult struct {
	Delivered int
	Failed    int
	Skipped   int
}

// Registry is the set of live connections for one channel, unique by ID.
type Registry struct {
	channel string
	conns   cmap.ConcurrentMap[string, Connection]
	logger  *slog.Logger
}

// NewRegistry creates an empty registry for channel.
func NewRegistry(channel string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channel: channel,
		conns:   cmap.New[Connection](),
		logger:  logger.With("component", "registry", "channel", channel),
	}
}

// Channel returns the channel name the registry serves.
func (r *Registry) Channel() string {
	return r.channel
}

// Add registers conn. It returns false if a connection with the same ID is
// already present.
func (r *Registry) Add(conn Connection) bool {
	added := r.conns.SetIfAbsent(conn.ID(), conn)
	if added {
		r.logger.Info("connected", "conn_id", conn.ID(), "total", r.conns.Count())
	}
	return added
}

// Remove deregisters conn. It only removes the exact instance registered
// under conn's ID and returns false if it was absent.
func (r *Registry) Remove(conn Connection) bool {
	removed := r.conns.RemoveCb(conn.ID(), func(_ string, v Connection, exists bool) bool {
		return exists && v == conn
	})
	if removed {
		r.logger.Info("disconnected", "conn_id", conn.ID(), "total", r.conns.Count())
	}
	return removed
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (Connection, bool) {
	return r.conns.Get(id)
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	return r.conns.Count()
}

// Snapshot returns the registered connections at this instant.
func (r *Registry) Snapshot() []Connection {
	items := r.conns.Items()
	out := make([]Connection, 0, len(items))
	for _, c := range items {
		out = append(out, c)
	}
	return out
}

// Broadcast queues msg on every registered connection except exclude, which
// may be nil. Failures are logged per connection and never stop the fan-out.
func (r *Registry) Broadcast(msg Message, exclude Connection) BroadcastResult {
	var res BroadcastResult
	excludeID := ""
	if exclude != nil {
		excludeID = exclude.ID()
	}

	for id, conn := range r.conns.Items() {
		if id == excludeID {
			continue
		}
		if !conn.IsOpen() {
			res.Skipped++
			continue
		}
		if err := conn.Send(msg); err != nil {
			res.Failed++
			reason := "closed"
			if errors.Is(err, ErrSendQueueFull) {
				reason = "queue_full"
			}
			middleware.RecordSendError(r.channel, reason)
			r.logger.Warn("send failed", "conn_id", id, "error", err)
			continue
		}
		res.Delivered++
	}

	middleware.RecordBroadcast(r.channel, res.Delivered, res.Failed)
	return res
}

// Clear drops every registration and returns what was registered.
func (r *Registry) Clear() []Connection {
	conns := r.Snapshot()
	r.conns.Clear()
	return conns
}
