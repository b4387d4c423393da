package server

import (
	"net/http"
	"time"

	"github.com/vango-dev/collab/pkg/channel"
	"github.com/vango-dev/collab/pkg/hub"
)

// websocketHandler upgrades requests on ep's path and hands the connection
// to the endpoint's read loop.
func (s *Server) websocketHandler(ep *channel.Endpoint) http.HandlerFunc {
	name := ep.Config().Name
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		closing := s.closing
		s.mu.Unlock()
		if closing {
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		}

		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written an HTTP error response.
			s.logger.Debug("websocket upgrade failed", "error", NewChannelError(name, "upgrade", err))
			return
		}

		conn := hub.NewConn(ws, s.config.ConnConfig, s.logger.With("channel", name))

		// Shutdown may have started while the handshake was in flight.
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns.Add(1)
		s.mu.Unlock()

		s.logger.Debug("connection accepted", "channel", name, "conn_id", conn.ID(), "remote_addr", conn.RemoteAddr())
		go func() {
			defer s.conns.Done()
			ep.Serve(s.ctx, conn)
			s.logger.Debug("connection finished",
				"channel", name,
				"conn_id", conn.ID(),
				"duration", time.Since(conn.ConnectedAt()),
				"bytes_sent", conn.BytesSent(),
				"bytes_received", conn.BytesReceived(),
			)
		}()
	}
}
