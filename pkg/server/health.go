package server

import (
	"context"
	"net/http"
)

// HealthStatus is the /healthz response body.
type HealthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Relays map[string]bool   `json:"relays,omitempty"`
}

// handleHealth probes the lock store and document store. Any failed probe
// makes the response 503. Relay subscriber state is reported but does not
// fail the check, since relay channels degrade to local delivery.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.HealthTimeout)
	defer cancel()

	status := HealthStatus{Status: "ok", Checks: make(map[string]string)}
	probe := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			status.Status = "unavailable"
			status.Checks[name] = err.Error()
			return
		}
		status.Checks[name] = "ok"
	}
	if s.deps.Locks != nil {
		probe("redis", s.deps.Locks.Ping)
	}
	if s.deps.Store != nil {
		probe("docstore", s.deps.Store.Ping)
	}

	for _, ep := range s.endpoints {
		if rl := ep.Relay(); rl != nil {
			if status.Relays == nil {
				status.Relays = make(map[string]bool)
			}
			status.Relays[ep.Config().Name] = rl.Connected()
		}
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
