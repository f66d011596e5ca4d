package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
var heartbeatInterval = 15 * time.Second

// handleOrderStream handles GET /api/orders/stream. It streams the caller's
// order events as server-sent events until the client disconnects.
func (s *Server) handleOrderStream(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}

	acct, err := s.ledger.Account(r.Context(), user)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	id, ch := s.hub.Subscribe(s.sseBuffer)
	defer s.hub.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	s.log.Debug("order stream opened", "user", user, "subscriber", id)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.log.Debug("order stream closed", "user", user, "subscriber", id)
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.AccountID != acct.ID {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("encoding order event", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.Order.ID, ev.Type, data)
			flusher.Flush()
		}
	}
}
