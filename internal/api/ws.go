package api

import (
	"encoding/json"
	"net/http"

	"github.com/ahrav/pii-sentinel/internal/infra/stream"
	"github.com/ahrav/pii-sentinel/pkg/common/timeutil"
)

// handleWebSocket upgrades the connection and registers it for the request
// id named in the client's first message. Later messages that parse as a
// registration move the connection to the new id, so one socket can follow
// successive scan requests.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	var reg stream.Registration
	if err := conn.ReadJSON(&reg); err != nil || reg.ID == "" {
		s.logger.Warn(r.Context(), "invalid stream registration", "error", err)
		conn.Close()
		return
	}

	client := stream.NewClientConnection(reg, conn, timeutil.Default{}, s.logger)
	s.hub.Register(client)
	s.logger.Info(r.Context(), "stream channel registered",
		"request_id", reg.ID, "scan_kind", reg.Kind)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var next stream.Registration
		if err := json.Unmarshal(data, &next); err != nil || next.ID == "" {
			continue
		}

		replacement := stream.NewClientConnection(next, conn, timeutil.Default{}, s.logger)
		s.hub.Drop(client)
		s.hub.Register(replacement)
		client = replacement
		s.logger.Info(r.Context(), "stream channel re-registered",
			"request_id", next.ID, "scan_kind", next.Kind)
	}

	s.hub.Drop(client)
	conn.Close()
	s.logger.Info(r.Context(), "stream channel closed", "request_id", client.RequestID)
}
