package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"peersentry/internal/telemetry"
	"peersentry/pkg/reach"
)

// PingRequest is the body peers send to /swarm/ping.
type PingRequest struct {
	ID string `json:"id"`
}

// PingResponse acknowledges an incoming ping.
type PingResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// MQMessage is the frame exchanged over the messaging channel.
type MQMessage struct {
	Type string `json:"type"` // "ping" or "pong"
	ID   string `json:"id"`
}

// Ping handles an incoming HTTP ping from a peer and stamps it into the
// tracker as evidence that our HTTP channel is reachable.
func (s *Server) Ping(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ping PingRequest
	_ = json.NewDecoder(req.Body).Decode(&ping) // sender ID is informational only

	s.tracker.TouchIncoming(reach.ChannelHTTP)
	telemetry.IncomingPingsTotal.WithLabelValues(reach.ChannelHTTP.String()).Inc()
	s.log.Debug("incoming http ping", zap.String("from", ping.ID))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(PingResponse{Status: "ok", ID: s.id})
}

// Messaging handles the websocket endpoint of the messaging channel. Each
// ping frame read from a peer stamps the messaging channel and is answered
// with a pong.
func (s *Server) Messaging(w http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.log.Debug("messaging upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var msg MQMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "ping" {
			continue
		}

		s.tracker.TouchIncoming(reach.ChannelMessaging)
		telemetry.IncomingPingsTotal.WithLabelValues(reach.ChannelMessaging.String()).Inc()
		s.log.Debug("incoming messaging ping", zap.String("from", msg.ID))

		if err := conn.WriteJSON(MQMessage{Type: "pong", ID: s.id}); err != nil {
			return
		}
	}
}

// Healthz reflects the tracker's view of our own two channels: 200 when both
// look reachable from the network, 503 otherwise.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	httpOK, mqOK := s.tracker.SelfStatus()
	if httpOK && mqOK {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]bool{
		"http_ok":      httpOK,
		"messaging_ok": mqOK,
	})
}

// Info writes a JSON payload describing the process and tracker state.
func (s *Server) Info(w http.ResponseWriter, _ *http.Request) {
	httpOK, mqOK := s.tracker.SelfStatus()
	type resp struct {
		ID              string    `json:"id"`
		PID             int       `json:"pid"`
		Now             time.Time `json:"now"`
		Uptime          string    `json:"uptime"`
		TrackedPeers    int       `json:"tracked_peers"`
		HTTPOK          bool      `json:"http_ok"`
		MessagingOK     bool      `json:"messaging_ok"`
		LastPingHTTP    time.Time `json:"last_ping_http"`
		LastPingMessage time.Time `json:"last_ping_messaging"`
	}
	data, _ := json.Marshal(resp{
		ID:              s.id,
		PID:             os.Getpid(),
		Now:             time.Now(),
		Uptime:          time.Since(s.start).Round(time.Second).String(),
		TrackedPeers:    s.tracker.Len(),
		HTTPOK:          httpOK,
		MessagingOK:     mqOK,
		LastPingHTTP:    s.tracker.LastIncoming(reach.ChannelHTTP),
		LastPingMessage: s.tracker.LastIncoming(reach.ChannelMessaging),
	})
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
