package node

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"peersentry/internal/telemetry"
	"peersentry/pkg/reach"
)

// Server exposes this node's two probe surfaces: the HTTP channel (ping,
// health, info, metrics) and the messaging channel (a websocket endpoint).
// Every incoming ping is stamped into the tracker so the reporter can judge
// our own reachability from the outside world's point of view.
type Server struct {
	id       string
	tracker  *reach.Tracker
	upgrader websocket.Upgrader
	start    time.Time
	log      *zap.Logger
}

func NewServer(id string, tracker *reach.Tracker, log *zap.Logger) *Server {
	return &Server{
		id:      id,
		tracker: tracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		start: time.Now(),
		log:   log,
	}
}

// HTTPRoutes builds the mux for the HTTP listening channel.
func (s *Server) HTTPRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/swarm/ping", telemetry.Instrument("ping", http.HandlerFunc(s.Ping)))
	mux.HandleFunc("/healthz", s.Healthz)
	mux.HandleFunc("/info", s.Info)
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}

// MQRoutes builds the mux for the messaging listening channel.
func (s *Server) MQRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/swarm/mq", s.Messaging)
	return mux
}
