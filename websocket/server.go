package websocket

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"taskboard-sync/domain"
)

// Server upgrades HTTP requests and hands each transport to a Conn.
type Server struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	registry domain.Registry
	handler  domain.MessageHandler
	opts     Options
}

func NewServer(log *slog.Logger, r domain.Registry, h domain.MessageHandler, opts Options) *Server {
	return &Server{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		registry: r,
		handler:  h,
		opts:     opts,
	}
}

// Accept upgrades the request and starts serving the connection. userID may be
// empty for anonymous transports.
func (s *Server) Accept(w http.ResponseWriter, r *http.Request, userID string) (*Conn, error) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("upgrade error", "error", err)
		return nil, err
	}

	conn := NewConn(uuid.NewString(), userID, ws, s.log, s.registry, s.handler, s.opts)
	conn.Start()
	return conn, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = s.Accept(w, r, "")
}
