// Package gateway exposes the chat engine over WebSocket: one connection is
// one session, JSON events both ways.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/keshon/young-ellens/internal/session"
)

// Server is the WebSocket front of the session registry.
type Server struct {
	addr     string
	registry *session.Registry
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates a Server listening on addr (e.g. ":8080").
func New(addr string, registry *session.Registry, log zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The engine has no cookie auth; cross-origin chat widgets are
			// the expected clients.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// Run starts the HTTP server and blocks until it exits or ctx is cancelled.
// Run in a goroutine.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		s.log.Info().Str("action", "shutdown").Msg("stopping gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("action", "listen").Str("addr", s.addr).Msg("gateway listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Str("action", "upgrade").Err(err).Msg("websocket upgrade failed")
		return
	}

	sessionID := uuid.NewString()
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = sessionID
	}
	conversationID := r.URL.Query().Get("conversationId")

	conn := newConn(ws)
	if _, err := s.registry.Connect(sessionID, userID, conversationID, conn); err != nil {
		s.log.Warn().Str("action", "connect").Err(err).Msg("session connect failed")
		conn.Close()
		return
	}

	s.readLoop(sessionID, conn)
}

// readLoop pumps inbound events until the peer goes away, then closes the
// session through the same teardown as an explicit disconnect.
func (s *Server) readLoop(sessionID string, conn *Conn) {
	defer func() {
		s.registry.Disconnect(sessionID, session.ReasonDisconnect)
		conn.Close()
	}()

	for {
		var ev inboundEvent
		if err := conn.ws.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("action", "read").Str("session", sessionID).Err(err).Msg("connection dropped")
			}
			return
		}
		switch ev.Type {
		case "message":
			if err := s.registry.HandleInbound(sessionID, ev.Text); err != nil {
				// Validation errors go back to the client; the session
				// stays untouched.
				conn.sendError(err.Error())
			}
		case "disconnect":
			return
		default:
			conn.sendError("unknown event type: " + ev.Type)
		}
	}
}

type inboundEvent struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}
