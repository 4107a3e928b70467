package gateway

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mindspace/group-meditation/internal/api/metrics"
	"github.com/mindspace/group-meditation/internal/core/domain"
	"github.com/mindspace/group-meditation/internal/core/ports"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10

	defaultEventTimeout = 10 * time.Second
)

// Error codes carried by error replies.
const (
	CodeInvalidMessage = "invalid_message"
	CodeValidation     = "validation_error"
	CodeNotFound       = "not_found"
	CodeUnauthorized   = "unauthorized"
	CodeSessionEnded   = "session_ended"
	CodeJoinFailed     = "join_failed"
	CodeLeaveFailed    = "leave_failed"
	CodeStartFailed    = "start_failed"
	CodeEndFailed      = "end_failed"
	CodeInternal       = "internal_error"
)

// Options tune the websocket server.
type Options struct {
	AllowedOrigins []string
	SendQueueSize  int
	// EventTimeout bounds the work done for a single command and for the
	// cleanup after a disconnect.
	EventTimeout time.Duration
}

// Server upgrades authenticated requests and runs one client session per
// websocket.
type Server struct {
	hub      *Hub
	coord    ports.GroupCoordinator
	validate *payloadValidator
	upgrader websocket.Upgrader
	opts     Options
	log      zerolog.Logger

	sessions sync.WaitGroup
}

func NewServer(hub *Hub, coord ports.GroupCoordinator, opts Options, log zerolog.Logger) *Server {
	if opts.EventTimeout <= 0 {
		opts.EventTimeout = defaultEventTimeout
	}
	s := &Server{
		hub:      hub,
		coord:    coord,
		validate: newPayloadValidator(),
		opts:     opts,
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin allows requests without an Origin header (non-browser clients)
// and otherwise requires a configured origin. An empty list or "*" allows all.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin)
}

// Serve upgrades the request and blocks until the session ends. identity must
// already be verified.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, identity domain.Identity) error {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		return err
	}
	s.sessions.Add(1)
	defer s.sessions.Done()

	conn := NewConnection(domain.ConnectionRef{
		ProcessID:    s.hub.ProcessID(),
		ConnectionID: uuid.NewString(),
	}, identity, s.opts.SendQueueSize)
	log := s.log.With().
		Str("conn", conn.ref.String()).
		Str("user_id", identity.UserID).
		Logger()

	s.hub.Register(conn)
	log.Info().Msg("connection opened")

	go s.writePump(ws, conn, log)
	s.readPump(r.Context(), ws, conn, log)

	conn.Close()
	s.hub.Unregister(conn)

	// The request context may already be gone; cleanup must still run.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.EventTimeout)
	defer cancel()
	s.coord.Disconnect(ctx, conn.Caller())

	log.Info().Msg("connection closed")
	return nil
}

// Drain waits for every session to finish its cleanup or for ctx to end.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump processes commands strictly in arrival order.
func (s *Server) readPump(ctx context.Context, ws *websocket.Conn, conn *Connection, log zerolog.Logger) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Msg("connection read failed")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		s.handle(ctx, conn, raw)
	}
}

func (s *Server) writePump(ws *websocket.Conn, conn *Connection, log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case frame := <-conn.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Msg("connection write failed")
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// handle runs one command to completion and answers the caller.
func (s *Server) handle(ctx context.Context, conn *Connection, raw []byte) {
	cmd, typ, err := DecodeCommand(raw)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues(messageLabel(typ)).Inc()
		s.replyError(conn, CodeInvalidMessage, err.Error())
		return
	}
	metrics.MessagesTotal.WithLabelValues(typ).Inc()

	if err := s.validate.Validate(cmd); err != nil {
		s.replyError(conn, CodeValidation, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.EventTimeout)
	defer cancel()
	caller := conn.Caller()

	switch c := cmd.(type) {
	case JoinGroup:
		snap, err := s.coord.Join(ctx, caller, c.GroupID)
		if err != nil {
			s.fail(conn, err, CodeJoinFailed, "failed to join group")
			return
		}
		s.reply(conn, domain.GroupState{
			GroupID:        snap.GroupID,
			ActiveMembers:  snap.ActiveMembers,
			ActiveSessions: snap.ActiveSessions,
		})

	case LeaveGroup:
		if err := s.coord.Leave(ctx, caller, c.GroupID); err != nil {
			s.fail(conn, err, CodeLeaveFailed, "failed to leave group")
		}

	case StartMeditation:
		session, err := s.coord.Start(ctx, caller, ports.StartInput{
			GroupID:  c.GroupID,
			Type:     c.Type,
			Duration: c.Duration,
		})
		if err != nil {
			s.fail(conn, err, CodeStartFailed, "failed to start meditation")
			return
		}
		metrics.SessionsStartedTotal.WithLabelValues(string(session.Type)).Inc()
		s.reply(conn, domain.NewMeditationStarted(session))

	case EndMeditation:
		session, err := s.coord.End(ctx, caller, ports.EndInput{
			SessionID:      c.SessionID,
			ActualDuration: *c.ActualDuration,
			Completed:      *c.Completed,
		})
		if err != nil {
			s.fail(conn, err, CodeEndFailed, "failed to end meditation")
			return
		}
		metrics.SessionsEndedTotal.WithLabelValues(strconv.FormatBool(session.Completed)).Inc()
		s.reply(conn, domain.NewMeditationEnded(session))

	case Ping:
		s.reply(conn, domain.Pong{})
	}
}

func messageLabel(typ string) string {
	switch typ {
	case TypeJoinGroup, TypeLeaveGroup, TypeStartMeditation, TypeEndMeditation, TypePing:
		return typ
	}
	return "unknown"
}

// fail maps a coordinator error to an error reply. Backend failures use the
// command-specific code.
func (s *Server) fail(conn *Connection, err error, failedCode, failedMsg string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		s.replyError(conn, CodeValidation, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound):
		s.replyError(conn, CodeNotFound, "session not found")
	case errors.Is(err, domain.ErrUnauthorized):
		s.replyError(conn, CodeUnauthorized, "not allowed to end this session")
	case errors.Is(err, domain.ErrSessionEnded):
		s.replyError(conn, CodeSessionEnded, "session already ended")
	case errors.Is(err, domain.ErrDirectory), errors.Is(err, domain.ErrStore):
		s.replyError(conn, failedCode, failedMsg)
	default:
		s.log.Error().Err(err).Str("conn", conn.ref.String()).Msg("command failed")
		s.replyError(conn, CodeInternal, "internal error")
	}
}

func (s *Server) replyError(conn *Connection, code, message string) {
	metrics.ErrorsTotal.WithLabelValues(code).Inc()
	s.reply(conn, domain.ErrorReply{Message: message, Code: code})
}

func (s *Server) reply(conn *Connection, ev domain.Event) {
	frame, err := EncodeEvent(ev)
	if err != nil {
		s.log.Error().Err(err).Str("conn", conn.ref.String()).Msg("reply encode failed")
		return
	}
	if !conn.Enqueue(frame) {
		s.log.Warn().
			Str("conn", conn.ref.String()).
			Str("event", string(ev.Name())).
			Msg("reply dropped")
	}
}
