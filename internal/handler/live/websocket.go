// Package live pushes conversation snapshots to connected views over a
// WebSocket or a Server-Sent Events stream.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/startup-chat/client/internal/service/conversation"
)

const (
	defaultPingInterval = 54 * time.Second
	readTimeout         = 60 * time.Second
	writeTimeout        = 10 * time.Second
)

// Handler serves /live/ws and /live/events.
type Handler struct {
	ctrl         *conversation.Controller
	upgrader     websocket.Upgrader
	logger       *zap.Logger
	pingInterval time.Duration
}

// Option customises a Handler.
type Option func(*Handler)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger.Named("live")
		}
	}
}

// WithPingInterval sets how often keepalives are sent on idle connections.
func WithPingInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// New builds a live handler for ctrl.
func New(ctrl *conversation.Controller, opts ...Option) *Handler {
	h := &Handler{
		ctrl: ctrl,
		upgrader: websocket.Upgrader{
			// origin policy is enforced by the router's CORS layer
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:       zap.NewNop(),
		pingInterval: defaultPingInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the live endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/live/ws", h.handleWebSocket)
	r.Get("/live/events", h.handleEvents)
}

// inboundMessage is a command sent by the view.
type inboundMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type sendPayload struct {
	Text string `json:"text"`
}

var errInvalidPayload = errors.New("invalid payload")

type unsupportedTypeError string

func (e unsupportedTypeError) Error() string {
	return "unsupported message type: " + string(e)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	updates, unsubscribe := h.subscribe()
	defer unsubscribe()

	readerDone := make(chan struct{})
	failures := make(chan string, 4)
	defer func() {
		conn.Close()
		<-readerDone
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.logger.Debug("websocket connected", zap.String("remote", r.RemoteAddr))

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go func() {
		defer close(readerDone)
		h.readLoop(ctx, conn, failures)
	}()

	if err := h.write(conn, outgoingMessage{Type: "snapshot", Data: h.ctrl.Snapshot()}); err != nil {
		return
	}

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			return
		case snapshot := <-updates:
			if err := h.write(conn, outgoingMessage{Type: "snapshot", Data: snapshot}); err != nil {
				return
			}
		case message := <-failures:
			if err := h.write(conn, outgoingMessage{Type: "error", Data: map[string]string{"message": message}}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// readLoop executes commands one at a time. A send blocks further commands
// until its turn completes; state changes still stream out meanwhile.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, failures chan<- string) {
	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		if err := h.dispatch(ctx, &msg); err != nil {
			select {
			case failures <- err.Error():
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, msg *inboundMessage) error {
	switch msg.Type {
	case "send":
		var payload sendPayload
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				return errInvalidPayload
			}
		}
		// the turn completes even if the socket goes away mid-flight
		return h.ctrl.SendMessage(context.WithoutCancel(ctx), payload.Text)
	case "new":
		h.ctrl.NewConversation()
		return nil
	case "select":
		return h.ctrl.SelectChat(ctx, msg.SessionID)
	case "delete":
		if msg.SessionID == "" {
			return conversation.ErrSessionIDEmpty
		}
		h.ctrl.DeleteChat(ctx, msg.SessionID)
		return nil
	default:
		return unsupportedTypeError(msg.Type)
	}
}

func (h *Handler) write(conn *websocket.Conn, msg outgoingMessage) error {
	msg.Timestamp = time.Now().Unix()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug("websocket write failed", zap.String("type", msg.Type), zap.Error(err))
		return err
	}
	return nil
}

// subscribe returns a channel holding at most the latest snapshot. Slow
// readers skip intermediate states rather than blocking the controller.
func (h *Handler) subscribe() (<-chan conversation.Snapshot, func()) {
	updates := make(chan conversation.Snapshot, 1)
	unsubscribe := h.ctrl.Subscribe(func(snapshot conversation.Snapshot) {
		for {
			select {
			case updates <- snapshot:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	return updates, unsubscribe
}
