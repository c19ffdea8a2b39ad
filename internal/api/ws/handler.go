package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/feedmodel/internal/domain/session"
	"github.com/GriffinCanCode/feedmodel/internal/infrastructure/monitoring"
)

const (
	writeWait    = 10 * time.Second
	eventBuffer  = 64
	messagePing  = "ping"
	messagePong  = "pong"
	messageHello = "connected"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced by middleware
	},
}

// Message is a client-to-server message.
type Message struct {
	Type string `json:"type"`
}

// Handler manages WebSocket connections
type Handler struct {
	sessions *session.Manager
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(sessions *session.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, metrics: metrics, logger: logger}
}

// Register mounts the events route on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/sessions/:id/events", h.HandleConnection)
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// HandleConnection upgrades the request and streams the session's events
func (h *Handler) HandleConnection(c *gin.Context) {
	sess, ok := h.sessions.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	events, cancel := sess.Subscribe(eventBuffer)
	defer cancel()

	out := &conn{ws: ws}
	if err := out.send(gin.H{"type": messageHello, "session": sess.Info()}); err != nil {
		return
	}

	done := make(chan struct{})
	go h.readLoop(out, done)

	for {
		select {
		case e, open := <-events:
			if !open {
				out.mu.Lock()
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(writeWait))
				out.mu.Unlock()
				return
			}
			if err := out.send(e); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
			h.metrics.RecordWSMessage(string(e.Type))
		case <-done:
			return
		}
	}
}

func (h *Handler) readLoop(out *conn, done chan<- struct{}) {
	defer close(done)
	for {
		var msg Message
		if err := out.ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case messagePing:
			if err := out.send(gin.H{"type": messagePong}); err != nil {
				return
			}
		default:
			if err := out.send(gin.H{"type": "error", "error": "unknown message type"}); err != nil {
				return
			}
		}
	}
}
