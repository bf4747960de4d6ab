package ws

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/microdeck/host/internal/engine"
	"github.com/microdeck/host/internal/infrastructure/monitoring"
	"github.com/microdeck/host/internal/logging"
	"github.com/microdeck/host/internal/shared/id"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Message is one client command.
type Message struct {
	Type string `json:"type"`
	Path string `json:"path,omitempty"`
}

// Handler manages WebSocket connections
type Handler struct {
	engine  *engine.Engine
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler
func NewHandler(eng *engine.Engine, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		engine:  eng,
		logger:  logger,
		metrics: metrics,
	}
}

// HandleConnection upgrades the request and bridges the engine's event bus
// onto the socket while accepting lifecycle commands from the client.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := id.NewConnID()
	h.logger.Debug("websocket client connected", zap.String("conn", connID.String()))
	defer h.logger.Debug("websocket client disconnected", zap.String("conn", connID.String()))

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	// Bus dispatch and the read loop run on different goroutines; gorilla
	// connections allow one concurrent writer.
	var writeMu sync.Mutex
	send := func(payload interface{}) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(payload); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
		}
	}

	unsubscribe := h.engine.Bus().Subscribe(func(event string, args ...interface{}) {
		if h.metrics != nil {
			h.metrics.RecordWSMessage("out", event)
		}
		send(gin.H{"type": event, "args": args})
	})
	defer unsubscribe()

	send(gin.H{
		"type":  "system",
		"state": h.engine.State().String(),
	})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}
		h.dispatch(send, msg)
	}
}

// dispatch applies one client command and acknowledges it with the
// resulting state.
func (h *Handler) dispatch(send func(interface{}), msg Message) {
	var applied bool
	switch msg.Type {
	case "ping":
		send(gin.H{"type": "pong"})
		return
	case "load":
		applied = h.engine.Load(msg.Path)
	case "start":
		applied = h.engine.Start()
	case "stop":
		applied = h.engine.Stop()
	case "pause":
		applied = h.engine.Pause()
	case "resume":
		applied = h.engine.Resume()
	case "toggle":
		applied = h.engine.PauseOrResume()
	case "restart":
		applied = h.engine.Restart()
	case "reload":
		applied = h.engine.ReloadAndStart()
	case "step":
		applied = h.engine.DebugStep()
	default:
		send(gin.H{"type": "error", "message": "unknown message type"})
		return
	}

	send(gin.H{
		"type":    "ack",
		"command": msg.Type,
		"applied": applied,
		"state":   h.engine.State().String(),
	})
}
