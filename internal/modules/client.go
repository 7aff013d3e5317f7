package modules

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pulseboard/signage/internal/models"
	"github.com/pulseboard/signage/pkg/response"
)

const (
	// PingInterval and PongWait are used for transport-level keepalive;
	// application heartbeats are separate HEARTBEAT envelopes.
	PingInterval = 30
	PongWait     = 60
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // renderers run on the same host; restrict if exposed
	},
}

// Client is a single renderer module connection.
type Client struct {
	ModuleID uuid.UUID
	hub      *Hub
	conn     *websocket.Conn
	send     chan Envelope
	logger   *zap.Logger
}

// Send queues an envelope for the write pump. Dropping on a full buffer is
// deliberate: a stalled module is handled by liveness tracking, not by
// blocking the scheduler.
func (c *Client) Send(env Envelope) error {
	select {
	case c.send <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ErrSendBufferFull is returned when a module's outbound buffer is saturated.
var ErrSendBufferFull = errBufferFull{}

type errBufferFull struct{}

func (errBufferFull) Error() string { return "module send buffer full" }

// ServeWS handles the module WebSocket upgrade at GET /ws/module. Modules
// authenticate with a token (query param) and declare their renderer name and
// supported kinds: /ws/module?token=...&name=video-1&kinds=image,video
func ServeWS(hub *Hub, logger *zap.Logger, validateToken func(token string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		name := c.Query("name")
		kindsParam := c.Query("kinds")
		if token == "" || kindsParam == "" {
			response.BadRequest(c, "token and kinds required")
			return
		}
		if err := validateToken(token); err != nil {
			response.Unauthorized(c, "invalid module token")
			return
		}

		var kinds []models.ContentKind
		for _, k := range strings.Split(kindsParam, ",") {
			kind := models.ContentKind(strings.TrimSpace(k))
			if !models.ValidKind(kind) {
				response.BadRequest(c, "unknown content kind: "+string(kind))
				return
			}
			kinds = append(kinds, kind)
		}

		// Stable module identity across reconnects when the renderer passes
		// its own id; otherwise one is minted for this connection.
		moduleID := uuid.New()
		if idParam := c.Query("module_id"); idParam != "" {
			parsed, err := uuid.Parse(idParam)
			if err != nil {
				response.BadRequest(c, "invalid module_id")
				return
			}
			moduleID = parsed
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("module websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ModuleID: moduleID,
			hub:      hub,
			conn:     conn,
			send:     make(chan Envelope, 64),
			logger:   logger,
		}
		handle := &models.ModuleHandle{
			ID:    moduleID,
			Name:  name,
			Kinds: kinds,
		}
		hub.Register(handle, client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Deregister(c.ModuleID)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.hub.HandleModuleMessage(c.ModuleID, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
