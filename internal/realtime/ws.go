package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSHandler upgrades requests and streams one topic of a Hub to the client
// as JSON events.
type WSHandler struct {
	hub       *Hub
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	readLimit int64
}

func NewWSHandler(hub *Hub, logger *slog.Logger, readLimit int64) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if readLimit <= 0 {
		readLimit = 4096
	}
	return &WSHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		readLimit: readLimit,
	}
}

type wsClient struct {
	conn   *websocket.Conn
	events <-chan Event
	cancel context.CancelFunc
	logger *slog.Logger
}

// Serve subscribes the connection to topic and sends hello first.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request, topic string, hello Event) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "topic", topic, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := h.hub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "closing"))
		conn.Close()
		return
	}

	c := &wsClient{
		conn:   conn,
		events: events,
		cancel: cancel,
		logger: h.logger.With("topic", topic),
	}
	c.logger.Debug("websocket client connected")

	hello.Tipo = TipoHello
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello); err != nil {
		cancel()
		conn.Close()
		return
	}

	conn.SetReadLimit(h.readLimit)
	go c.writePump()
	go c.readPump()
}

// readPump only drains control frames; clients never send data that matters.
func (c *wsClient) readPump() {
	defer func() {
		c.cancel()
		c.conn.Close()
		c.logger.Debug("websocket client disconnected")
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-c.events:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
