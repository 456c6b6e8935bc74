package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pairwave/backend/internal/models"
	"pairwave/backend/internal/relay"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin. Tighten in production deployments.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEnvelope is the frame exchanged with a websocket client. Inbound types:
// signal (publish into a room mailbox), ack (consume a delivered row),
// presence_join / presence_leave. Outbound types: notification, signal,
// presence.
type wsEnvelope struct {
	Type        string             `json:"type"`
	ID          string             `json:"id,omitempty"`
	RoomID      string             `json:"room_id,omitempty"`
	RecipientID string             `json:"recipient_id,omitempty"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
	Event       relay.PresenceKind `json:"event,omitempty"`
	MemberID    string             `json:"member_id,omitempty"`
}

// ServeWebSocket upgrades the connection and bridges the caller's relay
// mailboxes onto it: the notification mailbox is attached immediately, the
// room signal mailbox and presence channel when the client joins a room.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	anonID, ok := h.callerID(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		handler: h,
		userID:  anonID,
		conn:    conn,
		send:    make(chan wsEnvelope, 64),
		logger:  h.Logger.With(zap.String("user_id", anonID)),
	}
	client.run(c.Request.Context())
}

// wsClient is one websocket attachment: the push transport of the relays
// toward a remote client.
type wsClient struct {
	handler *Handler
	userID  string
	conn    *websocket.Conn
	send    chan wsEnvelope
	logger  *zap.Logger

	// Room attachments, owned by the readPump goroutine.
	roomID     string
	sigSub     *relay.Subscription
	membership *relay.Membership
}

func (c *wsClient) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	notifSub, err := c.handler.Notifications.Subscribe(ctx, c.userID)
	if err != nil {
		c.logger.Warn("notification subscribe failed", zap.Error(err))
		_ = c.conn.Close()
		return
	}
	go func() {
		for msg := range notifSub.Messages() {
			c.push(wsEnvelope{Type: "notification", ID: msg.ID, Payload: msg.Payload})
		}
	}()

	go c.writePump(ctx)
	c.readPump(ctx)

	cancel()
	notifSub.Close()
	c.leaveRoom(context.Background())
}

func (c *wsClient) push(env wsEnvelope) {
	select {
	case c.send <- env:
	default:
		c.logger.Warn("slow websocket client, dropping frame", zap.String("type", env.Type))
	}
}

func (c *wsClient) readPump(ctx context.Context) {
	defer func() { _ = c.conn.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn("bad websocket frame", zap.Error(err))
			continue
		}
		c.handleFrame(ctx, env)
	}
}

func (c *wsClient) handleFrame(ctx context.Context, env wsEnvelope) {
	switch env.Type {
	case "signal":
		var payload models.SignalPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.logger.Warn("bad signal payload", zap.Error(err))
			return
		}
		if err := c.handler.Signals.Publish(ctx, env.RoomID, env.RecipientID, payload); err != nil {
			c.logger.Warn("signal publish failed", zap.String("room_id", env.RoomID), zap.Error(err))
		}

	case "ack":
		// The client consumed a delivered row; redelivery after a failed
		// ack is expected and tolerated downstream.
		var err error
		if env.RoomID != "" {
			err = c.handler.Signals.Consume(ctx, env.ID)
		} else {
			err = c.handler.Notifications.Consume(ctx, env.ID)
		}
		if err != nil {
			c.logger.Warn("ack failed", zap.String("id", env.ID), zap.Error(err))
		}

	case "presence_join":
		c.joinRoom(ctx, env.RoomID)

	case "presence_leave":
		c.leaveRoom(ctx)

	default:
		c.logger.Warn("unknown websocket frame type", zap.String("type", env.Type))
	}
}

// joinRoom attaches the client to a room's signal mailbox and presence
// channel, detaching from any previous room first.
func (c *wsClient) joinRoom(ctx context.Context, roomID string) {
	if roomID == "" || roomID == c.roomID {
		return
	}
	c.leaveRoom(ctx)

	sigSub, err := c.handler.Signals.Subscribe(ctx, roomID, c.userID)
	if err != nil {
		c.logger.Warn("signal subscribe failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	membership, err := c.handler.Presence.Join(ctx, roomID, c.userID)
	if err != nil {
		sigSub.Close()
		c.logger.Warn("presence join failed", zap.String("room_id", roomID), zap.Error(err))
		return
	}

	c.roomID = roomID
	c.sigSub = sigSub
	c.membership = membership
	go func() {
		for msg := range sigSub.Messages() {
			c.push(wsEnvelope{Type: "signal", ID: msg.ID, RoomID: roomID, Payload: msg.Payload})
		}
	}()
	go func() {
		for ev := range membership.Events() {
			c.push(wsEnvelope{Type: "presence", RoomID: roomID, Event: ev.Kind, MemberID: ev.MemberID})
		}
	}()
}

func (c *wsClient) leaveRoom(_ context.Context) {
	if c.sigSub != nil {
		c.sigSub.Close()
		c.sigSub = nil
	}
	if c.membership != nil {
		c.membership.Leave()
		c.membership = nil
	}
	c.roomID = ""
}

func (c *wsClient) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
