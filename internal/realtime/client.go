package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Client represents a single WebSocket connection. A connection joins and
// leaves session rooms via gateway events; rooms is only touched by the
// hub under its lock.
type Client struct {
	ID     string
	UserID uuid.UUID
	Role   string
	rooms  map[uuid.UUID]struct{}
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop. The
// handshake requires a resolvable identity: a missing or invalid token
// terminates the connection before any room operation is possible.
func ServeWs(hub *Hub, logger *zap.Logger, jwtValidate func(token string) (userID, role string, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}
		userIDStr, role, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			UserID: userID,
			Role:   role,
			rooms:  make(map[uuid.UUID]struct{}),
			hub:    hub,
			conn:   conn,
			send:   make(chan WSMessage, 256),
			logger: logger,
		}
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		// Graceful or not, a closed connection leaves every room it was
		// in and is mirrored offline without an explicit leave_session.
		for _, sessionID := range c.hub.RemoveClient(c) {
			c.hub.mirrorPresence(sessionID, c.UserID, false)
			c.hub.BroadcastExcept(sessionID, c.ID, EventPresenceChange, PresenceChange{
				SessionID: sessionID, UserID: c.UserID, IsOnline: false,
			})
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		c.handleEvent(msg)
	}
}

// handleEvent dispatches one client event. The event set is closed; unknown
// events are dropped. Events referencing a room the connection is not a
// member of are ignored (join_session excepted).
func (c *Client) handleEvent(msg WSMessage) {
	switch msg.Event {
	case EventJoinSession:
		var ref RoomRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.SessionID == uuid.Nil {
			return
		}
		c.hub.JoinRoom(c, ref.SessionID)
		c.hub.mirrorPresence(ref.SessionID, c.UserID, true)
		c.hub.BroadcastExcept(ref.SessionID, c.ID, EventPresenceChange, PresenceChange{
			SessionID: ref.SessionID, UserID: c.UserID, IsOnline: true,
		})

	case EventLeaveSession:
		var ref RoomRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil || !c.hub.InRoom(c, ref.SessionID) {
			return
		}
		c.hub.LeaveRoom(c, ref.SessionID)
		c.hub.mirrorPresence(ref.SessionID, c.UserID, false)
		c.hub.BroadcastExcept(ref.SessionID, c.ID, EventPresenceChange, PresenceChange{
			SessionID: ref.SessionID, UserID: c.UserID, IsOnline: false,
		})

	case EventRaiseHand, EventLowerHand, EventTyping:
		var ref RoomRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil || !c.hub.InRoom(c, ref.SessionID) {
			return
		}
		c.hub.BroadcastExcept(ref.SessionID, c.ID, msg.Event, HandEvent{
			SessionID: ref.SessionID, UserID: c.UserID,
		})

	case EventPresenceUpdate:
		var upd PresenceUpdate
		if err := json.Unmarshal(msg.Data, &upd); err != nil || !c.hub.InRoom(c, upd.SessionID) {
			return
		}
		c.hub.mirrorPresence(upd.SessionID, c.UserID, upd.IsOnline)
		c.hub.BroadcastExcept(upd.SessionID, c.ID, EventPresenceChange, PresenceChange{
			SessionID: upd.SessionID, UserID: c.UserID, IsOnline: upd.IsOnline,
		})

	default:
		// ignore
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
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
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
