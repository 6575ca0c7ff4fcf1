package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60
)

// PresenceWriter mirrors a user's online state into the durable presence
// map. Writes are best-effort: implementations log failures and must not
// block broadcast delivery.
type PresenceWriter func(sessionID, userID uuid.UUID, online bool)

// Publisher publishes a room event to Redis for cross-instance delivery.
// exceptClientID is carried in the payload so the sender's own instance can
// exclude the originating connection on redelivery.
type Publisher interface {
	PublishSessionEvent(sessionID uuid.UUID, exceptClientID, event string, payload []byte) error
}

// Subscriber subscribes to a session's channel and invokes handler for
// incoming events.
type Subscriber interface {
	SubscribeSession(sessionID uuid.UUID, handler func(event, exceptClientID string, payload []byte)) (cancel func(), err error)
}

// Hub maintains session room membership and fans events out to connected
// clients. Each room is an independent broadcast group; operations on one
// room never block another. With Redis configured, events are published
// once and delivered by the per-room subscription on every instance
// (including this one), so local clients never see duplicates.
type Hub struct {
	rooms    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per room
	mu       sync.RWMutex
	logger   *zap.Logger
	pub      Publisher
	sub      Subscriber
	presence PresenceWriter
}

// NewHub creates a gateway hub. pub and sub may be nil for single-instance
// deployments; broadcasts then stay local.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	return &Hub{
		rooms:  make(map[uuid.UUID]map[string]*Client),
		subs:   make(map[uuid.UUID]func()),
		logger: logger,
		pub:    pub,
		sub:    sub,
	}
}

// SetPresenceWriter sets the durable presence mirror callback.
func (h *Hub) SetPresenceWriter(fn PresenceWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presence = fn
}

// JoinRoom adds a client connection to a session room, starting the Redis
// subscription when the room gains its first local member.
func (h *Hub) JoinRoom(c *Client, sessionID uuid.UUID) {
	h.mu.Lock()
	if h.rooms[sessionID] == nil {
		h.rooms[sessionID] = make(map[string]*Client)
		if h.sub != nil {
			cancel, err := h.sub.SubscribeSession(sessionID, func(event, exceptClientID string, payload []byte) {
				h.deliverLocal(sessionID, exceptClientID, event, payload)
			})
			if err == nil {
				h.subs[sessionID] = cancel
			} else {
				h.logger.Warn("room subscribe failed", zap.String("session_id", sessionID.String()), zap.Error(err))
			}
		}
	}
	h.rooms[sessionID][c.ID] = c
	c.rooms[sessionID] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client joined room", zap.String("client_id", c.ID), zap.String("session_id", sessionID.String()))
}

// LeaveRoom removes a client connection from a session room, cancelling the
// Redis subscription when the last local member leaves.
func (h *Hub) LeaveRoom(c *Client, sessionID uuid.UUID) {
	h.mu.Lock()
	if m, ok := h.rooms[sessionID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.rooms, sessionID)
			if cancel, ok := h.subs[sessionID]; ok {
				cancel()
				delete(h.subs, sessionID)
			}
		}
	}
	delete(c.rooms, sessionID)
	h.mu.Unlock()
	h.logger.Debug("client left room", zap.String("client_id", c.ID), zap.String("session_id", sessionID.String()))
}

// RemoveClient drops the connection from every room it belongs to and
// returns those room ids so the caller can mirror the member offline.
func (h *Hub) RemoveClient(c *Client) []uuid.UUID {
	h.mu.Lock()
	ids := make([]uuid.UUID, 0, len(c.rooms))
	for sessionID := range c.rooms {
		ids = append(ids, sessionID)
		if m, ok := h.rooms[sessionID]; ok {
			delete(m, c.ID)
			if len(m) == 0 {
				delete(h.rooms, sessionID)
				if cancel, ok := h.subs[sessionID]; ok {
					cancel()
					delete(h.subs, sessionID)
				}
			}
		}
		delete(c.rooms, sessionID)
	}
	h.mu.Unlock()
	return ids
}

// InRoom reports whether the connection is currently a member of the room.
func (h *Hub) InRoom(c *Client, sessionID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[sessionID]
	return ok
}

// AudienceCount returns the number of locally connected clients in a room.
func (h *Hub) AudienceCount(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Broadcast sends an event to every member of a room, on all instances.
func (h *Hub) Broadcast(sessionID uuid.UUID, event string, payload interface{}) {
	h.broadcast(sessionID, "", event, payload)
}

// BroadcastExcept sends an event to every member of a room except the named
// connection (the sender does not receive its own echo).
func (h *Hub) BroadcastExcept(sessionID uuid.UUID, exceptClientID, event string, payload interface{}) {
	h.broadcast(sessionID, exceptClientID, event, payload)
}

func (h *Hub) broadcast(sessionID uuid.UUID, exceptClientID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.pub != nil {
		if err := h.pub.PublishSessionEvent(sessionID, exceptClientID, event, data); err == nil {
			return
		}
		h.logger.Warn("publish failed, delivering locally", zap.String("event", event), zap.String("session_id", sessionID.String()))
	}
	h.deliverLocal(sessionID, exceptClientID, event, data)
}

// deliverLocal writes the event to the send buffer of each local room
// member. Slow clients with a full buffer are skipped, never blocked on.
func (h *Hub) deliverLocal(sessionID uuid.UUID, exceptClientID, event string, data []byte) {
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.rooms[sessionID]
	targets := make([]*Client, 0, len(clients))
	for id, c := range clients {
		if id == exceptClientID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// mirrorPresence invokes the presence writer asynchronously; the broadcast
// path never waits on the durable write.
func (h *Hub) mirrorPresence(sessionID, userID uuid.UUID, online bool) {
	h.mu.RLock()
	fn := h.presence
	h.mu.RUnlock()
	if fn == nil {
		return
	}
	go fn(sessionID, userID, online)
}
