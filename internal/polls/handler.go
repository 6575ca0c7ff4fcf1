package polls

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pfa-elearn/backend/internal/middleware"
	"github.com/pfa-elearn/backend/internal/models"
	"github.com/pfa-elearn/backend/internal/realtime"
	"github.com/pfa-elearn/backend/pkg/apperr"
	"github.com/pfa-elearn/backend/pkg/response"
)

// Store is the poll persistence surface the handler needs.
type Store interface {
	Create(ctx context.Context, p *models.Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Poll, error)
	Close(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	Vote(ctx context.Context, pollID, userID uuid.UUID, optionID string) (*models.Poll, error)
}

// Sessions resolves the session a poll belongs to.
type Sessions interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
}

// Oracle answers session-scoped authorization questions.
type Oracle interface {
	IsHost(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	IsEnrolled(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
}

// Broadcaster is the realtime room fan-out surface.
type Broadcaster interface {
	Broadcast(sessionID uuid.UUID, event string, payload interface{})
}

// CreateRequest is the body for POST /sessions/:id/polls.
type CreateRequest struct {
	Question string   `json:"question" binding:"required,min=3"`
	Options  []string `json:"options" binding:"required,min=2,dive,required"`
}

// VoteRequest is the body for POST /polls/:id/vote.
type VoteRequest struct {
	OptionID string `json:"option_id" binding:"required"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	store    Store
	sessions Sessions
	oracle   Oracle
	hub      Broadcaster
	logger   *zap.Logger
}

// NewHandler creates a polls handler.
func NewHandler(store Store, sessions Sessions, oracle Oracle, hub Broadcaster, logger *zap.Logger) *Handler {
	return &Handler{store: store, sessions: sessions, oracle: oracle, hub: hub, logger: logger}
}

// Create handles POST /sessions/:id/polls (host only). Polls can only be
// created while the session is live; the new poll becomes the session's
// active poll and the room is notified.
func (h *Handler) Create(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	s, err := h.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	isHost, err := h.oracle.IsHost(c.Request.Context(), sessionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !isHost {
		response.Forbidden(c, "only the host can create polls")
		return
	}
	if s.Status != models.StatusLive {
		response.Error(c, apperr.New(apperr.FailedPrecondition, "session is not live"))
		return
	}

	p := &models.Poll{
		SessionID: sessionID,
		Question:  req.Question,
		CreatedBy: userID,
		Options:   make([]models.PollOption, len(req.Options)),
	}
	for i, text := range req.Options {
		p.Options[i] = models.PollOption{Text: text}
	}
	if err := h.store.Create(c.Request.Context(), p); err != nil {
		h.logger.Error("create poll", zap.Error(err), zap.String("session_id", sessionID.String()))
		response.Internal(c, "failed to create poll")
		return
	}

	h.hub.Broadcast(sessionID, realtime.EventPollCreated, p)
	response.Created(c, p)
}

// Get handles GET /polls/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	p, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// ListBySession handles GET /sessions/:id/polls.
func (h *Handler) ListBySession(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.store.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Vote handles POST /polls/:id/vote. The caller must be the host or
// enrolled; voting again moves the ballot, voting for the same option is a
// no-op. The updated tally is broadcast to the room.
func (h *Handler) Vote(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	p, err := h.store.GetByID(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err)
		return
	}
	isHost, err := h.oracle.IsHost(c.Request.Context(), p.SessionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !isHost {
		enrolled, err := h.oracle.IsEnrolled(c.Request.Context(), p.SessionID, userID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !enrolled {
			response.Forbidden(c, "not enrolled in this course")
			return
		}
	}

	updated, err := h.store.Vote(c.Request.Context(), pollID, userID, req.OptionID)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.hub.Broadcast(updated.SessionID, realtime.EventPollTally, updated)
	response.OK(c, updated)
}

// Close handles POST /polls/:id/close (host only). Closing an already
// closed poll is accepted and returns the final tally.
func (h *Handler) Close(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	p, err := h.store.GetByID(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err)
		return
	}
	isHost, err := h.oracle.IsHost(c.Request.Context(), p.SessionID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !isHost {
		response.Forbidden(c, "only the host can close polls")
		return
	}

	closed, err := h.store.Close(c.Request.Context(), pollID)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.hub.Broadcast(closed.SessionID, realtime.EventPollClosed, closed)
	response.OK(c, closed)
}
