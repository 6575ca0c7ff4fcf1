package notifications

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pfa-elearn/backend/internal/middleware"
	"github.com/pfa-elearn/backend/pkg/response"
)

// Handler handles notification HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a notifications handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// List handles GET /notifications for the authenticated user.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.repo.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("list notifications", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to list notifications")
		return
	}
	response.OK(c, list)
}

// MarkRead handles POST /notifications/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.repo.MarkRead(c.Request.Context(), id, userID); err != nil {
		h.logger.Error("mark notification read", zap.Error(err), zap.String("user_id", userID.String()))
		response.Internal(c, "failed to mark notification read")
		return
	}
	response.OK(c, gin.H{"id": id, "read": true})
}
