package enrollment

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pfa-elearn/backend/internal/middleware"
	"github.com/pfa-elearn/backend/internal/models"
	"github.com/pfa-elearn/backend/pkg/response"
)

// CreateCourseRequest is the body for POST /courses.
type CreateCourseRequest struct {
	Title       string `json:"title" binding:"required,min=3"`
	Description string `json:"description"`
}

// Handler handles course and enrollment HTTP endpoints.
type Handler struct {
	repo *Repository
}

// NewHandler creates a course handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// CreateCourse handles POST /courses (teacher/admin). The caller becomes the
// course instructor.
func (h *Handler) CreateCourse(c *gin.Context) {
	var req CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	course := &models.Course{
		Title:        req.Title,
		Description:  req.Description,
		InstructorID: userID,
	}
	if err := h.repo.CreateCourse(c.Request.Context(), course); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// ListCourses handles GET /courses.
func (h *Handler) ListCourses(c *gin.Context) {
	list, err := h.repo.ListCourses(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Enroll handles POST /courses/:id/enroll. The caller enrolls themselves.
func (h *Handler) Enroll(c *gin.Context) {
	courseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid course id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	if _, err := h.repo.GetCourse(c.Request.Context(), courseID); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.repo.Enroll(c.Request.Context(), courseID, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"course_id": courseID, "user_id": userID})
}
