package sessions

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pfa-elearn/backend/internal/middleware"
	"github.com/pfa-elearn/backend/internal/models"
	"github.com/pfa-elearn/backend/internal/realtime"
	"github.com/pfa-elearn/backend/pkg/apperr"
	"github.com/pfa-elearn/backend/pkg/response"
	"github.com/pfa-elearn/backend/pkg/storage"
)

// createCodeAttempts bounds join-code regeneration on store collisions.
const createCodeAttempts = 5

// Store is the session persistence surface the handler needs.
type Store interface {
	Create(ctx context.Context, s *models.LiveSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	List(ctx context.Context, courseID *uuid.UUID) ([]models.LiveSession, error)
	Start(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	End(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.LiveSession, error)
	AddParticipant(ctx context.Context, sessionID, userID uuid.UUID, displayName string) (bool, error)
	RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	CountParticipants(ctx context.Context, sessionID uuid.UUID) (int, error)
	ListPresence(ctx context.Context, sessionID uuid.UUID) ([]models.ParticipantPresence, error)
	AddMaterial(ctx context.Context, m *models.SessionMaterial) error
	ListMaterials(ctx context.Context, sessionID uuid.UUID) ([]models.SessionMaterial, error)
}

// Directory resolves user profile data for roster entries.
type Directory interface {
	GetDisplayName(ctx context.Context, id uuid.UUID) (string, error)
}

// Courses answers course-scoped questions at session creation time.
type Courses interface {
	GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error)
	IsInstructor(ctx context.Context, courseID, userID uuid.UUID) (bool, error)
}

// Oracle answers session-scoped authorization questions.
type Oracle interface {
	IsHost(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
	IsEnrolled(ctx context.Context, sessionID, userID uuid.UUID) (bool, error)
}

// Notifier fans out session announcements. Fire-and-forget: implementations
// log failures and never return them.
type Notifier interface {
	SessionScheduled(ctx context.Context, s *models.LiveSession)
}

// Broadcaster is the realtime room fan-out surface.
type Broadcaster interface {
	Broadcast(sessionID uuid.UUID, event string, payload interface{})
	AudienceCount(sessionID uuid.UUID) int
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	CourseID                string                 `json:"course_id" binding:"required,uuid"`
	Title                   string                 `json:"title" binding:"required,min=3"`
	Description             string                 `json:"description" binding:"required,min=10"`
	ScheduledStart          string                 `json:"scheduled_start" binding:"required"`
	ExpectedDurationMinutes int                    `json:"expected_duration_minutes" binding:"required,min=5,max=180"`
	MaxParticipants         *int                   `json:"max_participants"`
	Features                models.SessionFeatures `json:"features"`
}

// UpdateStatusRequest is the body for PATCH /sessions/:id/status. Status
// accepts the alias spellings active/completed alongside the canonical enum.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// MaterialInput is one entry in the SaveMaterials body.
type MaterialInput struct {
	Title string `json:"title" binding:"required"`
	Kind  string `json:"kind" binding:"omitempty,oneof=link file"`
	URL   string `json:"url"`
}

// SaveMaterialsRequest is the body for PUT /sessions/:id/materials.
type SaveMaterialsRequest struct {
	Materials []MaterialInput `json:"materials" binding:"required,min=1,dive"`
}

// Handler handles session lifecycle HTTP endpoints.
type Handler struct {
	store    Store
	users    Directory
	courses  Courses
	oracle   Oracle
	notifier Notifier
	hub      Broadcaster
	s3       *storage.S3
	logger   *zap.Logger
}

// NewHandler creates a sessions handler. s3 may be nil; file uploads are
// then unavailable while link materials keep working.
func NewHandler(store Store, users Directory, courses Courses, oracle Oracle, notifier Notifier, hub Broadcaster, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{store: store, users: users, courses: courses, oracle: oracle, notifier: notifier, hub: hub, s3: s3, logger: logger}
}

// Create handles POST /sessions. The caller must be the course instructor
// or hold a teacher/admin role; the caller becomes the host.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, _ := c.MustGet(middleware.ContextUserRole).(string)

	courseID, _ := uuid.Parse(req.CourseID)
	scheduledStart, err := time.Parse(time.RFC3339, req.ScheduledStart)
	if err != nil {
		response.BadRequest(c, "invalid scheduled_start")
		return
	}

	if _, err := h.courses.GetCourse(c.Request.Context(), courseID); err != nil {
		response.Error(c, err)
		return
	}
	if role != string(models.RoleTeacher) && role != string(models.RoleAdmin) {
		isInstructor, err := h.courses.IsInstructor(c.Request.Context(), courseID, userID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !isInstructor {
			response.Forbidden(c, "only the course instructor or a teacher can create sessions")
			return
		}
	}

	s := &models.LiveSession{
		CourseID:                courseID,
		HostID:                  userID,
		CreatedBy:               userID,
		Title:                   req.Title,
		Description:             req.Description,
		ScheduledStart:          scheduledStart,
		ExpectedDurationMinutes: req.ExpectedDurationMinutes,
		MaxParticipants:         req.MaxParticipants,
		Features:                req.Features,
	}
	for attempt := 0; ; attempt++ {
		code, err := GenerateSessionCode()
		if err != nil {
			response.Internal(c, "failed to generate session code")
			return
		}
		s.SessionCode = code
		err = h.store.Create(c.Request.Context(), s)
		if err == ErrCodeTaken && attempt < createCodeAttempts {
			continue
		}
		if err != nil {
			h.logger.Error("create session", zap.Error(err), zap.String("course_id", courseID.String()))
			response.Internal(c, "failed to create session")
			return
		}
		break
	}

	// Failure to notify enrollees never fails session creation.
	h.notifier.SessionScheduled(c.Request.Context(), s)

	response.Created(c, s)
}

// GetByID handles GET /sessions/:id. Returns the session with its roster,
// presence mirror, and materials.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	participants, err := h.store.ListParticipants(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	presence, err := h.store.ListPresence(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	materials, err := h.store.ListMaterials(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"session":      s,
		"participants": participants,
		"presence":     presence,
		"materials":    materials,
	})
}

// List handles GET /sessions. Query ?course_id= filters by course.
func (h *Handler) List(c *gin.Context) {
	var courseID *uuid.UUID
	if v := c.Query("course_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.BadRequest(c, "invalid course_id")
			return
		}
		courseID = &id
	}
	list, err := h.store.List(c.Request.Context(), courseID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// UpdateStatus handles PATCH /sessions/:id/status (host only). The alias
// spellings active and completed are normalized to live and ended.
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	target, ok := NormalizeStatus(req.Status)
	if !ok {
		response.BadRequest(c, "invalid status")
		return
	}
	h.applyTransition(c, target)
}

// Start handles POST /sessions/:id/start (host only).
func (h *Handler) Start(c *gin.Context) {
	h.applyTransition(c, models.StatusLive)
}

// End handles POST /sessions/:id/end (host only).
func (h *Handler) End(c *gin.Context) {
	h.applyTransition(c, models.StatusEnded)
}

func (h *Handler) applyTransition(c *gin.Context, target models.SessionStatus) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	s, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	isHost, err := h.oracle.IsHost(c.Request.Context(), id, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !isHost {
		response.Forbidden(c, "only the host can change session status")
		return
	}
	if !CanTransition(s.Status, target) {
		response.Error(c, apperr.Newf(apperr.FailedPrecondition, "cannot transition from %s to %s", s.Status, target))
		return
	}

	var updated *models.LiveSession
	switch target {
	case models.StatusLive:
		updated, err = h.store.Start(c.Request.Context(), id)
	case models.StatusEnded:
		updated, err = h.store.End(c.Request.Context(), id)
	case models.StatusCancelled:
		updated, err = h.store.Cancel(c.Request.Context(), id)
	default:
		response.Error(c, apperr.Newf(apperr.FailedPrecondition, "cannot transition from %s to %s", s.Status, target))
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	h.hub.Broadcast(id, realtime.EventSessionStatus, gin.H{
		"session_id": id,
		"status":     updated.Status,
	})
	response.OK(c, updated)
}

// Join handles POST /sessions/:id/join. The caller must be the host or
// enrolled in the session's course. Rejoining while already on the roster
// is a no-op.
func (h *Handler) Join(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	s, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if s.Status == models.StatusEnded || s.Status == models.StatusCancelled {
		response.Error(c, apperr.Newf(apperr.FailedPrecondition, "session is %s", s.Status))
		return
	}

	isHost := s.HostID == userID || s.CreatedBy == userID
	if !isHost {
		enrolled, err := h.oracle.IsEnrolled(c.Request.Context(), id, userID)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !enrolled {
			response.Forbidden(c, "not enrolled in this course")
			return
		}
	}

	displayName, err := h.users.GetDisplayName(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}

	if s.MaxParticipants != nil {
		count, err := h.store.CountParticipants(c.Request.Context(), id)
		if err != nil {
			response.Error(c, err)
			return
		}
		if count >= *s.MaxParticipants {
			response.Error(c, apperr.New(apperr.FailedPrecondition, "session is full"))
			return
		}
	}

	added, err := h.store.AddParticipant(c.Request.Context(), id, userID, displayName)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !added {
		h.logger.Debug("participant already joined", zap.String("session_id", id.String()), zap.String("user_id", userID.String()))
	}
	response.OK(c, gin.H{"session_id": id, "session_code": s.SessionCode, "joined": true})
}

// Leave handles POST /sessions/:id/leave. Leaving when not on the roster
// is logged, not errored.
func (h *Handler) Leave(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	if _, err := h.store.GetByID(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	removed, err := h.store.RemoveParticipant(c.Request.Context(), id, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !removed {
		h.logger.Info("leave for absent participant", zap.String("session_id", id.String()), zap.String("user_id", userID.String()))
	}
	response.OK(c, gin.H{"session_id": id, "left": true})
}

// SaveMaterials handles PUT /sessions/:id/materials (host only). Stores a
// batch of link or pre-uploaded file references.
func (h *Handler) SaveMaterials(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	isHost, err := h.oracle.IsHost(c.Request.Context(), id, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !isHost {
		response.Forbidden(c, "only the host can save materials")
		return
	}

	var req SaveMaterialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	saved := make([]models.SessionMaterial, 0, len(req.Materials))
	for _, in := range req.Materials {
		kind := in.Kind
		if kind == "" {
			kind = "link"
		}
		m := models.SessionMaterial{
			SessionID:  id,
			Title:      in.Title,
			Kind:       kind,
			URL:        in.URL,
			UploadedBy: userID,
		}
		if err := h.store.AddMaterial(c.Request.Context(), &m); err != nil {
			response.Error(c, err)
			return
		}
		saved = append(saved, m)
	}
	response.OK(c, gin.H{"session_id": id, "materials": saved})
}

// UploadMaterial handles POST /sessions/:id/materials/upload (host only,
// multipart). The file is stored in S3 and recorded as a file material.
func (h *Handler) UploadMaterial(c *gin.Context) {
	if h.s3 == nil {
		response.ServiceUnavailable(c, "file storage not configured")
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	isHost, err := h.oracle.IsHost(c.Request.Context(), id, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !isHost {
		response.Forbidden(c, "only the host can upload materials")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file required")
		return
	}
	if fileHeader.Size > storage.MaxMaterialFileSize {
		response.BadRequest(c, "file too large")
		return
	}
	if !storage.ValidateMaterialFileType(fileHeader.Filename) {
		response.BadRequest(c, "unsupported file type")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.Internal(c, "failed to read file")
		return
	}
	defer f.Close()

	key := storage.MaterialKey(id.String(), fileHeader.Filename)
	url, err := h.s3.Upload(c.Request.Context(), key, storage.ContentTypeForFilename(fileHeader.Filename), f, fileHeader.Size)
	if err != nil {
		h.logger.Error("material upload", zap.Error(err), zap.String("session_id", id.String()))
		response.Internal(c, "failed to upload material")
		return
	}

	m := models.SessionMaterial{
		SessionID:  id,
		Title:      fileHeader.Filename,
		Kind:       "file",
		URL:        url,
		S3Key:      key,
		UploadedBy: userID,
	}
	if err := h.store.AddMaterial(c.Request.Context(), &m); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, m)
}

// ListMaterials handles GET /sessions/:id/materials. File materials get a
// fresh presigned download URL when S3 is configured.
func (h *Handler) ListMaterials(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if _, err := h.store.GetByID(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	materials, err := h.store.ListMaterials(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.s3 != nil {
		for i := range materials {
			if materials[i].Kind == "file" && materials[i].S3Key != "" {
				if url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), materials[i].S3Key, h.s3.PresignExpire()); err == nil {
					materials[i].URL = url
				}
			}
		}
	}
	response.OK(c, materials)
}

// AudienceCount handles GET /sessions/:id/audience_count, reading the live
// room size from the gateway hub.
func (h *Handler) AudienceCount(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	response.OK(c, gin.H{"session_id": id, "count": h.hub.AudienceCount(id)})
}
