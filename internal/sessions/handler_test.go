package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pfa-elearn/backend/internal/middleware"
	"github.com/pfa-elearn/backend/internal/models"
	"github.com/pfa-elearn/backend/pkg/apperr"
)

type fakeStore struct {
	sessions     map[uuid.UUID]*models.LiveSession
	participants map[uuid.UUID]map[uuid.UUID]models.Participant
	materials    map[uuid.UUID][]models.SessionMaterial
	takenCodes   map[string]bool
	createCalls  int
	collideFn    func() bool // when set, simulates a join-code collision
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:     make(map[uuid.UUID]*models.LiveSession),
		participants: make(map[uuid.UUID]map[uuid.UUID]models.Participant),
		materials:    make(map[uuid.UUID][]models.SessionMaterial),
		takenCodes:   make(map[string]bool),
	}
}

func (f *fakeStore) Create(_ context.Context, s *models.LiveSession) error {
	f.createCalls++
	if f.collideFn != nil && f.collideFn() {
		return ErrCodeTaken
	}
	if f.takenCodes[s.SessionCode] {
		return ErrCodeTaken
	}
	s.ID = uuid.New()
	s.Status = models.StatusScheduled
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	f.sessions[s.ID] = &cp
	f.takenCodes[s.SessionCode] = true
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) List(_ context.Context, courseID *uuid.UUID) ([]models.LiveSession, error) {
	var out []models.LiveSession
	for _, s := range f.sessions {
		if courseID == nil || s.CourseID == *courseID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeStore) Start(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	s := f.sessions[id]
	s.Status = models.StatusLive
	if s.ActualStartTime == nil {
		now := time.Now()
		s.ActualStartTime = &now
	}
	cp := *s
	return &cp, nil
}

func (f *fakeStore) End(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	s := f.sessions[id]
	s.Status = models.StatusEnded
	if s.EndTime == nil {
		now := time.Now()
		s.EndTime = &now
	}
	s.ActivePollID = nil
	cp := *s
	return &cp, nil
}

func (f *fakeStore) Cancel(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	s := f.sessions[id]
	s.Status = models.StatusCancelled
	cp := *s
	return &cp, nil
}

func (f *fakeStore) AddParticipant(_ context.Context, sessionID, userID uuid.UUID, displayName string) (bool, error) {
	if f.participants[sessionID] == nil {
		f.participants[sessionID] = make(map[uuid.UUID]models.Participant)
	}
	if _, ok := f.participants[sessionID][userID]; ok {
		return false, nil
	}
	f.participants[sessionID][userID] = models.Participant{
		SessionID: sessionID, UserID: userID, DisplayName: displayName, JoinedAt: time.Now(),
	}
	return true, nil
}

func (f *fakeStore) RemoveParticipant(_ context.Context, sessionID, userID uuid.UUID) (bool, error) {
	if _, ok := f.participants[sessionID][userID]; !ok {
		return false, nil
	}
	delete(f.participants[sessionID], userID)
	return true, nil
}

func (f *fakeStore) ListParticipants(_ context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	var out []models.Participant
	for _, p := range f.participants[sessionID] {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) CountParticipants(_ context.Context, sessionID uuid.UUID) (int, error) {
	return len(f.participants[sessionID]), nil
}

func (f *fakeStore) ListPresence(_ context.Context, _ uuid.UUID) ([]models.ParticipantPresence, error) {
	return nil, nil
}

func (f *fakeStore) AddMaterial(_ context.Context, m *models.SessionMaterial) error {
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	f.materials[m.SessionID] = append(f.materials[m.SessionID], *m)
	return nil
}

func (f *fakeStore) ListMaterials(_ context.Context, sessionID uuid.UUID) ([]models.SessionMaterial, error) {
	return f.materials[sessionID], nil
}

type fakeDirectory struct{ names map[uuid.UUID]string }

func (f *fakeDirectory) GetDisplayName(_ context.Context, id uuid.UUID) (string, error) {
	if name, ok := f.names[id]; ok {
		return name, nil
	}
	return "", apperr.New(apperr.NotFound, "user not found")
}

type fakeCourses struct {
	courses     map[uuid.UUID]*models.Course
	instructors map[uuid.UUID]uuid.UUID // courseID -> instructor
}

func (f *fakeCourses) GetCourse(_ context.Context, id uuid.UUID) (*models.Course, error) {
	c, ok := f.courses[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "course not found")
	}
	return c, nil
}

func (f *fakeCourses) IsInstructor(_ context.Context, courseID, userID uuid.UUID) (bool, error) {
	return f.instructors[courseID] == userID, nil
}

type fakeOracle struct {
	store    *fakeStore
	enrolled map[uuid.UUID]bool // userID
}

func (f *fakeOracle) IsHost(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	s, err := f.store.GetByID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return s.HostID == userID || s.CreatedBy == userID, nil
}

func (f *fakeOracle) IsEnrolled(_ context.Context, _, userID uuid.UUID) (bool, error) {
	return f.enrolled[userID], nil
}

type fakeNotifier struct{ scheduled []uuid.UUID }

func (f *fakeNotifier) SessionScheduled(_ context.Context, s *models.LiveSession) {
	f.scheduled = append(f.scheduled, s.ID)
}

type broadcastRecord struct {
	SessionID uuid.UUID
	Event     string
	Payload   interface{}
}

type fakeHub struct {
	broadcasts []broadcastRecord
	counts     map[uuid.UUID]int
}

func (f *fakeHub) Broadcast(sessionID uuid.UUID, event string, payload interface{}) {
	f.broadcasts = append(f.broadcasts, broadcastRecord{sessionID, event, payload})
}

func (f *fakeHub) AudienceCount(sessionID uuid.UUID) int { return f.counts[sessionID] }

type fixture struct {
	store    *fakeStore
	users    *fakeDirectory
	courses  *fakeCourses
	oracle   *fakeOracle
	notifier *fakeNotifier
	hub      *fakeHub
	router   *gin.Engine

	teacherID uuid.UUID
	studentID uuid.UUID
	courseID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		store:     newFakeStore(),
		teacherID: uuid.New(),
		studentID: uuid.New(),
		courseID:  uuid.New(),
	}
	f.users = &fakeDirectory{names: map[uuid.UUID]string{
		f.teacherID: "Dana Teacher",
		f.studentID: "Sam Student",
	}}
	f.courses = &fakeCourses{
		courses: map[uuid.UUID]*models.Course{
			f.courseID: {ID: f.courseID, Title: "Intro to Algebra", InstructorID: f.teacherID},
		},
		instructors: map[uuid.UUID]uuid.UUID{f.courseID: f.teacherID},
	}
	f.oracle = &fakeOracle{store: f.store, enrolled: map[uuid.UUID]bool{f.studentID: true}}
	f.notifier = &fakeNotifier{}
	f.hub = &fakeHub{counts: make(map[uuid.UUID]int)}

	h := NewHandler(f.store, f.users, f.courses, f.oracle, f.notifier, f.hub, nil, zap.NewNop())

	f.router = gin.New()
	api := f.router.Group("", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, uuid.MustParse(c.GetHeader("X-Test-User")))
		c.Set(middleware.ContextUserRole, c.GetHeader("X-Test-Role"))
	})
	api.POST("/sessions", h.Create)
	api.GET("/sessions/:id", h.GetByID)
	api.PATCH("/sessions/:id/status", h.UpdateStatus)
	api.POST("/sessions/:id/start", h.Start)
	api.POST("/sessions/:id/end", h.End)
	api.POST("/sessions/:id/join", h.Join)
	api.POST("/sessions/:id/leave", h.Leave)
	api.PUT("/sessions/:id/materials", h.SaveMaterials)
	api.GET("/sessions/:id/materials", h.ListMaterials)
	api.POST("/sessions/:id/materials/upload", h.UploadMaterial)
	api.GET("/sessions/:id/audience_count", h.AudienceCount)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, userID uuid.UUID, role string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", userID.String())
	req.Header.Set("X-Test-Role", role)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) createSession(t *testing.T) *models.LiveSession {
	t.Helper()
	w := f.do(t, http.MethodPost, "/sessions", f.teacherID, "teacher", gin.H{
		"course_id":                 f.courseID.String(),
		"title":                     "Week 3: Quadratic Equations",
		"description":               "Solving quadratics by factoring and the quadratic formula.",
		"scheduled_start":           time.Now().Add(time.Hour).Format(time.RFC3339),
		"expected_duration_minutes": 60,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Data models.LiveSession `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp.Data
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	assert.Equal(t, models.StatusScheduled, s.Status)
	assert.Len(t, s.SessionCode, CodeLength)
	assert.Equal(t, f.teacherID, s.HostID)
	assert.Equal(t, f.teacherID, s.CreatedBy)
	assert.Len(t, f.notifier.scheduled, 1)
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body gin.H
	}{
		{"short title", gin.H{
			"course_id": f.courseID.String(), "title": "ab",
			"description": "long enough description here", "scheduled_start": time.Now().Format(time.RFC3339),
			"expected_duration_minutes": 60,
		}},
		{"short description", gin.H{
			"course_id": f.courseID.String(), "title": "Valid Title",
			"description": "short", "scheduled_start": time.Now().Format(time.RFC3339),
			"expected_duration_minutes": 60,
		}},
		{"duration too short", gin.H{
			"course_id": f.courseID.String(), "title": "Valid Title",
			"description": "long enough description here", "scheduled_start": time.Now().Format(time.RFC3339),
			"expected_duration_minutes": 2,
		}},
		{"duration too long", gin.H{
			"course_id": f.courseID.String(), "title": "Valid Title",
			"description": "long enough description here", "scheduled_start": time.Now().Format(time.RFC3339),
			"expected_duration_minutes": 300,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/sessions", f.teacherID, "teacher", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreateSessionForbiddenForOutsideStudent(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/sessions", f.studentID, "student", gin.H{
		"course_id":                 f.courseID.String(),
		"title":                     "Student session",
		"description":               "students cannot schedule sessions",
		"scheduled_start":           time.Now().Format(time.RFC3339),
		"expected_duration_minutes": 30,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCreateSessionRetriesOnCodeCollision(t *testing.T) {
	f := newFixture(t)
	rejects := 2
	f.store.collideFn = func() bool {
		if rejects > 0 {
			rejects--
			return true
		}
		return false
	}

	s := f.createSession(t)
	assert.NotEmpty(t, s.SessionCode)
	assert.Equal(t, 3, f.store.createCalls)
}

func TestStartAndEndLifecycle(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	w := f.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/start", f.teacherID, "teacher", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, err := f.store.GetByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusLive, got.Status)
	require.NotNil(t, got.ActualStartTime)

	// Idempotent retry keeps the original start time.
	firstStart := *got.ActualStartTime
	w = f.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/start", f.teacherID, "teacher", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got, _ = f.store.GetByID(context.Background(), s.ID)
	assert.Equal(t, firstStart, *got.ActualStartTime)

	w = f.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/end", f.teacherID, "teacher", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got, _ = f.store.GetByID(context.Background(), s.ID)
	assert.Equal(t, models.StatusEnded, got.Status)
	assert.NotNil(t, got.EndTime)

	// One session_status broadcast per applied transition.
	var statusEvents int
	for _, b := range f.hub.broadcasts {
		if b.Event == "session_status" {
			statusEvents++
		}
	}
	assert.Equal(t, 3, statusEvents)
}

func TestUpdateStatusRejectsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	// scheduled -> ended skips live
	w := f.do(t, http.MethodPatch, "/sessions/"+s.ID.String()+"/status", f.teacherID, "teacher", gin.H{"status": "ended"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// unknown vocabulary
	w = f.do(t, http.MethodPatch, "/sessions/"+s.ID.String()+"/status", f.teacherID, "teacher", gin.H{"status": "paused"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateStatusAcceptsAliases(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	w := f.do(t, http.MethodPatch, "/sessions/"+s.ID.String()+"/status", f.teacherID, "teacher", gin.H{"status": "active"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got, _ := f.store.GetByID(context.Background(), s.ID)
	assert.Equal(t, models.StatusLive, got.Status)

	w = f.do(t, http.MethodPatch, "/sessions/"+s.ID.String()+"/status", f.teacherID, "teacher", gin.H{"status": "completed"})
	require.Equal(t, http.StatusOK, w.Code)
	got, _ = f.store.GetByID(context.Background(), s.ID)
	assert.Equal(t, models.StatusEnded, got.Status)
}

func TestUpdateStatusHostOnly(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	w := f.do(t, http.MethodPatch, "/sessions/"+s.ID.String()+"/status", f.studentID, "student", gin.H{"status": "live"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestJoinLeaveRoster(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	w := f.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/join", f.studentID, "student", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	count, _ := f.store.CountParticipants(context.Background(), s.ID)
	assert.Equal(t, 1, count)

	// Rejoining is a set union, not a duplicate.
	w = f.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/join", f.studentID, "student", nil)
	require.Equal(t, http.StatusOK, w.Code)
	count, _ = f.store.CountParticipants(context.Background(), s.ID)
	assert.Equal(t, 1, count)

	w = f.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/leave", f.studentID, "student", nil)
	require.Equal(t, http.StatusOK, w.Code)
	count, _ = f.store.CountParticipants(context.Background(), s.ID)
	assert.Equal(t, 0, count)

	// Leaving again is a logged no-op, not an error.
	w = f.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/leave", f.studentID, "student", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJoinRejectsUnenrolled(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)
	outsider := uuid.New()
	f.users.names[outsider] = "Out Sider"

	w := f.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/join", outsider, "student", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestJoinRejectsEndedSession(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)
	_, _ = f.store.Start(context.Background(), s.ID)
	_, _ = f.store.End(context.Background(), s.ID)

	w := f.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/join", f.studentID, "student", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestJoinRejectsFullSession(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/sessions", f.teacherID, "teacher", gin.H{
		"course_id":                 f.courseID.String(),
		"title":                     "Small group tutorial",
		"description":               "Capped at a single participant for testing.",
		"scheduled_start":           time.Now().Format(time.RFC3339),
		"expected_duration_minutes": 30,
		"max_participants":          1,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		Data models.LiveSession `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	sessionID := resp.Data.ID

	other := uuid.New()
	f.users.names[other] = "Second Student"
	f.oracle.enrolled[other] = true

	w = f.do(t, http.MethodPost, "/sessions/"+sessionID.String()+"/join", f.studentID, "student", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/sessions/"+sessionID.String()+"/join", other, "student", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSaveMaterials(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)

	w := f.do(t, http.MethodPut, "/sessions/"+s.ID.String()+"/materials", f.teacherID, "teacher", gin.H{
		"materials": []gin.H{
			{"title": "Lecture slides", "kind": "link", "url": "https://example.com/slides.pdf"},
			{"title": "Reading list", "url": "https://example.com/reading"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	materials, _ := f.store.ListMaterials(context.Background(), s.ID)
	require.Len(t, materials, 2)
	assert.Equal(t, "link", materials[1].Kind) // kind defaults to link

	// Students cannot save materials.
	w = f.do(t, http.MethodPut, "/sessions/"+s.ID.String()+"/materials", f.studentID, "student", gin.H{
		"materials": []gin.H{{"title": "x", "url": "https://example.com"}},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUploadMaterialUnavailableWithoutS3(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)
	w := f.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/materials/upload", f.teacherID, "teacher", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAudienceCount(t *testing.T) {
	f := newFixture(t)
	s := f.createSession(t)
	f.hub.counts[s.ID] = 7

	w := f.do(t, http.MethodGet, "/sessions/"+s.ID.String()+"/audience_count", f.studentID, "student", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.Data.Count)
}
