package polls

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
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

// fakeStore mirrors the transactional vote semantics of the real
// repository: tallies and the ballot ledger change together, revotes move
// the ballot, a repeat vote for the held option is a no-op.
type fakeStore struct {
	polls   map[uuid.UUID]*models.Poll
	ballots map[uuid.UUID]map[uuid.UUID]string // pollID -> userID -> optionID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		polls:   make(map[uuid.UUID]*models.Poll),
		ballots: make(map[uuid.UUID]map[uuid.UUID]string),
	}
}

func (f *fakeStore) Create(_ context.Context, p *models.Poll) error {
	p.ID = uuid.New()
	p.IsOpen = true
	p.CreatedAt = time.Now()
	for i := range p.Options {
		p.Options[i].ID = fmt.Sprintf("opt_%d", i+1)
		p.Options[i].Votes = 0
	}
	cp := *p
	cp.Options = append([]models.PollOption(nil), p.Options...)
	f.polls[p.ID] = &cp
	f.ballots[p.ID] = make(map[uuid.UUID]string)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	p, ok := f.polls[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "poll not found")
	}
	cp := *p
	cp.Options = append([]models.PollOption(nil), p.Options...)
	return &cp, nil
}

func (f *fakeStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.Poll, error) {
	var out []models.Poll
	for _, p := range f.polls {
		if p.SessionID == sessionID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) Close(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	p, ok := f.polls[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "poll not found")
	}
	p.IsOpen = false
	return f.GetByID(ctx, id)
}

func (f *fakeStore) Vote(ctx context.Context, pollID, userID uuid.UUID, optionID string) (*models.Poll, error) {
	p, ok := f.polls[pollID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "poll not found")
	}
	if !p.IsOpen {
		return nil, apperr.New(apperr.FailedPrecondition, "poll is closed")
	}
	idx := -1
	for i, o := range p.Options {
		if o.ID == optionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperr.New(apperr.InvalidArgument, "unknown option")
	}
	if prev, voted := f.ballots[pollID][userID]; voted {
		if prev == optionID {
			return f.GetByID(ctx, pollID)
		}
		for i, o := range p.Options {
			if o.ID == prev && o.Votes > 0 {
				p.Options[i].Votes--
			}
		}
	}
	p.Options[idx].Votes++
	f.ballots[pollID][userID] = optionID
	return f.GetByID(ctx, pollID)
}

type fakeSessions struct{ sessions map[uuid.UUID]*models.LiveSession }

func (f *fakeSessions) GetByID(_ context.Context, id uuid.UUID) (*models.LiveSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	return s, nil
}

type fakeOracle struct {
	hostID   uuid.UUID
	enrolled map[uuid.UUID]bool
}

func (f *fakeOracle) IsHost(_ context.Context, _, userID uuid.UUID) (bool, error) {
	return userID == f.hostID, nil
}

func (f *fakeOracle) IsEnrolled(_ context.Context, _, userID uuid.UUID) (bool, error) {
	return f.enrolled[userID], nil
}

type broadcastRecord struct {
	SessionID uuid.UUID
	Event     string
}

type fakeHub struct{ broadcasts []broadcastRecord }

func (f *fakeHub) Broadcast(sessionID uuid.UUID, event string, _ interface{}) {
	f.broadcasts = append(f.broadcasts, broadcastRecord{sessionID, event})
}

type fixture struct {
	store  *fakeStore
	hub    *fakeHub
	router *gin.Engine

	hostID    uuid.UUID
	studentID uuid.UUID
	sessionID uuid.UUID
	oracle    *fakeOracle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		store:     newFakeStore(),
		hub:       &fakeHub{},
		hostID:    uuid.New(),
		studentID: uuid.New(),
		sessionID: uuid.New(),
	}
	sessions := &fakeSessions{sessions: map[uuid.UUID]*models.LiveSession{
		f.sessionID: {ID: f.sessionID, HostID: f.hostID, CreatedBy: f.hostID, Status: models.StatusLive},
	}}
	f.oracle = &fakeOracle{hostID: f.hostID, enrolled: map[uuid.UUID]bool{f.studentID: true}}

	h := NewHandler(f.store, sessions, f.oracle, f.hub, zap.NewNop())

	f.router = gin.New()
	api := f.router.Group("", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, uuid.MustParse(c.GetHeader("X-Test-User")))
	})
	api.POST("/sessions/:id/polls", h.Create)
	api.GET("/sessions/:id/polls", h.ListBySession)
	api.GET("/polls/:id", h.Get)
	api.POST("/polls/:id/vote", h.Vote)
	api.POST("/polls/:id/close", h.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, userID uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", userID.String())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) createPoll(t *testing.T) *models.Poll {
	t.Helper()
	w := f.do(t, http.MethodPost, "/sessions/"+f.sessionID.String()+"/polls", f.hostID, gin.H{
		"question": "Which method do you prefer?",
		"options":  []string{"Factoring", "Quadratic formula", "Graphing"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Data models.Poll `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp.Data
}

func TestCreatePoll(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t)

	assert.True(t, p.IsOpen)
	require.Len(t, p.Options, 3)
	assert.Equal(t, "opt_1", p.Options[0].ID)
	assert.Equal(t, "opt_3", p.Options[2].ID)

	require.Len(t, f.hub.broadcasts, 1)
	assert.Equal(t, "poll_created", f.hub.broadcasts[0].Event)
}

func TestCreatePollRequiresTwoOptions(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/sessions/"+f.sessionID.String()+"/polls", f.hostID, gin.H{
		"question": "Only one choice?",
		"options":  []string{"Yes"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePollHostOnly(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/sessions/"+f.sessionID.String()+"/polls", f.studentID, gin.H{
		"question": "Student poll?",
		"options":  []string{"A", "B"},
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestVoteAndRevote(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t)

	w := f.do(t, http.MethodPost, "/polls/"+p.ID.String()+"/vote", f.studentID, gin.H{"option_id": "opt_1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Data models.Poll `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Options[0].Votes)

	// Revote moves the ballot: opt_1 back to 0, opt_2 to 1, total unchanged.
	w = f.do(t, http.MethodPost, "/polls/"+p.ID.String()+"/vote", f.studentID, gin.H{"option_id": "opt_2"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Data.Options[0].Votes)
	assert.Equal(t, 1, resp.Data.Options[1].Votes)

	// Voting the held option again changes nothing.
	w = f.do(t, http.MethodPost, "/polls/"+p.ID.String()+"/vote", f.studentID, gin.H{"option_id": "opt_2"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Options[1].Votes)

	total := 0
	for _, o := range resp.Data.Options {
		total += o.Votes
	}
	assert.Equal(t, 1, total, "one voter, one counted ballot")
}

func TestVoteUnknownOption(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t)

	w := f.do(t, http.MethodPost, "/polls/"+p.ID.String()+"/vote", f.studentID, gin.H{"option_id": "opt_99"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVoteClosedPoll(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t)

	w := f.do(t, http.MethodPost, "/polls/"+p.ID.String()+"/close", f.hostID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/polls/"+p.ID.String()+"/vote", f.studentID, gin.H{"option_id": "opt_1"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestVoteRequiresEnrollment(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t)
	outsider := uuid.New()

	w := f.do(t, http.MethodPost, "/polls/"+p.ID.String()+"/vote", outsider, gin.H{"option_id": "opt_1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestVoteBroadcastsTally(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t)

	w := f.do(t, http.MethodPost, "/polls/"+p.ID.String()+"/vote", f.studentID, gin.H{"option_id": "opt_1"})
	require.Equal(t, http.StatusOK, w.Code)

	events := make([]string, 0, len(f.hub.broadcasts))
	for _, b := range f.hub.broadcasts {
		events = append(events, b.Event)
	}
	assert.Contains(t, events, "poll_tally")
}

func TestClosePoll(t *testing.T) {
	f := newFixture(t)
	p := f.createPoll(t)

	w := f.do(t, http.MethodPost, "/polls/"+p.ID.String()+"/close", f.studentID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/polls/"+p.ID.String()+"/close", f.hostID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data models.Poll `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Data.IsOpen)

	// Closing again is accepted and returns the final tally.
	w = f.do(t, http.MethodPost, "/polls/"+p.ID.String()+"/close", f.hostID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	events := make([]string, 0, len(f.hub.broadcasts))
	for _, b := range f.hub.broadcasts {
		events = append(events, b.Event)
	}
	assert.Contains(t, events, "poll_closed")
}
