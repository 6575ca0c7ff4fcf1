package sessions

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pfa-elearn/backend/internal/models"
	"github.com/pfa-elearn/backend/pkg/apperr"
)

// ErrCodeTaken is returned by Create when the generated session code
// collides with an existing one; callers regenerate and retry.
var ErrCodeTaken = errors.New("session code taken")

const sessionColumns = `id, course_id, host_id, created_by, title, description, scheduled_start,
	expected_duration_minutes, max_participants, features, status, session_code,
	active_poll_id, actual_start_time, end_time, created_at, updated_at`

// Repository handles live session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.LiveSession, error) {
	var s models.LiveSession
	var features []byte
	err := row.Scan(&s.ID, &s.CourseID, &s.HostID, &s.CreatedBy, &s.Title, &s.Description,
		&s.ScheduledStart, &s.ExpectedDurationMinutes, &s.MaxParticipants, &features,
		&s.Status, &s.SessionCode, &s.ActivePollID, &s.ActualStartTime, &s.EndTime,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(features) > 0 {
		_ = json.Unmarshal(features, &s.Features)
	}
	return &s, nil
}

// Create inserts a new session with status scheduled. The caller must have
// set SessionCode; a code collision surfaces as ErrCodeTaken.
func (r *Repository) Create(ctx context.Context, s *models.LiveSession) error {
	features, err := json.Marshal(s.Features)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "encode features", err)
	}
	const q = `INSERT INTO live_sessions
		(course_id, host_id, created_by, title, description, scheduled_start,
		 expected_duration_minutes, max_participants, features, status, session_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'scheduled', $10)
		RETURNING id, status, created_at, updated_at`
	err = r.pool.QueryRow(ctx, q, s.CourseID, s.HostID, s.CreatedBy, s.Title, s.Description,
		s.ScheduledStart, s.ExpectedDurationMinutes, s.MaxParticipants, features, s.SessionCode).
		Scan(&s.ID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "live_sessions_session_code_key" {
		return ErrCodeTaken
	}
	if err != nil {
		return apperr.Wrap(apperr.Internal, "create session", err)
	}
	return nil
}

// GetByID returns a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "session not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load session", err)
	}
	return s, nil
}

// List returns sessions, optionally filtered by course.
func (r *Repository) List(ctx context.Context, courseID *uuid.UUID) ([]models.LiveSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM live_sessions`
	var args []interface{}
	if courseID != nil {
		q += ` WHERE course_id = $1`
		args = append(args, *courseID)
	}
	rows, err := r.pool.Query(ctx, q+` ORDER BY scheduled_start DESC`, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list sessions", err)
	}
	defer rows.Close()
	var list []models.LiveSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan session", err)
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// transition runs a guarded status update and returns the updated session.
// The WHERE clause re-checks the allowed source states so concurrent
// transitions cannot skip the state machine; timestamps are COALESCEd so
// they are set exactly once.
func (r *Repository) transition(ctx context.Context, id uuid.UUID, q string) (*models.LiveSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the session is gone or it is in a state the update
		// refuses; reload to tell the two apart.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, apperr.New(apperr.FailedPrecondition, "invalid status transition")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "update session status", err)
	}
	return s, nil
}

// Start marks the session live, setting actual_start_time once.
func (r *Repository) Start(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	const q = `UPDATE live_sessions
		SET status = 'live', actual_start_time = COALESCE(actual_start_time, NOW()), updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'live')
		RETURNING ` + sessionColumns
	return r.transition(ctx, id, q)
}

// End marks the session ended, setting end_time once and detaching the
// active poll. Historical poll documents are left intact.
func (r *Repository) End(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	const q = `UPDATE live_sessions
		SET status = 'ended', end_time = COALESCE(end_time, NOW()), active_poll_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status IN ('live', 'ended')
		RETURNING ` + sessionColumns
	return r.transition(ctx, id, q)
}

// Cancel marks the session cancelled.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) (*models.LiveSession, error) {
	const q = `UPDATE live_sessions
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'live')
		RETURNING ` + sessionColumns
	return r.transition(ctx, id, q)
}

// AddParticipant appends a roster entry using a set-union merge on
// (session_id, user_id). Returns false when the user was already present.
func (r *Repository) AddParticipant(ctx context.Context, sessionID, userID uuid.UUID, displayName string) (bool, error) {
	const q = `INSERT INTO session_participants (session_id, user_id, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, user_id) DO NOTHING`
	tag, err := r.pool.Exec(ctx, q, sessionID, userID, displayName)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "add participant", err)
	}
	if _, err := r.pool.Exec(ctx, `UPDATE live_sessions SET updated_at = NOW() WHERE id = $1`, sessionID); err != nil {
		return false, apperr.Wrap(apperr.Internal, "touch session", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveParticipant removes the user's roster entry. Returns false when no
// entry was found (leave is idempotent).
func (r *Repository) RemoveParticipant(ctx context.Context, sessionID, userID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM session_participants WHERE session_id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "remove participant", err)
	}
	if _, err := r.pool.Exec(ctx, `UPDATE live_sessions SET updated_at = NOW() WHERE id = $1`, sessionID); err != nil {
		return false, apperr.Wrap(apperr.Internal, "touch session", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListParticipants returns the authoritative roster for a session.
func (r *Repository) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, user_id, display_name, joined_at FROM session_participants WHERE session_id = $1 ORDER BY joined_at`,
		sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list participants", err)
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.DisplayName, &p.JoinedAt); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan participant", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// CountParticipants returns the roster size.
func (r *Repository) CountParticipants(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM session_participants WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.Internal, "count participants", err)
	}
	return n, nil
}

// UpsertPresence mirrors a user's online state for a session. Best-effort;
// the gateway logs failures and moves on.
func (r *Repository) UpsertPresence(ctx context.Context, sessionID, userID uuid.UUID, online bool) error {
	const q = `INSERT INTO session_presence (session_id, user_id, online, last_active)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, user_id) DO UPDATE SET online = EXCLUDED.online, last_active = NOW()`
	_, err := r.pool.Exec(ctx, q, sessionID, userID, online)
	return apperr.Wrap(apperr.Internal, "upsert presence", err)
}

// ListPresence returns the presence mirror for a session.
func (r *Repository) ListPresence(ctx context.Context, sessionID uuid.UUID) ([]models.ParticipantPresence, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, user_id, online, last_active FROM session_presence WHERE session_id = $1`,
		sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list presence", err)
	}
	defer rows.Close()
	var list []models.ParticipantPresence
	for rows.Next() {
		var p models.ParticipantPresence
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.Online, &p.LastActive); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan presence", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// AddMaterial inserts a material row for a session.
func (r *Repository) AddMaterial(ctx context.Context, m *models.SessionMaterial) error {
	const q = `INSERT INTO session_materials (session_id, title, kind, url, s3_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, m.SessionID, m.Title, m.Kind, m.URL, m.S3Key, m.UploadedBy).
		Scan(&m.ID, &m.CreatedAt)
	return apperr.Wrap(apperr.Internal, "add material", err)
}

// ListMaterials returns materials attached to a session.
func (r *Repository) ListMaterials(ctx context.Context, sessionID uuid.UUID) ([]models.SessionMaterial, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, title, kind, url, s3_key, uploaded_by, created_at
		 FROM session_materials WHERE session_id = $1 ORDER BY created_at`,
		sessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list materials", err)
	}
	defer rows.Close()
	var list []models.SessionMaterial
	for rows.Next() {
		var m models.SessionMaterial
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Title, &m.Kind, &m.URL, &m.S3Key, &m.UploadedBy, &m.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan material", err)
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
