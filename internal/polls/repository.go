package polls

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pfa-elearn/backend/internal/models"
	"github.com/pfa-elearn/backend/pkg/apperr"
)

// Repository handles poll persistence.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a poll repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a poll with its options and marks it as the session's
// active poll, in one transaction. Option ids are assigned opt_1..opt_n in
// the order given.
func (r *Repository) Create(ctx context.Context, p *models.Poll) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p.ID = uuid.New()
	p.IsOpen = true
	err = tx.QueryRow(ctx, `
		INSERT INTO polls (id, session_id, question, is_open, created_by)
		VALUES ($1, $2, $3, TRUE, $4)
		RETURNING created_at`,
		p.ID, p.SessionID, p.Question, p.CreatedBy,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}

	for i := range p.Options {
		p.Options[i].ID = fmt.Sprintf("opt_%d", i+1)
		p.Options[i].Votes = 0
		if _, err := tx.Exec(ctx, `
			INSERT INTO poll_options (poll_id, option_id, text, votes, position)
			VALUES ($1, $2, $3, 0, $4)`,
			p.ID, p.Options[i].ID, p.Options[i].Text, i,
		); err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE live_sessions SET active_poll_id = $1, updated_at = NOW() WHERE id = $2`,
		p.ID, p.SessionID,
	); err != nil {
		return fmt.Errorf("set active poll: %w", err)
	}

	return tx.Commit(ctx)
}

// GetByID loads a poll with its options in creation order.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	var p models.Poll
	err := r.db.QueryRow(ctx, `
		SELECT id, session_id, question, is_open, created_by, created_at
		FROM polls WHERE id = $1`, id,
	).Scan(&p.ID, &p.SessionID, &p.Question, &p.IsOpen, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "poll not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get poll: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT option_id, text, votes FROM poll_options
		WHERE poll_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("get options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var o models.PollOption
		if err := rows.Scan(&o.ID, &o.Text, &o.Votes); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		p.Options = append(p.Options, o)
	}
	return &p, rows.Err()
}

// ListBySession returns all polls of a session, newest first, options
// included.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Poll, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, session_id, question, is_open, created_by, created_at
		FROM polls WHERE session_id = $1 ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()

	var list []models.Poll
	for rows.Next() {
		var p models.Poll
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Question, &p.IsOpen, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		optRows, err := r.db.Query(ctx, `
			SELECT option_id, text, votes FROM poll_options
			WHERE poll_id = $1 ORDER BY position`, list[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list options: %w", err)
		}
		for optRows.Next() {
			var o models.PollOption
			if err := optRows.Scan(&o.ID, &o.Text, &o.Votes); err != nil {
				optRows.Close()
				return nil, fmt.Errorf("scan option: %w", err)
			}
			list[i].Options = append(list[i].Options, o)
		}
		optRows.Close()
		if err := optRows.Err(); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// Close marks the poll closed and clears the session's active poll pointer
// if it still points at this poll. Closing an already closed poll is a
// no-op.
func (r *Repository) Close(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE polls SET is_open = FALSE WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("close poll: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.New(apperr.NotFound, "poll not found")
	}
	if _, err := tx.Exec(ctx, `
		UPDATE live_sessions SET active_poll_id = NULL, updated_at = NOW()
		WHERE active_poll_id = $1`, id,
	); err != nil {
		return nil, fmt.Errorf("clear active poll: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Vote records or moves a user's ballot atomically. The poll row is locked
// for the duration so concurrent votes on the same poll serialize; tallies
// and the ballot ledger always change together or not at all.
//
// A revote for the option already held is a no-op. A revote for a different
// option decrements the old option (never below zero) and increments the
// new one.
func (r *Repository) Vote(ctx context.Context, pollID, userID uuid.UUID, optionID string) (*models.Poll, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var isOpen bool
	err = tx.QueryRow(ctx, `SELECT is_open FROM polls WHERE id = $1 FOR UPDATE`, pollID).Scan(&isOpen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "poll not found")
	}
	if err != nil {
		return nil, fmt.Errorf("lock poll: %w", err)
	}
	if !isOpen {
		return nil, apperr.New(apperr.FailedPrecondition, "poll is closed")
	}

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM poll_options WHERE poll_id = $1 AND option_id = $2)`,
		pollID, optionID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check option: %w", err)
	}
	if !exists {
		return nil, apperr.New(apperr.InvalidArgument, "unknown option")
	}

	var previous *string
	err = tx.QueryRow(ctx, `
		SELECT option_id FROM poll_votes WHERE poll_id = $1 AND user_id = $2`,
		pollID, userID,
	).Scan(&previous)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read ballot: %w", err)
	}

	if previous != nil && *previous == optionID {
		// Same option again: idempotent, nothing moves.
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return r.GetByID(ctx, pollID)
	}

	if previous != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE poll_options SET votes = GREATEST(votes - 1, 0)
			WHERE poll_id = $1 AND option_id = $2`,
			pollID, *previous,
		); err != nil {
			return nil, fmt.Errorf("decrement old option: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE poll_options SET votes = votes + 1
		WHERE poll_id = $1 AND option_id = $2`,
		pollID, optionID,
	); err != nil {
		return nil, fmt.Errorf("increment option: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO poll_votes (poll_id, user_id, option_id, voted_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (poll_id, user_id)
		DO UPDATE SET option_id = EXCLUDED.option_id, voted_at = NOW()`,
		pollID, userID, optionID,
	); err != nil {
		return nil, fmt.Errorf("upsert ballot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, pollID)
}
