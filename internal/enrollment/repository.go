// Package enrollment holds courses, enrollments, and the authorization
// oracle that answers host/enrollment questions for live sessions.
package enrollment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pfa-elearn/backend/internal/models"
	"github.com/pfa-elearn/backend/pkg/apperr"
)

// Repository handles course and enrollment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an enrollment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateCourse inserts a new course.
func (r *Repository) CreateCourse(ctx context.Context, course *models.Course) error {
	const q = `INSERT INTO courses (title, description, instructor_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, course.Title, course.Description, course.InstructorID).
		Scan(&course.ID, &course.CreatedAt, &course.UpdatedAt)
	return apperr.Wrap(apperr.Internal, "create course", err)
}

// GetCourse returns a course by ID.
func (r *Repository) GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	const q = `SELECT id, title, description, instructor_id, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	err := r.pool.QueryRow(ctx, q, id).
		Scan(&course.ID, &course.Title, &course.Description, &course.InstructorID, &course.CreatedAt, &course.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.NotFound, "course not found")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "load course", err)
	}
	return &course, nil
}

// ListCourses returns all courses.
func (r *Repository) ListCourses(ctx context.Context) ([]models.Course, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, title, description, instructor_id, created_at, updated_at FROM courses ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list courses", err)
	}
	defer rows.Close()
	var list []models.Course
	for rows.Next() {
		var course models.Course
		if err := rows.Scan(&course.ID, &course.Title, &course.Description, &course.InstructorID, &course.CreatedAt, &course.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan course", err)
		}
		list = append(list, course)
	}
	return list, rows.Err()
}

// Enroll adds a user to a course. Re-enrolling is a no-op.
func (r *Repository) Enroll(ctx context.Context, courseID, userID uuid.UUID) error {
	const q = `INSERT INTO enrollments (course_id, user_id) VALUES ($1, $2)
		ON CONFLICT (course_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, courseID, userID)
	return apperr.Wrap(apperr.Internal, "enroll", err)
}

// IsInstructor reports whether the user is the course instructor.
func (r *Repository) IsInstructor(ctx context.Context, courseID, userID uuid.UUID) (bool, error) {
	const q = `SELECT 1 FROM courses WHERE id = $1 AND instructor_id = $2`
	var one int
	err := r.pool.QueryRow(ctx, q, courseID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "instructor check", err)
	}
	return true, nil
}

// IsEnrolledInCourse reports whether the user is enrolled in the course.
func (r *Repository) IsEnrolledInCourse(ctx context.Context, courseID, userID uuid.UUID) (bool, error) {
	const q = `SELECT 1 FROM enrollments WHERE course_id = $1 AND user_id = $2`
	var one int
	err := r.pool.QueryRow(ctx, q, courseID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, "enrollment check", err)
	}
	return true, nil
}

// ListEnrolledUserIDs returns the ids of all users enrolled in a course.
func (r *Repository) ListEnrolledUserIDs(ctx context.Context, courseID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM enrollments WHERE course_id = $1`, courseID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "list enrollments", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.Internal, "scan enrollment", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
