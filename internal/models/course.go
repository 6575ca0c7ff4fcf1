package models

import (
	"time"

	"github.com/google/uuid"
)

// Course represents a course that live sessions are scheduled under.
type Course struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	InstructorID uuid.UUID `json:"instructor_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Enrollment links a user to a course.
type Enrollment struct {
	CourseID   uuid.UUID `json:"course_id"`
	UserID     uuid.UUID `json:"user_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}
