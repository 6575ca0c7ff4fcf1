package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, NotFound, KindOf(New(NotFound, "gone")))
	assert.Equal(t, Internal, KindOf(errors.New("raw store error")))

	// Classification survives wrapping by callers.
	wrapped := fmt.Errorf("handler: %w", New(FailedPrecondition, "session is full"))
	assert.Equal(t, FailedPrecondition, KindOf(wrapped))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(Internal, "query", nil))

	cause := errors.New("connection refused")
	err := Wrap(Internal, "query", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMessageNeverLeaksCause(t *testing.T) {
	cause := errors.New("pq: relation \"polls\" does not exist")
	err := Wrap(Internal, "failed to load poll", cause)
	assert.Equal(t, "failed to load poll", Message(err))

	// Unclassified errors get a generic message.
	assert.Equal(t, "internal error", Message(cause))
	assert.Equal(t, "", Message(nil))
}

func TestIs(t *testing.T) {
	err := New(PermissionDenied, "not the host")
	assert.True(t, Is(err, PermissionDenied))
	assert.False(t, Is(err, NotFound))
	assert.False(t, Is(nil, Internal))
}
