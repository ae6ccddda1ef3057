package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskStatusPredicates(t *testing.T) {
	t.Run("Should mark finished statuses terminal", func(t *testing.T) {
		for _, s := range []TaskStatus{StatusCompleted, StatusArchived, StatusFailed, StatusCancelled} {
			assert.True(t, s.Terminal(), "status %s", s)
		}
		for _, s := range []TaskStatus{StatusPending, StatusQueued, StatusRunning, StatusSuspended, StatusAwaitingReview} {
			assert.False(t, s.Terminal(), "status %s", s)
		}
	})

	t.Run("Should mark checkpoint statuses interactive", func(t *testing.T) {
		assert.True(t, StatusSuspended.Interactive())
		assert.True(t, StatusAwaitingReview.Interactive())
		assert.False(t, StatusRunning.Interactive())
		assert.False(t, StatusCompleted.Interactive())
	})

	t.Run("Should close the stream for archived and failed only", func(t *testing.T) {
		assert.True(t, StatusArchived.ClosesStream())
		assert.True(t, StatusFailed.ClosesStream())
		assert.False(t, StatusCompleted.ClosesStream())
		assert.False(t, StatusCancelled.ClosesStream())
	})
}
