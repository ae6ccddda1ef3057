package simulator

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	t.Run("Should return short strings unchanged", func(t *testing.T) {
		assert.Equal(t, "book a flight", truncate("book a flight", 100))
	})

	t.Run("Should cut long strings and append an ellipsis", func(t *testing.T) {
		got := truncate(strings.Repeat("a", 150), 100)
		assert.Equal(t, strings.Repeat("a", 100)+"...", got)
	})

	t.Run("Should never split a multi-byte rune", func(t *testing.T) {
		got := truncate(strings.Repeat("日", 10), 5)
		assert.True(t, utf8.ValidString(got))
		assert.Equal(t, strings.Repeat("日", 5)+"...", got)
	})
}

func TestWantsCheckpoint(t *testing.T) {
	t.Run("Should suspend on checkpoint phrases", func(t *testing.T) {
		assert.True(t, wantsCheckpoint("draft the email and confirm before sending"))
		assert.True(t, wantsCheckpoint("Approve first, then book the venue"))
	})

	t.Run("Should run straight through otherwise", func(t *testing.T) {
		assert.False(t, wantsCheckpoint("summarize this document"))
	})
}
