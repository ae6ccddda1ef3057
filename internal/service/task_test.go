package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	t.Run("Should keep short descriptions whole", func(t *testing.T) {
		assert.Equal(t, "Completed: book a flight", summarize("book a flight"))
	})

	t.Run("Should cut long descriptions at 100 runes", func(t *testing.T) {
		got := summarize(strings.Repeat("a", 150))
		assert.Equal(t, "Completed: "+strings.Repeat("a", 100)+"...", got)
	})

	t.Run("Should stay valid UTF-8 for multi-byte descriptions", func(t *testing.T) {
		got := summarize(strings.Repeat("ü", 120))
		assert.True(t, utf8.ValidString(got))
		assert.Equal(t, "Completed: "+strings.Repeat("ü", 100)+"...", got)
	})
}
