package middleware

import (
	"errors"
	"unicode/utf8"
)

// ValidateTaskID validates a task ID. Backend task IDs are snowflake-style
// decimal strings.
func ValidateTaskID(id string) error {
	if len(id) == 0 {
		return errors.New("task ID cannot be empty")
	}
	if len(id) > 24 {
		return errors.New("task ID exceeds maximum length")
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return errors.New("invalid task ID format")
		}
	}
	return nil
}

// ValidatePrompt validates a task prompt or HITL response body.
func ValidatePrompt(prompt string) error {
	if len(prompt) == 0 {
		return errors.New("prompt cannot be empty")
	}
	if len(prompt) > 100000 { // ~100KB limit
		return errors.New("prompt exceeds maximum length")
	}
	if !utf8.ValidString(prompt) {
		return errors.New("prompt must be valid UTF-8")
	}
	return nil
}

// ValidateAgent validates an agent name.
func ValidateAgent(agent string) error {
	if len(agent) == 0 {
		return errors.New("agent cannot be empty")
	}
	if len(agent) > 64 {
		return errors.New("agent exceeds maximum length")
	}
	return nil
}

// ValidateUserID validates a user ID.
func ValidateUserID(id string) error {
	if len(id) == 0 {
		return errors.New("user ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("user ID exceeds maximum length")
	}
	return nil
}
