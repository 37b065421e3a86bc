package models

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Task represents a single entry in the to-do list.
// The JSON field names match the tasks.json layout written by earlier
// versions of the app, so old files keep loading.
type Task struct {
	ID        string `json:"Id"`
	Text      string `json:"TaskText"`
	Completed bool   `json:"IsCompleted"`
}

// NewTask creates an incomplete task with a freshly generated ID.
func NewTask(text string) Task {
	return Task{
		ID:   NewID(),
		Text: text,
	}
}

// NewID returns a new random task identifier.
func NewID() string {
	return uuid.NewString()
}

// Validate checks that the task has valid field values. Text may be empty:
// an existing task can be edited down to nothing.
func (t *Task) Validate() error {
	if IsBlank(t.ID) {
		return errors.New("id is required")
	}

	return nil
}

// IsBlank reports whether text is empty or contains only whitespace.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// Capitalize upper-cases the first character of text and leaves the rest
// untouched.
func Capitalize(text string) string {
	r, size := utf8.DecodeRuneInString(text)
	if r == utf8.RuneError {
		return text
	}
	upper := unicode.ToUpper(r)
	if upper == r {
		return text
	}
	return string(upper) + text[size:]
}
