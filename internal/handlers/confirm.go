package handlers

import (
	"net/http"
	"strings"
)

// Prompt texts shown before deleting.
const (
	deleteTaskTitle        = "Delete Task?"
	deleteTaskMessage      = "Would you like to delete the task"
	deleteCompletedTitle   = "Delete completed tasks?"
	deleteCompletedMessage = "Would you like to delete all completed tasks"
	deleteAllTitle         = "Delete all tasks?"
	deleteAllMessage       = "Would you like to delete all the tasks"
)

// Confirmer decides whether a destructive request was confirmed by the user.
type Confirmer interface {
	Confirm(r *http.Request, title, message string) bool
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(r *http.Request, title, message string) bool

// Confirm calls f.
func (f ConfirmFunc) Confirm(r *http.Request, title, message string) bool {
	return f(r, title, message)
}

// RequestConfirmer treats a request as confirmed when it carries
// confirm=yes (or true/1) in the query string or the X-Confirm header.
type RequestConfirmer struct{}

// Confirm implements Confirmer.
func (RequestConfirmer) Confirm(r *http.Request, _, _ string) bool {
	v := r.URL.Query().Get("confirm")
	if v == "" {
		v = r.Header.Get("X-Confirm")
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return true
	default:
		return false
	}
}

// confirmationRequired is the body of a 428 response.
type confirmationRequired struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// requireConfirmation answers 428 with the prompt when r is unconfirmed and
// reports whether the caller may proceed.
func (h *Handlers) requireConfirmation(w http.ResponseWriter, r *http.Request, title, message string) bool {
	if h.confirm.Confirm(r, title, message) {
		return true
	}
	respondJSON(w, http.StatusPreconditionRequired, confirmationRequired{Title: title, Message: message})
	return false
}
