package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"doit/internal/models"
	"doit/internal/store"
)

// TaskListData is the response body of ListTasks.
type TaskListData struct {
	Tasks         []models.Task `json:"tasks"`
	OnlyCompleted bool          `json:"only_completed"`
	Total         int           `json:"total"`
	Empty         bool          `json:"empty"` // no tasks at all, regardless of filter
}

// ListTasks returns all tasks, or only the completed ones with
// ?completed=true.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	onlyCompleted, err := parseBool(r.URL.Query().Get("completed"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid completed filter")
		return
	}

	tasks, err := h.store.List(ctx, onlyCompleted)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	total, err := h.store.Count(ctx)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, TaskListData{
		Tasks:         tasks,
		OnlyCompleted: onlyCompleted,
		Total:         total,
		Empty:         total == 0,
	})
}

// GetTask returns a single task.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	task, ok, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}

	respondJSON(w, http.StatusOK, task)
}

// CreateTask adds a task from the "text" form value, capitalizing its first
// letter.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	task, err := h.store.Add(r.Context(), models.Capitalize(r.FormValue("text")))
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, task)
}

// UpdateTaskText replaces the text of a task. Empty text is allowed.
func (h *Handlers) UpdateTaskText(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	if err := h.store.SetText(r.Context(), chi.URLParam(r, "id"), r.FormValue("text")); err != nil {
		h.respondStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetTaskCompleted sets the completion flag of a task from the "completed"
// form value.
func (h *Handlers) SetTaskCompleted(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form data")
		return
	}

	completed, err := parseBool(r.FormValue("completed"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid completed value")
		return
	}

	if err := h.store.SetCompleted(r.Context(), chi.URLParam(r, "id"), completed); err != nil {
		h.respondStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteTask deletes a task once confirmed.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if !h.requireConfirmation(w, r, deleteTaskTitle, deleteTaskMessage) {
		return
	}

	if err := h.store.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteTasks deletes every completed task with ?completed=true, otherwise
// every task, once confirmed. Nothing to delete means no prompt.
func (h *Handlers) DeleteTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	onlyCompleted, err := parseBool(r.URL.Query().Get("completed"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid completed filter")
		return
	}

	title, message, pred := deleteAllTitle, deleteAllMessage, store.Predicate(store.AllTasks)
	if onlyCompleted {
		title, message, pred = deleteCompletedTitle, deleteCompletedMessage, store.CompletedTasks
	}

	targets, err := h.store.List(ctx, onlyCompleted)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	if len(targets) == 0 {
		respondJSON(w, http.StatusOK, map[string]int{"removed": 0})
		return
	}

	if !h.requireConfirmation(w, r, title, message) {
		return
	}

	removed, err := h.store.RemoveWhere(ctx, pred)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	h.logger.Info("tasks deleted", "removed", removed, "only_completed", onlyCompleted)
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
