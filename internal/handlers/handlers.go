package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"doit/internal/store"
)

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	store   store.Store
	confirm Confirmer
	logger  *log.Logger
}

// New creates a new Handlers instance. A nil confirmer defaults to
// RequestConfirmer.
func New(s store.Store, confirm Confirmer, logger *log.Logger) *Handlers {
	if confirm == nil {
		confirm = RequestConfirmer{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handlers{
		store:   s,
		confirm: confirm,
		logger:  logger,
	}
}

// Routes registers the task API on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", h.ListTasks)
		r.Post("/", h.CreateTask)
		r.Delete("/", h.DeleteTasks)

		r.Get("/{id}", h.GetTask)
		r.Put("/{id}", h.UpdateTaskText)
		r.Put("/{id}/completed", h.SetTaskCompleted)
		r.Delete("/{id}", h.DeleteTask)
	})
}

// Health reports that the server is up.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseBool parses an optional boolean form or query value; empty is false.
func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(code)
	w.Write([]byte(message))
}

func (h *Handlers) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrEmptyText) {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	h.logger.Error("internal server error", "err", err)
	respondError(w, http.StatusInternalServerError, "internal server error")
}

func respondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}
