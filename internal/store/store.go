package store

import (
	"context"

	"doit/internal/models"
)

// Predicate selects tasks for bulk removal.
type Predicate func(models.Task) bool

// CompletedTasks matches every completed task.
func CompletedTasks(t models.Task) bool {
	return t.Completed
}

// AllTasks matches every task.
func AllTasks(models.Task) bool {
	return true
}

// Store defines the interface for task persistence operations.
//
// Mutations addressed by ID are no-ops when the ID is unknown. Every
// mutation is durable by the time it returns without error.
type Store interface {
	Add(ctx context.Context, text string) (models.Task, error)
	Get(ctx context.Context, id string) (models.Task, bool, error)
	List(ctx context.Context, onlyCompleted bool) ([]models.Task, error)
	Count(ctx context.Context) (int, error)
	Remove(ctx context.Context, id string) error
	RemoveWhere(ctx context.Context, pred Predicate) (int, error)
	SetText(ctx context.Context, id, text string) error
	SetCompleted(ctx context.Context, id string, completed bool) error

	// Lifecycle
	Close() error
}
