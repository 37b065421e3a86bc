package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"

	"doit/internal/models"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *log.Logger
}

// NewSQLiteStore creates a new SQLite store with the given database path.
func NewSQLiteStore(dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = log.Default()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath, logger: logger}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) readErr(action string, err error) error {
	return &IOError{Op: "read", Path: s.path, Err: fmt.Errorf("failed to %s: %w", action, err)}
}

func (s *SQLiteStore) writeErr(action string, err error) error {
	return &IOError{Op: "write", Path: s.path, Err: fmt.Errorf("failed to %s: %w", action, err)}
}

// Add appends a new task after the current last one.
func (s *SQLiteStore) Add(ctx context.Context, text string) (models.Task, error) {
	if models.IsBlank(text) {
		return models.Task{}, ErrEmptyText
	}

	task := models.NewTask(text)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, text, completed, sort_order)
		SELECT ?, ?, ?, COALESCE(MAX(sort_order), 0) + 1 FROM tasks
	`, task.ID, task.Text, task.Completed)
	if err != nil {
		return models.Task{}, s.writeErr("create task", err)
	}

	s.logger.Debug("task added", "id", task.ID)
	return task, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (models.Task, bool, error) {
	var task models.Task

	err := s.db.QueryRowContext(ctx, `
		SELECT id, text, completed FROM tasks WHERE id = ?
	`, id).Scan(&task.ID, &task.Text, &task.Completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Task{}, false, nil
		}
		return models.Task{}, false, s.readErr("get task", err)
	}

	return task, true, nil
}

// List retrieves tasks ordered by sort_order, optionally only the completed
// ones.
func (s *SQLiteStore) List(ctx context.Context, onlyCompleted bool) ([]models.Task, error) {
	query := `SELECT id, text, completed FROM tasks`
	if onlyCompleted {
		query += ` WHERE completed = TRUE`
	}
	query += ` ORDER BY sort_order ASC`

	tasks, err := s.queryTasks(ctx, s.db, query)
	if err != nil {
		return nil, s.readErr("list tasks", err)
	}
	return tasks, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) queryTasks(ctx context.Context, q querier, query string, args ...any) ([]models.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		var task models.Task
		if err := rows.Scan(&task.ID, &task.Text, &task.Completed); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// Count returns the number of tasks.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, s.readErr("count tasks", err)
	}
	return n, nil
}

// Remove deletes a task by ID.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return s.writeErr("delete task", err)
	}
	return nil
}

// RemoveWhere deletes every task matching pred in a single transaction.
func (s *SQLiteStore) RemoveWhere(ctx context.Context, pred Predicate) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.writeErr("begin transaction", err)
	}
	defer tx.Rollback()

	tasks, err := s.queryTasks(ctx, tx, `SELECT id, text, completed FROM tasks ORDER BY sort_order ASC`)
	if err != nil {
		return 0, s.readErr("list tasks", err)
	}

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM tasks WHERE id = ?`)
	if err != nil {
		return 0, s.writeErr("prepare statement", err)
	}
	defer stmt.Close()

	removed := 0
	for _, task := range tasks {
		if !pred(task) {
			continue
		}
		if _, err := stmt.ExecContext(ctx, task.ID); err != nil {
			return 0, s.writeErr("delete task", err)
		}
		removed++
	}

	if err := tx.Commit(); err != nil {
		return 0, s.writeErr("commit transaction", err)
	}

	s.logger.Debug("tasks removed", "count", removed)
	return removed, nil
}

// SetText replaces the text of a task.
func (s *SQLiteStore) SetText(ctx context.Context, id, text string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET text = ? WHERE id = ?`, text, id)
	if err != nil {
		return s.writeErr("update task text", err)
	}
	return nil
}

// SetCompleted sets the completion flag of a task.
func (s *SQLiteStore) SetCompleted(ctx context.Context, id string, completed bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tasks SET completed = ? WHERE id = ?`, completed, id)
	if err != nil {
		return s.writeErr("update task completion", err)
	}
	return nil
}
