package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"doit/internal/models"
)

var _ Store = (*JSONStore)(nil)

// JSONStore implements the Store interface on top of a single JSON file.
// The full task list lives in memory and the file is rewritten after every
// mutation.
type JSONStore struct {
	mu     sync.RWMutex
	path   string
	tasks  []models.Task
	logger *log.Logger
}

// NewJSONStore loads the task list stored at path. A missing or empty file
// yields an empty list. A file that does not hold a valid task list yields a
// *CorruptStateError. IDs generated for records that lacked one are written
// back before NewJSONStore returns.
func NewJSONStore(path string, logger *log.Logger) (*JSONStore, error) {
	if logger == nil {
		logger = log.Default()
	}

	tasks, assigned, err := loadTasks(path)
	if err != nil {
		return nil, err
	}

	s := &JSONStore{
		path:   path,
		tasks:  tasks,
		logger: logger,
	}

	if assigned > 0 {
		if err := s.persist(tasks); err != nil {
			return nil, err
		}
		logger.Info("assigned ids to legacy tasks", "path", path, "count", assigned)
	}

	logger.Debug("loaded task file", "path", path, "tasks", len(tasks))
	return s, nil
}

// loadTasks reads and checks the task file. It also reports how many records
// were given a fresh ID.
func loadTasks(path string) ([]models.Task, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.Task{}, 0, nil
		}
		return nil, 0, &IOError{Op: "read", Path: path, Err: err}
	}

	// An interrupted truncate-and-write leaves an empty file behind.
	if len(bytes.TrimSpace(data)) == 0 {
		return []models.Task{}, 0, nil
	}

	if err := validateTaskFile(data); err != nil {
		return nil, 0, &CorruptStateError{Path: path, Err: err}
	}

	var tasks []models.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, 0, &CorruptStateError{Path: path, Err: err}
	}
	if tasks == nil {
		tasks = []models.Task{}
	}

	assigned := 0
	seen := make(map[string]struct{}, len(tasks))
	for i := range tasks {
		if tasks[i].ID == "" {
			tasks[i].ID = models.NewID()
			assigned++
		}
		if err := tasks[i].Validate(); err != nil {
			return nil, 0, &CorruptStateError{Path: path, Err: fmt.Errorf("task %d: %w", i, err)}
		}
		if _, exists := seen[tasks[i].ID]; exists {
			return nil, 0, &CorruptStateError{
				Path: path,
				Err:  fmt.Errorf("duplicate task id %q at index %d", tasks[i].ID, i),
			}
		}
		seen[tasks[i].ID] = struct{}{}
	}

	return tasks, assigned, nil
}

// QuarantineCorrupt moves a corrupt task file out of the way so a fresh
// store can be started at path. It returns the new location of the file.
func QuarantineCorrupt(path string) (string, error) {
	dest := fmt.Sprintf("%s.corrupt-%s", path, time.Now().UTC().Format("20060102-150405"))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("failed to quarantine %s: %w", path, err)
	}
	return dest, nil
}

// Path returns the location of the backing file.
func (s *JSONStore) Path() string {
	return s.path
}

// Close is a no-op; every mutation is already on disk.
func (s *JSONStore) Close() error {
	return nil
}

// FilteredView returns the tasks in collection order, or only the completed
// ones when onlyCompleted is set. The sequence may be ranged over any number
// of times; each pass reflects the collection at the moment it starts.
func (s *JSONStore) FilteredView(onlyCompleted bool) iter.Seq[models.Task] {
	return func(yield func(models.Task) bool) {
		s.mu.RLock()
		snapshot := slices.Clone(s.tasks)
		s.mu.RUnlock()

		for _, task := range snapshot {
			if onlyCompleted && !task.Completed {
				continue
			}
			if !yield(task) {
				return
			}
		}
	}
}

// List materializes FilteredView.
func (s *JSONStore) List(_ context.Context, onlyCompleted bool) ([]models.Task, error) {
	tasks := slices.Collect(s.FilteredView(onlyCompleted))
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}

// Count returns the number of tasks.
func (s *JSONStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks), nil
}

// Get retrieves a task by ID.
func (s *JSONStore) Get(_ context.Context, id string) (models.Task, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.tasks[i], true, nil
	}
	return models.Task{}, false, nil
}

// Add appends a new incomplete task to the end of the list.
func (s *JSONStore) Add(_ context.Context, text string) (models.Task, error) {
	if models.IsBlank(text) {
		return models.Task{}, ErrEmptyText
	}

	task := models.NewTask(text)

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.mutate(func(tasks []models.Task) []models.Task {
		return append(tasks, task)
	})
	if err != nil {
		return models.Task{}, err
	}

	s.logger.Debug("task added", "id", task.ID)
	return task, nil
}

// Remove deletes the task with the given ID if it exists.
func (s *JSONStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil
	}

	return s.mutate(func(tasks []models.Task) []models.Task {
		return slices.Delete(tasks, i, i+1)
	})
}

// RemoveWhere deletes every task matching pred, keeping the survivors in
// order, and returns how many were removed.
func (s *JSONStore) RemoveWhere(_ context.Context, pred Predicate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.tasks)
	if !slices.ContainsFunc(s.tasks, pred) {
		return 0, nil
	}

	err := s.mutate(func(tasks []models.Task) []models.Task {
		return slices.DeleteFunc(tasks, func(t models.Task) bool { return pred(t) })
	})
	if err != nil {
		return 0, err
	}

	removed := before - len(s.tasks)
	s.logger.Debug("tasks removed", "count", removed)
	return removed, nil
}

// SetText replaces the text of the task with the given ID if it exists.
func (s *JSONStore) SetText(_ context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil
	}

	return s.mutate(func(tasks []models.Task) []models.Task {
		tasks[i].Text = text
		return tasks
	})
}

// SetCompleted sets the completion flag of the task with the given ID if it
// exists.
func (s *JSONStore) SetCompleted(_ context.Context, id string, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil
	}

	return s.mutate(func(tasks []models.Task) []models.Task {
		tasks[i].Completed = completed
		return tasks
	})
}

// indexOf returns the position of id, or -1. Callers hold the lock.
func (s *JSONStore) indexOf(id string) int {
	return slices.IndexFunc(s.tasks, func(t models.Task) bool { return t.ID == id })
}

// mutate applies fn to a copy of the list and persists the result. The
// in-memory list only changes once the write succeeds. Callers hold the
// write lock.
func (s *JSONStore) mutate(fn func([]models.Task) []models.Task) error {
	next := fn(slices.Clone(s.tasks))
	if err := s.persist(next); err != nil {
		s.logger.Error("failed to persist tasks", "path", s.path, "err", err)
		return err
	}
	s.tasks = next
	return nil
}

// persist replaces the backing file with tasks. Readers see either the old
// file or the new one, never a partial write.
func (s *JSONStore) persist(tasks []models.Task) error {
	if tasks == nil {
		tasks = []models.Task{}
	}

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tasks: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	tmpPath := tmp.Name()

	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return &IOError{Op: "write", Path: s.path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(fileMode(s.path)); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return &IOError{Op: "write", Path: s.path, Err: err}
	}

	return nil
}

// fileMode returns the permissions of the existing file at path, or 0644 when
// there is none yet.
func fileMode(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}
	return 0o644
}
