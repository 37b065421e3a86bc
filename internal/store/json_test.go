package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"doit/internal/models"
)

func setupJSONStore(t *testing.T) (*JSONStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.json")
	s, err := NewJSONStore(path, log.New(io.Discard))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func reload(t *testing.T, path string) *JSONStore {
	t.Helper()
	s, err := NewJSONStore(path, log.New(io.Discard))
	if err != nil {
		t.Fatalf("failed to reload store: %v", err)
	}
	return s
}

func mustAdd(t *testing.T, s Store, text string) models.Task {
	t.Helper()
	task, err := s.Add(context.Background(), text)
	if err != nil {
		t.Fatalf("Add(%q) failed: %v", text, err)
	}
	return task
}

func texts(tasks []models.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.Text)
	}
	return out
}

func TestJSONStore_MissingFileStartsEmpty(t *testing.T) {
	s, path := setupJSONStore(t)

	tasks, err := s.List(context.Background(), false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty list, got %d tasks", len(tasks))
	}

	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected no file before the first mutation, stat err: %v", err)
	}
}

func TestJSONStore_AddAndReload(t *testing.T) {
	s, path := setupJSONStore(t)
	ctx := context.Background()

	task := mustAdd(t, s, "Buy milk")
	if task.ID == "" {
		t.Error("expected task ID to be set")
	}
	if task.Completed {
		t.Error("expected new task to be incomplete")
	}

	got, err := reload(t, path).List(ctx, false)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []models.Task{{ID: task.ID, Text: "Buy milk", Completed: false}}
	if !slices.Equal(got, want) {
		t.Errorf("expected %+v after reload, got %+v", want, got)
	}
}

func TestJSONStore_AddRejectsBlankText(t *testing.T) {
	s, path := setupJSONStore(t)
	ctx := context.Background()

	for _, text := range []string{"", "   ", "\t\n"} {
		_, err := s.Add(ctx, text)
		if !errors.Is(err, ErrEmptyText) {
			t.Errorf("Add(%q): expected ErrEmptyText, got %v", text, err)
		}
	}

	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("expected 0 tasks, got %d", n)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("expected rejected adds not to write the file")
	}
}

func TestJSONStore_RoundTrip(t *testing.T) {
	s, path := setupJSONStore(t)
	ctx := context.Background()

	a := mustAdd(t, s, "A")
	b := mustAdd(t, s, "B")
	c := mustAdd(t, s, "C")
	d := mustAdd(t, s, "D")

	steps := []func() error{
		func() error { return s.SetCompleted(ctx, b.ID, true) },
		func() error { return s.SetText(ctx, a.ID, "A edited") },
		func() error { return s.Remove(ctx, c.ID) },
		func() error { return s.SetCompleted(ctx, d.ID, true) },
		func() error { return s.SetText(ctx, d.ID, "") },
		func() error { return s.SetCompleted(ctx, d.ID, false) },
	}

	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}

		inMemory, _ := s.List(ctx, false)
		onDisk, _ := reload(t, path).List(ctx, false)
		if !slices.Equal(inMemory, onDisk) {
			t.Fatalf("step %d: disk %+v does not match memory %+v", i, onDisk, inMemory)
		}
	}
}

func TestJSONStore_RemoveWhereCompletedKeepsOrder(t *testing.T) {
	s, path := setupJSONStore(t)
	ctx := context.Background()

	a := mustAdd(t, s, "A")
	b := mustAdd(t, s, "B")
	c := mustAdd(t, s, "C")
	if err := s.SetCompleted(ctx, b.ID, true); err != nil {
		t.Fatalf("SetCompleted failed: %v", err)
	}

	removed, err := s.RemoveWhere(ctx, CompletedTasks)
	if err != nil {
		t.Fatalf("RemoveWhere failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	got, _ := s.List(ctx, false)
	want := []models.Task{a, c}
	if !slices.Equal(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if completed, _ := s.List(ctx, true); len(completed) != 0 {
		t.Errorf("expected no completed tasks, got %+v", completed)
	}

	onDisk, _ := reload(t, path).List(ctx, false)
	if !slices.Equal(onDisk, want) {
		t.Errorf("expected disk %+v, got %+v", want, onDisk)
	}
}

func TestJSONStore_RemoveWhereAll(t *testing.T) {
	s, path := setupJSONStore(t)
	ctx := context.Background()

	mustAdd(t, s, "A")
	mustAdd(t, s, "B")

	removed, err := s.RemoveWhere(ctx, AllTasks)
	if err != nil {
		t.Fatalf("RemoveWhere failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	if n, _ := reload(t, path).Count(ctx); n != 0 {
		t.Errorf("expected empty file after delete all, got %d tasks", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("expected empty JSON array on disk, got %q", data)
	}
}

func TestJSONStore_RemoveWhereNoMatch(t *testing.T) {
	s, _ := setupJSONStore(t)
	ctx := context.Background()

	mustAdd(t, s, "A")

	removed, err := s.RemoveWhere(ctx, CompletedTasks)
	if err != nil {
		t.Fatalf("RemoveWhere failed: %v", err)
	}
	if removed != 0 {
		t.Errorf("expected 0 removed, got %d", removed)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("expected 1 task, got %d", n)
	}
}

func TestJSONStore_FilteredView(t *testing.T) {
	s, _ := setupJSONStore(t)
	ctx := context.Background()

	mustAdd(t, s, "A")
	b := mustAdd(t, s, "B")
	mustAdd(t, s, "C")

	if err := s.SetCompleted(ctx, b.ID, true); err != nil {
		t.Fatalf("SetCompleted failed: %v", err)
	}

	completed := slices.Collect(s.FilteredView(true))
	if !slices.Equal(texts(completed), []string{"B"}) {
		t.Errorf("expected [B], got %v", texts(completed))
	}
	for _, task := range completed {
		if !task.Completed {
			t.Errorf("filtered view yielded incomplete task %+v", task)
		}
	}

	all := slices.Collect(s.FilteredView(false))
	if !slices.Equal(texts(all), []string{"A", "B", "C"}) {
		t.Errorf("expected [A B C], got %v", texts(all))
	}
	for _, task := range completed {
		if !slices.Contains(all, task) {
			t.Errorf("completed view has %+v missing from full view", task)
		}
	}
}

func TestJSONStore_FilteredViewIsRestartable(t *testing.T) {
	s, _ := setupJSONStore(t)
	ctx := context.Background()

	mustAdd(t, s, "A")
	view := s.FilteredView(false)

	if got := len(slices.Collect(view)); got != 1 {
		t.Fatalf("first pass: expected 1 task, got %d", got)
	}

	mustAdd(t, s, "B")
	if got := len(slices.Collect(view)); got != 2 {
		t.Errorf("second pass: expected 2 tasks, got %d", got)
	}

	// Stopping early must not hold the lock.
	for range view {
		break
	}
	if err := s.SetCompleted(ctx, "unknown", true); err != nil {
		t.Errorf("SetCompleted failed: %v", err)
	}
}

func TestJSONStore_UnknownIDIsNoOp(t *testing.T) {
	s, path := setupJSONStore(t)
	ctx := context.Background()

	mustAdd(t, s, "A")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}

	if err := s.Remove(ctx, "missing"); err != nil {
		t.Errorf("Remove: unexpected error %v", err)
	}
	if err := s.SetText(ctx, "missing", "x"); err != nil {
		t.Errorf("SetText: unexpected error %v", err)
	}
	if err := s.SetCompleted(ctx, "missing", true); err != nil {
		t.Errorf("SetCompleted: unexpected error %v", err)
	}

	got, _ := s.List(ctx, false)
	if !slices.Equal(texts(got), []string{"A"}) || got[0].Completed {
		t.Errorf("expected collection unchanged, got %+v", got)
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("expected file unchanged by no-op mutations")
	}
}

func TestJSONStore_Get(t *testing.T) {
	s, _ := setupJSONStore(t)
	ctx := context.Background()

	a := mustAdd(t, s, "A")

	got, ok, err := s.Get(ctx, a.ID)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got != a {
		t.Errorf("expected %+v, got %+v", a, got)
	}

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Error("expected missing task not to be found")
	}
}

func TestJSONStore_WriteFailureRestoresMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "tasks.json")
	s, err := NewJSONStore(path, log.New(io.Discard))
	if err != nil {
		t.Fatalf("NewJSONStore failed: %v", err)
	}
	ctx := context.Background()

	_, err = s.Add(ctx, "A")
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}

	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IOError, got %T", err)
	}
	if ioErr.Op != "write" || ioErr.Path != path {
		t.Errorf("unexpected IOError fields: %+v", ioErr)
	}

	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("expected in-memory list to stay empty, got %d", n)
	}
}

func TestJSONStore_WriteFailureOnMutationRestoresMemory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced")
	}

	s, _ := setupJSONStore(t)
	ctx := context.Background()

	a := mustAdd(t, s, "A")

	dir := filepath.Dir(s.Path())
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0o700) })

	if err := s.SetCompleted(ctx, a.ID, true); !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if got, _, _ := s.Get(ctx, a.ID); got.Completed {
		t.Error("expected completion flag to be rolled back")
	}

	if _, err := s.RemoveWhere(ctx, AllTasks); !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("expected remove to be rolled back, got %d tasks", n)
	}
}

func TestJSONStore_LoadCorruptFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "malformed json", content: `[{"TaskText": "A",`},
		{name: "object instead of array", content: `{"TaskText": "A", "IsCompleted": false}`},
		{name: "missing completion flag", content: `[{"TaskText": "A"}]`},
		{name: "wrong field type", content: `[{"TaskText": "A", "IsCompleted": "yes"}]`},
		{name: "blank id", content: `[{"Id": "   ", "TaskText": "A", "IsCompleted": false}]`},
		{name: "duplicate ids", content: `[{"Id": "x", "TaskText": "A", "IsCompleted": false}, {"Id": "x", "TaskText": "B", "IsCompleted": true}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "tasks.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write fixture: %v", err)
			}

			_, err := NewJSONStore(path, log.New(io.Discard))
			if !errors.Is(err, ErrCorruptState) {
				t.Fatalf("expected ErrCorruptState, got %v", err)
			}

			var corrupt *CorruptStateError
			if !errors.As(err, &corrupt) || corrupt.Path != path {
				t.Errorf("expected *CorruptStateError for %s, got %v", path, err)
			}
		})
	}
}

func TestJSONStore_LoadEmptyFile(t *testing.T) {
	for _, content := range []string{"", "  \n", "null", "[]"} {
		path := filepath.Join(t.TempDir(), "tasks.json")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write fixture: %v", err)
		}

		s, err := NewJSONStore(path, log.New(io.Discard))
		if err != nil {
			t.Fatalf("content %q: unexpected error %v", content, err)
		}
		if n, _ := s.Count(context.Background()); n != 0 {
			t.Errorf("content %q: expected empty list, got %d", content, n)
		}
	}
}

func TestJSONStore_LoadLegacyFileAssignsIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	legacy := `[{"TaskText":"Buy milk","IsCompleted":false},{"TaskText":"Walk dog","IsCompleted":true}]`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	s := reload(t, path)
	ctx := context.Background()

	tasks, _ := s.List(ctx, false)
	if !slices.Equal(texts(tasks), []string{"Buy milk", "Walk dog"}) {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	if tasks[0].ID == "" || tasks[1].ID == "" || tasks[0].ID == tasks[1].ID {
		t.Errorf("expected distinct generated IDs, got %q and %q", tasks[0].ID, tasks[1].ID)
	}
	if !tasks[1].Completed {
		t.Error("expected completion flag to survive load")
	}

	// No mutation in between: the IDs must already be on disk.
	again, _ := reload(t, path).List(ctx, false)
	for i := range tasks {
		if again[i].ID != tasks[i].ID {
			t.Errorf("task %d: expected ID %q after reload, got %q", i, tasks[i].ID, again[i].ID)
		}
	}

	restarted := reload(t, path)
	if err := restarted.Remove(ctx, tasks[0].ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if n, _ := restarted.Count(ctx); n != 1 {
		t.Errorf("expected Remove by a previously listed ID to delete it, got %d tasks", n)
	}
}

func TestJSONStore_LoadLegacyFileWriteFailure(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(path, []byte(`[{"TaskText":"A","IsCompleted":false}]`), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}
	t.Cleanup(func() { os.Chmod(dir, 0o700) })

	if _, err := NewJSONStore(path, log.New(io.Discard)); !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestJSONStore_PersistKeepsFileMode(t *testing.T) {
	s, path := setupJSONStore(t)
	ctx := context.Background()

	mustAdd(t, s, "A")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o644 {
		t.Errorf("expected new file mode 0644, got %v", info.Mode().Perm())
	}

	if err := os.Chmod(path, 0o640); err != nil {
		t.Fatalf("chmod failed: %v", err)
	}
	mustAdd(t, s, "B")

	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o640 {
		t.Errorf("expected file mode 0640 to be kept, got %v", info.Mode().Perm())
	}

	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("expected 2 tasks, got %d", n)
	}
}

func TestJSONStore_ConcurrentCallers(t *testing.T) {
	s, path := setupJSONStore(t)
	ctx := context.Background()

	const writers = 20
	const readers = 5

	var wg sync.WaitGroup
	errs := make(chan error, writers+readers)

	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Add(ctx, fmt.Sprintf("task %d", i)); err != nil {
				errs <- err
			}
		}()
	}

	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				seen := make(map[string]bool)
				for task := range s.FilteredView(false) {
					if seen[task.ID] {
						errs <- fmt.Errorf("task %s yielded twice in one pass", task.ID)
						return
					}
					seen[task.ID] = true
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	tasks, _ := reload(t, path).List(ctx, false)
	if len(tasks) != writers {
		t.Fatalf("expected %d tasks on disk, got %d", writers, len(tasks))
	}
	seen := make(map[string]bool)
	for _, task := range tasks {
		seen[task.Text] = true
	}
	for i := range writers {
		if !seen[fmt.Sprintf("task %d", i)] {
			t.Errorf("task %d missing from file", i)
		}
	}
}

func TestQuarantineCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	dest, err := QuarantineCorrupt(path)
	if err != nil {
		t.Fatalf("QuarantineCorrupt failed: %v", err)
	}
	if !strings.HasPrefix(dest, path+".corrupt-") {
		t.Errorf("unexpected quarantine path %q", dest)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("expected original path to be free")
	}

	s := reload(t, path)
	if n, _ := s.Count(context.Background()); n != 0 {
		t.Errorf("expected fresh store, got %d tasks", n)
	}
}

func TestJSONStore_NoTempFilesLeftBehind(t *testing.T) {
	s, path := setupJSONStore(t)

	for _, text := range []string{"A", "B", "C"} {
		mustAdd(t, s, text)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "tasks.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only tasks.json in data dir, got %v", names)
	}
}
