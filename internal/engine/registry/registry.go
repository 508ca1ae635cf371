// Package registry is the in-memory task registry of spec.md §4.2: the
// single source of truth for observable Task state, and the owner of each
// task's control channel. Grounded on cmd/status.go's downloadRegistry
// (mutex-guarded map, copy-on-read Get) rather than the teacher's
// SQLite-backed internal/engine/state, since cross-restart persistence is
// an explicit Non-goal.
package registry

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Polonium-salts/OpenStore/internal/config"
	"github.com/Polonium-salts/OpenStore/internal/engine/control"
	"github.com/Polonium-salts/OpenStore/internal/engine/copyplan"
	"github.com/Polonium-salts/OpenStore/internal/engine/events"
	"github.com/Polonium-salts/OpenStore/internal/engine/types"
	"github.com/Polonium-salts/OpenStore/internal/utils"
)

var (
	ErrUnknownTask  = errors.New("unknown task")
	ErrInvalidState = errors.New("task is not in a valid state for this operation")
)

type entry struct {
	task    *types.Task
	control *control.Channel
}

// Registry is the process-wide shared map of task id -> (Task, control
// channel). Hold times are trivially short and never span I/O, per
// spec.md §5.
type Registry struct {
	mu    sync.Mutex
	byID  map[string]*entry
	bus   *events.Bus
	nowFn func() time.Time
}

// New returns an empty registry emitting through bus.
func New(bus *events.Bus) *Registry {
	return &Registry{
		byID:  make(map[string]*entry),
		bus:   bus,
		nowFn: time.Now,
	}
}

// resolveDirectory implements spec.md §4.2's directory-resolution chain:
// explicit arg -> configured default -> OS default -> "./downloads".
func resolveDirectory(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if s, err := config.Load(); err == nil && s.DownloadDirectory != "" {
		return s.DownloadDirectory
	}
	if home, err := os.UserHomeDir(); err == nil {
		downloads := filepath.Join(home, "Downloads")
		if info, err := os.Stat(downloads); err == nil && info.IsDir() {
			return downloads
		}
	}
	return "./downloads"
}

func resolveFileName(explicit, rawURL string) string {
	if explicit != "" {
		return explicit
	}
	base := filepath.Base(rawURL)
	if base == "" || base == "." || base == "/" {
		return "download"
	}
	return base
}

// findNonCopyByURL returns the entry for a non-copy task with the given
// URL, if one exists. Same-URL detection considers only non-copy tasks,
// per spec.md §4.2's tie-break rule.
func (r *Registry) findNonCopyByURL(url string) *entry {
	for _, e := range r.byID {
		if !e.task.IsCopy && e.task.URL == url {
			return e
		}
	}
	return nil
}

// Create implements create_download_task. If a non-copy task with the
// same URL already exists, it instead creates a single copy of it and
// returns the copy's id.
func (r *Registry) Create(url, fileName, directory string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.findNonCopyByURL(url); existing != nil {
		copyID := r.addCopyLocked(existing, 1)[0]
		return copyID, nil
	}

	id := uuid.New().String()
	dir := resolveDirectory(directory)
	name := resolveFileName(fileName, url)

	task := &types.Task{
		ID:        id,
		URL:       url,
		FileName:  name,
		FilePath:  filepath.Join(dir, name),
		Status:    types.StatusPending,
		CreatedAt: r.nowFn(),
	}

	r.byID[id] = &entry{task: task, control: control.New()}
	r.bus.Emit(events.KindTaskCreated, task)
	return id, nil
}

// addCopyLocked must be called with r.mu held. It builds n new copy tasks
// of original and bumps original's copy_count atomically with their
// insertion.
func (r *Registry) addCopyLocked(original *entry, n int) []string {
	ids := make([]string, 0, n)
	startK := original.task.CopyCount + 1
	for i := 0; i < n; i++ {
		k := startK + i
		id := uuid.New().String()
		name := copyplan.CopyFileName(original.task.FileName, k)
		dir := filepath.Dir(original.task.FilePath)

		copyTask := &types.Task{
			ID:         id,
			URL:        original.task.URL,
			FileName:   name,
			FilePath:   filepath.Join(dir, name),
			Status:     types.StatusPending,
			CreatedAt:  r.nowFn(),
			IsCopy:     true,
			OriginalID: original.task.ID,
		}
		r.byID[id] = &entry{task: copyTask, control: control.New()}
		r.bus.Emit(events.KindTaskCreated, copyTask)
		ids = append(ids, id)
	}
	original.task.CopyCount += n
	return ids
}

// CreateCopies implements create_copy_download(original_id, n).
func (r *Registry) CreateCopies(originalID string, n int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	original, ok := r.byID[originalID]
	if !ok {
		return nil, ErrUnknownTask
	}
	if n <= 0 {
		return nil, nil
	}
	return r.addCopyLocked(original, n), nil
}

// List returns a snapshot of every task currently in the registry.
func (r *Registry) List() []*types.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*types.Task, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.task.Clone())
	}
	return out
}

// Get returns a copy of the task with the given id.
func (r *Registry) Get(id string) (*types.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.task.Clone(), true
}

// Control returns the control channel for id, for a worker to subscribe
// to or a caller to send on.
func (r *Registry) Control(id string) (*control.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok || e.control == nil {
		return nil, false
	}
	return e.control, true
}

// Mutate applies fn to the task under the registry lock, then emits kind
// with the resulting snapshot. Workers use this instead of holding a
// pointer across I/O, per spec.md §3's ownership rule: "Workers take
// snapshots for their own use and write back mutations via the registry's
// mutation interface."
func (r *Registry) Mutate(id string, fn func(*types.Task), kind events.Kind) error {
	r.mu.Lock()
	e, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownTask
	}
	fn(e.task)
	e.task.RecomputeProgress()
	snapshot := e.task.Clone()
	r.mu.Unlock()

	if kind != "" {
		r.bus.Emit(kind, snapshot)
	}
	return nil
}

// Remove implements remove_download_task: drops the record and control
// channel, and attempts to delete the on-disk file (failure is logged,
// never surfaced, per spec.md §4.2).
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownTask
	}
	delete(r.byID, id)
	path := e.task.FilePath
	r.mu.Unlock()

	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			utils.Debug("failed to remove file for task %s: %v", id, err)
		}
	}
	return nil
}

// ResetControl installs a fresh control channel for id (replacing any
// existing one) and returns it. Starting or resuming a worker always gets
// a new channel, matching original_source's resume_download creating a
// new broadcast channel rather than reusing the old one.
func (r *Registry) ResetControl(id string) (*control.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, ErrUnknownTask
	}
	e.control = control.New()
	return e.control, nil
}

// DropControl removes the control channel entry for id, keeping the
// invariant that at most one control channel exists per live task
// (spec.md §8 property 5). Safe to call multiple times.
func (r *Registry) DropControl(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byID[id]; ok {
		e.control = nil
	}
}

// EnsureFailed inserts a Failed record for id if none exists, keeping the
// registry self-consistent for a worker that must exit abnormally before
// a Task record was created (spec.md §7, "Internal invariant").
func (r *Registry) EnsureFailed(id string, task *types.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok && task != nil {
		task.Status = types.StatusFailed
		r.byID[id] = &entry{task: task, control: control.New()}
	}
}
