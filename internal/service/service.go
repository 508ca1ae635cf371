// Package service implements every command in spec.md §6, wiring the
// registry, event bus, control channels, both downloaders, the copy
// planner, and the installer/config helpers together. Grounded on
// original_source/src-tauri/src/lib.rs's run() Tauri-command wiring (the
// same operation set, minus the IPC framing) and on the teacher's
// cmd/root.go HTTP-handler-calls-into-package pattern.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Polonium-salts/OpenStore/internal/config"
	"github.com/Polonium-salts/OpenStore/internal/engine/concurrent"
	"github.com/Polonium-salts/OpenStore/internal/engine/control"
	"github.com/Polonium-salts/OpenStore/internal/engine/events"
	"github.com/Polonium-salts/OpenStore/internal/engine/registry"
	"github.com/Polonium-salts/OpenStore/internal/engine/single"
	"github.com/Polonium-salts/OpenStore/internal/engine/transport"
	"github.com/Polonium-salts/OpenStore/internal/engine/types"
	"github.com/Polonium-salts/OpenStore/internal/installer"
	"github.com/Polonium-salts/OpenStore/internal/utils"
)

// Service is the one object a CLI, an HTTP daemon, or any other front end
// needs to drive the download engine.
type Service struct {
	Registry *registry.Registry
	Bus      *events.Bus
}

// New wires a fresh Service with its own registry and event bus.
func New() *Service {
	bus := events.NewBus()
	return &Service{
		Registry: registry.New(bus),
		Bus:      bus,
	}
}

// CreateDownloadTask implements create_download_task.
func (s *Service) CreateDownloadTask(url, fileName, directory string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("url is required")
	}
	return s.Registry.Create(url, fileName, directory)
}

// StartDownload implements start_download: spawns the appropriate worker
// (single-stream, since start_download is the plain single-connection
// command per spec.md §6 — range-parallel has its own dedicated
// start_multi_thread_download command) in the background.
func (s *Service) StartDownload(id string) error {
	task, ok := s.Registry.Get(id)
	if !ok {
		return registry.ErrUnknownTask
	}
	if task.Status == types.StatusDownloading {
		return fmt.Errorf("task %s is already downloading", id)
	}

	dl := single.New(transport.NewClient(), s.Registry, s.Bus)
	go func() {
		if _, err := dl.Download(context.Background(), id); err != nil {
			utils.Debug("single-stream download %s ended with error: %v", id, err)
		}
	}()
	return nil
}

// PauseDownload implements pause_download: no-op if not Downloading.
func (s *Service) PauseDownload(id string) error {
	task, ok := s.Registry.Get(id)
	if !ok {
		return registry.ErrUnknownTask
	}
	if task.Status != types.StatusDownloading {
		return nil
	}
	ctrl, ok := s.Registry.Control(id)
	if !ok {
		return nil
	}
	ctrl.Send(control.Pause)
	return nil
}

// ResumeDownload implements resume_download: errors if not Paused.
func (s *Service) ResumeDownload(id string) error {
	task, ok := s.Registry.Get(id)
	if !ok {
		return registry.ErrUnknownTask
	}
	if task.Status != types.StatusPaused {
		return fmt.Errorf("task %s is not paused", id)
	}

	dl := single.New(transport.NewClient(), s.Registry, s.Bus)
	go func() {
		if _, err := dl.Download(context.Background(), id); err != nil {
			utils.Debug("resumed download %s ended with error: %v", id, err)
		}
	}()
	return nil
}

// CancelDownload implements cancel_download: the running worker is
// responsible for unlinking the partial file on receiving Cancel.
func (s *Service) CancelDownload(id string) error {
	task, ok := s.Registry.Get(id)
	if !ok {
		return registry.ErrUnknownTask
	}
	if ctrl, ok := s.Registry.Control(id); ok && task.Status == types.StatusDownloading {
		ctrl.Send(control.Cancel)
		return nil
	}
	// No worker running (e.g. task never started): apply the Cancel
	// transition directly and remove any partial file ourselves.
	return s.Registry.Mutate(id, func(t *types.Task) {
		t.Status = types.StatusCancelled
		if t.FilePath != "" {
			_ = os.Remove(t.FilePath)
		}
	}, events.KindStatusChanged)
}

// RemoveDownloadTask implements remove_download_task.
func (s *Service) RemoveDownloadTask(id string) error {
	return s.Registry.Remove(id)
}

// GetDownloadTasks implements get_download_tasks.
func (s *Service) GetDownloadTasks() []*types.Task {
	return s.Registry.List()
}

// GetDownloadProgress implements get_download_progress.
func (s *Service) GetDownloadProgress(id string) (*types.Task, bool) {
	return s.Registry.Get(id)
}

// CreateCopyDownload implements create_copy_download.
func (s *Service) CreateCopyDownload(originalID string, n int) ([]string, error) {
	return s.Registry.CreateCopies(originalID, n)
}

// GetDownloadDirectory implements get_download_directory.
func (s *Service) GetDownloadDirectory() (string, error) {
	settings, err := config.Load()
	if err == nil && settings.DownloadDirectory != "" {
		return settings.DownloadDirectory, nil
	}
	if home, herr := os.UserHomeDir(); herr == nil {
		downloads := filepath.Join(home, "Downloads")
		if info, serr := os.Stat(downloads); serr == nil && info.IsDir() {
			return downloads, nil
		}
	}
	return "./downloads", nil
}

// SetDownloadDirectory implements set_download_directory.
func (s *Service) SetDownloadDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("directory does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	settings := &config.Settings{DownloadDirectory: path}
	return settings.Save()
}

// FileExists implements file_exists.
func (s *Service) FileExists(path string) bool {
	return installer.FileExists(path)
}

// IsAppInstalled implements is_app_installed.
func (s *Service) IsAppInstalled(path string) bool {
	return installer.IsAppInstalled(path)
}

// GetFileAction implements get_file_action.
func (s *Service) GetFileAction(path string) string {
	return string(installer.SuggestedAction(path))
}

// OpenFile implements open_file.
func (s *Service) OpenFile(path string) error {
	return installer.OpenPath(path)
}

// RunInstaller implements run_installer.
func (s *Service) RunInstaller(path string) error {
	return installer.RunInstaller(path)
}

// StartMultiThreadDownload implements start_multi_thread_download.
func (s *Service) StartMultiThreadDownload(id string, cfg concurrent.Config) error {
	task, ok := s.Registry.Get(id)
	if !ok {
		return registry.ErrUnknownTask
	}
	if task.Status == types.StatusDownloading {
		return fmt.Errorf("task %s is already downloading", id)
	}

	dl := concurrent.New(s.Registry, s.Bus, cfg)
	go func() {
		if err := dl.Download(context.Background(), id); err != nil {
			utils.Debug("range-parallel download %s ended with error: %v", id, err)
		}
	}()
	return nil
}

// PauseMultiThreadDownload implements pause_multi_thread_download.
func (s *Service) PauseMultiThreadDownload(id string) error {
	return s.PauseDownload(id)
}

// ResumeMultiThreadDownload implements resume_multi_thread_download: unlike
// the single-stream resume, the range-parallel downloader is restarted
// fresh against the pre-allocated file: partial chunk state is not kept
// across a pause, so every chunk starts again with Downloaded at 0 and its
// whole range is fetched again and written over the bytes already on disk.
func (s *Service) ResumeMultiThreadDownload(id string, cfg concurrent.Config) error {
	task, ok := s.Registry.Get(id)
	if !ok {
		return registry.ErrUnknownTask
	}
	if task.Status != types.StatusPaused {
		return fmt.Errorf("task %s is not paused", id)
	}
	return s.StartMultiThreadDownload(id, cfg)
}

// CancelMultiThreadDownload implements cancel_multi_thread_download: per
// spec.md §5, cancellation in the range-parallel worker leaves the
// pre-allocated file in place for the caller to delete via remove.
func (s *Service) CancelMultiThreadDownload(id string) error {
	if _, ok := s.Registry.Get(id); !ok {
		return registry.ErrUnknownTask
	}
	if ctrl, ok := s.Registry.Control(id); ok {
		ctrl.Send(control.Cancel)
		return nil
	}
	return s.Registry.Mutate(id, func(t *types.Task) {
		t.Status = types.StatusCancelled
	}, events.KindStatusChanged)
}
