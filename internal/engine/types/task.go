// Package types holds the data shared between the registry, the event
// bus, and both downloaders: the user-visible Task and the internal Chunk.
package types

import "time"

// Status is a Task's lifecycle state, per spec.md §3.
type Status string

const (
	StatusPending     Status = "Pending"
	StatusDownloading Status = "Downloading"
	StatusPaused      Status = "Paused"
	StatusCompleted   Status = "Completed"
	StatusCancelled   Status = "Cancelled"
	StatusFailed      Status = "Failed"
)

// Task is one user-visible download request. Fields mirror
// original_source/src-tauri/src/lib.rs's DownloadTask.
type Task struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	FileName       string    `json:"file_name"`
	FilePath       string    `json:"file_path"`
	TotalSize      int64     `json:"total_size"`
	DownloadedSize int64     `json:"downloaded_size"`
	Status         Status    `json:"status"`
	Progress       float64   `json:"progress"`
	Speed          string    `json:"speed"`
	CreatedAt      time.Time `json:"created_at"`
	IsCopy         bool      `json:"is_copy"`
	OriginalID     string    `json:"original_id"`
	CopyCount      int       `json:"copy_count"`
}

// Clone returns a value copy safe to hand to callers outside the registry's
// lock, matching cmd/status.go's copy-on-read Get pattern.
func (t *Task) Clone() *Task {
	c := *t
	return &c
}

// RecomputeProgress sets Progress from DownloadedSize/TotalSize, per
// spec.md §3: "progress = downloaded_size / total_size * 100 when total
// known, else 0".
func (t *Task) RecomputeProgress() {
	if t.TotalSize > 0 {
		t.Progress = float64(t.DownloadedSize) / float64(t.TotalSize) * 100
	} else {
		t.Progress = 0
	}
}

// ChunkStatus is a Chunk's lifecycle state, per spec.md §3.
type ChunkStatus string

const (
	ChunkPending     ChunkStatus = "Pending"
	ChunkDownloading ChunkStatus = "Downloading"
	ChunkCompleted   ChunkStatus = "Completed"
	ChunkFailed      ChunkStatus = "Failed"
)

// Chunk is a contiguous inclusive byte range of the target file, assigned
// to one HTTP connection by the range-parallel downloader. Not user
// visible; lives only inside the concurrent downloader's worker pool.
type Chunk struct {
	Index      int
	Start      int64
	End        int64 // inclusive
	Downloaded int64
	Status     ChunkStatus
	Retries    int
}

// Remaining returns end-start+1-downloaded, the bytes still to fetch.
func (c *Chunk) Remaining() int64 {
	return (c.End - c.Start + 1) - c.Downloaded
}

// Size returns end-start+1, the total size of the chunk's range.
func (c *Chunk) Size() int64 {
	return c.End - c.Start + 1
}
