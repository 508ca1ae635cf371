package concurrent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Polonium-salts/OpenStore/internal/engine/control"
	"github.com/Polonium-salts/OpenStore/internal/engine/events"
	"github.com/Polonium-salts/OpenStore/internal/engine/registry"
	"github.com/Polonium-salts/OpenStore/internal/engine/types"
)

// parseRange extracts the start/end offsets from a "bytes=start-end" Range header.
func parseRange(header string) (start, end int64) {
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	start, _ = strconv.ParseInt(parts[0], 10, 64)
	if len(parts) > 1 && parts[1] != "" {
		end, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return start, end
}

func rangeServer(content []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == http.MethodHead {
			return
		}
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Write(content)
			return
		}
		start, end := parseRange(rangeHeader)
		if end >= int64(len(content)) {
			end = int64(len(content)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}))
}

func TestDownload_RangeParallelCompletesWholeFile(t *testing.T) {
	content := make([]byte, 40)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	srv := rangeServer(content)
	defer srv.Close()

	bus := events.NewBus()
	reg := registry.New(bus)
	dir := t.TempDir()

	id, err := reg.Create(srv.URL, "out.bin", dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dl := New(reg, bus, Config{MaxConnections: 4, MinChunkSize: 10, MaxRetries: 1})
	if err := dl.Download(context.Background(), id); err != nil {
		t.Fatalf("Download: %v", err)
	}

	task, _ := reg.Get(id)
	if task.Status != types.StatusCompleted {
		t.Errorf("got Status %v, want Completed", task.Status)
	}
	if task.DownloadedSize != int64(len(content)) {
		t.Errorf("got DownloadedSize %d, want %d", task.DownloadedSize, len(content))
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("got file content %q, want %q", got, content)
	}
}

func TestDownload_FileBelowMinChunkSizeUsesSingleChunk(t *testing.T) {
	content := []byte("small file content")
	srv := rangeServer(content)
	defer srv.Close()

	bus := events.NewBus()
	reg := registry.New(bus)
	dir := t.TempDir()

	id, err := reg.Create(srv.URL, "out.bin", dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dl := New(reg, bus, Config{MaxConnections: 8, MinChunkSize: 1024 * 1024, MaxRetries: 1})
	if err := dl.Download(context.Background(), id); err != nil {
		t.Fatalf("Download: %v", err)
	}

	task, _ := reg.Get(id)
	if task.Status != types.StatusCompleted {
		t.Errorf("got Status %v, want Completed", task.Status)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("got file content %q, want %q", got, content)
	}
}

// TestDownload_RangeUnsupportedUsesSingleChunk guards against issuing
// concurrent Range GETs to a server that never advertised Accept-Ranges:
// bytes — such a server is free to ignore Range entirely and return the
// full body every time, which would corrupt the output file if more than
// one chunk were scheduled against it.
func TestDownload_RangeUnsupportedUsesSingleChunk(t *testing.T) {
	content := make([]byte, 40)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	var concurrentRequests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == http.MethodHead {
			return
		}
		if atomic.AddInt32(&concurrentRequests, 1) > 1 {
			t.Errorf("expected at most one GET in flight against a range-unsupported server")
		}
		defer atomic.AddInt32(&concurrentRequests, -1)
		w.Write(content)
	}))
	defer srv.Close()

	bus := events.NewBus()
	reg := registry.New(bus)
	dir := t.TempDir()

	id, err := reg.Create(srv.URL, "out.bin", dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dl := New(reg, bus, Config{MaxConnections: 4, MinChunkSize: 10, MaxRetries: 1})
	if err := dl.Download(context.Background(), id); err != nil {
		t.Fatalf("Download: %v", err)
	}

	task, _ := reg.Get(id)
	if task.Status != types.StatusCompleted {
		t.Errorf("got Status %v, want Completed", task.Status)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("got file content %q, want %q (range-unsupported fallback must not corrupt the file)", got, content)
	}
}

func slowRangeServer(content []byte, block <-chan struct{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == http.MethodHead {
			return
		}
		rangeHeader := r.Header.Get("Range")
		start, end := parseRange(rangeHeader)
		if end >= int64(len(content)) {
			end = int64(len(content)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		flusher, _ := w.(http.Flusher)

		step := int64(1000)
		for pos := start; pos <= end; pos += step {
			select {
			case <-block:
				return
			default:
			}
			chunkEnd := pos + step
			if chunkEnd > end+1 {
				chunkEnd = end + 1
			}
			w.Write(content[pos:chunkEnd])
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(time.Millisecond)
		}
	}))
}

func TestDownload_PauseStopsWorkersAndMarksPaused(t *testing.T) {
	content := make([]byte, 200000)
	block := make(chan struct{})
	srv := slowRangeServer(content, block)
	defer srv.Close()
	defer close(block)

	bus := events.NewBus()
	reg := registry.New(bus)
	dir := t.TempDir()

	id, err := reg.Create(srv.URL, "out.bin", dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dl := New(reg, bus, Config{MaxConnections: 4, MinChunkSize: 50000, MaxRetries: 1})

	done := make(chan struct{})
	var downloadErr error
	go func() {
		downloadErr = dl.Download(context.Background(), id)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	ctrl, ok := reg.Control(id)
	if !ok {
		t.Fatal("expected a control channel for an in-flight download")
	}
	ctrl.Send(control.Pause)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Download did not stop after Pause")
	}

	if downloadErr != nil {
		t.Fatalf("Download: %v", downloadErr)
	}
	task, _ := reg.Get(id)
	if task.Status != types.StatusPaused {
		t.Errorf("got Status %v, want Paused", task.Status)
	}
}

func TestDownload_CancelStopsWorkersAndMarksCancelled(t *testing.T) {
	content := make([]byte, 200000)
	block := make(chan struct{})
	srv := slowRangeServer(content, block)
	defer srv.Close()
	defer close(block)

	bus := events.NewBus()
	reg := registry.New(bus)
	dir := t.TempDir()

	id, err := reg.Create(srv.URL, "out.bin", dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dl := New(reg, bus, Config{MaxConnections: 4, MinChunkSize: 50000, MaxRetries: 1})

	done := make(chan struct{})
	var downloadErr error
	go func() {
		downloadErr = dl.Download(context.Background(), id)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	ctrl, ok := reg.Control(id)
	if !ok {
		t.Fatal("expected a control channel for an in-flight download")
	}
	ctrl.Send(control.Cancel)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Download did not stop after Cancel")
	}

	if downloadErr != nil {
		t.Fatalf("Download: %v", downloadErr)
	}
	task, _ := reg.Get(id)
	if task.Status != types.StatusCancelled {
		t.Errorf("got Status %v, want Cancelled", task.Status)
	}
}

func TestDownload_RetriesChunkAfterTransientFailure(t *testing.T) {
	content := []byte("retry me please, this is the payload")
	var getCount int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == http.MethodHead {
			return
		}
		if atomic.AddInt32(&getCount, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		rangeHeader := r.Header.Get("Range")
		start, end := parseRange(rangeHeader)
		if end >= int64(len(content)) {
			end = int64(len(content)) - 1
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}))
	defer srv.Close()

	bus := events.NewBus()
	reg := registry.New(bus)
	dir := t.TempDir()

	id, err := reg.Create(srv.URL, "out.bin", dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dl := New(reg, bus, Config{MaxConnections: 1, MinChunkSize: 1024 * 1024, MaxRetries: 1})
	if err := dl.Download(context.Background(), id); err != nil {
		t.Fatalf("Download: %v", err)
	}

	if atomic.LoadInt32(&getCount) < 2 {
		t.Fatalf("got %d GET attempts, want at least 2 (one failure, one retry)", getCount)
	}

	task, _ := reg.Get(id)
	if task.Status != types.StatusCompleted {
		t.Errorf("got Status %v, want Completed", task.Status)
	}

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("got file content %q, want %q", got, content)
	}
}
