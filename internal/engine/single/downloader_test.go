package single

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Polonium-salts/OpenStore/internal/engine/control"
	"github.com/Polonium-salts/OpenStore/internal/engine/events"
	"github.com/Polonium-salts/OpenStore/internal/engine/registry"
	"github.com/Polonium-salts/OpenStore/internal/engine/transport"
	"github.com/Polonium-salts/OpenStore/internal/engine/types"
)

func TestDownload_CompletesWholeFile(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
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

	dl := New(transport.NewClient(), reg, bus)
	outcome, err := dl.Download(context.Background(), id)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("got outcome %v, want OutcomeCompleted", outcome)
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

func TestDownload_ResumesFromExistingPartialFile(t *testing.T) {
	content := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Write(content)
			return
		}
		start := parseRangeStart(rangeHeader)
		w.Header().Set("Content-Range", "bytes */*")
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start:])
	}))
	defer srv.Close()

	bus := events.NewBus()
	reg := registry.New(bus)
	dir := t.TempDir()

	id, err := reg.Create(srv.URL, "out.bin", dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	task, _ := reg.Get(id)

	partial := content[:10]
	if err := os.WriteFile(task.FilePath, partial, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dl := New(transport.NewClient(), reg, bus)
	outcome, err := dl.Download(context.Background(), id)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("got outcome %v, want OutcomeCompleted", outcome)
	}

	got, err := os.ReadFile(task.FilePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("got file content %q, want %q", got, content)
	}
}

func TestDownload_TerminalStatusFailsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	bus := events.NewBus()
	reg := registry.New(bus)
	dir := t.TempDir()

	id, err := reg.Create(srv.URL, "out.bin", dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dl := New(transport.NewClient(), reg, bus)
	outcome, err := dl.Download(context.Background(), id)
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
	if outcome != OutcomeFailed {
		t.Fatalf("got outcome %v, want OutcomeFailed", outcome)
	}

	task, _ := reg.Get(id)
	if task.Status != types.StatusFailed {
		t.Errorf("got Status %v, want Failed", task.Status)
	}
}

func TestDownload_PauseStopsStreamingAndPersistsProgress(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		if r.Method == http.MethodHead {
			return
		}
		flusher, _ := w.(http.Flusher)
		chunk := make([]byte, 1024)
		for i := 0; i < 1000; i++ {
			select {
			case <-block:
				return
			default:
			}
			w.Write(chunk)
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(time.Millisecond)
		}
	}))
	defer srv.Close()
	defer close(block)

	bus := events.NewBus()
	reg := registry.New(bus)
	dir := t.TempDir()

	id, err := reg.Create(srv.URL, "out.bin", dir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dl := New(transport.NewClient(), reg, bus)

	done := make(chan struct{})
	var outcome Outcome
	go func() {
		outcome, _ = dl.Download(context.Background(), id)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
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

	if outcome != OutcomePaused {
		t.Fatalf("got outcome %v, want OutcomePaused", outcome)
	}
	task, _ := reg.Get(id)
	if task.Status != types.StatusPaused {
		t.Errorf("got Status %v, want Paused", task.Status)
	}
	if task.DownloadedSize == 0 {
		t.Error("expected some bytes to have been recorded before pausing")
	}
}

// parseRangeStart extracts the start offset from a "bytes=N-" Range header.
func parseRangeStart(header string) int64 {
	spec := strings.TrimPrefix(header, "bytes=")
	n, _ := strconv.ParseInt(strings.TrimSuffix(spec, "-"), 10, 64)
	return n
}
