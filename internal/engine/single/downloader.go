// Package single implements the single-stream resumable downloader of
// spec.md §4.4. Grounded on original_source/src-tauri/src/lib.rs's
// perform_download for the HEAD-retry/GET-retry/resume/control-poll/
// throttle algorithm; internal/engine/single/downloader.go from the
// teal33t-Surge fork is used only for its I/O style, since that
// file's own doc comment says it does not support resume (it only
// handles the no-Range fallback case) whereas spec.md requires real
// byte-range resume here.
package single

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Polonium-salts/OpenStore/internal/engine/control"
	"github.com/Polonium-salts/OpenStore/internal/engine/events"
	"github.com/Polonium-salts/OpenStore/internal/engine/registry"
	"github.com/Polonium-salts/OpenStore/internal/engine/types"
	"github.com/Polonium-salts/OpenStore/internal/installer"
	"github.com/Polonium-salts/OpenStore/internal/utils"
)

const (
	headMaxAttempts = 5
	getMaxAttempts  = 5

	readBufferSize = 32 * 1024

	progressThrottleInterval = 50 * time.Millisecond
	progressThrottleBytes    = 128 * 1024

	speedSampleWindow = 5

	maxConsecutiveChunkErrors = 3
	maxTotalChunkErrors       = 10
	maxReconnectAttempts      = 5
	reconnectBackoffCap       = 30 * time.Second

	emptyChunkYield = 100 * time.Millisecond
)

// Outcome is returned by Download to let callers distinguish a cooperative
// stop from a terminal failure without inspecting the registry.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomePaused
	OutcomeCancelled
	OutcomeFailed
)

// Downloader drives one Task through its single-stream lifecycle.
type Downloader struct {
	Client   *http.Client
	Registry *registry.Registry
	Bus      *events.Bus
}

// New returns a Downloader wired to reg/bus using client for requests.
func New(client *http.Client, reg *registry.Registry, bus *events.Bus) *Downloader {
	return &Downloader{Client: client, Registry: reg, Bus: bus}
}

// Download runs the full single-stream algorithm for the task with id,
// subscribing to its (freshly reset) control channel. It returns once the
// task reaches a terminal or cooperative-stop state.
func (d *Downloader) Download(ctx context.Context, id string) (Outcome, error) {
	task, ok := d.Registry.Get(id)
	if !ok {
		return OutcomeFailed, registry.ErrUnknownTask
	}

	ctrl, err := d.Registry.ResetControl(id)
	if err != nil {
		return OutcomeFailed, err
	}
	sub := ctrl.Subscribe()

	if !strings.HasPrefix(task.URL, "http://") && !strings.HasPrefix(task.URL, "https://") {
		return d.fail(id, fmt.Errorf("invalid URL scheme: %s", task.URL))
	}

	d.Registry.Mutate(id, func(t *types.Task) { t.Status = types.StatusDownloading }, events.KindStatusChanged)

	if totalSize, err := d.probeHead(ctx, task.URL); err == nil && totalSize > 0 {
		d.Registry.Mutate(id, func(t *types.Task) { t.TotalSize = totalSize }, "")
	} else if err != nil {
		var httpErr *terminalHTTPError
		if errors.As(err, &httpErr) {
			return d.fail(id, err)
		}
		// HEAD failure is not fatal: fall through to GET, per spec.md §4.4 step 2.
		utils.Debug("HEAD probe failed for %s, falling through to GET: %v", task.URL, err)
	}

	if err := os.MkdirAll(filepath.Dir(task.FilePath), 0755); err != nil {
		return d.fail(id, fmt.Errorf("create parent directories: %w", err))
	}

	var existingSize int64
	if info, err := os.Stat(task.FilePath); err == nil {
		existingSize = info.Size()
	}

	resp, err := d.getWithRetry(ctx, task.URL, existingSize)
	if err != nil {
		var httpErr *terminalHTTPError
		if errors.As(err, &httpErr) {
			return d.fail(id, err)
		}
		return d.fail(id, fmt.Errorf("could not establish GET: %w", err))
	}

	resuming := existingSize > 0 && resp.StatusCode == http.StatusPartialContent
	if existingSize > 0 && resp.StatusCode == http.StatusOK {
		// Server ignored Range and returned 200: per spec.md §8 boundary
		// cases, must re-download from 0.
		existingSize = 0
		resuming = false
	}

	if task.TotalSize == 0 {
		if cl := resp.ContentLength; cl > 0 {
			total := cl
			if resuming {
				total += existingSize
			}
			d.Registry.Mutate(id, func(t *types.Task) { t.TotalSize = total }, events.KindProgress)
		}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resuming {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
		existingSize = 0
	}
	f, err := os.OpenFile(task.FilePath, flags, 0644)
	if err != nil {
		return d.fail(id, fmt.Errorf("open output file: %w", err))
	}
	defer f.Close()

	outcome, err := d.stream(ctx, id, task.URL, f, sub, existingSize, resp, resp.Body)
	d.Registry.DropControl(id)
	return outcome, err
}

type speedSample struct {
	at    time.Time
	bytes int64
}

func (d *Downloader) stream(ctx context.Context, id, rawURL string, f *os.File, sub <-chan control.Signal, downloaded int64, resp *http.Response, body io.Reader) (Outcome, error) {
	buf := make([]byte, readBufferSize)
	defer func() { resp.Body.Close() }()

	var (
		consecutiveErrors int
		totalErrors       int
		reconnectAttempt  int
		samples           []speedSample
		lastEmit          time.Time
		bytesSinceEmit    int64
	)
	samples = append(samples, speedSample{at: time.Now(), bytes: downloaded})

	for {
		select {
		case sig, okSig := <-sub:
			if okSig {
				switch sig {
				case control.Pause:
					d.Registry.Mutate(id, func(t *types.Task) {
						t.DownloadedSize = downloaded
						t.Status = types.StatusPaused
					}, events.KindStatusChanged)
					return OutcomePaused, nil
				case control.Cancel:
					f.Close()
					_ = os.Remove(f.Name())
					d.Registry.Mutate(id, func(t *types.Task) { t.Status = types.StatusCancelled }, events.KindStatusChanged)
					return OutcomeCancelled, nil
				case control.Resume:
					d.Registry.Mutate(id, func(t *types.Task) { t.Status = types.StatusDownloading }, events.KindStatusChanged)
				}
			}
		default:
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return d.fail(id, fmt.Errorf("write chunk: %w", werr))
			}
			downloaded += int64(n)
			bytesSinceEmit += int64(n)
			consecutiveErrors = 0

			now := time.Now()
			samples = append(samples, speedSample{at: now, bytes: downloaded})
			if len(samples) > speedSampleWindow+1 {
				samples = samples[len(samples)-(speedSampleWindow+1):]
			}

			if now.Sub(lastEmit) >= progressThrottleInterval || bytesSinceEmit >= progressThrottleBytes {
				speed := instantaneousSpeed(samples)
				d.Registry.Mutate(id, func(t *types.Task) {
					t.DownloadedSize = downloaded
					t.Speed = utils.FormatSpeed(speed)
				}, events.KindProgress)
				lastEmit = now
				bytesSinceEmit = 0
			}
		}

		if rerr != nil {
			if rerr == io.EOF {
				return d.complete(id, downloaded)
			}

			consecutiveErrors++
			totalErrors++
			if totalErrors >= maxTotalChunkErrors {
				return d.fail(id, fmt.Errorf("too many chunk read errors: %w", rerr))
			}
			if consecutiveErrors >= maxConsecutiveChunkErrors {
				resp.Body.Close()
				reconnectAttempt++
				if reconnectAttempt > maxReconnectAttempts {
					return d.fail(id, fmt.Errorf("exhausted reconnect attempts: %w", rerr))
				}
				backoff := time.Duration(1<<uint(reconnectAttempt-1)) * time.Second
				if backoff > reconnectBackoffCap {
					backoff = reconnectBackoffCap
				}
				time.Sleep(backoff)

				newResp, newBody, rcErr := d.reconnect(ctx, rawURL, downloaded)
				if rcErr != nil {
					continue
				}
				resp, body = newResp, newBody
				consecutiveErrors = 0
			}
			continue
		}

		if n == 0 {
			time.Sleep(emptyChunkYield)
		}
	}
}

func instantaneousSpeed(samples []speedSample) float64 {
	if len(samples) < 2 {
		return 0
	}
	first, last := samples[0], samples[len(samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / elapsed
}

func (d *Downloader) reconnect(ctx context.Context, rawURL string, from int64) (*http.Response, io.Reader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	if from > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(from, 10)+"-")
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		resp.Body.Close()
		return nil, nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return resp, resp.Body, nil
}

func (d *Downloader) complete(id string, downloaded int64) (Outcome, error) {
	var finalTask *types.Task
	d.Registry.Mutate(id, func(t *types.Task) {
		t.DownloadedSize = downloaded
		t.Status = types.StatusCompleted
		t.Progress = 100
		t.Speed = "0.0 B/s"
		finalTask = t.Clone()
	}, events.KindProgress)
	if finalTask != nil {
		d.Bus.Emit(events.KindCompleted, finalTask)
		if installer.IsInstaller(finalTask.FilePath) {
			d.Bus.Emit(events.KindInstallerReady, finalTask)
		}
	}
	return OutcomeCompleted, nil
}

func (d *Downloader) fail(id string, cause error) (Outcome, error) {
	d.Registry.Mutate(id, func(t *types.Task) { t.Status = types.StatusFailed }, events.KindStatusChanged)
	if task, ok := d.Registry.Get(id); ok {
		d.Bus.Emit(events.KindFailed, task)
	}
	d.Registry.DropControl(id)
	return OutcomeFailed, cause
}

// terminalHTTPError marks a 401/403/404 response: spec.md §4.4 says these
// must not be retried and must escalate immediately to Failed.
type terminalHTTPError struct {
	status int
}

func (e *terminalHTTPError) Error() string {
	return fmt.Sprintf("terminal HTTP status %d", e.status)
}

func isTerminalStatus(code int) bool {
	return code == http.StatusNotFound || code == http.StatusUnauthorized || code == http.StatusForbidden
}

// probeHead issues a HEAD request with up to headMaxAttempts tries and
// spec.md §4.4's per-error back-off: timeouts 5s, connection errors 3s,
// others 2s, incrementing on each retry.
func (d *Downloader) probeHead(ctx context.Context, rawURL string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < headMaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
		if err != nil {
			return 0, err
		}
		resp, err := d.Client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(headBackoff(err, attempt))
			continue
		}
		resp.Body.Close()

		if isTerminalStatus(resp.StatusCode) {
			return 0, &terminalHTTPError{status: resp.StatusCode}
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp.ContentLength, nil
		}
		lastErr = fmt.Errorf("HEAD returned status %d", resp.StatusCode)
		time.Sleep(headBackoff(nil, attempt))
	}
	return 0, lastErr
}

func headBackoff(err error, attempt int) time.Duration {
	base := 2 * time.Second
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			base = 5 * time.Second
		} else {
			base = 3 * time.Second
		}
	}
	return base + time.Duration(attempt)*time.Second
}

// getWithRetry issues the GET with up to getMaxAttempts tries and
// spec.md §4.4's back-off (timeout 8s, connect 5s, other 3s, incrementing).
func (d *Downloader) getWithRetry(ctx context.Context, rawURL string, existingSize int64) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < getMaxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		if existingSize > 0 {
			req.Header.Set("Range", "bytes="+strconv.FormatInt(existingSize, 10)+"-")
		}

		resp, err := d.Client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(getBackoff(err, attempt))
			continue
		}

		if isTerminalStatus(resp.StatusCode) {
			resp.Body.Close()
			return nil, &terminalHTTPError{status: resp.StatusCode}
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusPartialContent {
			return resp, nil
		}

		resp.Body.Close()
		lastErr = fmt.Errorf("GET returned status %d", resp.StatusCode)
		time.Sleep(getBackoff(nil, attempt))
	}
	return nil, lastErr
}

func getBackoff(err error, attempt int) time.Duration {
	base := 3 * time.Second
	if err != nil {
		if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
			base = 8 * time.Second
		} else {
			base = 5 * time.Second
		}
	}
	return base + time.Duration(attempt)*time.Second
}
