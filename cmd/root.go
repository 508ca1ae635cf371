package cmd

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Polonium-salts/OpenStore/internal/config"
	"github.com/Polonium-salts/OpenStore/internal/engine/concurrent"
	"github.com/Polonium-salts/OpenStore/internal/service"
	"github.com/Polonium-salts/OpenStore/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// svc is the single Service instance backing the HTTP daemon for the
// lifetime of this process.
var svc = service.New()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "openstore",
	Short:   "A download engine daemon and CLI",
	Long:    `OpenStore runs a local download-engine daemon and exposes it over HTTP, with a CLI for driving it.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		isMaster, err := AcquireLock()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error acquiring lock: %v\n", err)
			os.Exit(1)
		}
		if !isMaster {
			fmt.Fprintln(os.Stderr, "Error: OpenStore is already running.")
			fmt.Fprintln(os.Stderr, "Use 'openstore get <url>' to add a download to the active instance.")
			os.Exit(1)
		}
		defer ReleaseLock()

		portFlag, _ := cmd.Flags().GetInt("port")

		var port int
		var listener net.Listener
		if portFlag > 0 {
			port = portFlag
			listener, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: could not bind to port %d: %v\n", port, err)
				os.Exit(1)
			}
		} else {
			port, listener = findAvailablePort(8080)
			if listener == nil {
				fmt.Fprintf(os.Stderr, "Error: could not find available port\n")
				os.Exit(1)
			}
		}

		saveActivePort(port)
		defer removeActivePort()

		fmt.Printf("OpenStore %s daemon listening on port %d\n", Version, port)
		fmt.Println("Press Ctrl+C to exit.")

		go runHTTPServer(listener, port)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		fmt.Println("\nShutting down...")
	},
}

func findAvailablePort(start int) (int, net.Listener) {
	for port := start; port < start+100; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return port, ln
		}
	}
	return 0, nil
}

func portFilePath() string {
	return filepath.Join(config.Dir(), "port")
}

func saveActivePort(port int) {
	_ = config.EnsureDir()
	_ = os.WriteFile(portFilePath(), []byte(fmt.Sprintf("%d", port)), 0644)
	utils.Debug("HTTP server listening on port %d", port)
}

func removeActivePort() {
	_ = os.Remove(portFilePath())
}

// readActivePort lets CLI subcommands (get, pause, ...) discover the
// running daemon's port, matching the teacher's extension-discovery file.
func readActivePort() (int, error) {
	data, err := os.ReadFile(portFilePath())
	if err != nil {
		return 0, err
	}
	var port int
	if _, err := fmt.Sscanf(string(data), "%d", &port); err != nil {
		return 0, err
	}
	return port, nil
}

func daemonBaseURL() (string, error) {
	port, err := readActivePort()
	if err != nil {
		return "", fmt.Errorf("no running OpenStore daemon found: %w", err)
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port), nil
}

// runHTTPServer wires every route in the daemon's surface, each handler a
// thin JSON-in/JSON-out wrapper around a Service method.
func runHTTPServer(ln net.Listener, port int) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "port": port})
	})

	mux.HandleFunc("POST /tasks", handleCreateTask)
	mux.HandleFunc("GET /tasks", handleListTasks)
	mux.HandleFunc("GET /tasks/{id}", handleGetTask)
	mux.HandleFunc("DELETE /tasks/{id}", handleDeleteTask)
	mux.HandleFunc("POST /tasks/{id}/start", handleStart)
	mux.HandleFunc("POST /tasks/{id}/pause", handlePause)
	mux.HandleFunc("POST /tasks/{id}/resume", handleResume)
	mux.HandleFunc("POST /tasks/{id}/cancel", handleCancel)
	mux.HandleFunc("POST /tasks/{id}/copies", handleCreateCopies)

	mux.HandleFunc("POST /tasks/{id}/mt/start", handleMTStart)
	mux.HandleFunc("POST /tasks/{id}/mt/pause", handlePause)
	mux.HandleFunc("POST /tasks/{id}/mt/resume", handleMTResume)
	mux.HandleFunc("POST /tasks/{id}/mt/cancel", handleMTCancel)

	mux.HandleFunc("GET /config/download-directory", handleGetDownloadDir)
	mux.HandleFunc("PUT /config/download-directory", handleSetDownloadDir)

	mux.HandleFunc("GET /files/exists", handleFileExists)
	mux.HandleFunc("GET /files/action", handleFileAction)
	mux.HandleFunc("POST /files/open", handleFileOpen)
	mux.HandleFunc("POST /files/run-installer", handleRunInstaller)

	server := &http.Server{Handler: mux}
	if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
		utils.Debug("HTTP server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type createTaskRequest struct {
	URL       string `json:"url"`
	FileName  string `json:"file_name,omitempty"`
	Directory string `json:"directory,omitempty"`
}

func handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := svc.CreateDownloadTask(req.URL, req.FileName, req.Directory)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svc.GetDownloadTasks())
}

func handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := svc.GetDownloadProgress(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := svc.RemoveDownloadTask(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleStart(w http.ResponseWriter, r *http.Request) {
	if err := svc.StartDownload(r.PathValue("id")); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func handlePause(w http.ResponseWriter, r *http.Request) {
	if err := svc.PauseDownload(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func handleResume(w http.ResponseWriter, r *http.Request) {
	if err := svc.ResumeDownload(r.PathValue("id")); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := svc.CancelDownload(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type createCopiesRequest struct {
	Count int `json:"count"`
}

func handleCreateCopies(w http.ResponseWriter, r *http.Request) {
	var req createCopiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ids, err := svc.CreateCopyDownload(r.PathValue("id"), req.Count)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

type mtStartRequest struct {
	MaxConnections int   `json:"max_connections,omitempty"`
	MinChunkSize   int64 `json:"min_chunk_size,omitempty"`
	MaxRetries     int   `json:"max_retries,omitempty"`
}

func (r mtStartRequest) toConfig() concurrent.Config {
	return concurrent.Config{
		MaxConnections: r.MaxConnections,
		MinChunkSize:   r.MinChunkSize,
		MaxRetries:     r.MaxRetries,
	}
}

func handleMTStart(w http.ResponseWriter, r *http.Request) {
	var req mtStartRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := svc.StartMultiThreadDownload(r.PathValue("id"), req.toConfig()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func handleMTResume(w http.ResponseWriter, r *http.Request) {
	var req mtStartRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := svc.ResumeMultiThreadDownload(r.PathValue("id"), req.toConfig()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func handleMTCancel(w http.ResponseWriter, r *http.Request) {
	if err := svc.CancelMultiThreadDownload(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func handleGetDownloadDir(w http.ResponseWriter, r *http.Request) {
	dir, err := svc.GetDownloadDirectory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"directory": dir})
}

type setDownloadDirRequest struct {
	Directory string `json:"directory"`
}

func handleSetDownloadDir(w http.ResponseWriter, r *http.Request) {
	var req setDownloadDirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := svc.SetDownloadDirectory(req.Directory); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleFileExists(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	writeJSON(w, http.StatusOK, map[string]bool{"exists": svc.FileExists(path)})
}

func handleFileAction(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	writeJSON(w, http.StatusOK, map[string]string{"action": svc.GetFileAction(path)})
}

type filePathRequest struct {
	Path string `json:"path"`
}

func handleFileOpen(w http.ResponseWriter, r *http.Request) {
	var req filePathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := svc.OpenFile(req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func handleRunInstaller(w http.ResponseWriter, r *http.Request) {
	var req filePathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := svc.RunInstaller(req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(dirCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.Flags().IntP("port", "p", 0, "Port to listen on (default: 8080 or first available)")
	rootCmd.SetVersionTemplate("OpenStore version {{.Version}}\n")
}
