package cmd

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Polonium-salts/OpenStore/internal/engine/types"
)

// readURLsFromFile reads URLs from a file, one per line, skipping blanks
// and comment lines.
func readURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var urls []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		normalized := strings.TrimRight(line, "/")
		if !seen[normalized] {
			seen[normalized] = true
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("no URLs found in file")
	}
	return urls, nil
}

// ensureDaemon returns a running daemon's base URL, starting one in this
// process (as the master instance) if none is currently running.
func ensureDaemon(portFlag int) (string, bool, error) {
	isMaster, err := AcquireLock()
	if err != nil {
		return "", false, fmt.Errorf("checking lock: %w", err)
	}
	if !isMaster {
		if portFlag > 0 {
			return fmt.Sprintf("http://127.0.0.1:%d", portFlag), false, nil
		}
		base, err := daemonBaseURL()
		return base, false, err
	}

	var port int
	var ln net.Listener
	if portFlag > 0 {
		port = portFlag
		ln, err = net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	} else {
		port, ln = findAvailablePort(8080)
	}
	if err != nil || ln == nil {
		ReleaseLock()
		return "", false, fmt.Errorf("starting daemon listener: %w", err)
	}

	saveActivePort(port)
	go runHTTPServer(ln, port)
	time.Sleep(100 * time.Millisecond) // let the listener's goroutine reach Serve

	return fmt.Sprintf("http://127.0.0.1:%d", port), true, nil
}

func waitForTask(id string, quiet bool) error {
	var lastPercent int
	for {
		var task types.Task
		if err := apiRequest("GET", "/tasks/"+id, nil, &task); err != nil {
			return err
		}
		switch task.Status {
		case types.StatusCompleted:
			if !quiet {
				fmt.Printf("Complete: %s (%s)\n", task.FileName, task.Speed)
			}
			return nil
		case types.StatusFailed:
			return fmt.Errorf("download failed: %s", task.FileName)
		case types.StatusCancelled:
			return fmt.Errorf("download cancelled: %s", task.FileName)
		}
		if !quiet {
			percent := int(task.Progress)
			if percent/10 > lastPercent/10 {
				fmt.Printf("  %d%% (%s) - %s\n", percent, task.FileName, task.Speed)
				lastPercent = percent
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
}

var getCmd = &cobra.Command{
	Use:   "get [url]",
	Short: "Download a file, starting the daemon if it isn't already running",
	Long: `Queue a download with the OpenStore daemon, starting one in this process
if no instance is currently running.

Use --batch to download multiple URLs from a file (one URL per line).`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		outPath, _ := cmd.Flags().GetString("output")
		portFlag, _ := cmd.Flags().GetInt("port")
		batchFile, _ := cmd.Flags().GetString("batch")

		var urls []string
		if batchFile != "" {
			var err error
			urls, err = readURLsFromFile(batchFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		} else if len(args) == 1 {
			urls = []string{args[0]}
		} else {
			fmt.Fprintf(os.Stderr, "Error: requires either a URL argument or --batch flag\n")
			os.Exit(1)
		}

		_, isMaster, err := ensureDaemon(portFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if isMaster {
			defer ReleaseLock()
			defer removeActivePort()
			fmt.Printf("OpenStore %s daemon started for this request\n", Version)
		}

		var failed int
		for i, url := range urls {
			if len(urls) > 1 {
				fmt.Printf("\n[%d/%d] %s\n", i+1, len(urls), url)
			}
			var created struct {
				ID string `json:"id"`
			}
			if err := apiRequest("POST", "/tasks", createTaskRequest{URL: url, Directory: outPath}, &created); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				failed++
				continue
			}
			if err := apiRequest("POST", "/tasks/"+created.ID+"/start", nil, nil); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				failed++
				continue
			}
			if err := waitForTask(created.ID, false); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				failed++
			}
		}

		if failed > 0 {
			os.Exit(1)
		}
	},
}

func init() {
	getCmd.Flags().StringP("output", "o", "", "output directory")
	getCmd.Flags().BoolP("verbose", "v", false, "verbose output")
	getCmd.Flags().IntP("port", "p", 0, "talk to the daemon on this port instead of auto-discovering")
	getCmd.Flags().StringP("batch", "b", "", "file containing URLs to download (one per line)")
}
