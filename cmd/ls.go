package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Polonium-salts/OpenStore/internal/engine/types"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List downloads",
	Long:  `List every task known to the running OpenStore daemon.`,
	Run: func(cmd *cobra.Command, args []string) {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		watch, _ := cmd.Flags().GetBool("watch")

		if watch {
			for {
				fmt.Print("\033[H\033[2J")
				printDownloads(jsonOutput)
				time.Sleep(1 * time.Second)
			}
		}
		printDownloads(jsonOutput)
	},
}

func printDownloads(jsonOutput bool) {
	var tasks []types.Task
	if err := apiRequest("GET", "/tasks", nil, &tasks); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(tasks) == 0 {
		if jsonOutput {
			fmt.Println("[]")
		} else {
			fmt.Println("No downloads found.")
		}
		return
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(tasks, "", "  ")
		fmt.Println(string(data))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILENAME\tSTATUS\tPROGRESS\tSPEED\tSIZE")
	fmt.Fprintln(w, "--\t--------\t------\t--------\t-----\t----")

	for _, t := range tasks {
		progress := fmt.Sprintf("%.1f%%", t.Progress)
		size := formatSize(t.TotalSize)
		speed := t.Speed
		if speed == "" {
			speed = "-"
		}

		id := t.ID
		if len(id) > 8 {
			id = id[:8]
		}
		filename := t.FileName
		if len(filename) > 25 {
			filename = filename[:22] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", id, filename, t.Status, progress, speed, size)
	}
	w.Flush()
}

func formatSize(bytes int64) string {
	if bytes <= 0 {
		return "-"
	}
	return humanize.Bytes(uint64(bytes))
}

func init() {
	lsCmd.Flags().Bool("json", false, "Output in JSON format")
	lsCmd.Flags().Bool("watch", false, "Watch mode: refresh every second")
}
