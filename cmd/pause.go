package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Polonium-salts/OpenStore/internal/engine/types"
)

var pauseCmd = &cobra.Command{
	Use:   "pause <ID>",
	Short: "Pause a download",
	Long:  `Pause a download by its ID. Use --all to pause every downloading task.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Error: provide a download ID or use --all")
			os.Exit(1)
		}

		if all {
			var tasks []types.Task
			if err := apiRequest("GET", "/tasks", nil, &tasks); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			for _, t := range tasks {
				if t.Status != types.StatusDownloading {
					continue
				}
				if err := apiRequest("POST", "/tasks/"+t.ID+"/pause", nil, nil); err != nil {
					fmt.Fprintf(os.Stderr, "Error pausing %s: %v\n", t.ID, err)
					continue
				}
				fmt.Printf("Paused %s\n", t.ID)
			}
			return
		}

		id := args[0]
		if err := apiRequest("POST", "/tasks/"+id+"/pause", nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Paused download %s\n", id)
	},
}

func init() {
	pauseCmd.Flags().Bool("all", false, "Pause every downloading task")
}
