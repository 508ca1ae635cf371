package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Polonium-salts/OpenStore/internal/engine/types"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <ID>",
	Short: "Resume a paused download",
	Long:  `Resume a paused download by its ID. Use --all to resume every paused task.`,
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
				if t.Status != types.StatusPaused {
					continue
				}
				if err := apiRequest("POST", "/tasks/"+t.ID+"/resume", nil, nil); err != nil {
					fmt.Fprintf(os.Stderr, "Error resuming %s: %v\n", t.ID, err)
					continue
				}
				fmt.Printf("Resumed %s\n", t.ID)
			}
			return
		}

		id := args[0]
		if err := apiRequest("POST", "/tasks/"+id+"/resume", nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Resumed download %s\n", id)
	},
}

func init() {
	resumeCmd.Flags().Bool("all", false, "Resume every paused task")
}
