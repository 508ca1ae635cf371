package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var copyCmd = &cobra.Command{
	Use:   "copy <ID> [count]",
	Short: "Start one or more parallel copies of an existing download",
	Long:  `Create count additional download tasks (default 1) for the same URL as <ID>, each with a "_copyN" suffix.`,
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := resolveDownloadID(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		count := 1
		if len(args) == 2 {
			count, err = strconv.Atoi(args[1])
			if err != nil || count <= 0 {
				fmt.Fprintln(os.Stderr, "Error: count must be a positive integer")
				os.Exit(1)
			}
		}

		var created struct {
			IDs []string `json:"ids"`
		}
		if err := apiRequest("POST", "/tasks/"+id+"/copies", createCopiesRequest{Count: count}, &created); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, copyID := range created.IDs {
			fmt.Printf("Created copy %s\n", copyID)
		}
	},
}
