package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dirCmd = &cobra.Command{
	Use:   "dir [path]",
	Short: "Get or set the default download directory",
	Long:  `With no argument, prints the configured download directory. With a path, sets it.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			var resp struct {
				Directory string `json:"directory"`
			}
			if err := apiRequest("GET", "/config/download-directory", nil, &resp); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(resp.Directory)
			return
		}

		if err := apiRequest("PUT", "/config/download-directory", setDownloadDirRequest{Directory: args[0]}, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Download directory set to %s\n", args[0])
	},
}
