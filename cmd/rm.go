package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Polonium-salts/OpenStore/internal/engine/types"
)

// resolveDownloadID expands a (possibly partial, 8-char-prefix) id into
// the full task id, erroring on zero or more than one match.
func resolveDownloadID(partial string) (string, error) {
	var tasks []types.Task
	if err := apiRequest("GET", "/tasks", nil, &tasks); err != nil {
		return "", err
	}

	var matches []types.Task
	for _, t := range tasks {
		if t.ID == partial || strings.HasPrefix(t.ID, partial) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no download matches id %q", partial)
	case 1:
		return matches[0].ID, nil
	default:
		return "", fmt.Errorf("id %q is ambiguous, matches %d downloads", partial, len(matches))
	}
}

var rmCmd = &cobra.Command{
	Use:     "rm <ID>",
	Aliases: []string{"kill"},
	Short:   "Remove a download",
	Long:    `Remove a download by its ID (or an unambiguous prefix). Use --clean to remove all completed downloads.`,
	Args:    cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		clean, _ := cmd.Flags().GetBool("clean")
		if !clean && len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Error: provide a download ID or use --clean")
			os.Exit(1)
		}

		if clean {
			var tasks []types.Task
			if err := apiRequest("GET", "/tasks", nil, &tasks); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			var count int
			for _, t := range tasks {
				if t.Status != types.StatusCompleted {
					continue
				}
				if err := apiRequest("DELETE", "/tasks/"+t.ID, nil, nil); err != nil {
					fmt.Fprintf(os.Stderr, "Error removing %s: %v\n", t.ID, err)
					continue
				}
				count++
			}
			fmt.Printf("Removed %d completed downloads.\n", count)
			return
		}

		id, err := resolveDownloadID(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := apiRequest("DELETE", "/tasks/"+id, nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed download %s\n", id[:8])
	},
}

func init() {
	rmCmd.Flags().Bool("clean", false, "Remove all completed downloads")
}
