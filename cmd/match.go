package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/constructsafe/constructsafe/pkg/matcher"
)

// matchCmd searches the clause catalog with free text.
var matchCmd = &cobra.Command{
	Use:   "match <text>...",
	Short: "Search the legal clause catalog with free text",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog(cmd)
		if err != nil {
			return err
		}
		topK, _ := cmd.Flags().GetInt("top")

		matches := matcher.New(cat).MatchText(strings.Join(args, " "), topK)
		if len(matches) == 0 {
			fmt.Println("No matching clauses.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SCORE\tVIOLATION\tCLAUSE\tCITATION\t")
		for _, m := range matches {
			id := m.ViolationID
			if id == "" {
				id = "-"
			}
			fmt.Fprintf(w, "%.3f\t%s\t%s\t%s\t\n", m.Score, id, m.Title, m.Citation)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.Flags().Int("top", matcher.DefaultTopK, "Maximum number of matches to return")
}
