package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/constructsafe/constructsafe/pkg/matcher"
)

// violationsCmd lists the catalog, or prints the full law bundle for one id.
var violationsCmd = &cobra.Command{
	Use:   "violations [violation-id]",
	Short: "List known violation types or show one with its laws and penalties",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog(cmd)
		if err != nil {
			return err
		}

		if len(args) == 1 {
			bundle, ok := matcher.New(cat).Lookup(args[0])
			if !ok {
				return fmt.Errorf("unknown violation id: %s", args[0])
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(bundle)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tSEVERITY\tCATEGORY\tNAME\t")
		for _, v := range cat.ViolationSummaries() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", v.ID, v.Severity, v.Category, v.NameEN)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(violationsCmd)
}
