package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/constructsafe/constructsafe/pkg/sources"
)

// sourcesCmd verifies the official portal links in the source catalog.
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Verify the official portal links declared in the legal source catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog(cmd)
		if err != nil {
			return err
		}

		offline, _ := cmd.Flags().GetBool("offline")
		client := sources.NewHTTPClient()
		if offline {
			client = nil
		}

		results := sources.Verify(context.Background(), cat, client)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tDOMAIN\tSTATUS\tTITLE\t")
		for _, r := range results {
			status := "-"
			if r.StatusCode != 0 {
				status = fmt.Sprintf("%d", r.StatusCode)
			}
			if r.Err != "" {
				status = "ERR: " + r.Err
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", r.SourceID, r.Domain, status, r.Title)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.Flags().Bool("offline", false, "Only validate domains, skip HTTP fetches")
}
