package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/constructsafe/constructsafe/pkg/reports"
)

// reportsCmd lists archived analysis reports.
var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List archived analysis reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("reports-db")
		if dbPath == "" {
			dbPath = viper.GetString("reports.db")
		}
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return fmt.Errorf("report database not found: %s", dbPath)
		}

		store, err := reports.Open(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		list, err := store.List(context.Background(), limit)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No reports in the archive.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tMODE\tQUALITY\tVIOLATIONS\tFLAGGED\t")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t\n",
				r.ID, r.CreatedAt.Format(time.RFC3339), r.Mode, r.ImageQuality, r.ViolationsFound, r.FlaggedCount)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(reportsCmd)
	reportsCmd.Flags().String("reports-db", "", "Path to the report archive database")
	reportsCmd.Flags().Int("limit", 50, "Maximum number of reports to list")
}
