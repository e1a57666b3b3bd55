package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/constructsafe/constructsafe/internal/server"
	"github.com/constructsafe/constructsafe/internal/utils"
	"github.com/constructsafe/constructsafe/pkg/cache"
	"github.com/constructsafe/constructsafe/pkg/limiter"
	"github.com/constructsafe/constructsafe/pkg/matcher"
	"github.com/constructsafe/constructsafe/pkg/reports"
	"github.com/constructsafe/constructsafe/pkg/vision"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the constructsafe HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		// The catalog is the one thing the service cannot start without.
		cat, err := loadCatalog(cmd)
		if err != nil {
			return err
		}
		utils.Log.Infof("catalog loaded: %d violation types", len(cat.ViolationIDs()))

		lim := limiter.New(limiter.Config{
			PerMinute: viper.GetInt("limits.per_minute"),
			PerDay:    viper.GetInt("limits.daily"),
		})

		store := cache.Select(viper.GetString("redis.url"))

		var analyzer vision.Analyzer
		if apiKey := viper.GetString("vision.api_key"); apiKey != "" {
			client, err := vision.New(vision.Config{
				APIKey:   apiKey,
				Model:    viper.GetString("vision.model"),
				Endpoint: viper.GetString("vision.endpoint"),
			})
			if err != nil {
				return err
			}
			analyzer = client
		} else {
			utils.Log.Warn("vision.api_key not set: /api/v1/analyze will return 503")
		}

		var archive *reports.Store
		noReports, _ := cmd.Flags().GetBool("no-reports")
		if !noReports {
			dbPath, _ := cmd.Flags().GetString("reports-db")
			if dbPath == "" {
				dbPath = viper.GetString("reports.db")
			}
			archive, err = reports.Open(dbPath)
			if err != nil {
				return err
			}
			defer archive.Close()
		}

		listenAddr, _ := cmd.Flags().GetString("listen")
		srv := server.New(server.Config{
			ListenAddr: listenAddr,
			Version:    Version,
			CacheTTL:   time.Duration(viper.GetInt("cache.ttl_seconds")) * time.Second,
		}, cat, matcher.New(cat), lim, store, analyzer, archive)

		return srv.Start()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().String("reports-db", "", "Path to the report archive database")
	serveCmd.Flags().Bool("no-reports", false, "Disable the analysis report archive")
}
