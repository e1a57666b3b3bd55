package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/constructsafe/constructsafe/internal/utils"
	"github.com/constructsafe/constructsafe/pkg/catalog"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const Version = "1.0.0"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "constructsafe",
	Short: "Construction-site safety violation analysis for Bangladesh.",
	Long: `constructsafe analyzes construction-site photographs for safety violations
and cross-references detections against Bangladesh construction law: the
Labour Act 2006, the National Building Code 2020 and related statutes.

Run 'constructsafe serve' to start the HTTP API, or use the one-shot
commands to query the legal catalog from the terminal.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.constructsafe.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("laws", "", "", "Path to the laws JSON catalog (default: embedded catalog)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".constructsafe")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.constructsafe.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Set default empty values for all keys
	viper.SetDefault("laws.path", "")
	viper.SetDefault("vision.api_key", "")
	viper.SetDefault("vision.model", "")
	viper.SetDefault("vision.endpoint", "")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("limits.per_minute", 30)
	viper.SetDefault("limits.daily", 300)
	viper.SetDefault("cache.ttl_seconds", 300)
	viper.SetDefault("reports.db", "constructsafe.sqlite")

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

// loadCatalog resolves the catalog source: the --laws flag, then the
// configured path, then the embedded document.
func loadCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	path, _ := cmd.Flags().GetString("laws")
	if path == "" {
		path = viper.GetString("laws.path")
	}
	if path == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}
