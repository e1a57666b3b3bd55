package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/constructsafe/constructsafe/pkg/imaging"
	"github.com/constructsafe/constructsafe/pkg/matcher"
	"github.com/constructsafe/constructsafe/pkg/vision"
)

// analyzeCmd runs a one-shot analysis of a local image file.
var analyzeCmd = &cobra.Command{
	Use:   "analyze <image-file>",
	Short: "Analyze a construction-site photo for safety violations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		if mode != vision.ModeFast && mode != vision.ModeAccurate {
			return fmt.Errorf("mode must be 'fast' or 'accurate', got %q", mode)
		}

		cat, err := loadCatalog(cmd)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		processed, err := imaging.Process(data, imaging.DefaultMaxBytes)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "image quality: %s (%.2f)\n", processed.Quality.Label, processed.Quality.Score)

		client, err := vision.New(vision.Config{
			APIKey:   viper.GetString("vision.api_key"),
			Model:    viper.GetString("vision.model"),
			Endpoint: viper.GetString("vision.endpoint"),
		})
		if err != nil {
			return err
		}

		result := client.Analyze(context.Background(), vision.Request{
			ImageJPEG:    processed.JPEG,
			Mode:         mode,
			Quality:      processed.Quality,
			AllowedIDs:   cat.ViolationIDs(),
			SensitiveIDs: cat.SensitiveViolationIDs(),
		})
		if !result.Success {
			return fmt.Errorf("vision analysis failed: %s", result.Error)
		}

		m := matcher.New(cat)
		type enriched struct {
			Violation vision.Detection `json:"violation"`
			Bundle    *matcher.Bundle  `json:"laws,omitempty"`
		}
		out := struct {
			Violations []enriched                `json:"violations"`
			Flagged    []vision.FlaggedDetection `json:"flagged_for_review"`
		}{Flagged: result.Flagged}

		for _, d := range result.Violations {
			e := enriched{Violation: d}
			if bundle, ok := m.Lookup(d.ViolationID); ok {
				e.Bundle = &bundle
			}
			out.Violations = append(out.Violations, e)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().String("mode", vision.ModeFast, "Analysis mode: fast or accurate")
}
