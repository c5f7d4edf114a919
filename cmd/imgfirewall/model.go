package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/imgfirewall/internal/inference"
)

func modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the classification model",
	}
	cmd.AddCommand(modelFetchCmd())
	return cmd
}

func modelFetchCmd() *cobra.Command {
	var (
		baseURL string
		dir     string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download a model artifact into the model directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = cfg.Model.BaseURL
			}
			if baseURL == "" {
				return fmt.Errorf("no model base URL: pass --base-url or set MODEL_BASE_URL")
			}
			if dir == "" {
				dir = cfg.Model.Path
			}

			res, err := inference.Fetch(cmd.Context(), baseURL, dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range res.Downloaded {
				fmt.Fprintf(out, "  + %s\n", name)
			}
			fmt.Fprintf(out, "%d downloaded, %d already present in %s\n", len(res.Downloaded), len(res.Skipped), dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "artifact base URL (default $MODEL_BASE_URL)")
	cmd.Flags().StringVar(&dir, "dir", "", "target directory (default $MODEL_PATH)")
	return cmd
}
