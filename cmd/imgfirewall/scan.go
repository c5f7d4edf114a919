package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/server"
	"github.com/GriffinCanCode/imgfirewall/internal/scan"
	"github.com/GriffinCanCode/imgfirewall/internal/service"
)

// scanReport is what `scan` prints per page.
type scanReport struct {
	Path     string               `json:"path,omitempty"`
	ScanID   string               `json:"scanId,omitempty"`
	Site     string               `json:"site,omitempty"`
	Settled  bool                 `json:"settled"`
	Summary  service.Summary      `json:"summary"`
	Duration int64                `json:"durationMs"`
	Error    string               `json:"error,omitempty"`
	Elements []scan.ElementStatus `json:"elements,omitempty"`
}

func report(path string, res *service.Result, verbose bool) scanReport {
	r := scanReport{
		Path:     path,
		ScanID:   res.ScanID,
		Site:     res.Site,
		Settled:  res.Settled,
		Summary:  res.Summary,
		Duration: res.Elapsed,
	}
	if verbose {
		r.Elements = res.Elements
	}
	return r
}

func scanCmd() *cobra.Command {
	var (
		dir      string
		html     bool
		verbose  bool
		baseURL  string
		minSize  int
		noStrict bool
	)

	cmd := &cobra.Command{
		Use:   "scan [url|file]",
		Short: "Scan a page and print the outcome per image",
		Long: "Scan a URL, a saved HTML file (\"-\" reads stdin) or, with --dir, every\n" +
			"HTML file under a directory. Prints a JSON summary, or the annotated\n" +
			"document with --html.",
		Args: func(cmd *cobra.Command, args []string) error {
			if dir != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if minSize > 0 {
				cfg.Scan.MinSize = minSize
			}
			if noStrict {
				cfg.Scan.StrictOrigin = false
			}

			srv, err := server.NewServer(cfg)
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx := cmd.Context()
			scanner := srv.Scanner()
			enc := sonic.ConfigStd.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if dir != "" {
				return scanner.ScanDir(ctx, dir, func(path string, res *service.Result, err error) error {
					if err != nil {
						return enc.Encode(scanReport{Path: path, Error: err.Error()})
					}
					return enc.Encode(report(path, res, verbose))
				})
			}

			target := args[0]
			var res *service.Result
			switch {
			case target == "-":
				data, readErr := io.ReadAll(cmd.InOrStdin())
				if readErr != nil {
					return readErr
				}
				res, err = scanner.ScanHTML(ctx, string(data), baseURL)
			case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
				res, err = scanner.ScanURL(ctx, target)
			default:
				if _, statErr := os.Stat(target); statErr != nil {
					return fmt.Errorf("scan %s: %w", target, statErr)
				}
				res, err = scanner.ScanFile(ctx, target)
			}
			if err != nil {
				return err
			}

			if html {
				_, err = io.WriteString(cmd.OutOrStdout(), res.HTML)
				return err
			}
			return enc.Encode(report("", res, verbose))
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "scan every HTML file under this directory")
	cmd.Flags().BoolVar(&html, "html", false, "print the annotated document instead of the summary")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every image with its outcome")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "base URL for relative image references when reading stdin")
	cmd.Flags().IntVar(&minSize, "min-size", 0, "skip images smaller than this many pixels per side")
	cmd.Flags().BoolVar(&noStrict, "no-strict-origin", false, "read cross-origin images without CORS")
	return cmd
}
