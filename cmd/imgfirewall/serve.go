package main

import (
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/server"
)

func serveCmd() *cobra.Command {
	var (
		port       string
		sandboxURL string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scanning API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}
			if sandboxURL != "" {
				cfg.Sandbox.URL = sandboxURL
			}

			srv, err := server.NewServer(cfg)
			if err != nil {
				return err
			}
			runErr := srv.Run(cmd.Context())
			if err := srv.Close(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (default $PORT or 8000)")
	cmd.Flags().StringVar(&sandboxURL, "sandbox", "", "remote sandbox websocket URL; empty runs inference in-process")
	return cmd
}

func sandboxCmd() *cobra.Command {
	var (
		port string
		warm bool
	)

	cmd := &cobra.Command{
		Use:   "sandbox",
		Short: "Run the inference sandbox on its own",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Sandbox.Port = port
			}

			s, err := server.NewSandboxServer(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			if warm {
				if err := s.Warm(cmd.Context()); err != nil {
					return err
				}
			}
			return s.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (default $SANDBOX_PORT or 8001)")
	cmd.Flags().BoolVar(&warm, "warm", false, "load the model before accepting connections")
	return cmd
}
