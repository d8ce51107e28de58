package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nfrund/filterbridge/internal/app"
	"github.com/nfrund/filterbridge/internal/config"
)

var envFiles []string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the service",
	Long: `Run the service until interrupted. Settings come from the environment,
after loading any .env files given with --env (./.env by default).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFiles...)
		if err != nil {
			return err
		}
		if cfg.Version == "dev" {
			cfg.Version = version
		}

		a, err := app.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := a.Run(ctx); err != nil {
			slog.Error("service stopped with error", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringSliceVar(&envFiles, "env", nil, "Env files to load before reading the environment")
}
