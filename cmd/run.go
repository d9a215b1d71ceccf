package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/milestone-tracker/internal/config"
	"github.com/JakeFAU/milestone-tracker/internal/server"
)

// Runner is the part of the application the run command drives.
type Runner interface {
	Run(ctx context.Context) error
}

// buildApp is the application factory. Tests replace it with a fake.
var buildApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return server.Build(ctx, cfg, logger)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the tracker and HTTP server until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := buildApp(ctx, rt.cfg, rt.logger)
			if err != nil {
				rt.logger.Error("failed to initialize application", zap.Error(err))
				return err
			}
			return app.Run(ctx)
		},
	}
}
