package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"umi3dconnect/internal/config"
	"umi3dconnect/internal/logger"
)

// app carries what every subcommand needs once the root has run.
type app struct {
	cfg      config.Config
	logLevel string
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "umi3dconnect",
		Short:         "Join UMI3D environments",
		Long:          `Find, join and leave UMI3D collaborative environments, or run a master server they register with.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if a.logLevel != "" {
				cfg.Log.Level = a.logLevel
			}
			logger.Setup(cfg.Log.Level, cfg.Log.Pretty)
			a.cfg = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newConnectCmd(a))
	rootCmd.AddCommand(newSessionsCmd(a))
	rootCmd.AddCommand(newFavoritesCmd(a))
	rootCmd.AddCommand(newMasterCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}
