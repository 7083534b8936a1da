package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"umi3dconnect/internal/config"
	"umi3dconnect/internal/httpapi"
	"umi3dconnect/internal/media"
	"umi3dconnect/internal/servers"
)

func newMasterCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "master",
		Short: "Master server environments register with",
	}

	var listen, port string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the master server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Master
			if listen != "" {
				cfg.ListenAddr = listen
			}
			if port != "" {
				cfg.HTTPPort = port
			}
			return serveMaster(cmd.Context(), cfg, a.cfg.Media)
		},
	}
	serveCmd.Flags().StringVar(&listen, "listen", "", "UDP listen address")
	serveCmd.Flags().StringVar(&port, "port", "", "HTTP API port")

	cmd.AddCommand(serveCmd)
	return cmd
}

func serveMaster(ctx context.Context, cfg config.Master, mediaCfg config.Media) error {
	registry := servers.NewRegistry()
	master := servers.NewMaster(registry, servers.MasterOptions{
		Rate:  cfg.Rate,
		Burst: cfg.Burst,
	})
	if err := master.Listen(cfg.ListenAddr); err != nil {
		return err
	}

	// background workers
	resolver := media.NewResolver(media.ResolverOptions{Timeout: mediaCfg.Timeout})
	poller := servers.NewPoller(registry, resolver, mediaCfg.Path)
	registry.OnNew(poller.Enqueue)
	poller.StartWorkers(ctx, cfg.PollWorkers)
	go poller.Run(ctx, cfg.PollInterval)
	registry.StartJanitor(ctx, time.Minute)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httpapi.NewRouter(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	errc := make(chan error, 1)
	go func() {
		errc <- master.Serve(ctx)
	}()

	log.Info().
		Str("udp", master.Addr().String()).
		Str("http", srv.Addr).
		Msg("master server listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-errc
}
