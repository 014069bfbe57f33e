package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/supplysight/riskresearch/feedbus"
	"github.com/supplysight/riskresearch/logging"
	"github.com/supplysight/riskresearch/researchcore/httpapi"
	"github.com/supplysight/riskresearch/researchcore/observability"
	"github.com/supplysight/riskresearch/researchcore/reportstore"
	"github.com/supplysight/riskresearch/researchcore/simulator"
)

func serveCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the research daemon with the HTTP API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.OTLPEndpoint != "" {
				shutdown, err := observability.InitTracer("riskresearch", cfg.OTLPEndpoint)
				if err != nil {
					log.Warn().Err(err).Msg("tracing disabled")
				} else {
					defer shutdown(context.Background())
				}
			}

			store, err := reportstore.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			bus := feedbus.NewBus()
			bus.Use(feedbus.NewLoggingMiddleware(logging.New("feedbus")))
			defer bus.Close()

			manager := simulator.NewManager(cfg.Simulator, bus, store, logging.New("simulator"))

			server, err := httpapi.NewServer(httpapi.Config{
				Addr:    cfg.ListenAddr,
				Manager: manager,
				Bus:     bus,
				Reports: store,
				Logger:  logging.New("httpapi"),
			})
			if err != nil {
				return err
			}

			log.Info().Str("addr", cfg.ListenAddr).Str("db", cfg.DatabasePath).Msg("starting research daemon")
			return server.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides config)")
	return cmd
}
