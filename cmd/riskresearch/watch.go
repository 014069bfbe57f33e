package main

import (
	"github.com/spf13/cobra"

	"github.com/supplysight/riskresearch/feedbus"
	"github.com/supplysight/riskresearch/logging"
	"github.com/supplysight/riskresearch/researchcore/remote"
	"github.com/supplysight/riskresearch/researchcore/reportstore"
	"github.com/supplysight/riskresearch/researchcore/simulator"
	"github.com/supplysight/riskresearch/tui"
)

func watchCmd() *cobra.Command {
	var server string
	var query string
	var tags []string
	cmd := &cobra.Command{
		Use:          "watch",
		Short:        "Open the interactive command center against a server or an embedded simulator",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			bus := feedbus.NewBus()
			defer bus.Close()

			opts := tui.Options{
				Bus:           bus,
				CycleInterval: cfg.CycleInterval,
				InitialQuery:  query,
				Tags:          tags,
			}

			if server != "" {
				client := remote.NewClient(server, logging.Nop{})
				session := remote.NewSession(cmd.Context(), client, bus)
				opts.Researcher = session
				opts.Reports = session
				return tui.Run(opts)
			}

			store, err := reportstore.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			opts.Researcher = simulator.NewManager(cfg.Simulator, bus, store, logging.Nop{})
			opts.Reports = store
			return tui.Run(opts)
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "riskresearch server URL; empty runs the embedded simulator")
	cmd.Flags().StringVar(&query, "query", "", "start researching this query immediately")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag the job (repeatable)")
	return cmd
}
