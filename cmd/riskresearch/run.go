package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/supplysight/riskresearch/feedbus"
	"github.com/supplysight/riskresearch/logging"
	"github.com/supplysight/riskresearch/researchcore/progress"
	"github.com/supplysight/riskresearch/researchcore/reportstore"
	"github.com/supplysight/riskresearch/researchcore/simulator"
	"github.com/supplysight/riskresearch/researchcore/telemetry"
)

func runCmd() *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:          "run <query>",
		Short:        "Run one research job to completion and print the report",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := reportstore.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			bus := feedbus.NewBus()
			defer bus.Close()

			sub, err := bus.Subscribe(feedbus.AllJobs, cfg.SnapshotBuffer)
			if err != nil {
				return err
			}
			defer sub.Close()

			manager := simulator.NewManager(cfg.Simulator, bus, store, logging.New("simulator"))
			job := manager.StartJob(cmd.Context(), args[0], tags)
			log.Info().Str("job_id", job.ID()).Str("query", args[0]).Msg("research started")

			lastStage := ""
			for msg := range sub.C() {
				switch typed := msg.(type) {
				case *feedbus.SnapshotPublished:
					snap := typed.Snapshot
					if string(snap.Stage) != lastStage {
						lastStage = string(snap.Stage)
						log.Info().
							Str("stage", lastStage).
							Float64("progress", progress.Compute(snap)).
							Msg("stage entered")
					}
				case *feedbus.JobTerminal:
					switch typed.Status {
					case telemetry.JobComplete:
						report, err := store.GetByJobID(cmd.Context(), typed.Job)
						if err != nil {
							return err
						}
						fmt.Println(report.Markdown)
						return nil
					case telemetry.JobError:
						msg := "research failed"
						if typed.Failure != nil {
							msg = typed.Failure.Message
						}
						return fmt.Errorf("%s", msg)
					default:
						return fmt.Errorf("job ended with status %s", typed.Status)
					}
				}
			}
			return fmt.Errorf("feed closed before the job finished")
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag the job (repeatable)")
	return cmd
}
