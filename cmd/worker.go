package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"linkdigest/internal/worker"
)

func workerCmd() *cobra.Command {
	var memory bool

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start the pipeline worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			return worker.Run(worker.Config{Memory: memory})
		},
	}

	command.Flags().BoolVar(&memory, "memory", false, "Use an in-memory store instead of Redis (dev only)")
	return command
}
