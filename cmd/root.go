package cmd

import (
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func Run() {
	// Missing .env is fine, the environment may be set directly.
	_ = godotenv.Load()

	var command = &cobra.Command{
		Use:   "linkdigest",
		Short: "Summarizes submitted links and posts results back",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	command.AddCommand(apiCmd())
	command.AddCommand(workerCmd())

	if err := command.Execute(); err != nil {
		log.Fatal().Msgf("failed to execute command, err: %v", err.Error())
	}
}
