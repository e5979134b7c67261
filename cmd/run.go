package cmd

import (
	"log"

	"github.com/parleybot/parley/parley"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Parley bot and (optionally) the status API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := parley.New(cfg)
		if err != nil {
			log.Fatalf("error creating parley: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running parley: %s", err.Error())
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
