package cmd

import (
	"log"

	"github.com/Korivash/Evocore-sub000/evocore"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Evocore bot and operator API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		eco, err := evocore.New(cfg)
		if err != nil {
			log.Fatalf("error creating evocore: %s", err.Error())
		}

		if err = eco.Run(ctx); err != nil {
			log.Fatalf("error running evocore: %s", err.Error())
		}
	},
}

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
