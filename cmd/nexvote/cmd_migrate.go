package main

import (
	"github.com/spf13/cobra"

	"github.com/stake-plus/nexvote/src/api"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "create or update the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := load()
		if err != nil {
			return err
		}
		s, err := api.OpenStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		log.Info().Msg("schema up to date")
		return s.Close()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
