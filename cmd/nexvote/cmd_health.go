package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/stake-plus/nexvote/src/webclient"
)

var flagAddr string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "query a running server's health endpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr := flagAddr
		if addr == "" {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			addr = "http://localhost:" + cfg.Port
		}
		var out map[string]any
		err := webclient.DoJSON(cmd.Context(), webclient.NewDefault(10*time.Second), 2, webclient.Request{
			Method: http.MethodGet,
			URL:    addr + "/health",
		}, &out)
		if err != nil {
			return fmt.Errorf("health: %w", err)
		}
		for _, k := range []string{"status", "ai", "relayer", "timestamp"} {
			cmd.Printf("%-10s %v\n", k, out[k])
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&flagAddr, "addr", "", "server base URL; defaults to localhost and the configured port")
	rootCmd.AddCommand(healthCmd)
}
