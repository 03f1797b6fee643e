package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stake-plus/nexvote/src/config"
	"github.com/stake-plus/nexvote/src/logging"
	"github.com/stake-plus/nexvote/src/relay"
	"github.com/stake-plus/nexvote/src/store/gormstore"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <proposal-id>",
	Short: "compare stored fingerprints with the on-chain registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openExisting(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer s.Close()

		p, err := s.GetProposal(ctx, args[0])
		if err != nil {
			return err
		}
		anchor, err := relay.New(ctx, cfg.Relay, logging.Component(log, "relay"), nil)
		if err != nil {
			return err
		}
		if !anchor.Configured() {
			return fmt.Errorf("relay is not configured")
		}

		ok, err := anchor.Verify(ctx, relay.ProposalHash, p.ID, p.ProposalHash)
		if err != nil {
			return err
		}
		cmd.Printf("proposal %s\n  proposal hash %s  match=%t\n", p.ID, p.ProposalHash, ok)
		if p.ResultHash != nil {
			ok, err := anchor.Verify(ctx, relay.ResultHash, p.ID, *p.ResultHash)
			if err != nil {
				return err
			}
			cmd.Printf("  result hash   %s  match=%t\n", *p.ResultHash, ok)
		}
		return nil
	},
}

// openExisting opens the configured database without migrating it. An audit
// must not change the schema it is reading.
func openExisting(ctx context.Context, cfg config.Config, log zerolog.Logger) (*gormstore.Store, error) {
	if strings.HasPrefix(cfg.DatabaseDSN, "memory://") {
		return nil, fmt.Errorf("verify needs a persistent DATABASE_DSN, got %q", cfg.DatabaseDSN)
	}
	return gormstore.Open(ctx, cfg.DatabaseDSN, logging.Component(log, "store"))
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
