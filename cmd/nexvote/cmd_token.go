package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/stake-plus/nexvote/src/types"
	"github.com/stake-plus/nexvote/src/webserver"
)

var (
	flagUser   string
	flagEmail  string
	flagRole   string
	flagRegion string
	flagTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "issue a signed bearer token for local testing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := load()
		if err != nil {
			return err
		}
		tok, err := webserver.IssueJWT(types.Identity{
			UserID:     flagUser,
			Email:      flagEmail,
			Role:       flagRole,
			RegionCode: flagRegion,
		}, []byte(cfg.JWTSecret), flagTTL)
		if err != nil {
			return err
		}
		cmd.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&flagUser, "user", "", "user id")
	tokenCmd.Flags().StringVar(&flagEmail, "email", "", "email")
	tokenCmd.Flags().StringVar(&flagRole, "role", "user", "role; admin grants lifecycle actions")
	tokenCmd.Flags().StringVar(&flagRegion, "region", "", "region code")
	tokenCmd.Flags().DurationVar(&flagTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(tokenCmd)
}
