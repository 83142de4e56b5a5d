package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the local cache database",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired users and stale sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), g, true)
			if err != nil {
				return err
			}
			defer e.Close()
			users, err := e.cache.Purge(cmd.Context())
			if err != nil {
				return err
			}
			sessions, err := e.store.PurgeSessions(cmd.Context(), time.Now().Add(-sessionRetention))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d users, %d sessions\n", users, sessions)
			return nil
		},
	})
	return cmd
}
