package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hnrobert/fega/internal/clock"
	"github.com/hnrobert/fega/internal/handshake"
)

func newAuthCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Run the device login: print the login URL and wait for confirmation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), g, true)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.cfg.ValidateAuth(); err != nil {
				return err
			}

			h := handshake.New(handshake.Config{
				IdPURL:      e.cfg.Auth.IdPURL,
				ClientID:    e.cfg.Auth.ClientID,
				RedirectURI: e.cfg.Auth.RedirectURI,
				Interval:    e.cfg.Auth.Interval,
				Repeat:      e.cfg.Auth.Repeat,
			}, e.store, clock.Real())
			ch, err := h.Begin()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Open this link to log in:\n\n  %s\n\n", ch.URL)
			fmt.Fprintf(out, "Waiting up to %s...\n", e.cfg.Auth.Interval*time.Duration(e.cfg.Auth.Repeat))

			switch st := h.Wait(cmd.Context()); st {
			case handshake.Confirmed:
				fmt.Fprintln(out, "Login confirmed.")
				return nil
			default:
				return &exitError{code: 4, msg: fmt.Sprintf("login %s", st)}
			}
		},
	}
}
