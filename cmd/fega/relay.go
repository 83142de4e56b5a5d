package main

import (
	"github.com/spf13/cobra"

	"github.com/hnrobert/fega/internal/relay"
)

func newRelayCmd(g *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the OAuth2 redirect target that confirms device logins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), g, true)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.cfg.ValidateRelay(); err != nil {
				return err
			}
			a := e.cfg.Auth
			app, err := relay.New(relay.Config{
				ClientID:     a.ClientID,
				ClientSecret: a.ClientSecret,
				AuthURL:      a.IdPURL,
				TokenURL:     a.TokenURL,
				UserInfoURL:  a.UserInfoURL,
				RedirectURI:  a.RedirectURI,
				UIDShift:     e.cfg.UIDShift,
				CookieSecret: e.cfg.Relay.CookieSecret,
				Notice:       e.cfg.Relay.Notice,
			}, relay.Deps{Users: e.cache, Sessions: e.store})
			if err != nil {
				return err
			}
			addr := e.cfg.Relay.Listen
			if listen != "" {
				addr = listen
			}
			return relay.NewServer(addr, app).ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides relay.listen)")
	return cmd
}
