package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hnrobert/fega/internal/logger"
)

// exitError carries a process exit status distinct from 1.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	logger.Close()
	if err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type globalFlags struct {
	config string
	debug  bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "fega",
		Short:         "Federated EGA identity lookups, cache and device login",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "", "config file (default $FEGA_CONFIG or /etc/ega/auth.yaml)")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "log debug messages")

	root.AddCommand(
		newPasswdCmd(g),
		newShadowCmd(g),
		newKeysCmd(g),
		newAuthCmd(g),
		newRelayCmd(g),
		newCacheCmd(g),
	)
	return root
}
