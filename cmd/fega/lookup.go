package main

import (
	"fmt"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/hnrobert/fega/internal/nss"
)

const maxBuffer = 1 << 20

func addBufferFlag(fs *pflag.FlagSet, size *int) {
	fs.IntVar(size, "buffer", 1024, "initial lookup buffer size in bytes")
}

func statusError(st nss.Status, errno syscall.Errno, key string) error {
	switch st {
	case nss.StatusSuccess:
		return nil
	case nss.StatusNotFound:
		return &exitError{code: 2, msg: fmt.Sprintf("%s: not found", key)}
	}
	return &exitError{code: 3, msg: fmt.Sprintf("%s: %s (%v)", key, st, errno)}
}

// grow retries a lookup with a doubling buffer while it reports ERANGE, the
// way libc callers do.
func grow(size int, lookup func([]byte) (nss.Status, syscall.Errno)) (nss.Status, syscall.Errno) {
	size = max(size, 16)
	for {
		st, errno := lookup(make([]byte, size))
		if st != nss.StatusTryAgain || size >= maxBuffer {
			return st, errno
		}
		size *= 2
	}
}

func newPasswdCmd(g *globalFlags) *cobra.Command {
	var bufSize int
	cmd := &cobra.Command{
		Use:   "passwd NAME|UID",
		Short: "Print the passwd entry of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer e.Close()
			d, err := e.dispatcher()
			if err != nil {
				return err
			}

			var pw nss.Passwd
			key := args[0]
			st, errno := grow(bufSize, func(buf []byte) (nss.Status, syscall.Errno) {
				if uid, err := strconv.ParseInt(key, 10, 64); err == nil {
					return d.GetPwUID(cmd.Context(), uid, &pw, buf)
				}
				return d.GetPwNam(cmd.Context(), key, &pw, buf)
			})
			if err := statusError(st, errno, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s:%d:%d:%s:%s:%s\n",
				pw.Name, pw.Passwd, pw.UID, pw.GID, pw.Gecos, pw.Dir, pw.Shell)
			return nil
		},
	}
	addBufferFlag(cmd.Flags(), &bufSize)
	return cmd
}

func newShadowCmd(g *globalFlags) *cobra.Command {
	var bufSize int
	cmd := &cobra.Command{
		Use:   "shadow NAME",
		Short: "Print the shadow entry of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer e.Close()
			d, err := e.dispatcher()
			if err != nil {
				return err
			}

			var sp nss.Shadow
			st, errno := grow(bufSize, func(buf []byte) (nss.Status, syscall.Errno) {
				return d.GetSpNam(cmd.Context(), args[0], &sp, buf)
			})
			if err := statusError(st, errno, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s:%d:%d:%d:%d:%d:%d:\n",
				sp.Name, sp.Pwdp, sp.LastChange, sp.Min, sp.Max, sp.Warn, sp.Inactive, sp.Expire)
			return nil
		},
	}
	addBufferFlag(cmd.Flags(), &bufSize)
	return cmd
}

func newKeysCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "keys NAME",
		Short: "Print the SSH public keys of a user (AuthorizedKeysCommand)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), g, false)
			if err != nil {
				return err
			}
			defer e.Close()
			d, err := e.dispatcher()
			if err != nil {
				return err
			}
			keys, st := d.PublicKeys(cmd.Context(), args[0])
			if err := statusError(st, 0, args[0]); err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}
