package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/shiroyk/courier/cookie"
	"github.com/spf13/cobra"
)

func newCookiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cookies",
		Aliases: []string{"cookie"},
		Short:   "manage the saved cookie jars",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [HOST]",
			Short: "list the cookies of the jar, only those sent to HOST when given",
			Args:  cobra.MaximumNArgs(1),
			RunE: withJar(func(cmd *cobra.Command, e *env, args []string) error {
				cookies := e.session.Jar().All()
				if len(args) > 0 {
					cookies = e.session.Jar().Cookies(args[0])
				}
				for _, c := range cookies {
					fmt.Fprintln(cmd.OutOrStdout(), c.String())
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "clear",
			Short: "remove every cookie of the jar",
			Args:  cobra.NoArgs,
			RunE: withJar(func(_ *cobra.Command, e *env, _ []string) error {
				e.session.Jar().Clear()
				return nil
			}),
		},
		&cobra.Command{
			Use:   "import FILE",
			Short: "import a Netscape cookie file into the jar",
			Args:  cobra.ExactArgs(1),
			RunE: withJar(func(cmd *cobra.Command, e *env, args []string) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				cookies, err := cookie.ParseNetscape(f)
				if err != nil {
					return err
				}
				if err = e.session.Jar().PutAll(cookies); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d cookies into %s\n", len(cookies), e.cfg.JarName())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "jars",
			Short: "list the saved jar names",
			Args:  cobra.NoArgs,
			RunE: withJar(func(cmd *cobra.Command, e *env, _ []string) error {
				names, err := e.store.Names()
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}),
		},
	)
	return cmd
}

// withJar runs fn with the configured jar loaded, saving it afterwards.
func withJar(fn func(*cobra.Command, *env, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { err = errors.Join(err, e.Close()) }()
		if e.store == nil {
			return ErrNoStore
		}
		return fn(cmd, e, args)
	}
}
