package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shiroyk/courier/auth"
	"github.com/shiroyk/courier/lib/config"
	"github.com/shiroyk/courier/lib/utils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by config --gen when the file is already there.
var ErrConfigExists = errors.New("configuration file is already exists")

func newConfigCmd() *cobra.Command {
	var gen string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "print the courier configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if gen != "" {
				return writeDiskConfig(gen)
			}
			cfg := config.FromContext(cmd.Context())
			bytes, err := yaml.Marshal(&cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(bytes)
			return err
		},
	}
	cmd.Flags().StringVarP(&gen, "gen", "g", "", "generate default configuration file")
	cmd.AddCommand(newKeyringCmd())
	return cmd
}

func writeDiskConfig(path string) error {
	file, err := utils.ExpandPath(path)
	if err != nil {
		return err
	}
	if _, err = os.Stat(file); !errors.Is(err, os.ErrNotExist) {
		return ErrConfigExists
	}
	return config.WriteConfig(file, config.DefaultConfig())
}

func newKeyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "keyring",
		Short:       "manage the digest passwords saved in the OS keyring",
		Annotations: map[string]string{skipConfig: ""},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:         "set USER",
			Short:       "save the password read from stdin for USER",
			Args:        cobra.ExactArgs(1),
			Annotations: map[string]string{skipConfig: ""},
			RunE: func(cmd *cobra.Command, args []string) error {
				password, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && password == "" {
					return fmt.Errorf("read password: %w", err)
				}
				return auth.StorePassword(auth.DefaultKeyringService, args[0], strings.TrimRight(password, "\r\n"))
			},
		},
		&cobra.Command{
			Use:         "delete USER",
			Short:       "remove the password saved for USER",
			Args:        cobra.ExactArgs(1),
			Annotations: map[string]string{skipConfig: ""},
			RunE: func(_ *cobra.Command, args []string) error {
				return auth.DeletePassword(auth.DefaultKeyringService, args[0])
			},
		},
	)
	return cmd
}
