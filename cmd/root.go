package cmd

import (
	"log/slog"

	"github.com/shiroyk/courier/lib/config"
	"github.com/shiroyk/courier/lib/logger"
	"github.com/spf13/cobra"
)

// skipConfig marks commands that run without reading the configuration file.
const skipConfig = "skip-config"

var rootCmd = newRootCmd()

type rootOptions struct {
	config string
	jar    string
	debug  bool
}

func newRootCmd() *cobra.Command {
	opt := new(rootOptions)
	root := &cobra.Command{
		Use:          "courier",
		Short:        "courier is an HTTP client that keeps cookies and credentials between runs.",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opt.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&opt.config, "config", config.DefaultPath, "config file path")
	root.PersistentFlags().StringVar(&opt.jar, "jar", "", "cookie jar name, overrides cookie.jar")
	root.PersistentFlags().BoolVarP(&opt.debug, "debug", "d", false, "output the debug log")

	root.AddCommand(newRequestCmds()...)
	root.AddCommand(newLinksCmd(), newCookiesCmd(), newConfigCmd(), newVersionCmd())
	return root
}

// init sets the default logger and stores the configuration in the command context.
func (o *rootOptions) init(cmd *cobra.Command) error {
	level := slog.LevelWarn
	if o.debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(logger.NewConsoleHandlerWriter(cmd.ErrOrStderr(), level)))

	if _, ok := cmd.Annotations[skipConfig]; ok {
		return nil
	}

	cfg, err := config.ReadConfig(o.config)
	if err != nil {
		logger.Error("error reading config file", err, "path", o.config)
		return err
	}
	if o.jar != "" {
		cfg.Cookie.Jar = o.jar
	}
	cmd.SetContext(config.NewContext(cmd.Context(), *cfg))
	return nil
}
